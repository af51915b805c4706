package engine

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ecgstack/ecg-engine/internal/models"
	"github.com/ecgstack/ecg-engine/internal/utils"
)

const testNotePack = `
rules:
  - id: mi-high
    match:
      class: MI
      min_confidence: 0.85
    note: "High-confidence myocardial infarction pattern."
  - id: mi-moderate
    match:
      class: MI
      max_confidence: 0.85
    note: "Possible myocardial infarction; correlate clinically."
  - id: elderly
    match:
      min_age: 75
    note: "Advanced age increases baseline cardiovascular risk."
`

func writeNotePack(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notes.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write note pack: %v", err)
	}
	return path
}

func diagnosisFor(class string, confidence float64) models.DiagnosisResult {
	return models.DiagnosisResult{PredictedClass: class, Confidence: confidence}
}

func TestComposeMatchesRules(t *testing.T) {
	engine, err := NewNoteEngine(writeNotePack(t, testNotePack), slog.Default())
	if err != nil {
		t.Fatalf("load note pack: %v", err)
	}

	note := engine.Compose(diagnosisFor("MI", 0.92), testDemo())
	if !strings.Contains(note, "High-confidence myocardial infarction") {
		t.Fatalf("high-confidence MI rule did not match: %q", note)
	}
	if strings.Contains(note, "correlate clinically") {
		t.Fatalf("mutually exclusive confidence bands both matched: %q", note)
	}
}

func TestComposeConcatenatesInPackOrder(t *testing.T) {
	engine, err := NewNoteEngine(writeNotePack(t, testNotePack), slog.Default())
	if err != nil {
		t.Fatalf("load note pack: %v", err)
	}

	demo := testDemo()
	age := 80.0
	demo.Age = &age

	note := engine.Compose(diagnosisFor("MI", 0.9), demo)
	first := strings.Index(note, "High-confidence")
	second := strings.Index(note, "Advanced age")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("expected MI note before age note: %q", note)
	}
}

func TestComposeFallback(t *testing.T) {
	engine, err := NewNoteEngine(writeNotePack(t, testNotePack), slog.Default())
	if err != nil {
		t.Fatalf("load note pack: %v", err)
	}

	note := engine.Compose(diagnosisFor("NORM", 0.77), testDemo())
	if !strings.Contains(note, "NORM") || !strings.Contains(note, "77.0%") {
		t.Fatalf("fallback note should state class and confidence: %q", note)
	}
}

func TestComposeNilEngine(t *testing.T) {
	var engine *NoteEngine
	note := engine.Compose(diagnosisFor("CD", 0.5), testDemo())
	if !strings.Contains(note, "CD") {
		t.Fatalf("nil engine should still compose a fallback: %q", note)
	}
}

func TestNewNoteEngineMissingFileIsOptional(t *testing.T) {
	engine, err := NewNoteEngine(filepath.Join(t.TempDir(), "absent.yaml"), slog.Default())
	if err != nil {
		t.Fatalf("missing pack should not fail: %v", err)
	}
	if engine != nil {
		t.Fatal("missing pack should yield a nil engine")
	}
}

func TestNewNoteEngineMalformedPack(t *testing.T) {
	_, err := NewNoteEngine(writeNotePack(t, "rules: [oops"), slog.Default())
	if err == nil {
		t.Fatal("malformed pack should fail to load")
	}
	var appErr *utils.AppError
	if !errors.As(err, &appErr) || appErr.Op != "notes.load" {
		t.Fatalf("expected a notes.load error, got %v", err)
	}
}

func TestNoteMatchAgeRequiresValue(t *testing.T) {
	engine, err := NewNoteEngine(writeNotePack(t, testNotePack), slog.Default())
	if err != nil {
		t.Fatalf("load note pack: %v", err)
	}

	demo := testDemo()
	demo.Age = nil

	note := engine.Compose(diagnosisFor("STTC", 0.6), demo)
	if strings.Contains(note, "Advanced age") {
		t.Fatalf("age rule matched a record without age: %q", note)
	}
}
