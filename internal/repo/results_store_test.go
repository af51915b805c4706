package repo

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

const testModelCard = `{
  "model_name": "ecg-fusion",
  "version": "2024.1",
  "architecture": "resnet1d + demographic fusion",
  "performance_metrics": {
    "test_accuracy": 0.84,
    "macro_f1": 0.78,
    "class_f1_scores": {"NORM": 0.9, "MI": 0.76},
    "mi_clinical_metrics": {"sensitivity": 0.82, "specificity": 0.91, "ppv": 0.7, "npv": 0.95}
  },
  "test_cases": 2198
}`

const testCuratedCases = `[
  {"case_id": 7, "description": "anterior MI", "true_class": "MI", "predicted_class": "MI",
   "confidence": 0.93, "predictions": {"MI": 0.93, "NORM": 0.02},
   "demographics": {"age": 64, "sex": "male", "height": 178, "weight": 85}},
  {"case_id": 3, "description": "normal sinus rhythm", "true_class": "NORM", "predicted_class": "NORM",
   "confidence": 0.88, "predictions": {"NORM": 0.88},
   "demographics": {"age": 31, "sex": "female", "height": 165, "weight": 61}}
]`

const testRobustnessSummary = `{
  "jitter_levels": [0, 0.05, 0.1],
  "jitter_performance": [0.84, 0.82, 0.79],
  "scale_factors": [0.9, 1.1],
  "scale_performance": [0.83, 0.83]
}`

func writeResults(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestResultsStoreLoadsAll(t *testing.T) {
	dir := writeResults(t, map[string]string{
		"model_card.json":         testModelCard,
		"curated_cases.json":      testCuratedCases,
		"robustness_summary.json": testRobustnessSummary,
	})

	store, err := NewResultsStore(dir, slog.Default())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	card, ok := store.ModelCard()
	if !ok {
		t.Fatal("model card missing")
	}
	if card.Version != "2024.1" || card.Performance.MIClinicalMetrics.Sensitivity != 0.82 {
		t.Fatalf("model card loaded wrong: %+v", card)
	}

	cases := store.Cases()
	if len(cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(cases))
	}
	if cases[0].CaseID != 3 || cases[1].CaseID != 7 {
		t.Fatalf("cases not sorted by ID: %d, %d", cases[0].CaseID, cases[1].CaseID)
	}

	c, ok := store.Case(7)
	if !ok || c.PredictedClass != "MI" {
		t.Fatalf("case 7 lookup wrong: %+v ok=%v", c, ok)
	}
	if c.Demographics.Age == nil || *c.Demographics.Age != 64 {
		t.Fatalf("case demographics lost: %+v", c.Demographics)
	}
	if _, ok := store.Case(99); ok {
		t.Fatal("unknown case ID should miss")
	}

	robustness, ok := store.RobustnessSummary()
	if !ok {
		t.Fatal("robustness summary missing")
	}
	if len(robustness.JitterLevels) != 3 || robustness.ScalePerformance[1] != 0.83 {
		t.Fatalf("robustness summary loaded wrong: %+v", robustness)
	}
}

func TestResultsStoreServesChartDocuments(t *testing.T) {
	calibration := `{"bin_edges": [0, 0.5, 1], "MI": {"mean_predicted": [0.3, 0.8], "fraction_positive": [0.28, 0.81]}}`
	curves := `{"MI": {"fpr": [0, 0.2, 1], "tpr": [0, 0.8, 1], "auc": 0.9}}`
	demographic := `{"sex": {"female": {"cases": 1050, "accuracy": 0.85}}}`
	dir := writeResults(t, map[string]string{
		"calibration.json":          calibration,
		"roc_pr_curves.json":        curves,
		"demographic_analysis.json": demographic,
	})

	store, err := NewResultsStore(dir, slog.Default())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	doc, ok := store.Calibration()
	if !ok || string(doc) != calibration {
		t.Fatalf("calibration document altered: ok=%v %s", ok, doc)
	}
	doc, ok = store.Curves()
	if !ok || string(doc) != curves {
		t.Fatalf("curve document altered: ok=%v %s", ok, doc)
	}
	doc, ok = store.DemographicAnalysis()
	if !ok || string(doc) != demographic {
		t.Fatalf("demographic document altered: ok=%v %s", ok, doc)
	}
}

func TestResultsStoreRejectsMalformedChartDocument(t *testing.T) {
	dir := writeResults(t, map[string]string{"calibration.json": "{broken"})
	if _, err := NewResultsStore(dir, slog.Default()); err == nil {
		t.Fatal("malformed calibration document should fail the load")
	}
}

func TestResultsStoreToleratesAbsentFiles(t *testing.T) {
	store, err := NewResultsStore(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("empty directory must load: %v", err)
	}
	if _, ok := store.ModelCard(); ok {
		t.Fatal("absent model card reported present")
	}
	if cases := store.Cases(); len(cases) != 0 {
		t.Fatalf("expected no cases, got %d", len(cases))
	}
	if _, ok := store.RobustnessSummary(); ok {
		t.Fatal("absent robustness summary reported present")
	}
	if _, ok := store.Calibration(); ok {
		t.Fatal("absent calibration document reported present")
	}
	if _, ok := store.Curves(); ok {
		t.Fatal("absent curve document reported present")
	}
	if _, ok := store.DemographicAnalysis(); ok {
		t.Fatal("absent demographic document reported present")
	}
}

func TestResultsStoreRejectsMalformedFiles(t *testing.T) {
	dir := writeResults(t, map[string]string{"model_card.json": "{broken"})
	if _, err := NewResultsStore(dir, slog.Default()); err == nil {
		t.Fatal("malformed model card should fail the load")
	}
}
