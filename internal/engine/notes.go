package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ecgstack/ecg-engine/internal/models"
	"github.com/ecgstack/ecg-engine/internal/utils"
)

// NoteEngine composes clinical notes from a YAML rule pack. Rules match on
// the predicted class, a confidence band, and optional demographic
// conditions; matched note sentences are concatenated in pack order.
type NoteEngine struct {
	rules  []NoteRule
	logger *slog.Logger
}

// NoteRule is a single clinical-note rule.
type NoteRule struct {
	ID    string    `yaml:"id"`
	Match NoteMatch `yaml:"match"`
	Note  string    `yaml:"note"`
}

// NoteMatch defines optional conditions; zero values are unset.
type NoteMatch struct {
	Class         string  `yaml:"class"`
	MinConfidence float64 `yaml:"min_confidence"`
	MaxConfidence float64 `yaml:"max_confidence"`
	Sex           string  `yaml:"sex"`
	MinAge        float64 `yaml:"min_age"`
	MaxAge        float64 `yaml:"max_age"`
}

// NoteConfigFile is the YAML root structure.
type NoteConfigFile struct {
	Rules []NoteRule `yaml:"rules"`
}

// NewNoteEngine loads the note pack from path. An empty path or missing file
// yields a nil engine, which composes fallback notes only.
func NewNoteEngine(path string, logger *slog.Logger) (*NoteEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, utils.NewAppError("notes.load", "read note pack "+path, err)
	}
	var cfg NoteConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, utils.NewAppError("notes.load", "parse note pack "+path, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NoteEngine{rules: cfg.Rules, logger: logger}, nil
}

// Compose builds the clinical note for a diagnosis. When no rule matches (or
// the engine is nil) it falls back to a plain confidence statement.
func (e *NoteEngine) Compose(diagnosis models.DiagnosisResult, demo models.RawDemographics) string {
	var parts []string
	if e != nil {
		for _, rule := range e.rules {
			if !rule.Match.matches(diagnosis, demo) {
				continue
			}
			if note := strings.TrimSpace(rule.Note); note != "" {
				parts = append(parts, note)
			}
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Model predicts %s with %.1f%% confidence.", diagnosis.PredictedClass, diagnosis.Confidence*100)
	}
	return strings.Join(parts, " ")
}

func (m NoteMatch) matches(diagnosis models.DiagnosisResult, demo models.RawDemographics) bool {
	if m.Class != "" && !strings.EqualFold(m.Class, diagnosis.PredictedClass) {
		return false
	}
	if m.MinConfidence > 0 && diagnosis.Confidence < m.MinConfidence {
		return false
	}
	if m.MaxConfidence > 0 && diagnosis.Confidence > m.MaxConfidence {
		return false
	}
	if m.Sex != "" && !strings.EqualFold(m.Sex, demo.Sex) {
		return false
	}
	if m.MinAge > 0 && (demo.Age == nil || *demo.Age < m.MinAge) {
		return false
	}
	if m.MaxAge > 0 && (demo.Age == nil || *demo.Age > m.MaxAge) {
		return false
	}
	return true
}
