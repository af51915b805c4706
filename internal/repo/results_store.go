package repo

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/ecgstack/ecg-engine/internal/models"
	"github.com/ecgstack/ecg-engine/internal/utils"
)

// MIMetrics are the clinician-facing myocardial infarction screening
// metrics from the model evaluation.
type MIMetrics struct {
	Sensitivity float64 `json:"sensitivity"`
	Specificity float64 `json:"specificity"`
	PPV         float64 `json:"ppv"`
	NPV         float64 `json:"npv"`
}

// PerformanceMetrics summarises held-out test performance.
type PerformanceMetrics struct {
	TestAccuracy      float64            `json:"test_accuracy"`
	MacroF1           float64            `json:"macro_f1"`
	ClassF1Scores     map[string]float64 `json:"class_f1_scores"`
	MIClinicalMetrics MIMetrics          `json:"mi_clinical_metrics"`
}

// ModelCard documents the frozen model: identity, architecture, and
// evaluation results.
type ModelCard struct {
	ModelName    string             `json:"model_name"`
	Version      string             `json:"version"`
	Architecture string             `json:"architecture"`
	Performance  PerformanceMetrics `json:"performance_metrics"`
	TestCases    int                `json:"test_cases"`
}

// CuratedCase is one precomputed demonstration case with its reference
// diagnosis.
type CuratedCase struct {
	CaseID         int                    `json:"case_id"`
	Description    string                 `json:"description"`
	TrueClass      string                 `json:"true_class"`
	PredictedClass string                 `json:"predicted_class"`
	Confidence     float64                `json:"confidence"`
	Predictions    map[string]float64     `json:"predictions"`
	Demographics   models.RawDemographics `json:"demographics"`
}

// RobustnessSummary is the precomputed training-time perturbation sweep.
type RobustnessSummary struct {
	JitterLevels      []float64 `json:"jitter_levels"`
	JitterPerformance []float64 `json:"jitter_performance"`
	ScaleFactors      []float64 `json:"scale_factors"`
	ScalePerformance  []float64 `json:"scale_performance"`
}

// ResultsStore serves precomputed evaluation artifacts (model card, curated
// cases, robustness summary, chart documents) from a results directory.
// Files are loaded once at startup and treated as immutable; a missing file
// leaves its section empty rather than failing the boot.
//
// Calibration, ROC/PR curve, and demographic-analysis documents are produced
// by the evaluation pipeline in whatever shape its plots need, so they are
// validated as JSON and served verbatim rather than decoded into structs.
type ResultsStore struct {
	modelCard   *ModelCard
	cases       map[int]CuratedCase
	robustness  *RobustnessSummary
	calibration json.RawMessage
	curves      json.RawMessage
	demographic json.RawMessage
}

// NewResultsStore loads the results directory. Malformed files are errors;
// absent files are logged and skipped.
func NewResultsStore(dir string, logger *slog.Logger) (*ResultsStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store := &ResultsStore{cases: make(map[int]CuratedCase)}

	var card ModelCard
	ok, err := loadJSON(filepath.Join(dir, "model_card.json"), &card)
	if err != nil {
		return nil, err
	}
	if ok {
		store.modelCard = &card
	} else {
		logger.Warn("model card not found", slog.String("dir", dir))
	}

	var cases []CuratedCase
	ok, err = loadJSON(filepath.Join(dir, "curated_cases.json"), &cases)
	if err != nil {
		return nil, err
	}
	if ok {
		for _, c := range cases {
			store.cases[c.CaseID] = c
		}
	} else {
		logger.Warn("curated cases not found", slog.String("dir", dir))
	}

	var robustness RobustnessSummary
	ok, err = loadJSON(filepath.Join(dir, "robustness_summary.json"), &robustness)
	if err != nil {
		return nil, err
	}
	if ok {
		store.robustness = &robustness
	}

	for _, doc := range []struct {
		file   string
		target *json.RawMessage
	}{
		{"calibration.json", &store.calibration},
		{"roc_pr_curves.json", &store.curves},
		{"demographic_analysis.json", &store.demographic},
	} {
		if _, err := loadJSON(filepath.Join(dir, doc.file), doc.target); err != nil {
			return nil, err
		}
	}

	return store, nil
}

func loadJSON(path string, target any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, utils.NewAppError("results.load", "read "+path, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, utils.NewAppError("results.load", "parse "+path, err)
	}
	return true, nil
}

// ModelCard returns the loaded model card, if any.
func (s *ResultsStore) ModelCard() (ModelCard, bool) {
	if s.modelCard == nil {
		return ModelCard{}, false
	}
	return *s.modelCard, true
}

// Cases lists curated cases ordered by case ID.
func (s *ResultsStore) Cases() []CuratedCase {
	out := make([]CuratedCase, 0, len(s.cases))
	for _, c := range s.cases {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CaseID < out[j].CaseID })
	return out
}

// Case returns one curated case by ID.
func (s *ResultsStore) Case(id int) (CuratedCase, bool) {
	c, ok := s.cases[id]
	return c, ok
}

// RobustnessSummary returns the precomputed sweep, if any.
func (s *ResultsStore) RobustnessSummary() (RobustnessSummary, bool) {
	if s.robustness == nil {
		return RobustnessSummary{}, false
	}
	return *s.robustness, true
}

// Calibration returns the reliability-curve document, if any.
func (s *ResultsStore) Calibration() (json.RawMessage, bool) {
	return s.calibration, s.calibration != nil
}

// Curves returns the ROC and precision-recall curve document, if any.
func (s *ResultsStore) Curves() (json.RawMessage, bool) {
	return s.curves, s.curves != nil
}

// DemographicAnalysis returns the per-subgroup performance document, if any.
func (s *ResultsStore) DemographicAnalysis() (json.RawMessage, bool) {
	return s.demographic, s.demographic != nil
}
