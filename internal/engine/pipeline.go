package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ecgstack/ecg-engine/internal/models"
	"github.com/ecgstack/ecg-engine/internal/preprocess"
)

// Predictor is the model capability the pipeline depends on. The frozen
// network satisfies it; tests inject fakes.
type Predictor interface {
	Predict(in models.NormalizedInput) (models.DiagnosisResult, error)
	Version() string
	Classes() []string
	ClassIndex(label string) int
}

// GradientProvider supplies the gradient of a class probability with respect
// to the waveform tensor, computed on the exact forward graph used for
// prediction.
type GradientProvider interface {
	InputGradient(in models.NormalizedInput, class int) ([][]float64, error)
}

// EmbeddingPredictor supports demographic-only re-evaluation against a
// frozen waveform embedding, which keeps perturbation attribution cheap.
type EmbeddingPredictor interface {
	WaveformEmbedding(wave models.WaveformSample) ([]float64, error)
	PredictFromEmbedding(waveEmb, demographics []float64) ([]float64, error)
}

// Pipeline orchestrates the request flow: deterministic preprocessing, fusion
// inference, and on-demand explanation, robustness, and report generation.
// It holds no mutable per-request state and is safe for concurrent use.
type Pipeline struct {
	logger     *slog.Logger
	normalizer *preprocess.Normalizer
	encoder    *preprocess.Encoder
	predictor  Predictor
	explainer  *Explainer
	harness    *Harness
	notes      *NoteEngine
}

// NewPipeline wires the inference pipeline.
func NewPipeline(
	logger *slog.Logger,
	normalizer *preprocess.Normalizer,
	encoder *preprocess.Encoder,
	predictor Predictor,
	explainer *Explainer,
	harness *Harness,
	notes *NoteEngine,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:     logger,
		normalizer: normalizer,
		encoder:    encoder,
		predictor:  predictor,
		explainer:  explainer,
		harness:    harness,
		notes:      notes,
	}
}

// Prepare validates and normalizes raw input before any inference cost is
// incurred. Validation failures surface here, never later.
func (p *Pipeline) Prepare(wave models.RawWaveform, demo models.RawDemographics) (models.NormalizedInput, error) {
	sample, err := p.normalizer.Normalize(wave)
	if err != nil {
		return models.NormalizedInput{}, err
	}
	vector, err := p.encoder.Encode(demo)
	if err != nil {
		return models.NormalizedInput{}, err
	}
	return models.NormalizedInput{Waveform: sample, Demographics: vector}, nil
}

// Diagnose runs preprocessing and the fusion forward pass, stamping the
// result with a fresh diagnosis ID.
func (p *Pipeline) Diagnose(ctx context.Context, wave models.RawWaveform, demo models.RawDemographics) (models.DiagnosisResult, models.NormalizedInput, error) {
	in, err := p.Prepare(wave, demo)
	if err != nil {
		return models.DiagnosisResult{}, models.NormalizedInput{}, err
	}
	result, err := p.predictor.Predict(in)
	if err != nil {
		return models.DiagnosisResult{}, models.NormalizedInput{}, err
	}
	result.ID = uuid.NewString()
	result.CreatedAt = time.Now().UTC()
	p.logger.Debug("diagnosis produced",
		slog.String("id", result.ID),
		slog.String("class", result.PredictedClass),
		slog.Float64("confidence", result.Confidence))
	return result, in, nil
}

// Explain produces both explanation mechanisms for one prediction instant.
// An empty targetClass explains the predicted class. Both maps are computed
// against the same DiagnosisResult and model version.
func (p *Pipeline) Explain(ctx context.Context, wave models.RawWaveform, demo models.RawDemographics, targetClass string) (models.AttributionResult, error) {
	diagnosis, in, err := p.Diagnose(ctx, wave, demo)
	if err != nil {
		return models.AttributionResult{}, err
	}
	if targetClass == "" {
		targetClass = diagnosis.PredictedClass
	}
	idx := p.predictor.ClassIndex(targetClass)
	if idx < 0 {
		return models.AttributionResult{}, fmt.Errorf("%w: unknown target class %q", models.ErrAttribution, targetClass)
	}
	return p.explainer.Explain(in, diagnosis, targetClass, idx)
}

// StressTest perturbs the normalized waveform per the spec (config defaults
// when empty) and reports prediction stability.
func (p *Pipeline) StressTest(ctx context.Context, wave models.RawWaveform, demo models.RawDemographics, spec models.StressSpec) (models.RobustnessReport, error) {
	diagnosis, in, err := p.Diagnose(ctx, wave, demo)
	if err != nil {
		return models.RobustnessReport{}, err
	}
	return p.harness.StressTest(ctx, in, diagnosis, spec), nil
}

// GenerateReport assembles a clinician-facing report: diagnosis, the
// demographics it conditioned on, a rule-derived clinical note, and the
// demographic feature contributions for the predicted class.
func (p *Pipeline) GenerateReport(ctx context.Context, wave models.RawWaveform, demo models.RawDemographics) (models.ClinicalReport, error) {
	diagnosis, in, err := p.Diagnose(ctx, wave, demo)
	if err != nil {
		return models.ClinicalReport{}, err
	}

	idx := p.predictor.ClassIndex(diagnosis.PredictedClass)
	contributions, err := p.explainer.Contributions(in, idx)
	if err != nil {
		// The diagnosis stays valid when attribution fails; the report
		// simply ships without contributions.
		p.logger.Warn("report contributions unavailable", slog.Any("error", err))
		contributions = nil
	}

	return models.ClinicalReport{
		Diagnosis:     diagnosis,
		Demographics:  demo,
		ClinicalNote:  p.notes.Compose(diagnosis, demo),
		Contributions: contributions,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Classes exposes the served class label set.
func (p *Pipeline) Classes() []string {
	return p.predictor.Classes()
}

// ModelVersion exposes the frozen artifact version.
func (p *Pipeline) ModelVersion() string {
	return p.predictor.Version()
}
