package engine

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ecgstack/ecg-engine/internal/models"
	"github.com/ecgstack/ecg-engine/internal/preprocess"
)

// Explainer computes the two post-hoc explanations: a gradient saliency map
// over the waveform and Shapley feature contributions over the demographic
// attributes. Both run against the same frozen model as the diagnosis they
// explain.
type Explainer struct {
	logger    *slog.Logger
	gradients GradientProvider
	embedder  EmbeddingPredictor
	features  []preprocess.FeatureSpan
	baseline  []float64
	classes   int
}

// NewExplainer builds an explainer over the injected model capabilities and
// the encoder's feature layout and neutral baseline.
func NewExplainer(logger *slog.Logger, gradients GradientProvider, embedder EmbeddingPredictor, encoder *preprocess.Encoder, classCount int) *Explainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Explainer{
		logger:    logger,
		gradients: gradients,
		embedder:  embedder,
		features:  encoder.Features(),
		baseline:  encoder.Baseline(),
		classes:   classCount,
	}
}

// Explain computes both mechanisms for one prediction instant and ties them
// to the diagnosis they explain.
func (e *Explainer) Explain(in models.NormalizedInput, diagnosis models.DiagnosisResult, targetClass string, classIdx int) (models.AttributionResult, error) {
	saliency, err := e.Saliency(in, classIdx)
	if err != nil {
		return models.AttributionResult{}, err
	}
	contributions, err := e.Contributions(in, classIdx)
	if err != nil {
		return models.AttributionResult{}, err
	}
	return models.AttributionResult{
		Diagnosis:     diagnosis,
		TargetClass:   targetClass,
		TargetIndex:   classIdx,
		Saliency:      saliency,
		Contributions: contributions,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Saliency returns one importance score per time position per lead: the
// absolute gradient of the target class probability with respect to that
// input position. The aggregation function is fixed at |dp/dx| and must stay
// identical between training-time analysis and serving.
func (e *Explainer) Saliency(in models.NormalizedInput, classIdx int) ([][]float64, error) {
	if classIdx < 0 || classIdx >= e.classes {
		return nil, fmt.Errorf("%w: class index %d out of range [0,%d)", models.ErrAttribution, classIdx, e.classes)
	}
	grad, err := e.gradients.InputGradient(in, classIdx)
	if err != nil {
		return nil, fmt.Errorf("%w: gradient unavailable: %v", models.ErrAttribution, err)
	}
	for _, row := range grad {
		for t, v := range row {
			row[t] = math.Abs(v)
		}
	}
	return grad, nil
}

// Contributions computes exact Shapley values for each named demographic
// attribute against the encoder's neutral baseline. A categorical feature's
// one-hot block toggles as a single player. Full permutation enumeration
// makes the estimate order-independent by construction; the waveform
// embedding is computed once and reused for every coalition.
func (e *Explainer) Contributions(in models.NormalizedInput, classIdx int) ([]models.FeatureContribution, error) {
	if classIdx < 0 || classIdx >= e.classes {
		return nil, fmt.Errorf("%w: class index %d out of range [0,%d)", models.ErrAttribution, classIdx, e.classes)
	}
	if len(e.features) > 8 {
		return nil, fmt.Errorf("%w: %d demographic features exceed exact enumeration limit", models.ErrAttribution, len(e.features))
	}

	waveEmb, err := e.embedder.WaveformEmbedding(in.Waveform)
	if err != nil {
		return nil, fmt.Errorf("%w: waveform embedding unavailable: %v", models.ErrAttribution, err)
	}

	value := func(vec []float64) (float64, error) {
		probs, err := e.embedder.PredictFromEmbedding(waveEmb, vec)
		if err != nil {
			return 0, err
		}
		return probs[classIdx], nil
	}

	m := len(e.features)
	totals := make([]float64, m)
	perms := 0

	order := make([]int, m)
	for i := range order {
		order[i] = i
	}

	var walk func(depth int) error
	walk = func(depth int) error {
		if depth == m {
			vec := append([]float64(nil), e.baseline...)
			prev, err := value(vec)
			if err != nil {
				return err
			}
			for _, f := range order {
				e.copySpan(vec, in.Demographics, e.features[f])
				cur, err := value(vec)
				if err != nil {
					return err
				}
				totals[f] += cur - prev
				prev = cur
			}
			perms++
			return nil
		}
		for i := depth; i < m; i++ {
			order[depth], order[i] = order[i], order[depth]
			if err := walk(depth + 1); err != nil {
				return err
			}
			order[depth], order[i] = order[i], order[depth]
		}
		return nil
	}
	if err := walk(0); err != nil {
		return nil, fmt.Errorf("%w: coalition evaluation failed: %v", models.ErrAttribution, err)
	}

	contributions := make([]models.FeatureContribution, m)
	for i, span := range e.features {
		contributions[i] = models.FeatureContribution{
			Feature:      span.Name,
			Contribution: totals[i] / float64(perms),
		}
	}
	return contributions, nil
}

func (e *Explainer) copySpan(dst, src []float64, span preprocess.FeatureSpan) {
	copy(dst[span.Offset:span.Offset+span.Width], src[span.Offset:span.Offset+span.Width])
}
