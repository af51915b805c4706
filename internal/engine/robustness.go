package engine

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ecgstack/ecg-engine/internal/config"
	"github.com/ecgstack/ecg-engine/internal/models"
)

// Harness quantifies prediction stability by re-running inference on
// perturbed copies of a normalized input. Perturbation runs are independent
// and execute in parallel; the report aggregates once all have finished or
// failed.
type Harness struct {
	logger    *slog.Logger
	predictor Predictor
	cfg       config.RobustnessConfig
}

// NewHarness constructs a robustness harness.
func NewHarness(logger *slog.Logger, predictor Predictor, cfg config.RobustnessConfig) *Harness {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	return &Harness{logger: logger, predictor: predictor, cfg: cfg}
}

// StressTest applies additive Gaussian jitter and uniform amplitude scaling
// at the requested magnitudes (config defaults when the spec is empty). Each
// run perturbs a fresh copy; the original input is never touched. A failed
// run is marked failed in the report rather than aborting the sweep. Once
// ctx is done, runs not yet dispatched are marked failed with the context
// error instead of executing.
func (h *Harness) StressTest(ctx context.Context, in models.NormalizedInput, baseline models.DiagnosisResult, spec models.StressSpec) models.RobustnessReport {
	jitter := spec.JitterLevels
	if len(jitter) == 0 {
		jitter = h.cfg.JitterLevels
	}
	scales := spec.ScaleFactors
	if len(scales) == 0 {
		scales = h.cfg.ScaleFactors
	}

	runs := make([]models.PerturbationRun, 0, len(jitter)+len(scales))
	for _, level := range jitter {
		runs = append(runs, models.PerturbationRun{Kind: models.PerturbationJitter, Magnitude: level})
	}
	for _, factor := range scales {
		runs = append(runs, models.PerturbationRun{Kind: models.PerturbationScale, Magnitude: factor})
	}

	sem := make(chan struct{}, h.cfg.MaxParallel)
	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func(run *models.PerturbationRun) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if err := ctx.Err(); err != nil {
				run.Failed = true
				run.Error = err.Error()
				return
			}
			h.execute(in, run)
		}(&runs[i])
	}
	wg.Wait()

	return models.RobustnessReport{
		Baseline:       baseline,
		Runs:           runs,
		StabilityScore: stabilityScore(baseline, runs),
		CreatedAt:      time.Now().UTC(),
	}
}

func (h *Harness) execute(in models.NormalizedInput, run *models.PerturbationRun) {
	perturbed := in.Clone()
	applyPerturbation(perturbed.Waveform.Leads, run.Kind, run.Magnitude)

	result, err := h.predictor.Predict(perturbed)
	if err != nil {
		run.Failed = true
		run.Error = err.Error()
		h.logger.Warn("perturbation run failed",
			slog.String("kind", string(run.Kind)),
			slog.Float64("magnitude", run.Magnitude),
			slog.Any("error", err))
		return
	}
	run.Result = &result
}

// applyPerturbation mutates the (already copied) waveform. Jitter noise is
// drawn from a generator seeded by the perturbation itself so identical
// sweeps reproduce identical reports.
func applyPerturbation(leads [][]float64, kind models.PerturbationKind, magnitude float64) {
	switch kind {
	case models.PerturbationJitter:
		if magnitude == 0 {
			return
		}
		rng := rand.New(rand.NewSource(jitterSeed(magnitude)))
		for _, lead := range leads {
			for t := range lead {
				lead[t] += rng.NormFloat64() * magnitude
			}
		}
	case models.PerturbationScale:
		for _, lead := range leads {
			for t := range lead {
				lead[t] *= magnitude
			}
		}
	}
}

func jitterSeed(magnitude float64) int64 {
	return int64(math.Float64bits(magnitude))
}

// stabilityScore is 1 minus the maximum absolute drift of the originally
// predicted class probability, clamped to [0,1]. Failed runs do not count
// toward drift.
func stabilityScore(baseline models.DiagnosisResult, runs []models.PerturbationRun) float64 {
	base := baseline.ProbabilityOf(baseline.PredictedClass)
	maxDrift := 0.0
	for _, run := range runs {
		if run.Failed || run.Result == nil {
			continue
		}
		p := run.Result.ProbabilityOf(baseline.PredictedClass)
		if p < 0 {
			continue
		}
		drift := math.Abs(p - base)
		if drift > maxDrift {
			maxDrift = drift
		}
	}
	score := 1 - maxDrift
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
