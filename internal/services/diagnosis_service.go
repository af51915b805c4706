package services

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ecgstack/ecg-engine/internal/cache"
	"github.com/ecgstack/ecg-engine/internal/engine"
	"github.com/ecgstack/ecg-engine/internal/metrics"
	"github.com/ecgstack/ecg-engine/internal/models"
	"github.com/ecgstack/ecg-engine/internal/repo"
	"github.com/ecgstack/ecg-engine/internal/utils"
)

// DiagnosisService is the facade the API layer talks to: it drives the
// pipeline, records metrics and latency, caches expensive explanations, and
// serves the precomputed evaluation artifacts.
type DiagnosisService struct {
	logger         *slog.Logger
	pipeline       *engine.Pipeline
	store          *repo.ResultsStore
	cache          cache.Provider
	attributionTTL time.Duration
	latencies      *utils.LatencyTracker
	startedAt      time.Time
}

// NewDiagnosisService constructs the service facade.
func NewDiagnosisService(logger *slog.Logger, pipeline *engine.Pipeline, store *repo.ResultsStore, cacheProvider cache.Provider, attributionTTL time.Duration) *DiagnosisService {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &DiagnosisService{
		logger:         logger,
		pipeline:       pipeline,
		store:          store,
		cache:          cacheProvider,
		attributionTTL: attributionTTL,
		latencies:      utils.NewLatencyTracker(1024),
		startedAt:      time.Now().UTC(),
	}
}

// Diagnose runs the full inference flow for one request.
func (s *DiagnosisService) Diagnose(ctx context.Context, wave models.RawWaveform, demo models.RawDemographics) (models.DiagnosisResult, error) {
	start := time.Now()
	result, _, err := s.pipeline.Diagnose(ctx, wave, demo)
	duration := time.Since(start)
	metrics.ObserveDiagnosis(duration, outcomeFor(err))
	if err != nil {
		s.logger.Error("diagnosis failed", slog.Any("error", err))
		return models.DiagnosisResult{}, err
	}

	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("diagnosis latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return result, nil
}

// Explain produces saliency plus contributions for a target class,
// consulting the in-process cache first. Identical inputs with an identical
// target reuse the cached attribution.
func (s *DiagnosisService) Explain(ctx context.Context, wave models.RawWaveform, demo models.RawDemographics, targetClass string) (models.AttributionResult, error) {
	key := attributionKey(wave, demo, targetClass)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		var result models.AttributionResult
		if err := json.Unmarshal(cached, &result); err == nil {
			return result, nil
		}
		_ = s.cache.Del(ctx, key)
	}

	start := time.Now()
	result, err := s.pipeline.Explain(ctx, wave, demo, targetClass)
	if err != nil {
		s.logger.Error("explanation failed", slog.Any("error", err))
		return models.AttributionResult{}, err
	}
	metrics.ObserveAttribution(time.Since(start))

	if payload, err := json.Marshal(result); err == nil {
		if err := s.cache.Set(ctx, key, payload, s.attributionTTL); err != nil {
			s.logger.Warn("attribution cache store failed", slog.Any("error", err))
		}
	}
	return result, nil
}

// StressTest runs the robustness sweep.
func (s *DiagnosisService) StressTest(ctx context.Context, wave models.RawWaveform, demo models.RawDemographics, spec models.StressSpec) (models.RobustnessReport, error) {
	report, err := s.pipeline.StressTest(ctx, wave, demo, spec)
	if err != nil {
		s.logger.Error("stress test failed", slog.Any("error", err))
		return models.RobustnessReport{}, err
	}
	succeeded, failed := 0, 0
	for _, run := range report.Runs {
		if run.Failed {
			failed++
		} else {
			succeeded++
		}
	}
	metrics.CountRobustnessRuns(succeeded, failed)
	return report, nil
}

// Report generates a clinical report.
func (s *DiagnosisService) Report(ctx context.Context, wave models.RawWaveform, demo models.RawDemographics) (models.ClinicalReport, error) {
	report, err := s.pipeline.GenerateReport(ctx, wave, demo)
	if err != nil {
		s.logger.Error("report generation failed", slog.Any("error", err))
		return models.ClinicalReport{}, err
	}
	return report, nil
}

// ModelCard returns the evaluation model card.
func (s *DiagnosisService) ModelCard() (repo.ModelCard, bool) {
	return s.store.ModelCard()
}

// Cases lists the curated demonstration cases.
func (s *DiagnosisService) Cases() []repo.CuratedCase {
	return s.store.Cases()
}

// Case returns one curated case.
func (s *DiagnosisService) Case(id int) (repo.CuratedCase, bool) {
	return s.store.Case(id)
}

// RobustnessSummary returns the precomputed perturbation sweep.
func (s *DiagnosisService) RobustnessSummary() (repo.RobustnessSummary, bool) {
	return s.store.RobustnessSummary()
}

// Calibration returns the precomputed reliability-curve document.
func (s *DiagnosisService) Calibration() (json.RawMessage, bool) {
	return s.store.Calibration()
}

// Curves returns the precomputed ROC and precision-recall curves.
func (s *DiagnosisService) Curves() (json.RawMessage, bool) {
	return s.store.Curves()
}

// DemographicAnalysis returns the precomputed per-subgroup performance
// document.
func (s *DiagnosisService) DemographicAnalysis() (json.RawMessage, bool) {
	return s.store.DemographicAnalysis()
}

// ModelVersion reports the frozen artifact version.
func (s *DiagnosisService) ModelVersion() string {
	return s.pipeline.ModelVersion()
}

// Classes reports the served class labels.
func (s *DiagnosisService) Classes() []string {
	return s.pipeline.Classes()
}

// StartedAt reports service start time for the health endpoint.
func (s *DiagnosisService) StartedAt() time.Time {
	return s.startedAt
}

// LatencyP95 returns the current p95 diagnosis latency.
func (s *DiagnosisService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, models.ErrInvalidSignal), errors.Is(err, models.ErrInvalidDemographics):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}

// attributionKey derives a deterministic cache key from the raw input and
// target class. Every field is length-prefixed (and optional fields carry a
// presence marker) so adjacent fields can never blur into one another.
func attributionKey(wave models.RawWaveform, demo models.RawDemographics, targetClass string) string {
	h := sha256.New()
	var buf [8]byte
	writeLen := func(n int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(n))
		h.Write(buf[:])
	}
	writeFloat := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	writeString := func(s string) {
		writeLen(len(s))
		h.Write([]byte(s))
	}
	for _, name := range models.LeadNames {
		writeString(name)
		samples := wave.Leads[name]
		writeLen(len(samples))
		for _, v := range samples {
			writeFloat(v)
		}
	}
	for _, v := range []*float64{demo.Age, demo.HeartRate, demo.Height, demo.Weight} {
		if v == nil {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1})
		writeFloat(*v)
	}
	writeString(demo.Sex)
	writeString(demo.Rhythm)
	writeString(targetClass)
	return fmt.Sprintf("attr:%x", h.Sum(nil))
}
