package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful requests.
	OutcomeSuccess = "success"
	// OutcomeInvalid labels requests rejected during validation.
	OutcomeInvalid = "invalid"
	// OutcomeError labels failed inferences.
	OutcomeError = "error"
)

var (
	diagnosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecg_engine",
			Name:      "diagnoses_total",
			Help:      "Total number of diagnosis requests handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	inferenceDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ecg_engine",
			Name:      "inference_seconds",
			Help:      "End-to-end diagnosis latency in seconds (preprocessing plus forward pass).",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	attributionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ecg_engine",
			Name:      "attribution_seconds",
			Help:      "Explanation latency in seconds (saliency plus contributions).",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	robustnessRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecg_engine",
			Name:      "robustness_runs_total",
			Help:      "Perturbation runs executed by the robustness harness, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches ecg-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		diagnosesTotal,
		inferenceDurationSeconds,
		attributionDurationSeconds,
		robustnessRunsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveDiagnosis records a diagnosis duration and outcome label.
func ObserveDiagnosis(duration time.Duration, outcome string) {
	diagnosesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	inferenceDurationSeconds.Observe(duration.Seconds())
}

// ObserveAttribution records an explanation duration.
func ObserveAttribution(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	attributionDurationSeconds.Observe(duration.Seconds())
}

// CountRobustnessRuns records perturbation run outcomes.
func CountRobustnessRuns(succeeded, failed int) {
	if succeeded > 0 {
		robustnessRunsTotal.WithLabelValues(OutcomeSuccess).Add(float64(succeeded))
	}
	if failed > 0 {
		robustnessRunsTotal.WithLabelValues(OutcomeError).Add(float64(failed))
	}
}
