package preprocess

import (
	"fmt"
	"math"

	"github.com/ecgstack/ecg-engine/internal/config"
	"github.com/ecgstack/ecg-engine/internal/models"
)

// Normalizer turns raw multi-lead recordings into fixed-shape waveform
// tensors. It is a pure function of its input given a fixed SignalConfig:
// identical raw input yields bit-identical output.
type Normalizer struct {
	cfg config.SignalConfig
}

// NewNormalizer creates a normalizer for the configured grid.
func NewNormalizer(cfg config.SignalConfig) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// Normalize validates the raw recording, resamples each lead to the target
// length, removes baseline wander, and z-scores each lead independently.
// Per-lead statistics never mix across leads: relative amplitude differences
// between leads carry diagnostic meaning.
func (n *Normalizer) Normalize(raw models.RawWaveform) (models.WaveformSample, error) {
	if err := n.validate(raw); err != nil {
		return models.WaveformSample{}, err
	}

	window := n.baselineWindow()
	leads := make([][]float64, models.LeadCount)
	for i, name := range models.LeadNames {
		lead := resampleLinear(raw.Leads[name], n.cfg.TargetLength)
		removeBaseline(lead, window)
		zscore(lead)
		for t, v := range lead {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return models.WaveformSample{}, fmt.Errorf("%w: lead %s produced non-finite value at position %d", models.ErrInvalidSignal, name, t)
			}
		}
		leads[i] = lead
	}

	return models.WaveformSample{Leads: leads}, nil
}

func (n *Normalizer) validate(raw models.RawWaveform) error {
	length := -1
	for _, name := range models.LeadNames {
		samples, ok := raw.Leads[name]
		if !ok || len(samples) == 0 {
			return fmt.Errorf("%w: required lead %s missing", models.ErrInvalidSignal, name)
		}
		if length == -1 {
			length = len(samples)
		} else if len(samples) != length {
			return fmt.Errorf("%w: lead %s has %d samples, expected %d", models.ErrInvalidSignal, name, len(samples), length)
		}
		for t, v := range samples {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: lead %s sample %d is not finite", models.ErrInvalidSignal, name, t)
			}
		}
	}
	if length < n.cfg.MinSamplesPerLead {
		return fmt.Errorf("%w: %d samples per lead, need at least %d", models.ErrInvalidSignal, length, n.cfg.MinSamplesPerLead)
	}
	return nil
}

// baselineWindow converts the configured wander window into an odd sample
// count on the target grid.
func (n *Normalizer) baselineWindow() int {
	window := int(n.cfg.BaselineWindowSeconds * n.cfg.TargetSamplingRateHz)
	if window < 3 {
		window = 3
	}
	if window%2 == 0 {
		window++
	}
	if window > n.cfg.TargetLength {
		window = n.cfg.TargetLength | 1
	}
	return window
}

// resampleLinear maps src onto a grid of n points via linear interpolation.
func resampleLinear(src []float64, n int) []float64 {
	out := make([]float64, n)
	if len(src) == 1 {
		for i := range out {
			out[i] = src[0]
		}
		return out
	}
	if len(src) == n {
		copy(out, src)
		return out
	}

	scale := float64(len(src)-1) / float64(n-1)
	for i := range out {
		pos := float64(i) * scale
		lo := int(pos)
		if lo >= len(src)-1 {
			out[i] = src[len(src)-1]
			continue
		}
		frac := pos - float64(lo)
		out[i] = src[lo]*(1-frac) + src[lo+1]*frac
	}
	return out
}

// removeBaseline subtracts a centered moving-average trend in place. The
// window is clamped at the edges rather than padded with fabricated samples.
func removeBaseline(lead []float64, window int) {
	half := window / 2
	prefix := make([]float64, len(lead)+1)
	for i, v := range lead {
		prefix[i+1] = prefix[i] + v
	}

	trend := make([]float64, len(lead))
	for i := range lead {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half
		if hi > len(lead)-1 {
			hi = len(lead) - 1
		}
		trend[i] = (prefix[hi+1] - prefix[lo]) / float64(hi-lo+1)
	}
	for i := range lead {
		lead[i] -= trend[i]
	}
}

// zscore centers and scales a lead in place. A zero-variance lead (flatline,
// e.g. a disconnected electrode) stays all-zero: that is a valid signal
// state, not an error.
func zscore(lead []float64) {
	mean := 0.0
	for _, v := range lead {
		mean += v
	}
	mean /= float64(len(lead))

	variance := 0.0
	for _, v := range lead {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(lead))
	std := math.Sqrt(variance)

	if std == 0 {
		for i := range lead {
			lead[i] = 0
		}
		return
	}
	for i := range lead {
		lead[i] = (lead[i] - mean) / std
	}
}
