package models

// LeadNames is the canonical ordering of the 12 standard ECG leads. Every
// waveform tensor in the core uses this order.
var LeadNames = []string{"I", "II", "III", "aVR", "aVL", "aVF", "V1", "V2", "V3", "V4", "V5", "V6"}

// LeadCount is the number of required leads.
const LeadCount = 12

// RawWaveform is a multi-lead recording as received from the caller, keyed by
// lead name. Lead lengths must agree but are otherwise unconstrained until
// normalization.
type RawWaveform struct {
	// SamplingRate of the raw recording in Hz. Informational; resampling
	// targets a fixed output length regardless.
	SamplingRate float64
	Leads        map[string][]float64
}

// WaveformSample is a normalized, fixed-shape waveform tensor: LeadCount rows
// in LeadNames order, each of the configured target length. Treated as
// read-only once produced.
type WaveformSample struct {
	Leads [][]float64
}

// Clone returns a deep copy, used wherever a consumer needs to mutate samples
// (perturbation runs) without touching the original.
func (w WaveformSample) Clone() WaveformSample {
	leads := make([][]float64, len(w.Leads))
	for i, lead := range w.Leads {
		leads[i] = append([]float64(nil), lead...)
	}
	return WaveformSample{Leads: leads}
}

// Shape returns (lead count, samples per lead). Length is zero for an empty
// sample.
func (w WaveformSample) Shape() (int, int) {
	if len(w.Leads) == 0 {
		return 0, 0
	}
	return len(w.Leads), len(w.Leads[0])
}

// RawDemographics carries patient metadata as received from the caller.
// Pointer fields distinguish "absent" from zero values.
type RawDemographics struct {
	Age       *float64 `json:"age"`
	Sex       string   `json:"sex"`
	HeartRate *float64 `json:"heart_rate"`
	Rhythm    string   `json:"rhythm"`
	Height    *float64 `json:"height"`
	Weight    *float64 `json:"weight"`
}

// NormalizedInput is the unit consumed by inference: a normalized waveform
// tensor plus an encoded demographic vector. Immutable once produced.
type NormalizedInput struct {
	Waveform     WaveformSample
	Demographics []float64
}

// Clone deep-copies the input.
func (n NormalizedInput) Clone() NormalizedInput {
	return NormalizedInput{
		Waveform:     n.Waveform.Clone(),
		Demographics: append([]float64(nil), n.Demographics...),
	}
}
