package models

import "errors"

// Sentinel errors for the diagnostic core. Callers classify failures with
// errors.Is; the API layer maps them onto HTTP status codes.
var (
	// ErrInvalidSignal marks waveform input that cannot be normalized
	// (missing leads, inconsistent lengths, non-finite samples).
	ErrInvalidSignal = errors.New("invalid signal")

	// ErrInvalidDemographics marks demographic records missing required
	// attributes.
	ErrInvalidDemographics = errors.New("invalid demographics")

	// ErrInference marks a violated model input contract. It is never
	// silently downgraded to a "no finding" diagnosis.
	ErrInference = errors.New("inference failed")

	// ErrAttribution marks explanation failures. An already-produced
	// diagnosis stays valid when attribution fails.
	ErrAttribution = errors.New("attribution failed")

	// ErrModelLoad marks a fatal model artifact problem at startup.
	ErrModelLoad = errors.New("model load failed")
)
