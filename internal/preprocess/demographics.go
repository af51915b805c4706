package preprocess

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ecgstack/ecg-engine/internal/config"
	"github.com/ecgstack/ecg-engine/internal/models"
)

// FeatureSpan locates one named demographic attribute inside the encoded
// vector. Categorical attributes own a one-hot block of Width slots.
type FeatureSpan struct {
	Name   string
	Offset int
	Width  int
}

// Encoder maps demographic records onto a fixed-length numeric vector using
// the versioned vocabulary from configuration. Numeric attributes are
// clamped to their documented ranges and scaled to [0,1]; unseen categorical
// values land in the reserved "unknown" slot, never in a valid category.
type Encoder struct {
	cfg    config.DemographicsConfig
	logger *slog.Logger
	spans  []FeatureSpan
}

// NewEncoder constructs an encoder. A nil logger falls back to slog.Default.
func NewEncoder(cfg config.DemographicsConfig, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	spans := []FeatureSpan{
		{Name: "age", Offset: 0, Width: 1},
		{Name: "sex", Offset: 1, Width: len(cfg.SexVocabulary)},
		{Name: "heart_rate", Offset: 1 + len(cfg.SexVocabulary), Width: 1},
		{Name: "rhythm", Offset: 2 + len(cfg.SexVocabulary), Width: len(cfg.RhythmVocabulary)},
		{Name: "height", Offset: 2 + len(cfg.SexVocabulary) + len(cfg.RhythmVocabulary), Width: 1},
		{Name: "weight", Offset: 3 + len(cfg.SexVocabulary) + len(cfg.RhythmVocabulary), Width: 1},
	}
	return &Encoder{cfg: cfg, logger: logger, spans: spans}
}

// Encode validates and encodes a demographic record. Only missing required
// attributes (age, sex, height, weight) fail; everything else is adjusted
// and logged.
func (e *Encoder) Encode(raw models.RawDemographics) ([]float64, error) {
	if raw.Age == nil {
		return nil, fmt.Errorf("%w: age is required", models.ErrInvalidDemographics)
	}
	if strings.TrimSpace(raw.Sex) == "" {
		return nil, fmt.Errorf("%w: sex is required", models.ErrInvalidDemographics)
	}
	if raw.Height == nil {
		return nil, fmt.Errorf("%w: height is required", models.ErrInvalidDemographics)
	}
	if raw.Weight == nil {
		return nil, fmt.Errorf("%w: weight is required", models.ErrInvalidDemographics)
	}

	vec := make([]float64, e.cfg.EncodedLength())
	vec[e.span("age").Offset] = e.scaleNumeric("age", *raw.Age, e.cfg.AgeRange)
	e.encodeCategory(vec, e.span("sex"), e.cfg.SexVocabulary, raw.Sex)

	hr := e.span("heart_rate")
	if raw.HeartRate != nil {
		vec[hr.Offset] = e.scaleNumeric("heart_rate", *raw.HeartRate, e.cfg.HeartRateRange)
	} else {
		vec[hr.Offset] = 0.5
	}

	e.encodeCategory(vec, e.span("rhythm"), e.cfg.RhythmVocabulary, raw.Rhythm)
	vec[e.span("height").Offset] = e.scaleNumeric("height", *raw.Height, e.cfg.HeightRange)
	vec[e.span("weight").Offset] = e.scaleNumeric("weight", *raw.Weight, e.cfg.WeightRange)

	return vec, nil
}

// Baseline returns the fixed neutral reference vector: range midpoints for
// numerics, the reserved "unknown" slot for categoricals. Feature
// contributions are measured against this vector.
func (e *Encoder) Baseline() []float64 {
	vec := make([]float64, e.cfg.EncodedLength())
	for _, span := range e.spans {
		if span.Width == 1 {
			vec[span.Offset] = 0.5
			continue
		}
		// Unknown is the last vocabulary entry.
		vec[span.Offset+span.Width-1] = 1
	}
	return vec
}

// Features returns the ordered attribute spans of the encoded vector.
func (e *Encoder) Features() []FeatureSpan {
	return append([]FeatureSpan(nil), e.spans...)
}

// FeatureNames returns the ordered demographic attribute keys.
func (e *Encoder) FeatureNames() []string {
	names := make([]string, len(e.spans))
	for i, span := range e.spans {
		names[i] = span.Name
	}
	return names
}

// VocabularyVersion reports the versioned categorical vocabulary in use.
func (e *Encoder) VocabularyVersion() string {
	return e.cfg.VocabularyVersion
}

func (e *Encoder) span(name string) FeatureSpan {
	for _, s := range e.spans {
		if s.Name == name {
			return s
		}
	}
	return FeatureSpan{}
}

// scaleNumeric clamps v into its documented range and scales to [0,1]. A
// clamp is a recoverable adjustment and is logged, never swallowed.
func (e *Encoder) scaleNumeric(name string, v float64, r config.Range) float64 {
	clamped := v
	if clamped < r.Min {
		clamped = r.Min
	}
	if clamped > r.Max {
		clamped = r.Max
	}
	if clamped != v {
		e.logger.Warn("demographic value clamped",
			slog.String("attribute", name),
			slog.Float64("value", v),
			slog.Float64("min", r.Min),
			slog.Float64("max", r.Max))
	}
	if r.Max == r.Min {
		return 0
	}
	return (clamped - r.Min) / (r.Max - r.Min)
}

func (e *Encoder) encodeCategory(vec []float64, span FeatureSpan, vocab []string, value string) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	idx := len(vocab) - 1 // reserved unknown slot
	if normalized != "" {
		for i, entry := range vocab {
			if entry == normalized {
				idx = i
				break
			}
		}
		if idx == len(vocab)-1 && normalized != vocab[len(vocab)-1] {
			e.logger.Warn("unseen demographic category mapped to unknown",
				slog.String("attribute", span.Name),
				slog.String("value", value))
		}
	}
	vec[span.Offset+idx] = 1
}
