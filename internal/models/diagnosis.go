package models

import "time"

// ClassProbability pairs a diagnostic class label with its predicted
// probability. Results keep the model's class order.
type ClassProbability struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// DiagnosisResult is one prediction instant: the full probability
// distribution plus the argmax class. Never mutated after creation.
type DiagnosisResult struct {
	ID             string             `json:"id"`
	ModelVersion   string             `json:"model_version"`
	Probabilities  []ClassProbability `json:"probabilities"`
	PredictedClass string             `json:"predicted_class"`
	Confidence     float64            `json:"confidence"`
	CreatedAt      time.Time          `json:"created_at"`
}

// ProbabilityOf returns the probability for a class label, or -1 when the
// label is not part of the distribution.
func (d DiagnosisResult) ProbabilityOf(label string) float64 {
	for _, p := range d.Probabilities {
		if p.Label == label {
			return p.Probability
		}
	}
	return -1
}

// FeatureContribution quantifies how much one demographic attribute shifted
// the target class probability relative to the neutral baseline.
type FeatureContribution struct {
	Feature      string  `json:"feature"`
	Contribution float64 `json:"contribution"`
}

// AttributionResult holds both explanation mechanisms for a single
// diagnosis: a saliency map aligned 1:1 with the waveform tensor and a
// per-feature contribution mapping aligned with the demographic record keys.
// Diagnosis identifies the exact prediction (and model version) explained.
type AttributionResult struct {
	Diagnosis     DiagnosisResult       `json:"diagnosis"`
	TargetClass   string                `json:"target_class"`
	TargetIndex   int                   `json:"target_index"`
	Saliency      [][]float64           `json:"saliency"`
	Contributions []FeatureContribution `json:"contributions"`
	CreatedAt     time.Time             `json:"created_at"`
}

// PerturbationKind enumerates supported robustness perturbations.
type PerturbationKind string

const (
	// PerturbationJitter adds zero-mean Gaussian noise; magnitude is the
	// noise standard deviation in normalized amplitude units.
	PerturbationJitter PerturbationKind = "jitter"
	// PerturbationScale multiplies every sample by the magnitude factor.
	PerturbationScale PerturbationKind = "scale"
)

// PerturbationRun records one perturbed re-inference. Failed runs keep their
// error text instead of aborting the sweep.
type PerturbationRun struct {
	Kind      PerturbationKind `json:"kind"`
	Magnitude float64          `json:"magnitude"`
	Result    *DiagnosisResult `json:"result,omitempty"`
	Failed    bool             `json:"failed"`
	Error     string           `json:"error,omitempty"`
}

// RobustnessReport aggregates a perturbation sweep against one baseline
// diagnosis. StabilityScore is 1 minus the maximum absolute probability
// drift of the originally predicted class, clamped to [0,1].
type RobustnessReport struct {
	Baseline       DiagnosisResult   `json:"baseline"`
	Runs           []PerturbationRun `json:"runs"`
	StabilityScore float64           `json:"stability_score"`
	CreatedAt      time.Time         `json:"created_at"`
}

// StressSpec selects perturbation magnitudes for a robustness sweep. Empty
// slices fall back to the configured defaults.
type StressSpec struct {
	JitterLevels []float64 `json:"jitter_levels"`
	ScaleFactors []float64 `json:"scale_factors"`
}

// ClinicalReport is a clinician-facing summary: the diagnosis, the
// demographics it was conditioned on, a rule-derived clinical note, and the
// demographic feature contributions backing it.
type ClinicalReport struct {
	Diagnosis     DiagnosisResult       `json:"diagnosis"`
	Demographics  RawDemographics       `json:"demographics"`
	ClinicalNote  string                `json:"clinical_note"`
	Contributions []FeatureContribution `json:"contributions"`
	CreatedAt     time.Time             `json:"created_at"`
}
