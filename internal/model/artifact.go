package model

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ecgstack/ecg-engine/internal/config"
	"github.com/ecgstack/ecg-engine/internal/models"
)

// Contract declares the input and output shapes the artifact was trained
// for. The engine validates it against its own configuration at startup and
// refuses to serve on mismatch.
type Contract struct {
	Leads          int      `json:"leads"`
	Length         int      `json:"length"`
	DemographicDim int      `json:"demographic_dim"`
	Classes        []string `json:"classes"`
}

// ConvLayer holds one 1-D convolution: weights indexed [out][in][tap], same
// padding, stride 1, followed by ReLU.
type ConvLayer struct {
	Weights [][][]float64 `json:"weights"`
	Bias    []float64     `json:"bias"`
}

// DenseLayer holds one fully connected layer: weights indexed [out][in].
type DenseLayer struct {
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// Artifact is the frozen, versioned model bundle: a convolutional waveform
// branch pooled into an embedding, a dense demographic branch, and a fusion
// head ending in softmax. Weights are read-only after load and safe for
// concurrent readers.
type Artifact struct {
	Name     string  `json:"name"`
	Version  string  `json:"version"`
	Contract Contract `json:"contract"`

	WaveformBranch    []ConvLayer  `json:"waveform_branch"`
	DemographicBranch []DenseLayer `json:"demographic_branch"`
	FusionHead        []DenseLayer `json:"fusion_head"`
}

// Load reads and structurally validates a model artifact. Any failure wraps
// models.ErrModelLoad: the process must not serve without a coherent model.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrModelLoad, path, err)
	}
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", models.ErrModelLoad, path, err)
	}
	if err := artifact.validate(); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// validate checks internal shape consistency of the weight stacks.
func (a *Artifact) validate() error {
	c := a.Contract
	if a.Version == "" {
		return fmt.Errorf("%w: artifact version missing", models.ErrModelLoad)
	}
	if c.Leads <= 0 || c.Length <= 0 || c.DemographicDim <= 0 || len(c.Classes) == 0 {
		return fmt.Errorf("%w: incomplete input contract", models.ErrModelLoad)
	}
	if len(a.WaveformBranch) == 0 || len(a.DemographicBranch) == 0 || len(a.FusionHead) == 0 {
		return fmt.Errorf("%w: artifact is missing a branch", models.ErrModelLoad)
	}

	in := c.Leads
	for i, layer := range a.WaveformBranch {
		out := len(layer.Weights)
		if out == 0 || len(layer.Bias) != out {
			return fmt.Errorf("%w: conv layer %d has inconsistent bias", models.ErrModelLoad, i)
		}
		taps := -1
		for _, kernel := range layer.Weights {
			if len(kernel) != in {
				return fmt.Errorf("%w: conv layer %d expects %d input channels, kernel has %d", models.ErrModelLoad, i, in, len(kernel))
			}
			for _, row := range kernel {
				if taps == -1 {
					taps = len(row)
				}
				if len(row) != taps {
					return fmt.Errorf("%w: conv layer %d has ragged kernels", models.ErrModelLoad, i)
				}
			}
		}
		if taps < 1 || taps%2 == 0 {
			return fmt.Errorf("%w: conv layer %d kernel width %d must be odd for same padding", models.ErrModelLoad, i, taps)
		}
		in = out
	}
	waveEmb := in

	in = c.DemographicDim
	for i, layer := range a.DemographicBranch {
		out, err := denseShape(layer, in)
		if err != nil {
			return fmt.Errorf("%w: demographic layer %d: %v", models.ErrModelLoad, i, err)
		}
		in = out
	}
	demoEmb := in

	in = waveEmb + demoEmb
	for i, layer := range a.FusionHead {
		out, err := denseShape(layer, in)
		if err != nil {
			return fmt.Errorf("%w: fusion head layer %d: %v", models.ErrModelLoad, i, err)
		}
		in = out
	}
	if in != len(c.Classes) {
		return fmt.Errorf("%w: fusion head emits %d logits for %d classes", models.ErrModelLoad, in, len(c.Classes))
	}
	return nil
}

func denseShape(layer DenseLayer, in int) (int, error) {
	out := len(layer.Weights)
	if out == 0 || len(layer.Bias) != out {
		return 0, fmt.Errorf("inconsistent bias length %d for %d outputs", len(layer.Bias), out)
	}
	for _, row := range layer.Weights {
		if len(row) != in {
			return 0, fmt.Errorf("expects %d inputs, weight row has %d", in, len(row))
		}
	}
	return out, nil
}

// ValidateContract fails fast when the artifact's declared shapes disagree
// with the process configuration.
func (a *Artifact) ValidateContract(cfg *config.Config) error {
	c := a.Contract
	if c.Leads != models.LeadCount {
		return fmt.Errorf("%w: artifact expects %d leads, engine provides %d", models.ErrModelLoad, c.Leads, models.LeadCount)
	}
	if c.Length != cfg.Signal.TargetLength {
		return fmt.Errorf("%w: artifact expects %d samples per lead, config targets %d", models.ErrModelLoad, c.Length, cfg.Signal.TargetLength)
	}
	if c.DemographicDim != cfg.Demographics.EncodedLength() {
		return fmt.Errorf("%w: artifact expects demographic dim %d, encoder produces %d", models.ErrModelLoad, c.DemographicDim, cfg.Demographics.EncodedLength())
	}
	if len(c.Classes) != len(cfg.Model.Classes) {
		return fmt.Errorf("%w: artifact serves %d classes, config declares %d", models.ErrModelLoad, len(c.Classes), len(cfg.Model.Classes))
	}
	for i, label := range cfg.Model.Classes {
		if c.Classes[i] != label {
			return fmt.Errorf("%w: class %d is %q in artifact, %q in config", models.ErrModelLoad, i, c.Classes[i], label)
		}
	}
	return nil
}
