package engine

import (
	"log/slog"
	"math"
	"testing"

	"github.com/ecgstack/ecg-engine/internal/config"
	"github.com/ecgstack/ecg-engine/internal/model"
	"github.com/ecgstack/ecg-engine/internal/models"
	"github.com/ecgstack/ecg-engine/internal/preprocess"
)

func testSignalConfig() config.SignalConfig {
	return config.SignalConfig{
		TargetLength:          64,
		TargetSamplingRateHz:  8,
		MinSamplesPerLead:     16,
		BaselineWindowSeconds: 0.8,
	}
}

func testDemographicsConfig() config.DemographicsConfig {
	return config.DemographicsConfig{
		VocabularyVersion: "v1",
		AgeRange:          config.Range{Min: 0, Max: 120},
		HeartRateRange:    config.Range{Min: 20, Max: 300},
		HeightRange:       config.Range{Min: 50, Max: 230},
		WeightRange:       config.Range{Min: 2, Max: 300},
		SexVocabulary:     []string{"male", "female", "unknown"},
		RhythmVocabulary:  []string{"sr", "afib", "stach", "sbrad", "sarrh", "pace", "unknown"},
	}
}

// testArtifact builds a small fusion model over the full 12-lead, 14-feature
// input contract. Weights vary per position but stay positive.
func testArtifact() *model.Artifact {
	val := func(i int) float64 { return 0.01 + 0.005*float64(i%17) }

	conv := model.ConvLayer{
		Weights: make([][][]float64, 2),
		Bias:    []float64{0.1, 0.2},
	}
	idx := 0
	for o := range conv.Weights {
		conv.Weights[o] = make([][]float64, 12)
		for i := range conv.Weights[o] {
			kernel := make([]float64, 3)
			for k := range kernel {
				kernel[k] = val(idx)
				idx++
			}
			conv.Weights[o][i] = kernel
		}
	}

	demo := model.DenseLayer{
		Weights: make([][]float64, 3),
		Bias:    []float64{0.1, 0.1, 0.1},
	}
	for o := range demo.Weights {
		row := make([]float64, 14)
		for i := range row {
			row[i] = val(idx)
			idx++
		}
		demo.Weights[o] = row
	}

	hidden := model.DenseLayer{
		Weights: make([][]float64, 4),
		Bias:    []float64{0.05, 0.05, 0.05, 0.05},
	}
	for o := range hidden.Weights {
		row := make([]float64, 5)
		for i := range row {
			row[i] = val(idx)
			idx++
		}
		hidden.Weights[o] = row
	}

	output := model.DenseLayer{
		Weights: make([][]float64, 5),
		Bias:    make([]float64, 5),
	}
	for o := range output.Weights {
		row := make([]float64, 4)
		for i := range row {
			row[i] = val(idx)
			idx++
		}
		output.Weights[o] = row
	}

	return &model.Artifact{
		Name:    "ecg-fusion-test",
		Version: "test-2024.1",
		Contract: model.Contract{
			Leads:          12,
			Length:         64,
			DemographicDim: 14,
			Classes:        []string{"NORM", "MI", "STTC", "CD", "HYP"},
		},
		WaveformBranch:    []model.ConvLayer{conv},
		DemographicBranch: []model.DenseLayer{demo},
		FusionHead:        []model.DenseLayer{hidden, output},
	}
}

func testRecording(samples int) models.RawWaveform {
	leads := make(map[string][]float64, models.LeadCount)
	for li, name := range models.LeadNames {
		lead := make([]float64, samples)
		for t := range lead {
			x := float64(t) / float64(samples)
			lead[t] = math.Sin(2*math.Pi*float64(li+2)*x) + 0.3*math.Cos(7*x)
		}
		leads[name] = lead
	}
	return models.RawWaveform{SamplingRate: 100, Leads: leads}
}

func testDemo() models.RawDemographics {
	age, hr, height, weight := 67.0, 88.0, 172.0, 81.0
	return models.RawDemographics{
		Age:       &age,
		Sex:       "male",
		HeartRate: &hr,
		Rhythm:    "sr",
		Height:    &height,
		Weight:    &weight,
	}
}

// testNormalizedInput builds a ready-to-infer input without going through the
// normalizer, for tests that target the model-facing components directly.
func testNormalizedInput(t *testing.T, encoder *preprocess.Encoder) models.NormalizedInput {
	t.Helper()
	leads := make([][]float64, 12)
	for li := range leads {
		row := make([]float64, 64)
		for i := range row {
			row[i] = math.Sin(float64(li+1)*0.3 + float64(i)*0.2)
		}
		leads[li] = row
	}
	vec, err := encoder.Encode(testDemo())
	if err != nil {
		t.Fatalf("encode demographics: %v", err)
	}
	return models.NormalizedInput{
		Waveform:     models.WaveformSample{Leads: leads},
		Demographics: vec,
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *model.Network, *preprocess.Encoder) {
	t.Helper()
	logger := slog.Default()
	network := model.NewNetwork(testArtifact())
	normalizer := preprocess.NewNormalizer(testSignalConfig())
	encoder := preprocess.NewEncoder(testDemographicsConfig(), logger)
	explainer := NewExplainer(logger, network, network, encoder, len(network.Classes()))
	harness := NewHarness(logger, network, config.RobustnessConfig{
		JitterLevels: []float64{0, 0.05},
		ScaleFactors: []float64{0.9, 1.1},
		MaxParallel:  2,
	})
	pipeline := NewPipeline(logger, normalizer, encoder, network, explainer, harness, nil)
	return pipeline, network, encoder
}
