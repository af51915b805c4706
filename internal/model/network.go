package model

import (
	"fmt"
	"math"

	"github.com/ecgstack/ecg-engine/internal/models"
)

// Network evaluates the dual-branch fusion model natively: a convolutional
// stack over the waveform tensor pooled into an embedding, a dense stack
// over the demographic vector, and a softmax fusion head over the
// concatenated embeddings. Inference is deterministic and never mutates the
// artifact, so one Network serves any number of concurrent requests.
type Network struct {
	artifact *Artifact
}

// NewNetwork wraps a loaded artifact.
func NewNetwork(artifact *Artifact) *Network {
	return &Network{artifact: artifact}
}

// Version reports the artifact version every result is stamped with.
func (n *Network) Version() string {
	return n.artifact.Version
}

// Classes returns the ordered class label set.
func (n *Network) Classes() []string {
	return append([]string(nil), n.artifact.Contract.Classes...)
}

// ClassIndex resolves a label to its output index, -1 when unknown.
func (n *Network) ClassIndex(label string) int {
	for i, c := range n.artifact.Contract.Classes {
		if c == label {
			return i
		}
	}
	return -1
}

// CheckInput verifies the input tensor against the declared contract. A
// mismatch is an inference error, never an assumption.
func (n *Network) CheckInput(in models.NormalizedInput) error {
	c := n.artifact.Contract
	if len(in.Waveform.Leads) != c.Leads {
		return fmt.Errorf("%w: waveform has %d leads, contract expects %d", models.ErrInference, len(in.Waveform.Leads), c.Leads)
	}
	for i, lead := range in.Waveform.Leads {
		if len(lead) != c.Length {
			return fmt.Errorf("%w: lead %d has %d samples, contract expects %d", models.ErrInference, i, len(lead), c.Length)
		}
	}
	if len(in.Demographics) != c.DemographicDim {
		return fmt.Errorf("%w: demographic vector has %d entries, contract expects %d", models.ErrInference, len(in.Demographics), c.DemographicDim)
	}
	return nil
}

// Predict runs the full fusion forward pass and returns the probability
// distribution over classes. The caller owns the result; the ID field is
// left for the caller to assign.
func (n *Network) Predict(in models.NormalizedInput) (models.DiagnosisResult, error) {
	if err := n.CheckInput(in); err != nil {
		return models.DiagnosisResult{}, err
	}
	_, _, probs := n.forward(in.Waveform.Leads, in.Demographics, nil)
	return n.buildResult(probs), nil
}

// WaveformEmbedding runs only the convolutional branch, returning the pooled
// embedding. Demographic-only perturbation reuses it to avoid recomputing
// the expensive branch.
func (n *Network) WaveformEmbedding(wave models.WaveformSample) ([]float64, error) {
	c := n.artifact.Contract
	if len(wave.Leads) != c.Leads {
		return nil, fmt.Errorf("%w: waveform has %d leads, contract expects %d", models.ErrInference, len(wave.Leads), c.Leads)
	}
	for i, lead := range wave.Leads {
		if len(lead) != c.Length {
			return nil, fmt.Errorf("%w: lead %d has %d samples, contract expects %d", models.ErrInference, i, len(lead), c.Length)
		}
	}
	emb, _ := n.waveForward(wave.Leads, nil)
	return emb, nil
}

// PredictFromEmbedding evaluates the demographic branch and fusion head
// against a precomputed waveform embedding.
func (n *Network) PredictFromEmbedding(waveEmb, demographics []float64) ([]float64, error) {
	c := n.artifact.Contract
	if len(demographics) != c.DemographicDim {
		return nil, fmt.Errorf("%w: demographic vector has %d entries, contract expects %d", models.ErrInference, len(demographics), c.DemographicDim)
	}
	demoEmb := n.demoForward(demographics)
	if len(waveEmb)+len(demoEmb) != len(n.artifact.FusionHead[0].Weights[0]) {
		return nil, fmt.Errorf("%w: embedding width %d does not match fusion head", models.ErrInference, len(waveEmb)+len(demoEmb))
	}
	_, probs := n.headForward(concat(waveEmb, demoEmb), nil)
	return probs, nil
}

// InputGradient computes the analytic gradient of the target class
// probability with respect to the waveform tensor, via reverse-mode
// propagation through the exact forward graph used by Predict.
func (n *Network) InputGradient(in models.NormalizedInput, class int) ([][]float64, error) {
	if err := n.CheckInput(in); err != nil {
		return nil, err
	}
	if class < 0 || class >= len(n.artifact.Contract.Classes) {
		return nil, fmt.Errorf("%w: class index %d out of range [0,%d)", models.ErrAttribution, class, len(n.artifact.Contract.Classes))
	}

	tr := &trace{}
	waveEmb, _, probs := n.forward(in.Waveform.Leads, in.Demographics, tr)

	// d softmax_class / d logit_j = p_class * (delta(class,j) - p_j)
	g := make([]float64, len(probs))
	for j := range probs {
		g[j] = probs[class] * (kronecker(class, j) - probs[j])
	}

	// Fusion head, last layer first. Hidden activations are ReLU gated.
	head := n.artifact.FusionHead
	for l := len(head) - 1; ; l-- {
		g = denseBackward(head[l], g)
		if l == 0 {
			break
		}
		applyReluMask(g, tr.headPre[l-1])
	}

	// Only the waveform half of the concatenated embedding matters here.
	gWave := g[:len(waveEmb)]

	// Global average pooling spreads each embedding gradient evenly in time.
	T := n.artifact.Contract.Length
	gPost := make([][]float64, len(gWave))
	for c := range gWave {
		row := make([]float64, T)
		per := gWave[c] / float64(T)
		for t := range row {
			row[t] = per
		}
		gPost[c] = row
	}

	convs := n.artifact.WaveformBranch
	for l := len(convs) - 1; l >= 0; l-- {
		for c, row := range gPost {
			for t := range row {
				if tr.convPre[l][c][t] <= 0 {
					row[t] = 0
				}
			}
		}
		gPost = convBackward(convs[l], gPost, T)
	}

	return gPost, nil
}

// trace records the pre-activations the backward pass needs.
type trace struct {
	convPre [][][]float64
	headPre [][]float64
}

// forward evaluates the full graph. A non-nil trace collects pre-activations
// for gradient computation.
func (n *Network) forward(wave [][]float64, demographics []float64, tr *trace) (waveEmb, demoEmb, probs []float64) {
	waveEmb, convPre := n.waveForward(wave, tr)
	if tr != nil {
		tr.convPre = convPre
	}
	demoEmb = n.demoForward(demographics)
	headPre, probs := n.headForward(concat(waveEmb, demoEmb), tr)
	if tr != nil {
		tr.headPre = headPre
	}
	return waveEmb, demoEmb, probs
}

func (n *Network) waveForward(wave [][]float64, tr *trace) ([]float64, [][][]float64) {
	x := wave
	var pres [][][]float64
	for _, layer := range n.artifact.WaveformBranch {
		pre := convForward(layer, x)
		if tr != nil {
			pres = append(pres, deepCopy2D(pre))
		}
		reluInPlace2D(pre)
		x = pre
	}
	return globalAveragePool(x), pres
}

func (n *Network) demoForward(demographics []float64) []float64 {
	x := demographics
	for _, layer := range n.artifact.DemographicBranch {
		pre := denseForward(layer, x)
		reluInPlace(pre)
		x = pre
	}
	return x
}

// headForward applies the fusion head: ReLU between layers, plain softmax on
// the final logits. Returns hidden pre-activations and probabilities.
func (n *Network) headForward(h []float64, tr *trace) ([][]float64, []float64) {
	head := n.artifact.FusionHead
	var pres [][]float64
	for l, layer := range head {
		pre := denseForward(layer, h)
		if l == len(head)-1 {
			return pres, softmax(pre)
		}
		if tr != nil {
			pres = append(pres, append([]float64(nil), pre...))
		} else {
			pres = append(pres, nil)
		}
		reluInPlace(pre)
		h = pre
	}
	return pres, nil
}

func (n *Network) buildResult(probs []float64) models.DiagnosisResult {
	classes := n.artifact.Contract.Classes
	distribution := make([]models.ClassProbability, len(classes))
	best := 0
	for i, label := range classes {
		distribution[i] = models.ClassProbability{Label: label, Probability: probs[i]}
		if probs[i] > probs[best] {
			best = i
		}
	}
	return models.DiagnosisResult{
		ModelVersion:   n.artifact.Version,
		Probabilities:  distribution,
		PredictedClass: classes[best],
		Confidence:     probs[best],
	}
}

func convForward(layer ConvLayer, x [][]float64) [][]float64 {
	T := len(x[0])
	taps := len(layer.Weights[0][0])
	pad := taps / 2

	out := make([][]float64, len(layer.Weights))
	for o, kernel := range layer.Weights {
		row := make([]float64, T)
		bias := layer.Bias[o]
		for t := 0; t < T; t++ {
			sum := bias
			for i, w := range kernel {
				xi := x[i]
				for k := 0; k < taps; k++ {
					src := t + k - pad
					if src < 0 || src >= T {
						continue
					}
					sum += w[k] * xi[src]
				}
			}
			row[t] = sum
		}
		out[o] = row
	}
	return out
}

func convBackward(layer ConvLayer, gPre [][]float64, T int) [][]float64 {
	taps := len(layer.Weights[0][0])
	pad := taps / 2
	in := len(layer.Weights[0])

	gIn := make([][]float64, in)
	for i := range gIn {
		gIn[i] = make([]float64, T)
	}
	for o, kernel := range layer.Weights {
		gRow := gPre[o]
		for t := 0; t < T; t++ {
			gp := gRow[t]
			if gp == 0 {
				continue
			}
			for i, w := range kernel {
				gi := gIn[i]
				for k := 0; k < taps; k++ {
					src := t + k - pad
					if src < 0 || src >= T {
						continue
					}
					gi[src] += w[k] * gp
				}
			}
		}
	}
	return gIn
}

func denseForward(layer DenseLayer, x []float64) []float64 {
	out := make([]float64, len(layer.Weights))
	for o, row := range layer.Weights {
		sum := layer.Bias[o]
		for i, w := range row {
			sum += w * x[i]
		}
		out[o] = sum
	}
	return out
}

func denseBackward(layer DenseLayer, g []float64) []float64 {
	gIn := make([]float64, len(layer.Weights[0]))
	for o, row := range layer.Weights {
		gv := g[o]
		if gv == 0 {
			continue
		}
		for i, w := range row {
			gIn[i] += w * gv
		}
	}
	return gIn
}

func globalAveragePool(x [][]float64) []float64 {
	emb := make([]float64, len(x))
	for c, row := range x {
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		emb[c] = sum / float64(len(row))
	}
	return emb
}

func softmax(logits []float64) []float64 {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	probs := make([]float64, len(logits))
	for i, v := range logits {
		probs[i] = math.Exp(v - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func reluInPlace(x []float64) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

func reluInPlace2D(x [][]float64) {
	for _, row := range x {
		reluInPlace(row)
	}
}

func applyReluMask(g, pre []float64) {
	for i := range g {
		if pre[i] <= 0 {
			g[i] = 0
		}
	}
}

func concat(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func deepCopy2D(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

func kronecker(a, b int) float64 {
	if a == b {
		return 1
	}
	return 0
}
