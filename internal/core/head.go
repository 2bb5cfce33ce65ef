package core

import (
	"fmt"
	"math"
	"math/rand"
)

// Param is a trainable tensor stored flat together with its gradient.
type Param struct {
	Data []float32
	Grad []float32
}

func newParam(n int) *Param {
	return &Param{Data: make([]float32, n), Grad: make([]float32, n)}
}

const initializerRange = 0.02

// LinearHead is the classification layer on top of the pooled encoder output.
type LinearHead struct {
	InDim   int
	OutDim  int
	Weight  *Param // OutDim x InDim, row-major
	Bias    *Param
	Dropout float64
}

func NewLinearHead(inDim, outDim int, dropout float64, rng *rand.Rand) *LinearHead {
	h := &LinearHead{
		InDim:   inDim,
		OutDim:  outDim,
		Weight:  newParam(inDim * outDim),
		Bias:    newParam(outDim),
		Dropout: dropout,
	}
	for i := range h.Weight.Data {
		h.Weight.Data[i] = float32(rng.NormFloat64() * initializerRange)
	}
	return h
}

func (h *LinearHead) Params() []*Param {
	return []*Param{h.Weight, h.Bias}
}

func (h *LinearHead) ZeroGrad() {
	for _, p := range h.Params() {
		clear(p.Grad)
	}
}

// ApplyDropout returns a copy of x with each element zeroed with probability p
// and survivors scaled by 1/(1-p).
func ApplyDropout(x [][]float32, p float64, rng *rand.Rand) [][]float32 {
	out := make([][]float32, len(x))
	if p <= 0 {
		for i, row := range x {
			out[i] = append([]float32(nil), row...)
		}
		return out
	}

	scale := float32(1 / (1 - p))
	for i, row := range x {
		dropped := make([]float32, len(row))
		for j, v := range row {
			if rng.Float64() >= p {
				dropped[j] = v * scale
			}
		}
		out[i] = dropped
	}
	return out
}

func (h *LinearHead) Forward(x [][]float32) ([][]float32, error) {
	logits := make([][]float32, len(x))
	for i, row := range x {
		if len(row) != h.InDim {
			return nil, fmt.Errorf("feature row %d has size %d, expected %d", i, len(row), h.InDim)
		}
		out := make([]float32, h.OutDim)
		for o := 0; o < h.OutDim; o++ {
			w := h.Weight.Data[o*h.InDim : (o+1)*h.InDim]
			sum := float64(h.Bias.Data[o])
			for j, v := range row {
				sum += float64(w[j]) * float64(v)
			}
			out[o] = float32(sum)
		}
		logits[i] = out
	}
	return logits, nil
}

// Backward accumulates parameter gradients for logits = x W^T + b.
func (h *LinearHead) Backward(x [][]float32, dLogits [][]float32) {
	for i, row := range x {
		for o, d := range dLogits[i] {
			if d == 0 {
				continue
			}
			g := h.Weight.Grad[o*h.InDim : (o+1)*h.InDim]
			for j, v := range row {
				g[j] += d * v
			}
			h.Bias.Grad[o] += d
		}
	}
}

func Softmax(logits []float32) []float32 {
	maxVal := float32(math.Inf(-1))
	for _, l := range logits {
		maxVal = max(maxVal, l)
	}

	probs := make([]float32, len(logits))
	var sum float64
	for i, l := range logits {
		e := math.Exp(float64(l - maxVal))
		probs[i] = float32(e)
		sum += e
	}
	for i := range probs {
		probs[i] = float32(float64(probs[i]) / sum)
	}
	return probs
}

func logSumExp(values []float32) float64 {
	maxVal := math.Inf(-1)
	for _, v := range values {
		maxVal = math.Max(maxVal, float64(v))
	}
	var sum float64
	for _, v := range values {
		sum += math.Exp(float64(v) - maxVal)
	}
	return maxVal + math.Log(sum)
}

func Argmax(values []float32) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// CrossEntropy returns the mean softmax cross-entropy over the batch and the
// gradient of that mean with respect to the logits.
func CrossEntropy(logits [][]float32, labels []int64) (float64, [][]float32, error) {
	if len(logits) != len(labels) {
		return 0, nil, fmt.Errorf("got %d logit rows for %d labels", len(logits), len(labels))
	}
	if len(logits) == 0 {
		return 0, nil, fmt.Errorf("cross entropy of an empty batch")
	}

	n := float32(len(logits))
	var loss float64
	grads := make([][]float32, len(logits))
	for i, row := range logits {
		label := labels[i]
		if label < 0 || int(label) >= len(row) {
			return 0, nil, fmt.Errorf("label %d out of range for %d classes", label, len(row))
		}

		loss += logSumExp(row) - float64(row[label])

		probs := Softmax(row)

		g := make([]float32, len(row))
		for c, p := range probs {
			g[c] = p / n
		}
		g[label] -= 1 / n
		grads[i] = g
	}

	return loss / float64(len(logits)), grads, nil
}
