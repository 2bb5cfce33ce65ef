package core

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftmaxAndArgmax(t *testing.T) {
	probs := Softmax([]float32{1, 3, 2})

	var sum float32
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.Equal(t, 1, Argmax(probs))

	// Large logits must not overflow.
	probs = Softmax([]float32{1000, 1000})
	assert.InDelta(t, 0.5, probs[0], 1e-6)
}

func TestCrossEntropyErrors(t *testing.T) {
	_, _, err := CrossEntropy([][]float32{{1, 2}}, []int64{0, 1})
	assert.Error(t, err)

	_, _, err = CrossEntropy(nil, nil)
	assert.Error(t, err)

	_, _, err = CrossEntropy([][]float32{{1, 2}}, []int64{2})
	assert.Error(t, err)
}

func TestCrossEntropyUniform(t *testing.T) {
	loss, grads, err := CrossEntropy([][]float32{{0, 0, 0, 0}}, []int64{2})
	require.NoError(t, err)
	assert.InDelta(t, math.Log(4), loss, 1e-6)
	assert.InDeltaSlice(t, []float32{0.25, 0.25, -0.75, 0.25}, grads[0], 1e-6)
}

func headLoss(t *testing.T, h *LinearHead, x [][]float32, labels []int64) float64 {
	logits, err := h.Forward(x)
	require.NoError(t, err)
	loss, _, err := CrossEntropy(logits, labels)
	require.NoError(t, err)
	return loss
}

func TestHeadGradientMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	h := NewLinearHead(3, 2, 0, rng)
	x := [][]float32{{0.5, -1, 2}, {1.5, 0.25, -0.5}}
	labels := []int64{1, 0}

	logits, err := h.Forward(x)
	require.NoError(t, err)
	_, dLogits, err := CrossEntropy(logits, labels)
	require.NoError(t, err)

	h.ZeroGrad()
	h.Backward(x, dLogits)

	const eps = 1e-3
	for _, p := range h.Params() {
		for i := range p.Data {
			orig := p.Data[i]
			p.Data[i] = orig + eps
			plus := headLoss(t, h, x, labels)
			p.Data[i] = orig - eps
			minus := headLoss(t, h, x, labels)
			p.Data[i] = orig

			numeric := (plus - minus) / (2 * eps)
			assert.InDelta(t, numeric, p.Grad[i], 1e-3, "param index %d", i)
		}
	}
}

func TestHeadForwardRejectsWrongWidth(t *testing.T) {
	h := NewLinearHead(3, 2, 0, rand.New(rand.NewSource(1)))
	_, err := h.Forward([][]float32{{1, 2}})
	assert.Error(t, err)
}

func TestNewLinearHeadInit(t *testing.T) {
	h := NewLinearHead(64, 8, 0.1, rand.New(rand.NewSource(3)))
	assert.Len(t, h.Weight.Data, 64*8)
	assert.Len(t, h.Bias.Data, 8)

	for _, b := range h.Bias.Data {
		assert.Zero(t, b)
	}
	var sq float64
	for _, w := range h.Weight.Data {
		sq += float64(w) * float64(w)
	}
	std := math.Sqrt(sq / float64(len(h.Weight.Data)))
	assert.InDelta(t, initializerRange, std, 0.005)
}

func TestApplyDropout(t *testing.T) {
	x := [][]float32{{1, 1, 1, 1, 1, 1, 1, 1}}

	same := ApplyDropout(x, 0, nil)
	assert.Equal(t, x, same)
	same[0][0] = 5
	assert.Equal(t, float32(1), x[0][0], "dropout must not alias its input")

	dropped := ApplyDropout(x, 0.5, rand.New(rand.NewSource(11)))
	for _, v := range dropped[0] {
		assert.Contains(t, []float32{0, 2}, v)
	}
}

func TestClipGradNorm(t *testing.T) {
	p := &Param{Data: make([]float32, 2), Grad: []float32{3, 4}}

	norm := ClipGradNorm([]*Param{p}, 1.0)
	assert.InDelta(t, 5.0, norm, 1e-9)
	assert.InDelta(t, 0.6, p.Grad[0], 1e-5)
	assert.InDelta(t, 0.8, p.Grad[1], 1e-5)

	q := &Param{Data: make([]float32, 2), Grad: []float32{0.3, 0.4}}
	norm = ClipGradNorm([]*Param{q}, 1.0)
	assert.InDelta(t, 0.5, norm, 1e-6)
	assert.Equal(t, []float32{0.3, 0.4}, q.Grad)
}

func TestAdamStep(t *testing.T) {
	p := &Param{Data: []float32{1, 1}, Grad: []float32{1, -1}}
	opt := NewAdam(0.1)

	opt.Step([]*Param{p})
	assert.InDelta(t, 0.9, p.Data[0], 1e-5)
	assert.InDelta(t, 1.1, p.Data[1], 1e-5)

	clear(p.Grad)
	opt.Step([]*Param{p})
	// Momentum keeps moving the parameter with a zero gradient.
	assert.Less(t, p.Data[0], float32(0.9))
}
