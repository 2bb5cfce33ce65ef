package core

import "math"

// Adam keeps first and second moment estimates per parameter.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	step int
	m    map[*Param][]float64
	v    map[*Param][]float64
}

func NewAdam(lr float64) *Adam {
	return &Adam{
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
		m:     make(map[*Param][]float64),
		v:     make(map[*Param][]float64),
	}
}

func (a *Adam) Step(params []*Param) {
	a.step++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for _, p := range params {
		m, ok := a.m[p]
		if !ok {
			m = make([]float64, len(p.Data))
			a.m[p] = m
		}
		v, ok := a.v[p]
		if !ok {
			v = make([]float64, len(p.Data))
			a.v[p] = v
		}

		for i, g32 := range p.Grad {
			g := float64(g32)
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
			mHat := m[i] / bc1
			vHat := v[i] / bc2
			p.Data[i] -= float32(a.LR * mHat / (math.Sqrt(vHat) + a.Eps))
		}
	}
}

// ClipGradNorm rescales all gradients in place so their global L2 norm is at
// most maxNorm. It returns the norm measured before clipping.
func ClipGradNorm(params []*Param, maxNorm float64) float64 {
	var sq float64
	for _, p := range params {
		for _, g := range p.Grad {
			sq += float64(g) * float64(g)
		}
	}
	norm := math.Sqrt(sq)

	coef := maxNorm / (norm + 1e-6)
	if coef < 1 {
		for _, p := range params {
			for i := range p.Grad {
				p.Grad[i] = float32(float64(p.Grad[i]) * coef)
			}
		}
	}
	return norm
}
