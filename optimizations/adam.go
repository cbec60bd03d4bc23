package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Param pairs a weight with its gradient accumulator. Decay marks the
// matrices AdamW should shrink; biases and norm parameters are left alone.
type Param struct {
	Name  string
	W     *mat.Dense
	Grad  *mat.Dense
	Decay bool
}

// ZeroGrads clears every accumulator before the next batch.
func ZeroGrads(ps []Param) {
	for _, p := range ps {
		p.Grad.Zero()
	}
}

// Grads lists the accumulators, e.g. for global-norm clipping.
func Grads(ps []Param) []*mat.Dense {
	out := make([]*mat.Dense, len(ps))
	for i, p := range ps {
		out[i] = p.Grad
	}
	return out
}

// p -= lr * (mhat/(sqrt(vhat)+eps) + wd * p) with bias correction (AdamW).
func AdamUpdateInPlace(
	p, g, m, v *mat.Dense,
	t int,
	lr, beta1, beta2, eps, weightDecay float64,
) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("adamUpdateInPlace: grad shape mismatch")
	}
	if mr, mc := m.Dims(); mr != pr || mc != pc {
		panic("adamUpdateInPlace: m shape mismatch")
	}
	if vr, vc := v.Dims(); vr != pr || vc != pc {
		panic("adamUpdateInPlace: v shape mismatch")
	}
	c1 := 1.0 / (1.0 - math.Pow(beta1, float64(t)))
	c2 := 1.0 / (1.0 - math.Pow(beta2, float64(t)))
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			gij := g.At(i, j)
			mij := beta1*m.At(i, j) + (1.0-beta1)*gij
			vij := beta2*v.At(i, j) + (1.0-beta2)*gij*gij
			mhat := mij * c1
			vhat := vij * c2
			update := mhat/(math.Sqrt(vhat)+eps) + weightDecay*p.At(i, j)
			m.Set(i, j, mij)
			v.Set(i, j, vij)
			p.Set(i, j, p.At(i, j)-lr*update)
		}
	}
}

// ------- Adam optimizer (in-place) --------

// Adam keeps first/second moment state per weight matrix. State is keyed by
// the weight pointer, so a tied matrix listed once gets one set of moments.
type Adam struct {
	Beta1, Beta2, Eps, WeightDecay float64

	T    int
	m, v map[*mat.Dense]*mat.Dense
}

func NewAdam(beta1, beta2, eps, weightDecay float64) *Adam {
	return &Adam{
		Beta1:       beta1,
		Beta2:       beta2,
		Eps:         eps,
		WeightDecay: weightDecay,
		m:           make(map[*mat.Dense]*mat.Dense),
		v:           make(map[*mat.Dense]*mat.Dense),
	}
}

// Step applies one update to every param from its accumulated gradient.
func (a *Adam) Step(ps []Param, lr float64) {
	a.T++
	for _, p := range ps {
		m, ok := a.m[p.W]
		if !ok {
			r, c := p.W.Dims()
			m = mat.NewDense(r, c, nil)
			a.m[p.W] = m
			a.v[p.W] = mat.NewDense(r, c, nil)
		}
		wd := 0.0
		if p.Decay {
			wd = a.WeightDecay
		}
		AdamUpdateInPlace(p.W, p.Grad, m, a.v[p.W], a.T, lr, a.Beta1, a.Beta2, a.Eps, wd)
	}
}
