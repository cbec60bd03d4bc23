package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/utils"
)

// LayerNorm normalizes each column (one position) of a (d x T) activation.
type LayerNorm struct {
	D     int
	Eps   float64
	Gamma *mat.Dense // (d x 1)
	Beta  *mat.Dense // (d x 1)

	GradGamma, GradBeta *mat.Dense

	// cache
	xhat   *mat.Dense // (d x T)
	invStd []float64  // per column
}

func NewLayerNorm(d int, eps float64) *LayerNorm {
	return &LayerNorm{
		D:         d,
		Eps:       eps,
		Gamma:     utils.OnesLike(mat.NewDense(d, 1, nil)),
		Beta:      mat.NewDense(d, 1, nil),
		GradGamma: mat.NewDense(d, 1, nil),
		GradBeta:  mat.NewDense(d, 1, nil),
	}
}

func (ln *LayerNorm) Forward(X *mat.Dense) *mat.Dense {
	d, T := X.Dims()
	out := mat.NewDense(d, T, nil)
	xhat := mat.NewDense(d, T, nil)
	inv := make([]float64, T)
	col := make([]float64, d)
	for t := 0; t < T; t++ {
		mat.Col(col, t, X)
		mu, v := stat.PopMeanVariance(col, nil)
		istd := 1.0 / math.Sqrt(v+ln.Eps)
		inv[t] = istd
		// normalize and affine
		for i := 0; i < d; i++ {
			n := (col[i] - mu) * istd
			xhat.Set(i, t, n)
			out.Set(i, t, ln.Gamma.At(i, 0)*n+ln.Beta.At(i, 0))
		}
	}
	ln.xhat = xhat
	ln.invStd = inv
	return out
}

// Backward accumulates dGamma/dBeta and returns dX.
func (ln *LayerNorm) Backward(dY *mat.Dense) *mat.Dense {
	dX, dGamma, dBeta := ln.BackwardGradsOnly(dY)
	ln.GradGamma.Add(ln.GradGamma, dGamma)
	ln.GradBeta.Add(ln.GradBeta, dBeta)
	return dX
}

func (ln *LayerNorm) BackwardGradsOnly(dY *mat.Dense) (dX, dGamma, dBeta *mat.Dense) {
	d, T := dY.Dims()
	// grads for gamma/beta
	dGamma = utils.SumCols(utils.Multiply(dY, ln.xhat))
	dBeta = utils.SumCols(dY)

	// dX (per column)
	dX = mat.NewDense(d, T, nil)
	for t := 0; t < T; t++ {
		istd := ln.invStd[t]
		// precompute sums
		sum1 := 0.0
		sum2 := 0.0
		for i := 0; i < d; i++ {
			gy := dY.At(i, t) * ln.Gamma.At(i, 0)
			sum1 += gy
			sum2 += gy * ln.xhat.At(i, t)
		}
		for i := 0; i < d; i++ {
			gy := dY.At(i, t) * ln.Gamma.At(i, 0)
			dxi := (float64(d)*gy - sum1 - ln.xhat.At(i, t)*sum2) * (istd / float64(d))
			dX.Set(i, t, dxi)
		}
	}
	return dX, dGamma, dBeta
}

func (ln *LayerNorm) Params(prefix string) []Param {
	return []Param{
		{Name: prefix + ".gamma", W: ln.Gamma, Grad: ln.GradGamma},
		{Name: prefix + ".beta", W: ln.Beta, Grad: ln.GradBeta},
	}
}
