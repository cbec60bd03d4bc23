package utils

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Matrix functions used for the calculations in the program

// r = rows of matrix
// c = columns of matrix
// o = output
// m = matrix input number 1
// n = matrix input number 2

func Dot(m, n mat.Matrix) *mat.Dense {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Mul(m, n)
	return o
}

func Apply(fn func(i, j int, v float64) float64, m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Apply(fn, m)
	return o
}

func Scale(s float64, m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Scale(s, m)
	return o
}

func Multiply(m, n mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.MulElem(m, n)
	return o
}

func Add(m, n mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Add(m, n)
	return o
}

// AddBias broadcasts an (r x 1) bias across every column of m.
func AddBias(m, bias *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	if rb, cb := bias.Dims(); rb != r || cb != 1 {
		panic(fmt.Sprintf("AddBias: bias must be (%d x 1), got (%d x %d)", r, rb, cb))
	}
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, _ int, v float64) float64 { return v + bias.At(i, 0) }, m)
	return out
}

// SumCols collapses (r x c) into (r x 1); used for bias gradients summed over time.
func SumCols(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		s := 0.0
		for j := 0; j < c; j++ {
			s += m.At(i, j)
		}
		out.Set(i, 0, s)
	}
	return out
}

func OnesLike(a mat.Matrix) *mat.Dense {
	r, c := a.Dims()
	data := make([]float64, r*c)
	for i := range data {
		data[i] = 1
	}
	return mat.NewDense(r, c, data)
}

// RandomArray draws uniformly from [-1/sqrt(v), 1/sqrt(v)], v being the fan-in.
func RandomArray(size int, v float64) []float64 {
	bound := 1.0 / math.Sqrt(v+1e-12)
	dist := distuv.Uniform{Min: -bound, Max: bound}
	out := make([]float64, size)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}

// DropoutMask returns an (r x c) inverted-dropout mask: each entry is 0 with
// probability p, otherwise 1/(1-p), so the expectation is unchanged.
func DropoutMask(r, c int, p float64) *mat.Dense {
	out := mat.NewDense(r, c, nil)
	if p <= 0 {
		out.Copy(OnesLike(out))
		return out
	}
	keep := distuv.Bernoulli{P: 1 - p}
	inv := 1 / (1 - p)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, keep.Rand()*inv)
		}
	}
	return out
}

// -------- ReLU activation --------

func ReLUApply(_, _ int, x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// ReLUPrime is the elementwise derivative given the pre-activation matrix.
func ReLUPrime(m mat.Matrix) *mat.Dense {
	return Apply(func(_, _ int, x float64) float64 {
		if x > 0 {
			return 1
		}
		return 0
	}, m)
}

// ---------- Clipping ----------

// ClipGrads scales all grads so their combined norm <= maxNorm.
// Returns the scale actually applied (<=1.0) or 1.0 if no clip.
func ClipGrads(maxNorm float64, grads ...*mat.Dense) float64 {
	if maxNorm <= 0 {
		return 1.0
	}
	sum := 0.0
	for _, g := range grads {
		if g == nil {
			continue
		}
		n := mat.Norm(g, 2)
		sum += n * n
	}
	gn := math.Sqrt(sum)
	if gn <= maxNorm || gn == 0 {
		return 1.0
	}
	s := maxNorm / gn
	for _, g := range grads {
		if g != nil {
			g.Scale(s, g)
		}
	}
	return s
}
