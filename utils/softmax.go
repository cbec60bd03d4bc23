package utils

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ---------- Softmax variants ----------

// Softmax returns a fresh probability vector for v.
func Softmax(v []float64) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	lse := floats.LogSumExp(v)
	for i, x := range v {
		out[i] = math.Exp(x - lse)
	}
	return out
}

// RowSoftmaxMaskedInPlace writes softmax(m+mask) into dst (r x c) in place.
//
// A fully masked row would otherwise be a softmax over values that are all
// near MaskValue. Such a row is set to a uniform distribution over keys 0..i
// instead, so it still never looks at later positions.
func RowSoftmaxMaskedInPlace(dst, m *mat.Dense, mask *AttentionMask) *mat.Dense {
	r, c := m.Dims()
	if dr, dc := dst.Dims(); dr != r || dc != c {
		panic("RowSoftmaxMaskedInPlace: dst shape mismatch")
	}
	if mask != nil && mask.Len() != r {
		panic(fmt.Sprintf("RowSoftmaxMaskedInPlace: mask has %d rows, scores %d", mask.Len(), r))
	}
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		if mask != nil && mask.FullyMasked(i) {
			u := 1.0 / float64(i+1)
			for j := 0; j < c; j++ {
				if j <= i {
					dst.Set(i, j, u)
				} else {
					dst.Set(i, j, 0)
				}
			}
			continue
		}
		for j := 0; j < c; j++ {
			row[j] = m.At(i, j)
			if mask != nil {
				row[j] += mask.Additive.At(i, j)
			}
		}
		dst.SetRow(i, Softmax(row))
	}
	return dst
}

// SoftmaxBackward for the row-wise softmax used in attention.
// Vector-JVP form: for each row i,
// s = sum_k dA[i,k] * A[i,k]; dS[i,j] = A[i,j] * (dA[i,j] - s)
// Rows clamped to uniform do not depend on the scores and get zero gradient.
func SoftmaxBackward(dA mat.Matrix, A *mat.Dense, mask *AttentionMask) *mat.Dense {
	r, c := A.Dims()
	dS := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		if mask != nil && mask.FullyMasked(i) {
			continue
		}
		s := 0.0
		for k := 0; k < c; k++ {
			s += dA.At(i, k) * A.At(i, k)
		}
		for j := 0; j < c; j++ {
			aj := A.At(i, j)
			dS.Set(i, j, aj*(dA.At(i, j)-s))
		}
	}
	return dS
}

// RowSums returns per-row sums for a mat.Dense.
func RowSums(m *mat.Dense) []float64 {
	r, _ := m.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		out[i] = floats.Sum(m.RawRowView(i))
	}
	return out
}
