package transformer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/params"
)

// PositionalEncoding builds the fixed sinusoidal table, one column per
// position: row 2i holds sin(p / 10000^(2i/d)), row 2i+1 the matching cos.
func PositionalEncoding(dModel, maxSeqLen int) (*mat.Dense, error) {
	if dModel <= 0 || maxSeqLen <= 0 {
		return nil, fmt.Errorf("%w: positional table %dx%d", params.ErrInvalidConfig, dModel, maxSeqLen)
	}
	if dModel%2 != 0 {
		return nil, fmt.Errorf("%w: d_model=%d", params.ErrOddModelDim, dModel)
	}
	pe := mat.NewDense(dModel, maxSeqLen, nil)
	for i := 0; i < dModel; i += 2 {
		freq := math.Pow(10000, -float64(i)/float64(dModel))
		for p := 0; p < maxSeqLen; p++ {
			angle := float64(p) * freq
			pe.Set(i, p, math.Sin(angle))
			pe.Set(i+1, p, math.Cos(angle))
		}
	}
	return pe, nil
}
