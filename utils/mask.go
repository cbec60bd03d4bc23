package utils

import "gonum.org/v1/gonum/mat"

// MaskValue is added to the score of every forbidden (query, key) pair.
const MaskValue = -1e9

// AttentionMask is the per-sequence (T x T) additive mask: 0 where query i may
// attend to key j, MaskValue where it may not. It is rebuilt from the ids on
// every forward pass and never stored on the model.
type AttentionMask struct {
	Additive *mat.Dense
	dead     []bool // query rows with no allowed key at all
}

// CausalMask returns (T x T) with 0 on and below the diagonal, MaskValue above.
func CausalMask(T int) *mat.Dense {
	out := mat.NewDense(T, T, nil)
	for i := 0; i < T; i++ {
		for j := i + 1; j < T; j++ {
			out.Set(i, j, MaskValue)
		}
	}
	return out
}

// PaddingMask forbids every query from attending to a key whose id is pad.
func PaddingMask(ids []int, pad int) *mat.Dense {
	T := len(ids)
	out := mat.NewDense(T, T, nil)
	for j, id := range ids {
		if id != pad {
			continue
		}
		for i := 0; i < T; i++ {
			out.Set(i, j, MaskValue)
		}
	}
	return out
}

// BuildMask ORs the causal and padding constraints for one sequence.
func BuildMask(ids []int, pad int) *AttentionMask {
	T := len(ids)
	causal := CausalMask(T)
	padding := PaddingMask(ids, pad)
	add := mat.NewDense(T, T, nil)
	dead := make([]bool, T)
	for i := 0; i < T; i++ {
		allowed := 0
		for j := 0; j < T; j++ {
			if causal.At(i, j) != 0 || padding.At(i, j) != 0 {
				add.Set(i, j, MaskValue)
				continue
			}
			allowed++
		}
		dead[i] = allowed == 0
	}
	return &AttentionMask{Additive: add, dead: dead}
}

func (m *AttentionMask) Len() int { return len(m.dead) }

func (m *AttentionMask) Allowed(i, j int) bool { return m.Additive.At(i, j) == 0 }

// FullyMasked reports whether query row i has no key it may attend to. This
// happens for every position of an all-pad sequence and for leading pads.
func (m *AttentionMask) FullyMasked(i int) bool { return m.dead[i] }

// NewCausalMask is BuildMask for a sequence with no padding.
func NewCausalMask(T int) *AttentionMask {
	return &AttentionMask{Additive: CausalMask(T), dead: make([]bool, T)}
}
