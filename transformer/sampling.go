package transformer

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/params"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/utils"
)

// Rand is the slice of *rand.Rand (math/rand/v2) the samplers need.
type Rand interface {
	Float64() float64
}

// Policy picks the next token from the final-position logits. The set of
// policies is closed: Greedy, TopK and TopP.
type Policy interface {
	Choose(logits []float64, rng Rand) int
	isPolicy()
}

// Greedy takes the argmax; ties go to the lowest id.
type Greedy struct{}

// TopK samples among the K highest logits. K <= 0 or K >= vocab keeps all.
type TopK struct{ K int }

// TopP samples from the smallest most-probable prefix whose mass reaches P.
type TopP struct{ P float64 }

func (Greedy) isPolicy() {}
func (TopK) isPolicy()   {}
func (TopP) isPolicy()   {}

func (Greedy) Choose(logits []float64, _ Rand) int {
	return floats.MaxIdx(logits)
}

func (p TopK) Choose(logits []float64, rng Rand) int {
	idx := sortedDesc(logits)
	if p.K > 0 && p.K < len(idx) {
		idx = idx[:p.K]
	}
	kept := make([]float64, len(idx))
	for i, id := range idx {
		kept[i] = logits[id]
	}
	return idx[sampleFromProbs(utils.Softmax(kept), rng)]
}

func (p TopP) Choose(logits []float64, rng Rand) int {
	probs := utils.Softmax(logits)
	idx := sortedDesc(probs)
	cut := len(idx)
	if p.P < 1 {
		cum := 0.0
		for i, id := range idx {
			cum += probs[id]
			if cum >= p.P {
				cut = i + 1
				break
			}
		}
	}
	// top-1 always survives
	idx = idx[:max(cut, 1)]
	kept := make([]float64, len(idx))
	for i, id := range idx {
		kept[i] = probs[id]
	}
	floats.Scale(1/floats.Sum(kept), kept)
	return idx[sampleFromProbs(kept, rng)]
}

// ParsePolicy maps a CLI name onto a policy.
func ParsePolicy(name string, k int, p float64) (Policy, error) {
	switch name {
	case "greedy":
		return Greedy{}, nil
	case "top-k", "topk":
		return TopK{K: k}, nil
	case "top-p", "topp", "nucleus":
		if p <= 0 {
			return nil, fmt.Errorf("%w: top_p must be positive, got %g", params.ErrInvalidConfig, p)
		}
		return TopP{P: p}, nil
	}
	return nil, fmt.Errorf("%w: unknown sampling policy %q", params.ErrInvalidConfig, name)
}

// ApplyTemperature returns logits / tau. tau < 1 sharpens, tau > 1 flattens.
func ApplyTemperature(logits []float64, tau float64) ([]float64, error) {
	if tau <= 0 {
		return nil, fmt.Errorf("%w: temperature must be positive, got %g", params.ErrInvalidConfig, tau)
	}
	out := append([]float64(nil), logits...)
	floats.Scale(1/tau, out)
	return out, nil
}

// sortedDesc returns ids ordered by descending value, lower id first on ties.
func sortedDesc(v []float64) []int {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return v[idx[a]] > v[idx[b]] })
	return idx
}

// sampleFromProbs draws an index from a normalized distribution.
func sampleFromProbs(probs []float64, rng Rand) int {
	rnd := rng.Float64()
	cum := 0.0
	for i, p := range probs {
		cum += p
		if rnd < cum {
			return i
		}
	}
	return len(probs) - 1 // fallback
}
