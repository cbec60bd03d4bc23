package utils

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ---------- Loss ----------

// CrossEntropyRows scores (T x V) logits against T gold ids. It returns the
// per-position loss and dL/dlogits for the masked mean over positions whose
// target is not ignore. Ignored rows carry zero loss and zero gradient.
func CrossEntropyRows(logits *mat.Dense, targets []int, ignore int) ([]float64, *mat.Dense) {
	T, V := logits.Dims()
	if len(targets) != T {
		panic(fmt.Sprintf("CrossEntropyRows: %d targets for %d rows", len(targets), T))
	}
	losses := make([]float64, T)
	grad := mat.NewDense(T, V, nil)
	count := 0
	for _, g := range targets {
		if g != ignore {
			count++
		}
	}
	if count == 0 {
		return losses, grad
	}
	inv := 1.0 / float64(count)
	for t, gold := range targets {
		if gold == ignore {
			continue
		}
		if gold < 0 || gold >= V {
			panic(fmt.Sprintf("CrossEntropyRows: target %d outside vocab %d", gold, V))
		}
		row := logits.RawRowView(t)
		lse := floats.LogSumExp(row)
		losses[t] = lse - row[gold]
		for v := 0; v < V; v++ {
			grad.Set(t, v, math.Exp(row[v]-lse)*inv)
		}
		grad.Set(t, gold, grad.At(t, gold)-inv)
	}
	return losses, grad
}

// MaskedMeanLoss averages losses over positions whose target is not ignore.
// It also returns how many positions were counted; zero counted positions
// give a loss of zero.
func MaskedMeanLoss(losses []float64, targets []int, ignore int) (float64, int) {
	sum := 0.0
	n := 0
	for i, l := range losses {
		if targets[i] == ignore {
			continue
		}
		sum += l
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// Perplexity is e^loss for an average per-token cross entropy.
func Perplexity(avgLoss float64) float64 {
	return math.Exp(avgLoss)
}
