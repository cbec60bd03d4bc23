package IO

import (
	"fmt"
	"math/rand/v2"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/params"
)

// Chunk cuts a flat id stream into windows of seqLen. The last window is
// right-padded with <pad>; a stream that divides evenly gets no extra,
// all-pad window, and an empty stream gives no windows at all.
func Chunk(ids []int, seqLen int) [][]int {
	if seqLen <= 0 || len(ids) == 0 {
		return nil
	}
	out := make([][]int, 0, (len(ids)+seqLen-1)/seqLen)
	for start := 0; start < len(ids); start += seqLen {
		seq := make([]int, seqLen) // zero is <pad>
		copy(seq, ids[start:min(start+seqLen, len(ids))])
		out = append(out, seq)
	}
	return out
}

// Batches groups seqs into batches of batchSize; the last may be shorter.
// With a non-nil rng the order is shuffled first. seqs itself is not reordered.
func Batches(seqs [][]int, batchSize int, rng *rand.Rand) ([][][]int, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch_size must be positive, got %d", params.ErrInvalidConfig, batchSize)
	}
	order := make([][]int, len(seqs))
	copy(order, seqs)
	if rng != nil {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	var out [][][]int
	for start := 0; start < len(order); start += batchSize {
		out = append(out, order[start:min(start+batchSize, len(order))])
	}
	return out, nil
}

// ValidateBatch checks the forward-pass contract: a non-empty rectangular
// batch of non-empty sequences, at most maxLen long, with every id in
// [0, vocabSize).
func ValidateBatch(batch [][]int, maxLen, vocabSize int) error {
	if len(batch) == 0 {
		return fmt.Errorf("%w: batch has no sequences", params.ErrEmptySequence)
	}
	T := len(batch[0])
	if T == 0 {
		return params.ErrEmptySequence
	}
	if T > maxLen {
		return fmt.Errorf("%w: length %d, max %d", params.ErrSequenceTooLong, T, maxLen)
	}
	for i, seq := range batch {
		if len(seq) != T {
			return fmt.Errorf("%w: sequence %d has length %d, want %d", params.ErrRaggedBatch, i, len(seq), T)
		}
		for t, id := range seq {
			if id < 0 || id >= vocabSize {
				return fmt.Errorf("%w: sequence %d position %d id %d, vocabulary size %d", params.ErrTokenOutOfRange, i, t, id, vocabSize)
			}
		}
	}
	return nil
}
