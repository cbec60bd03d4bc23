package params

import "errors"

// Configuration errors. These are fatal and surface at construction time.
var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrHeadsDivisibility = errors.New("d_model must be divisible by num_heads")
	ErrOddModelDim       = errors.New("d_model must be even for sinusoidal positions")
	ErrVocabMismatch     = errors.New("vocabulary size does not match model")
)

// Shape and contract errors, raised at the call site.
var (
	ErrSequenceTooLong = errors.New("sequence longer than max_seq_len")
	ErrRaggedBatch     = errors.New("ragged batch")
	ErrEmptySequence   = errors.New("empty sequence")
	ErrTokenOutOfRange = errors.New("token id out of range")
)
