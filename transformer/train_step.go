package transformer

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/IO"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/optimizations"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/params"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/utils"
)

// Trainer owns the optimizer state for one model. A step never overlaps a
// forward pass: gradients for the whole batch are accumulated first.
type Trainer struct {
	Model *Model
	Opt   *optimizations.Adam
	Cfg   params.TrainConfig
	Steps int
}

func NewTrainer(m *Model, cfg params.TrainConfig) *Trainer {
	return &Trainer{
		Model: m,
		Opt:   optimizations.NewAdam(cfg.AdamBeta1, cfg.AdamBeta2, cfg.AdamEps, cfg.WeightDecay),
		Cfg:   cfg,
	}
}

// shift splits a chunk into model inputs and next-token targets.
func shift(seq []int) (inputs, targets []int) {
	return seq[:len(seq)-1], seq[1:]
}

func countTargets(batch [][]int) int {
	n := 0
	for _, seq := range batch {
		_, targets := shift(seq)
		for _, t := range targets {
			if t != params.PadID {
				n++
			}
		}
	}
	return n
}

// Step runs forward/backward over the batch with dropout on and applies one
// optimizer update. The loss is the mean over every non-pad target in the
// batch. A batch with no targets leaves the parameters alone.
func (tr *Trainer) Step(batch [][]int) (float64, error) {
	m := tr.Model
	if err := IO.ValidateBatch(batch, m.Config.MaxSeqLen+1, m.Config.VocabSize); err != nil {
		return 0, fmt.Errorf("train step: %w", err)
	}
	if len(batch[0]) < 2 {
		return 0, fmt.Errorf("train step: %w: need at least 2 tokens per sequence", params.ErrEmptySequence)
	}
	total := countTargets(batch)
	if total == 0 {
		return 0, nil
	}

	m.ZeroGrad()
	sum := 0.0
	for _, seq := range batch {
		inputs, targets := shift(seq)
		logits := m.forwardSeq(inputs, true)
		losses, grad := utils.CrossEntropyRows(logits, targets, params.PadID)
		loss, n := utils.MaskedMeanLoss(losses, targets, params.PadID)
		if n == 0 {
			continue
		}
		sum += loss * float64(n)
		// per-sequence mean -> batch mean
		grad.Scale(float64(n)/float64(total), grad)
		m.backwardSeq(grad)
	}

	ps := m.Params()
	if s := utils.ClipGrads(tr.Cfg.GradClip, optimizations.Grads(ps)...); s < 1.0 {
		utils.Debugf("Trainer: clipped grads by %.4f at step %d", s, tr.Steps)
	}
	tr.Opt.Step(ps, tr.Cfg.LR)
	tr.Steps++
	return sum / float64(total), nil
}

// EvalResult summarizes next-token prediction over a set of chunks.
type EvalResult struct {
	Loss       float64
	Perplexity float64
	Accuracy   float64 // greedy next-token accuracy
	Tokens     int
}

func (r EvalResult) String() string {
	return fmt.Sprintf("loss=%.4f ppl=%.2f", r.Loss, r.Perplexity)
}

// Evaluate scores seqs with dropout off. Pad targets are ignored.
func Evaluate(m *Model, seqs [][]int) (EvalResult, error) {
	sum := 0.0
	correct := 0
	tokens := 0
	for i, seq := range seqs {
		if len(seq) < 2 {
			continue
		}
		inputs, targets := shift(seq)
		if err := IO.ValidateBatch([][]int{inputs}, m.Config.MaxSeqLen, m.Config.VocabSize); err != nil {
			return EvalResult{}, fmt.Errorf("evaluate sequence %d: %w", i, err)
		}
		logits := m.forwardSeq(inputs, false)
		losses, _ := utils.CrossEntropyRows(logits, targets, params.PadID)
		loss, n := utils.MaskedMeanLoss(losses, targets, params.PadID)
		sum += loss * float64(n)
		tokens += n
		for t, gold := range targets {
			if gold != params.PadID && floats.MaxIdx(logits.RawRowView(t)) == gold {
				correct++
			}
		}
	}
	if tokens == 0 {
		return EvalResult{Perplexity: 1}, nil
	}
	avg := sum / float64(tokens)
	return EvalResult{
		Loss:       avg,
		Perplexity: utils.Perplexity(avg),
		Accuracy:   float64(correct) / float64(tokens),
		Tokens:     tokens,
	}, nil
}
