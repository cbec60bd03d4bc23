package transformer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/IO"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/optimizations"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/params"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/utils"
)

// Model is a decoder-only language model. Emb is both the input embedding
// and, transposed, the output projection: there is exactly one table.
type Model struct {
	Config params.ModelConfig

	Emb     *mat.Dense // (dModel x vocab)
	GradEmb *mat.Dense
	PosEnc  *mat.Dense // (dModel x maxSeqLen), fixed
	Blocks  []*TransformerBlock
	LnF     *optimizations.LayerNorm

	// cache for backprop
	ids    []int
	hidden *mat.Dense
	drop   *mat.Dense
}

func NewModel(cfg params.ModelConfig) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pe, err := PositionalEncoding(cfg.DModel, cfg.MaxSeqLen)
	if err != nil {
		return nil, err
	}
	m := &Model{
		Config:  cfg,
		Emb:     mat.NewDense(cfg.DModel, cfg.VocabSize, utils.RandomArray(cfg.DModel*cfg.VocabSize, float64(cfg.DModel))),
		GradEmb: mat.NewDense(cfg.DModel, cfg.VocabSize, nil),
		PosEnc:  pe,
		Blocks:  make([]*TransformerBlock, cfg.NumLayers),
		LnF:     optimizations.NewLayerNorm(cfg.DModel, cfg.Eps),
	}
	for i := range m.Blocks {
		b, err := NewBlock(cfg)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		m.Blocks[i] = b
	}
	return m, nil
}

func (m *Model) Embedding() *mat.Dense { return m.Emb }

// OutputProjection is the same matrix as Embedding; logits = hidden^T * Emb.
func (m *Model) OutputProjection() *mat.Dense { return m.Emb }

// CheckVocab fails when a tokenizer of n ids cannot drive this model.
func (m *Model) CheckVocab(n int) error {
	if n != m.Config.VocabSize {
		return fmt.Errorf("%w: tokenizer has %d ids, model %d", params.ErrVocabMismatch, n, m.Config.VocabSize)
	}
	return nil
}

// Forward returns unnormalized next-token scores, one (T x vocab) matrix per
// sequence. Dropout is off.
func (m *Model) Forward(batch [][]int) ([]*mat.Dense, error) {
	if err := IO.ValidateBatch(batch, m.Config.MaxSeqLen, m.Config.VocabSize); err != nil {
		return nil, err
	}
	out := make([]*mat.Dense, len(batch))
	for i, ids := range batch {
		out[i] = m.forwardSeq(ids, false)
	}
	return out, nil
}

// ForwardHidden returns the final normalized hidden states, (dModel x T) per
// sequence.
func (m *Model) ForwardHidden(batch [][]int) ([]*mat.Dense, error) {
	if err := IO.ValidateBatch(batch, m.Config.MaxSeqLen, m.Config.VocabSize); err != nil {
		return nil, err
	}
	out := make([]*mat.Dense, len(batch))
	for i, ids := range batch {
		out[i] = m.hiddenSeq(ids, false)
	}
	return out, nil
}

// embed looks up token columns and adds the positional table.
func (m *Model) embed(ids []int) *mat.Dense {
	d := m.Config.DModel
	X := mat.NewDense(d, len(ids), nil)
	for t, id := range ids {
		for i := 0; i < d; i++ {
			X.Set(i, t, m.Emb.At(i, id)+m.PosEnc.At(i, t))
		}
	}
	return X
}

func (m *Model) hiddenSeq(ids []int, train bool) *mat.Dense {
	// the mask lives only for this call
	mask := utils.BuildMask(ids, params.PadID)

	X := m.embed(ids)
	m.drop = nil
	if train && m.Config.Dropout > 0 {
		r, c := X.Dims()
		m.drop = utils.DropoutMask(r, c, m.Config.Dropout)
		X = utils.Multiply(X, m.drop)
	}
	for _, b := range m.Blocks {
		X = b.Forward(X, mask, train)
	}
	m.ids = ids
	m.hidden = m.LnF.Forward(X)
	return m.hidden
}

func (m *Model) forwardSeq(ids []int, train bool) *mat.Dense {
	H := m.hiddenSeq(ids, train)
	return utils.Dot(H.T(), m.Emb) // (T x vocab)
}

// backwardSeq takes dL/dlogits for the last forwardSeq and accumulates every
// gradient. Both uses of Emb land in GradEmb.
func (m *Model) backwardSeq(dLogits *mat.Dense) {
	// logits = H^T * Emb
	m.GradEmb.Add(m.GradEmb, utils.Dot(m.hidden, dLogits))
	dX := utils.Dot(m.Emb, dLogits.T()) // (d x T)

	dX = m.LnF.Backward(dX)
	for i := len(m.Blocks) - 1; i >= 0; i-- {
		dX = m.Blocks[i].Backward(dX)
	}
	if m.drop != nil {
		dX = utils.Multiply(dX, m.drop)
	}
	d := m.Config.DModel
	for t, id := range m.ids {
		for i := 0; i < d; i++ {
			m.GradEmb.Set(i, id, m.GradEmb.At(i, id)+dX.At(i, t))
		}
	}
}

// Params lists every trainable matrix once; the tied table appears a single time.
func (m *Model) Params() []optimizations.Param {
	ps := []optimizations.Param{{Name: "emb", W: m.Emb, Grad: m.GradEmb}}
	for i, b := range m.Blocks {
		ps = append(ps, b.Params(fmt.Sprintf("block%d", i))...)
	}
	return append(ps, m.LnF.Params("ln_f")...)
}

func (m *Model) ZeroGrad() { optimizations.ZeroGrads(m.Params()) }
