package transformer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/optimizations"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/params"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/utils"
)

type TransformerBlock struct {
	Attn *Attention
	Mlp  *MLP
	Ln1  *optimizations.LayerNorm
	Ln2  *optimizations.LayerNorm
}

func NewBlock(cfg params.ModelConfig) (*TransformerBlock, error) {
	attn, err := NewAttention(cfg.DModel, cfg.NumHeads, cfg.Dropout)
	if err != nil {
		return nil, fmt.Errorf("attention: %w", err)
	}
	return &TransformerBlock{
		Attn: attn,
		Mlp:  NewMLP(cfg.DModel, cfg.DFF, cfg.Dropout),
		Ln1:  optimizations.NewLayerNorm(cfg.DModel, cfg.Eps),
		Ln2:  optimizations.NewLayerNorm(cfg.DModel, cfg.Eps),
	}, nil
}

// Block forward/backward with pre-norm residuals:
// Y = X + Attn(Ln1(X)), Z = Y + MLP(Ln2(Y)).
func (b *TransformerBlock) Forward(X *mat.Dense, mask *utils.AttentionMask, train bool) *mat.Dense {
	attnOut := b.Attn.Forward(b.Ln1.Forward(X), mask, train)
	xRes := utils.Add(X, attnOut)
	mlpOut := b.Mlp.Forward(b.Ln2.Forward(xRes), train)
	return utils.Add(xRes, mlpOut)
}

func (b *TransformerBlock) Backward(grad *mat.Dense) *mat.Dense {
	// MLP path
	dX2 := b.Mlp.Backward(grad)
	dXres := utils.Add(grad, b.Ln2.Backward(dX2))

	// attention path
	dX1 := b.Attn.Backward(dXres)
	return utils.Add(dXres, b.Ln1.Backward(dX1))
}

func (b *TransformerBlock) Params(prefix string) []optimizations.Param {
	var ps []optimizations.Param
	ps = append(ps, b.Ln1.Params(prefix+".ln1")...)
	ps = append(ps, b.Attn.Params(prefix+".attn")...)
	ps = append(ps, b.Ln2.Params(prefix+".ln2")...)
	ps = append(ps, b.Mlp.Params(prefix+".mlp")...)
	return ps
}
