package transformer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/optimizations"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/params"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/utils"
)

// Attention is masked multi-head self-attention over a (dModel x T) input.
// Head h owns rows h*DHead..(h+1)*DHead of the Q, K and V projections.
type Attention struct {
	H       int
	DModel  int
	DHead   int
	Dropout float64

	Wquery  *mat.Dense // (dModel x dModel)
	Wkey    *mat.Dense
	Wvalue  *mat.Dense
	Woutput *mat.Dense

	GradWq, GradWk, GradWv, GradWo *mat.Dense

	// cache for backprop
	X       *mat.Dense
	Q, K, V *mat.Dense
	A       []*mat.Dense // per head, post-softmax
	drop    []*mat.Dense // per head dropout masks, nil outside training
	mask    *utils.AttentionMask
	oCat    *mat.Dense
}

func NewAttention(dModel, nHeads int, dropout float64) (*Attention, error) {
	if dModel <= 0 || nHeads <= 0 {
		return nil, fmt.Errorf("%w: d_model=%d num_heads=%d", params.ErrInvalidConfig, dModel, nHeads)
	}
	if dModel%nHeads != 0 {
		return nil, fmt.Errorf("%w: d_model=%d num_heads=%d", params.ErrHeadsDivisibility, dModel, nHeads)
	}
	newW := func() *mat.Dense {
		return mat.NewDense(dModel, dModel, utils.RandomArray(dModel*dModel, float64(dModel)))
	}
	return &Attention{
		H:       nHeads,
		DModel:  dModel,
		DHead:   dModel / nHeads,
		Dropout: dropout,
		Wquery:  newW(),
		Wkey:    newW(),
		Wvalue:  newW(),
		Woutput: newW(),
		GradWq:  mat.NewDense(dModel, dModel, nil),
		GradWk:  mat.NewDense(dModel, dModel, nil),
		GradWv:  mat.NewDense(dModel, dModel, nil),
		GradWo:  mat.NewDense(dModel, dModel, nil),
		A:       make([]*mat.Dense, nHeads),
		drop:    make([]*mat.Dense, nHeads),
	}, nil
}

// head returns the rows of m that belong to head h.
func (attn *Attention) head(m *mat.Dense, h int) *mat.Dense {
	_, T := m.Dims()
	return m.Slice(h*attn.DHead, (h+1)*attn.DHead, 0, T).(*mat.Dense)
}

// Forward: Y = Wo * concat_h(V_h * softmax(Q_h^T K_h / sqrt(dHead) + mask)^T).
// A nil mask means causal only.
func (attn *Attention) Forward(X *mat.Dense, mask *utils.AttentionMask, train bool) *mat.Dense {
	_, T := X.Dims()
	if mask == nil {
		mask = utils.NewCausalMask(T)
	}
	attn.X = X
	attn.mask = mask
	attn.Q = utils.Dot(attn.Wquery, X)
	attn.K = utils.Dot(attn.Wkey, X)
	attn.V = utils.Dot(attn.Wvalue, X)

	rescale := 1.0 / math.Sqrt(float64(attn.DHead))
	headsCat := mat.NewDense(attn.DModel, T, nil)
	scores := mat.NewDense(T, T, nil)

	for h := 0; h < attn.H; h++ {
		Qh, Kh, Vh := attn.head(attn.Q, h), attn.head(attn.K, h), attn.head(attn.V, h)
		scores.Mul(Qh.T(), Kh)
		scores.Scale(rescale, scores)
		attn.A[h] = utils.RowSoftmaxMaskedInPlace(mat.NewDense(T, T, nil), scores, mask)

		weights := attn.A[h]
		attn.drop[h] = nil
		if train && attn.Dropout > 0 {
			attn.drop[h] = utils.DropoutMask(T, T, attn.Dropout)
			weights = utils.Multiply(weights, attn.drop[h])
		}
		// O = V * A^T
		attn.head(headsCat, h).Mul(Vh, weights.T())
	}
	attn.oCat = headsCat

	if klog.V(2).Enabled() && attn.H > 0 {
		rs := utils.RowSums(attn.A[0])
		mn, mx := rs[0], rs[0]
		for _, v := range rs {
			mn, mx = math.Min(mn, v), math.Max(mx, v)
		}
		utils.Debugf("Attn: head0 A row-sum min/max = %.4f/%.4f (T=%d)", mn, mx, T)
	}

	return utils.Dot(attn.Woutput, headsCat)
}

// Backward accumulates parameter gradients and returns dL/dX.
func (attn *Attention) Backward(dY *mat.Dense) *mat.Dense {
	_, T := attn.X.Dims()

	// Y = Wout * Ocat
	attn.GradWo.Add(attn.GradWo, utils.Dot(dY, attn.oCat.T()))
	dOcat := utils.Dot(attn.Woutput.T(), dY)

	dQ := mat.NewDense(attn.DModel, T, nil)
	dK := mat.NewDense(attn.DModel, T, nil)
	dV := mat.NewDense(attn.DModel, T, nil)
	rescale := 1.0 / math.Sqrt(float64(attn.DHead))

	for h := 0; h < attn.H; h++ {
		dO := attn.head(dOcat, h)
		Qh, Kh, Vh := attn.head(attn.Q, h), attn.head(attn.K, h), attn.head(attn.V, h)

		weights := attn.A[h]
		if attn.drop[h] != nil {
			weights = utils.Multiply(weights, attn.drop[h])
		}
		// O = V * W^T
		attn.head(dV, h).Mul(dO, weights)
		dW := utils.Dot(dO.T(), Vh) // (T x T)
		if attn.drop[h] != nil {
			dW = utils.Multiply(dW, attn.drop[h])
		}

		// A = softmax_row(S)
		dS := utils.SoftmaxBackward(dW, attn.A[h], attn.mask)

		// S = Q^T K / sqrt(dHead)
		attn.head(dQ, h).Mul(Kh, dS.T())
		attn.head(dK, h).Mul(Qh, dS)
	}
	dQ.Scale(rescale, dQ)
	dK.Scale(rescale, dK)

	attn.GradWq.Add(attn.GradWq, utils.Dot(dQ, attn.X.T()))
	attn.GradWk.Add(attn.GradWk, utils.Dot(dK, attn.X.T()))
	attn.GradWv.Add(attn.GradWv, utils.Dot(dV, attn.X.T()))

	dX := utils.Dot(attn.Wquery.T(), dQ)
	dX.Add(dX, utils.Dot(attn.Wkey.T(), dK))
	dX.Add(dX, utils.Dot(attn.Wvalue.T(), dV))
	return dX
}

// Weights returns the post-softmax attention of head h from the last Forward.
func (attn *Attention) Weights(h int) *mat.Dense { return attn.A[h] }

func (attn *Attention) Params(prefix string) []optimizations.Param {
	return []optimizations.Param{
		{Name: prefix + ".wq", W: attn.Wquery, Grad: attn.GradWq, Decay: true},
		{Name: prefix + ".wk", W: attn.Wkey, Grad: attn.GradWk, Decay: true},
		{Name: prefix + ".wv", W: attn.Wvalue, Grad: attn.GradWv, Decay: true},
		{Name: prefix + ".wo", W: attn.Woutput, Grad: attn.GradWo, Decay: true},
	}
}
