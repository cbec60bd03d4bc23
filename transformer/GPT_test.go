package transformer

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/params"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/utils"
)

func tinyConfig() params.ModelConfig {
	return params.ModelConfig{
		VocabSize: 12,
		DModel:    8,
		NumHeads:  2,
		NumLayers: 2,
		DFF:       16,
		MaxSeqLen: 8,
		Dropout:   0,
		Eps:       1e-5,
	}
}

func newTiny(t *testing.T) *Model {
	t.Helper()
	m, err := NewModel(tinyConfig())
	if err != nil {
		t.Fatalf("NewModel() error = %v", err)
	}
	return m
}

func finiteDiffCheck(t *testing.T, name string, param *mat.Dense, grad *mat.Dense,
	forward func() float64, i, j int) {

	eps := 1e-5
	w0 := param.At(i, j)

	// Perturb +eps
	param.Set(i, j, w0+eps)
	lp := forward()

	// Perturb -eps
	param.Set(i, j, w0-eps)
	lm := forward()

	// Restore
	param.Set(i, j, w0)

	numGrad := (lp - lm) / (2.0 * eps)
	anaGrad := grad.At(i, j)

	if math.Abs(numGrad-anaGrad) > 1e-4 {
		t.Fatalf("%s[%d,%d] grad mismatch: num=%.6g ana=%.6g",
			name, i, j, numGrad, anaGrad)
	}
}

// ---- Attention ----
func TestAttentionGradCheck(t *testing.T) {
	dModel := 4
	attn, err := NewAttention(dModel, 2, 0.0)
	if err != nil {
		t.Fatal(err)
	}
	// leading pad gives a fully masked first row
	mask := utils.BuildMask([]int{0, 3, 4, 0}, params.PadID)
	x := mat.NewDense(dModel, 4, utils.RandomArray(dModel*4, float64(dModel)))
	P := mat.NewDense(dModel, 4, utils.RandomArray(dModel*4, 1))

	forward := func() float64 {
		return mat.Sum(utils.Multiply(attn.Forward(x, mask, false), P))
	}

	forward()
	dX := attn.Backward(P)

	finiteDiffCheck(t, "Wquery", attn.Wquery, attn.GradWq, forward, 1, 2)
	finiteDiffCheck(t, "Wkey", attn.Wkey, attn.GradWk, forward, 3, 0)
	finiteDiffCheck(t, "Wvalue", attn.Wvalue, attn.GradWv, forward, 2, 1)
	finiteDiffCheck(t, "Woutput", attn.Woutput, attn.GradWo, forward, 0, 3)
	finiteDiffCheck(t, "X", x, dX, forward, 1, 2)
}

func TestAttentionHeadsDivisibility(t *testing.T) {
	if _, err := NewAttention(10, 4, 0); !errors.Is(err, params.ErrHeadsDivisibility) {
		t.Errorf("NewAttention(10, 4) error = %v, want ErrHeadsDivisibility", err)
	}
}

func TestAttentionRespectsMask(t *testing.T) {
	attn, _ := NewAttention(4, 2, 0)
	ids := []int{5, 0, 7}
	x := mat.NewDense(4, 3, utils.RandomArray(12, 4))
	attn.Forward(x, utils.BuildMask(ids, params.PadID), false)

	for h := 0; h < attn.H; h++ {
		A := attn.Weights(h)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				if (j > i || ids[j] == params.PadID) && A.At(i, j) != 0 {
					t.Errorf("head %d: weight (%d,%d) = %v on a forbidden key", h, i, j, A.At(i, j))
				}
			}
		}
	}
}

// ---- MLP ----
func TestMLPGradCheck(t *testing.T) {
	dModel := 4
	mlp := NewMLP(dModel, 5, 0)
	mlp.HiddenBias = mat.NewDense(5, 1, utils.RandomArray(5, 1))
	x := mat.NewDense(dModel, 3, utils.RandomArray(dModel*3, float64(dModel)))
	P := mat.NewDense(dModel, 3, utils.RandomArray(dModel*3, 1))

	forward := func() float64 {
		return mat.Sum(utils.Multiply(mlp.Forward(x, false), P))
	}
	forward()
	dX := mlp.Backward(P)

	finiteDiffCheck(t, "HiddenWeights", mlp.HiddenWeights, mlp.GradHiddenW, forward, 0, 1)
	finiteDiffCheck(t, "HiddenBias", mlp.HiddenBias, mlp.GradHiddenB, forward, 2, 0)
	finiteDiffCheck(t, "OutputWeights", mlp.OutputWeights, mlp.GradOutputW, forward, 3, 4)
	finiteDiffCheck(t, "OutputBias", mlp.OutputBias, mlp.GradOutputB, forward, 1, 0)
	finiteDiffCheck(t, "X", x, dX, forward, 2, 2)
}

func TestMLPIsPositionWise(t *testing.T) {
	mlp := NewMLP(4, 6, 0)
	x := mat.NewDense(4, 3, utils.RandomArray(12, 4))
	y := mlp.Forward(x, false)
	col := mat.DenseCopyOf(x.Slice(0, 4, 1, 2))
	single := mlp.Forward(col, false)
	for i := 0; i < 4; i++ {
		if math.Abs(y.At(i, 1)-single.At(i, 0)) > 1e-12 {
			t.Fatalf("position 1 depends on its neighbours")
		}
	}
}

// ---- Block ----
func TestBlockGradCheck(t *testing.T) {
	cfg := tinyConfig()
	cfg.DModel, cfg.DFF = 4, 6
	b, err := NewBlock(cfg)
	if err != nil {
		t.Fatal(err)
	}
	mask := utils.BuildMask([]int{2, 5, 0}, params.PadID)
	x := mat.NewDense(4, 3, utils.RandomArray(12, 4))
	P := mat.NewDense(4, 3, utils.RandomArray(12, 1))

	forward := func() float64 {
		return mat.Sum(utils.Multiply(b.Forward(x, mask, false), P))
	}
	forward()
	dX := b.Backward(P)

	finiteDiffCheck(t, "X", x, dX, forward, 0, 1)
	finiteDiffCheck(t, "X", x, dX, forward, 3, 2)
	finiteDiffCheck(t, "Wq", b.Attn.Wquery, b.Attn.GradWq, forward, 2, 3)
	finiteDiffCheck(t, "W1", b.Mlp.HiddenWeights, b.Mlp.GradHiddenW, forward, 4, 0)
	finiteDiffCheck(t, "ln1.gamma", b.Ln1.Gamma, b.Ln1.GradGamma, forward, 1, 0)
	finiteDiffCheck(t, "ln2.beta", b.Ln2.Beta, b.Ln2.GradBeta, forward, 2, 0)
}

// ---- Full model ----
func TestModelGradCheck(t *testing.T) {
	m := newTiny(t)
	inputs := []int{3, 4, 3, 0, 0}
	targets := []int{4, 3, 5, 0, 0}

	loss := func() float64 {
		l, _ := utils.CrossEntropyRows(m.forwardSeq(inputs, false), targets, params.PadID)
		avg, _ := utils.MaskedMeanLoss(l, targets, params.PadID)
		return avg
	}

	m.ZeroGrad()
	_, grad := utils.CrossEntropyRows(m.forwardSeq(inputs, false), targets, params.PadID)
	m.backwardSeq(grad)

	// token 3 is both an input and a target: both roles of the tied table count
	finiteDiffCheck(t, "emb", m.Emb, m.GradEmb, loss, 2, 3)
	finiteDiffCheck(t, "emb", m.Emb, m.GradEmb, loss, 5, 5)
	// only used as an output row
	finiteDiffCheck(t, "emb", m.Emb, m.GradEmb, loss, 1, 9)
	finiteDiffCheck(t, "block0.wv", m.Blocks[0].Attn.Wvalue, m.Blocks[0].Attn.GradWv, loss, 3, 6)
	finiteDiffCheck(t, "block1.w2", m.Blocks[1].Mlp.OutputWeights, m.Blocks[1].Mlp.GradOutputW, loss, 7, 2)
	finiteDiffCheck(t, "ln_f.gamma", m.LnF.Gamma, m.LnF.GradGamma, loss, 4, 0)
}

func TestNewModelConfigErrors(t *testing.T) {
	cfg := tinyConfig()
	cfg.NumHeads = 3
	if _, err := NewModel(cfg); !errors.Is(err, params.ErrHeadsDivisibility) {
		t.Errorf("heads=3 error = %v, want ErrHeadsDivisibility", err)
	}
	cfg = tinyConfig()
	cfg.DModel, cfg.NumHeads = 9, 3
	if _, err := NewModel(cfg); !errors.Is(err, params.ErrOddModelDim) {
		t.Errorf("d_model=9 error = %v, want ErrOddModelDim", err)
	}
	cfg = tinyConfig()
	cfg.NumLayers = 0
	if _, err := NewModel(cfg); !errors.Is(err, params.ErrInvalidConfig) {
		t.Errorf("layers=0 error = %v, want ErrInvalidConfig", err)
	}
}

func TestForwardShape(t *testing.T) {
	m := newTiny(t)
	batch := [][]int{{2, 3, 4, 5, 6}, {7, 8, 0, 0, 0}}
	logits, err := m.Forward(batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(logits) != 2 {
		t.Fatalf("got %d sequences, want 2", len(logits))
	}
	for i, l := range logits {
		if r, c := l.Dims(); r != 5 || c != 12 {
			t.Errorf("logits[%d] is %dx%d, want 5x12", i, r, c)
		}
	}
}

func TestForwardContractErrors(t *testing.T) {
	m := newTiny(t)
	tests := []struct {
		name  string
		batch [][]int
		want  error
	}{
		{"too long", [][]int{make([]int, 9)}, params.ErrSequenceTooLong},
		{"ragged", [][]int{{2, 3}, {4}}, params.ErrRaggedBatch},
		{"out of range", [][]int{{2, 12}}, params.ErrTokenOutOfRange},
		{"empty", [][]int{{}}, params.ErrEmptySequence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Forward(tt.batch); !errors.Is(err, tt.want) {
				t.Errorf("Forward() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCausality(t *testing.T) {
	m := newTiny(t)
	a := []int{2, 3, 4, 5, 6, 7}
	b := []int{2, 3, 4, 9, 10, 11}
	logits, err := m.Forward([][]int{a, b})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i <= 2; i++ {
		for v := 0; v < 12; v++ {
			if d := math.Abs(logits[0].At(i, v) - logits[1].At(i, v)); d > 1e-9 {
				t.Fatalf("position %d saw a later token (diff %g)", i, d)
			}
		}
	}
	if mat.EqualApprox(logits[0].Slice(3, 4, 0, 12), logits[1].Slice(3, 4, 0, 12), 1e-9) {
		t.Errorf("position 3 ignored its own token")
	}
}

func TestPaddingExclusion(t *testing.T) {
	m := newTiny(t)
	ids := []int{3, 4, 0, 5, 0}
	before, err := m.ForwardHidden([][]int{ids})
	if err != nil {
		t.Fatal(err)
	}
	h0 := mat.DenseCopyOf(before[0])

	for i := 0; i < m.Config.DModel; i++ {
		m.Emb.Set(i, params.PadID, 100*float64(i+1))
	}
	after, _ := m.ForwardHidden([][]int{ids})

	for _, pos := range []int{0, 1, 3} {
		for i := 0; i < m.Config.DModel; i++ {
			if d := math.Abs(h0.At(i, pos) - after[0].At(i, pos)); d > 1e-12 {
				t.Fatalf("hidden state at non-pad position %d moved by %g", pos, d)
			}
		}
	}
}

func TestAllPadSequenceIsFinite(t *testing.T) {
	m := newTiny(t)
	logits, err := m.Forward([][]int{{0, 0, 0, 0}})
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range logits[0].RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("all-pad sequence produced %v", v)
		}
	}
}

func TestWeightTying(t *testing.T) {
	m := newTiny(t)
	if m.Embedding() != m.OutputProjection() {
		t.Fatalf("embedding and output projection are different matrices")
	}
	m.Embedding().Set(0, 5, 42)
	if m.OutputProjection().At(0, 5) != 42 {
		t.Errorf("write through Embedding not visible through OutputProjection")
	}
	n := 0
	for _, p := range m.Params() {
		if p.W == m.Emb {
			n++
		}
	}
	if n != 1 {
		t.Errorf("tied table listed %d times in Params, want 1", n)
	}
}

func TestCheckVocab(t *testing.T) {
	m := newTiny(t)
	if err := m.CheckVocab(12); err != nil {
		t.Errorf("CheckVocab(12) = %v", err)
	}
	if err := m.CheckVocab(11); !errors.Is(err, params.ErrVocabMismatch) {
		t.Errorf("CheckVocab(11) = %v, want ErrVocabMismatch", err)
	}
}

// ---- Positional encoding ----
func TestPositionalEncoding(t *testing.T) {
	a, err := PositionalEncoding(6, 10)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := PositionalEncoding(6, 10)
	if !mat.Equal(a, b) {
		t.Errorf("two tables differ")
	}
	for i := 0; i < 6; i += 2 {
		if a.At(i, 0) != 0 || a.At(i+1, 0) != 1 {
			t.Errorf("position 0 rows %d,%d = %v,%v, want 0,1", i, i+1, a.At(i, 0), a.At(i+1, 0))
		}
	}
	if got, want := a.At(2, 3), math.Sin(3/math.Pow(10000, 2.0/6)); math.Abs(got-want) > 1e-15 {
		t.Errorf("PE[2,3] = %v, want %v", got, want)
	}
	if _, err := PositionalEncoding(5, 10); !errors.Is(err, params.ErrOddModelDim) {
		t.Errorf("odd d_model error = %v", err)
	}
}
