package utils

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestBuildMaskCombinesCausalAndPadding(t *testing.T) {
	ids := []int{7, 0, 9, 0}
	m := BuildMask(ids, 0)

	for i := 0; i < len(ids); i++ {
		for j := 0; j < len(ids); j++ {
			want := j <= i && ids[j] != 0
			if got := m.Allowed(i, j); got != want {
				t.Errorf("Allowed(%d,%d) = %v, want %v", i, j, got, want)
			}
		}
	}
	for i := range ids {
		if m.FullyMasked(i) {
			t.Errorf("FullyMasked(%d) = true, position 0 is a real token", i)
		}
	}
}

func TestBuildMaskAllPad(t *testing.T) {
	m := BuildMask([]int{0, 0, 0}, 0)
	for i := 0; i < 3; i++ {
		if !m.FullyMasked(i) {
			t.Errorf("FullyMasked(%d) = false on an all-pad sequence", i)
		}
	}
}

func TestRowSoftmaxMasked(t *testing.T) {
	ids := []int{3, 4, 0}
	mask := BuildMask(ids, 0)
	scores := mat.NewDense(3, 3, []float64{
		1, 5, 5,
		2, 1, 9,
		0, 3, 9,
	})
	A := RowSoftmaxMaskedInPlace(mat.NewDense(3, 3, nil), scores, mask)

	for i, s := range RowSums(A) {
		if math.Abs(s-1) > 1e-12 {
			t.Errorf("row %d sums to %v", i, s)
		}
	}
	if A.At(0, 1) > 1e-12 || A.At(1, 2) > 1e-12 || A.At(2, 2) > 1e-12 {
		t.Errorf("forbidden positions kept probability: %v", mat.Formatted(A))
	}
	want := Softmax([]float64{2, 1})
	if !floats.EqualApprox(A.RawRowView(1)[:2], want, 1e-12) {
		t.Errorf("row 1 = %v, want %v", A.RawRowView(1)[:2], want)
	}
}

func TestRowSoftmaxFullyMaskedRowIsCausalUniform(t *testing.T) {
	mask := BuildMask([]int{0, 0, 5}, 0)
	scores := mat.NewDense(3, 3, []float64{
		4, -2, 8,
		1, 7, 3,
		0, 0, 1,
	})
	A := RowSoftmaxMaskedInPlace(mat.NewDense(3, 3, nil), scores, mask)

	wantRows := [][]float64{
		{1, 0, 0},
		{0.5, 0.5, 0},
		{0, 0, 1},
	}
	for i, want := range wantRows {
		if !floats.EqualApprox(A.RawRowView(i), want, 1e-12) {
			t.Errorf("row %d = %v, want %v", i, A.RawRowView(i), want)
		}
	}

	dS := SoftmaxBackward(OnesLike(A), A, mask)
	for j := 0; j < 3; j++ {
		if dS.At(0, j) != 0 || dS.At(1, j) != 0 {
			t.Fatalf("clamped rows should have zero score gradient, got %v", mat.Formatted(dS))
		}
	}
}

func TestMaskedMeanLoss(t *testing.T) {
	got, n := MaskedMeanLoss([]float64{2.0, 3.0, 1.0}, []int{5, 0, 0}, 0)
	if got != 2.0 || n != 1 {
		t.Errorf("MaskedMeanLoss() = (%v, %d), want (2, 1)", got, n)
	}
	if got, n := MaskedMeanLoss([]float64{1, 1}, []int{0, 0}, 0); got != 0 || n != 0 {
		t.Errorf("MaskedMeanLoss(all ignored) = (%v, %d), want (0, 0)", got, n)
	}
}

func TestCrossEntropyRows(t *testing.T) {
	logits := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		0, 0, 0,
		5, 1, 1,
	})
	targets := []int{2, 0, 0}
	losses, grad := CrossEntropyRows(logits, targets, 0)

	wantLoss := floats.LogSumExp([]float64{1, 2, 3}) - 3
	if math.Abs(losses[0]-wantLoss) > 1e-12 {
		t.Errorf("loss[0] = %v, want %v", losses[0], wantLoss)
	}
	if losses[1] != 0 || losses[2] != 0 {
		t.Errorf("ignored rows should have zero loss, got %v", losses)
	}
	// gradient rows of a softmax CE sum to zero
	if s := floats.Sum(grad.RawRowView(0)); math.Abs(s) > 1e-12 {
		t.Errorf("grad row 0 sums to %v", s)
	}
	for j := 0; j < 3; j++ {
		if grad.At(1, j) != 0 || grad.At(2, j) != 0 {
			t.Fatalf("ignored rows should have zero gradient")
		}
	}
}

func TestCrossEntropyRowsGradFiniteDiff(t *testing.T) {
	logits := mat.NewDense(2, 4, []float64{0.3, -0.2, 0.9, 0.1, 1.5, 0.2, -0.7, 0.4})
	targets := []int{2, 3}
	_, grad := CrossEntropyRows(logits, targets, 0)

	loss := func() float64 {
		l, _ := CrossEntropyRows(logits, targets, 0)
		m, _ := MaskedMeanLoss(l, targets, 0)
		return m
	}
	eps := 1e-6
	for i := 0; i < 2; i++ {
		for j := 0; j < 4; j++ {
			w0 := logits.At(i, j)
			logits.Set(i, j, w0+eps)
			lp := loss()
			logits.Set(i, j, w0-eps)
			lm := loss()
			logits.Set(i, j, w0)
			num := (lp - lm) / (2 * eps)
			if math.Abs(num-grad.At(i, j)) > 1e-6 {
				t.Errorf("grad[%d,%d] num=%.6g ana=%.6g", i, j, num, grad.At(i, j))
			}
		}
	}
}

func TestClipGrads(t *testing.T) {
	a := mat.NewDense(1, 2, []float64{3, 0})
	b := mat.NewDense(1, 1, []float64{4})
	s := ClipGrads(1.0, a, b)
	if math.Abs(s-0.2) > 1e-12 {
		t.Fatalf("ClipGrads() scale = %v, want 0.2", s)
	}
	if math.Abs(a.At(0, 0)-0.6) > 1e-12 || math.Abs(b.At(0, 0)-0.8) > 1e-12 {
		t.Errorf("ClipGrads() left a=%v b=%v", a.At(0, 0), b.At(0, 0))
	}
	if s := ClipGrads(10, a, b); s != 1.0 {
		t.Errorf("ClipGrads() under the limit scaled by %v", s)
	}
}

func TestDropoutMask(t *testing.T) {
	m := DropoutMask(20, 20, 0.5)
	m.Apply(func(i, j int, v float64) float64 {
		if v != 0 && v != 2 {
			t.Fatalf("DropoutMask entry (%d,%d) = %v, want 0 or 2", i, j, v)
		}
		return v
	}, m)
	ones := DropoutMask(3, 3, 0)
	if !mat.Equal(ones, OnesLike(ones)) {
		t.Errorf("DropoutMask with p=0 should keep everything")
	}
}
