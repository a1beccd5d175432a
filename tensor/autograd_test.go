package tensor

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

// constant builds a Full tensor for test targets.
func constant(shape []int, v float32) *Tensor {
	t, _ := Full(shape, v)
	return t
}

func almostEqual(t *testing.T, want, got float32, tol float64, msg string) {
	t.Helper()
	if math.Abs(float64(want-got)) > tol {
		t.Errorf("%s: expected %.6f, got %.6f", msg, want, got)
	}
}

func TestAddAutogradBackward(t *testing.T) {
	a, _ := NewTensor([]int{2}, []float32{1, 2})
	b, _ := NewTensor([]int{2}, []float32{3, 4})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	sum, err := AddAutograd(a, b)
	if err != nil {
		t.Fatalf("AddAutograd failed: %v", err)
	}
	loss, err := L1Loss(sum, constant([]int{2}, 0))
	if err != nil {
		t.Fatalf("L1Loss failed: %v", err)
	}
	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// d mean(|a+b|)/da_i = 1/2 since all sums are positive.
	for i := 0; i < 2; i++ {
		almostEqual(t, 0.5, a.Grad().Data[i], 1e-6, "grad a")
		almostEqual(t, 0.5, b.Grad().Data[i], 1e-6, "grad b")
	}
}

func TestBCEWithLogitsMatchesClosedForm(t *testing.T) {
	logits, _ := NewTensor([]int{2}, []float32{0.5, -1.0})
	target, _ := NewTensor([]int{2}, []float32{1, 0})
	logits.SetRequiresGrad(true)

	loss, err := BCEWithLogits(logits, target)
	if err != nil {
		t.Fatalf("BCEWithLogits failed: %v", err)
	}

	want := 0.0
	want += -math.Log(1 / (1 + math.Exp(-0.5))) // y=1
	want += -math.Log(1 - 1/(1+math.Exp(1.0)))  // y=0
	almostEqual(t, float32(want/2), loss.Item(), 1e-5, "bce value")

	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	// d/dx = (sigmoid(x) - y) / N
	sig0 := float32(1 / (1 + math.Exp(-0.5)))
	sig1 := float32(1 / (1 + math.Exp(1.0)))
	almostEqual(t, (sig0-1)/2, logits.Grad().Data[0], 1e-5, "bce grad 0")
	almostEqual(t, sig1/2, logits.Grad().Data[1], 1e-5, "bce grad 1")
}

func TestBCEWithLogitsShapeMismatch(t *testing.T) {
	logits, _ := Zeros([]int{2, 1, 2, 2})
	target, _ := Zeros([]int{2, 1, 4, 4})
	if _, err := BCEWithLogits(logits, target); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestDetachBlocksGradientFlow(t *testing.T) {
	x, _ := NewTensor([]int{2}, []float32{1, -2})
	x.SetRequiresGrad(true)

	y, _ := ReLUAutograd(x)
	d := y.Detach()
	if d.Creator() != nil || d.RequiresGrad() {
		t.Fatal("detached tensor still carries autograd state")
	}

	loss, err := L1Loss(d, constant([]int{2}, 0))
	if err != nil {
		t.Fatalf("L1Loss failed: %v", err)
	}
	if loss.Creator() != nil {
		t.Error("loss over detached input should build no graph")
	}
	if x.Grad() != nil {
		t.Error("gradient leaked through Detach")
	}
}

func TestBackwardWithoutGraphIsNoOp(t *testing.T) {
	// A loss over constants builds no graph; backward must succeed with
	// nothing to accumulate.
	pred := constant([]int{2, 1, 2, 2}, 0.5)
	loss, err := BCEWithLogits(pred, constant([]int{2, 1, 2, 2}, 1))
	if err != nil {
		t.Fatalf("BCEWithLogits failed: %v", err)
	}
	if loss.Creator() != nil {
		t.Fatal("loss over constants should build no graph")
	}
	if err := Backward(loss); err != nil {
		t.Errorf("backward on a graphless scalar failed: %v", err)
	}
	if pred.Grad() != nil {
		t.Error("constant input received a gradient")
	}

	// A trainable leaf used directly as the loss seeds its own gradient.
	leaf := FromScalar(0.25)
	leaf.SetRequiresGrad(true)
	if err := Backward(leaf); err != nil {
		t.Fatalf("backward on a leaf failed: %v", err)
	}
	almostEqual(t, 1, leaf.Grad().Item(), 1e-6, "leaf seed grad")
}

func TestBackwardRejectsNonScalarRoot(t *testing.T) {
	x, _ := NewTensor([]int{2}, []float32{1, 2})
	x.SetRequiresGrad(true)
	y, _ := MulScalarAutograd(x, 2)
	if err := Backward(y); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestZeroGradClearsAccumulation(t *testing.T) {
	x, _ := NewTensor([]int{2}, []float32{1, 2})
	x.SetRequiresGrad(true)

	run := func() *Tensor {
		y, _ := MulScalarAutograd(x, 3)
		loss, _ := L1Loss(y, constant([]int{2}, 0))
		if err := Backward(loss); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		return x.Grad()
	}

	first := run().Clone()

	// Without clearing, the second backward accumulates.
	second := run()
	almostEqual(t, 2*first.Data[0], second.Data[0], 1e-6, "accumulated grad")

	// With ZeroGrad, a fresh backward matches the first exactly.
	ZeroGrad([]*Tensor{x})
	third := run()
	almostEqual(t, first.Data[0], third.Data[0], 1e-6, "grad after ZeroGrad")
}

func TestTanhBackward(t *testing.T) {
	x, _ := NewTensor([]int{1}, []float32{0.3})
	x.SetRequiresGrad(true)

	y, _ := TanhAutograd(x)
	loss, _ := L1Loss(y, constant([]int{1}, 0))
	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	th := math.Tanh(0.3)
	almostEqual(t, float32(1-th*th), x.Grad().Data[0], 1e-5, "tanh grad")
}

func TestConv2DForwardShape(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x, _ := Randn([]int{2, 3, 8, 8}, 1, rng)
	w, _ := Randn([]int{4, 3, 3, 3}, 0.1, rng)
	b, _ := Zeros([]int{4})

	out, err := Conv2DAutograd(x, w, b, 2, 1)
	if err != nil {
		t.Fatalf("Conv2DAutograd failed: %v", err)
	}
	want := []int{2, 4, 4, 4}
	if !shapesEqual(out.Shape, want) {
		t.Errorf("expected shape %v, got %v", want, out.Shape)
	}
}

func TestConv2DChannelMismatch(t *testing.T) {
	x, _ := Zeros([]int{1, 3, 4, 4})
	w, _ := Zeros([]int{2, 4, 3, 3})
	b, _ := Zeros([]int{2})
	if _, err := Conv2DAutograd(x, w, b, 1, 1); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

// TestConv2DGradcheck validates the analytic conv gradients against central
// finite differences on a tiny problem.
func TestConv2DGradcheck(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	xData := make([]float32, 1*2*4*4)
	for i := range xData {
		xData[i] = float32(rng.NormFloat64())
	}
	wData := make([]float32, 3*2*3*3)
	for i := range wData {
		wData[i] = float32(rng.NormFloat64() * 0.5)
	}
	bData := []float32{0.1, -0.2, 0.05}

	forward := func(xd, wd, bd []float32) float32 {
		x, _ := NewTensor([]int{1, 2, 4, 4}, xd)
		w, _ := NewTensor([]int{3, 2, 3, 3}, wd)
		b, _ := NewTensor([]int{3}, bd)
		out, err := Conv2DAutograd(x, w, b, 1, 1)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		zero, _ := Zeros(out.Shape)
		// Use BCE against zeros as a smooth scalar reduction.
		loss, err := BCEWithLogits(out, zero)
		if err != nil {
			t.Fatalf("loss failed: %v", err)
		}
		return loss.Item()
	}

	x, _ := NewTensor([]int{1, 2, 4, 4}, append([]float32(nil), xData...))
	w, _ := NewTensor([]int{3, 2, 3, 3}, append([]float32(nil), wData...))
	b, _ := NewTensor([]int{3}, append([]float32(nil), bData...))
	x.SetRequiresGrad(true)
	w.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	out, err := Conv2DAutograd(x, w, b, 1, 1)
	if err != nil {
		t.Fatalf("Conv2DAutograd failed: %v", err)
	}
	zero, _ := Zeros(out.Shape)
	loss, err := BCEWithLogits(out, zero)
	if err != nil {
		t.Fatalf("BCEWithLogits failed: %v", err)
	}
	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	const eps = 1e-2
	const tol = 1e-2

	check := func(name string, base []float32, grad *Tensor) {
		for _, i := range []int{0, len(base) / 2, len(base) - 1} {
			orig := base[i]
			base[i] = orig + eps
			plus := forward(xData, wData, bData)
			base[i] = orig - eps
			minus := forward(xData, wData, bData)
			base[i] = orig

			numeric := (plus - minus) / (2 * eps)
			if math.Abs(float64(numeric-grad.Data[i])) > tol {
				t.Errorf("%s[%d]: numeric %.5f vs analytic %.5f", name, i, numeric, grad.Data[i])
			}
		}
	}

	check("gradX", xData, x.Grad())
	check("gradW", wData, w.Grad())
	check("gradB", bData, b.Grad())
}
