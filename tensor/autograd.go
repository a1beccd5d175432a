package tensor

import (
	"fmt"
	"math"
)

var gradEnabled = true

// SetGradEnabled toggles graph construction globally and returns the
// previous setting. Inference passes (e.g. preview generation) disable it
// so forward passes through trainable weights build no graph:
//
//	prev := tensor.SetGradEnabled(false)
//	defer tensor.SetGradEnabled(prev)
func SetGradEnabled(enabled bool) bool {
	prev := gradEnabled
	gradEnabled = enabled
	return prev
}

// tracked reports whether any input participates in gradient computation,
// either as a trainable leaf or as the output of an earlier op.
func tracked(inputs ...*Tensor) bool {
	for _, in := range inputs {
		if in.requiresGrad || in.creator != nil {
			return true
		}
	}
	return false
}

// attach links out to op when gradients are needed. Ops on fully detached
// inputs produce detached outputs, so inference passes build no graph.
func attach(out *Tensor, op Operation, inputs ...*Tensor) {
	if gradEnabled && tracked(inputs...) {
		out.creator = op
		out.requiresGrad = true
	}
}

// Backward runs backpropagation from a scalar loss through the graph of
// creator links, accumulating gradients into every tracked tensor it
// reaches. The graph is not freed, so a second backward through a shared
// subgraph (retained-graph reuse) accumulates on top of the first.
//
// A root with no graph is legal: a loss computed from inputs that carry no
// gradient state (constant models, fully detached data) has nothing to
// accumulate, so backward is a no-op rather than an error.
func Backward(root *Tensor) error {
	if root.NumElems != 1 {
		return fmt.Errorf("%w: backward requires a scalar root, got shape %v", ErrShapeMismatch, root.Shape)
	}
	if root.creator == nil {
		if root.requiresGrad {
			seed, err := Ones(root.Shape)
			if err != nil {
				return err
			}
			root.accumulateGrad(seed)
		}
		return nil
	}

	// Topological order over the creator DAG.
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if visited[t] {
			return
		}
		visited[t] = true
		if t.creator == nil {
			return
		}
		for _, in := range t.creator.Inputs() {
			visit(in)
		}
		order = append(order, t)
	}
	visit(root)

	seed, err := Ones(root.Shape)
	if err != nil {
		return err
	}
	root.accumulateGrad(seed)

	for i := len(order) - 1; i >= 0; i-- {
		t := order[i]
		if t.grad == nil {
			continue
		}
		grads := t.creator.Backward(t.grad)
		inputs := t.creator.Inputs()
		if len(grads) != len(inputs) {
			return fmt.Errorf("op %T returned %d gradients for %d inputs", t.creator, len(grads), len(inputs))
		}
		for j, in := range inputs {
			if grads[j] == nil {
				continue
			}
			if in.requiresGrad || in.creator != nil {
				in.accumulateGrad(grads[j])
			}
		}
	}
	return nil
}

// addOp: out = a + b, same shapes.
type addOp struct {
	a, b *Tensor
}

func (op *addOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *addOp) Backward(gradOut *Tensor) []*Tensor {
	// d(a+b)/da = d(a+b)/db = 1
	return []*Tensor{gradOut, gradOut}
}

// AddAutograd performs elementwise addition with gradient tracking.
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := Add(a, b)
	if err != nil {
		return nil, err
	}
	attach(out, &addOp{a: a, b: b}, a, b)
	return out, nil
}

// mulScalarOp: out = a * s.
type mulScalarOp struct {
	a *Tensor
	s float32
}

func (op *mulScalarOp) Inputs() []*Tensor { return []*Tensor{op.a} }

func (op *mulScalarOp) Backward(gradOut *Tensor) []*Tensor {
	g := gradOut.Clone()
	g.Scale(op.s)
	return []*Tensor{g}
}

// MulScalarAutograd multiplies every element by s with gradient tracking.
// This is what the gradient scaler applies to losses before backward.
func MulScalarAutograd(a *Tensor, s float32) (*Tensor, error) {
	out := a.Clone()
	out.Scale(s)
	attach(out, &mulScalarOp{a: a, s: s}, a)
	return out, nil
}

// reluOp: out = max(x, 0).
type reluOp struct {
	x *Tensor
}

func (op *reluOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *reluOp) Backward(gradOut *Tensor) []*Tensor {
	g := gradOut.Clone()
	for i, v := range op.x.Data {
		if v <= 0 {
			g.Data[i] = 0
		}
	}
	return []*Tensor{g}
}

// ReLUAutograd applies the rectified linear unit with gradient tracking.
func ReLUAutograd(x *Tensor) (*Tensor, error) {
	out := x.Clone()
	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = 0
		}
	}
	attach(out, &reluOp{x: x}, x)
	return out, nil
}

// leakyReLUOp: out = x if x > 0 else slope * x.
type leakyReLUOp struct {
	x     *Tensor
	slope float32
}

func (op *leakyReLUOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *leakyReLUOp) Backward(gradOut *Tensor) []*Tensor {
	g := gradOut.Clone()
	for i, v := range op.x.Data {
		if v <= 0 {
			g.Data[i] *= op.slope
		}
	}
	return []*Tensor{g}
}

// LeakyReLUAutograd applies a leaky rectifier with gradient tracking.
func LeakyReLUAutograd(x *Tensor, slope float32) (*Tensor, error) {
	out := x.Clone()
	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = v * slope
		}
	}
	attach(out, &leakyReLUOp{x: x, slope: slope}, x)
	return out, nil
}

// tanhOp stores its output: d tanh(x)/dx = 1 - tanh(x)^2.
type tanhOp struct {
	x   *Tensor
	out *Tensor
}

func (op *tanhOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *tanhOp) Backward(gradOut *Tensor) []*Tensor {
	g := gradOut.Clone()
	for i, y := range op.out.Data {
		g.Data[i] *= 1 - y*y
	}
	return []*Tensor{g}
}

// TanhAutograd applies tanh with gradient tracking.
func TanhAutograd(x *Tensor) (*Tensor, error) {
	out := x.Clone()
	for i, v := range out.Data {
		out.Data[i] = float32(math.Tanh(float64(v)))
	}
	op := &tanhOp{x: x, out: out}
	attach(out, op, x)
	return out, nil
}

// l1LossOp: out = mean(|pred - target|). The target never receives a
// gradient; it is reference data, not a model output.
type l1LossOp struct {
	pred, target *Tensor
}

func (op *l1LossOp) Inputs() []*Tensor { return []*Tensor{op.pred, op.target} }

func (op *l1LossOp) Backward(gradOut *Tensor) []*Tensor {
	scale := gradOut.Item() / float32(op.pred.NumElems)
	g, _ := Zeros(op.pred.Shape)
	for i := range op.pred.Data {
		diff := op.pred.Data[i] - op.target.Data[i]
		switch {
		case diff > 0:
			g.Data[i] = scale
		case diff < 0:
			g.Data[i] = -scale
		}
	}
	return []*Tensor{g, nil}
}

// L1Loss computes the mean absolute difference between pred and target as
// a scalar with gradient tracking into pred.
func L1Loss(pred, target *Tensor) (*Tensor, error) {
	if err := checkSameShape("l1 loss", pred, target); err != nil {
		return nil, err
	}
	var sum float64
	for i := range pred.Data {
		sum += math.Abs(float64(pred.Data[i] - target.Data[i]))
	}
	out := FromScalar(float32(sum / float64(pred.NumElems)))
	attach(out, &l1LossOp{pred: pred, target: target}, pred, target)
	return out, nil
}

// bceWithLogitsOp: out = mean over elements of the numerically stable
// binary cross entropy computed directly on logits:
//
//	max(x, 0) - x*y + log(1 + exp(-|x|))
//
// Backward to the logits is sigmoid(x) - y, scaled by 1/N.
type bceWithLogitsOp struct {
	logits, target *Tensor
}

func (op *bceWithLogitsOp) Inputs() []*Tensor { return []*Tensor{op.logits, op.target} }

func (op *bceWithLogitsOp) Backward(gradOut *Tensor) []*Tensor {
	scale := gradOut.Item() / float32(op.logits.NumElems)
	g, _ := Zeros(op.logits.Shape)
	for i, x := range op.logits.Data {
		sig := float32(1 / (1 + math.Exp(-float64(x))))
		g.Data[i] = scale * (sig - op.target.Data[i])
	}
	return []*Tensor{g, nil}
}

// BCEWithLogits computes mean binary cross entropy against target labels,
// taking raw logits for numerical stability.
func BCEWithLogits(logits, target *Tensor) (*Tensor, error) {
	if err := checkSameShape("bce with logits", logits, target); err != nil {
		return nil, err
	}
	var sum float64
	for i, x := range logits.Data {
		fx := float64(x)
		y := float64(target.Data[i])
		sum += math.Max(fx, 0) - fx*y + math.Log1p(math.Exp(-math.Abs(fx)))
	}
	out := FromScalar(float32(sum / float64(logits.NumElems)))
	attach(out, &bceWithLogitsOp{logits: logits, target: target}, logits, target)
	return out, nil
}
