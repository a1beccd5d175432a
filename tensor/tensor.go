package tensor

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is wrapped by every error caused by inconsistent tensor
// dimensions, so callers can distinguish shape bugs from other failures.
var ErrShapeMismatch = errors.New("shape mismatch")

// Operation is implemented by every differentiable op. The forward pass
// stores its inputs on the op and links the output tensor back to it via
// the creator field; Backward receives the gradient flowing into the output
// and returns one gradient per input, in input order.
type Operation interface {
	Inputs() []*Tensor
	Backward(gradOut *Tensor) []*Tensor
}

// Tensor is a dense float32 tensor in row-major (NCHW for images) layout.
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float32
	NumElems int

	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

// RequiresGrad reports whether backward passes accumulate a gradient here.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequiresGrad marks the tensor as a trainable leaf (or not).
func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, or nil if none has been computed
// since the last ZeroGrad.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// SetGrad replaces the accumulated gradient. Used by tests and by the
// scaler's in-place unscale.
func (t *Tensor) SetGrad(g *Tensor) {
	t.grad = g
}

// Creator returns the operation that produced this tensor, or nil for
// leaves and detached tensors.
func (t *Tensor) Creator() Operation {
	return t.creator
}

// Detach returns a view of the same data with no autograd history.
// Gradient flow through the returned tensor is blocked.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  append([]int(nil), t.Strides...),
		Data:     t.Data,
		NumElems: t.NumElems,
	}
}

// Clone returns a deep copy with no autograd history.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	c := t.Detach()
	c.Data = data
	return c
}

// Item returns the sole element of a scalar tensor.
func (t *Tensor) Item() float32 {
	if t.NumElems != 1 {
		panic(fmt.Sprintf("Item called on non-scalar tensor with shape %v", t.Shape))
	}
	return t.Data[0]
}

// ShapeEquals reports whether the tensor has exactly the given dimensions.
func (t *Tensor) ShapeEquals(other *Tensor) bool {
	return shapesEqual(t.Shape, other.Shape)
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func calculateStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("%w: empty shape", ErrShapeMismatch)
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("%w: dimension %d has size %d, must be positive", ErrShapeMismatch, i, dim)
		}
	}
	return nil
}

// ZeroGrad clears the accumulated gradients of all given tensors.
// Must be called before every new backward pass so gradients from the
// previous step cannot leak into the next update.
func ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.grad = nil
	}
}

// accumulateGrad adds g into t's gradient, allocating on first use.
func (t *Tensor) accumulateGrad(g *Tensor) {
	if t.grad == nil {
		t.grad = g.Clone()
		return
	}
	for i, v := range g.Data {
		t.grad.Data[i] += v
	}
}
