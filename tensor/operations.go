package tensor

import (
	"fmt"
	"math"
)

// Raw elementwise operations. These do not participate in the autograd
// graph; the differentiable variants live in autograd.go.

func checkSameShape(op string, a, b *Tensor) error {
	if !shapesEqual(a.Shape, b.Shape) {
		return fmt.Errorf("%w: %s requires equal shapes, got %v and %v", ErrShapeMismatch, op, a.Shape, b.Shape)
	}
	return nil
}

// Add returns a + b elementwise.
func Add(a, b *Tensor) (*Tensor, error) {
	if err := checkSameShape("add", a, b); err != nil {
		return nil, err
	}
	out := make([]float32, a.NumElems)
	for i := range out {
		out[i] = a.Data[i] + b.Data[i]
	}
	return NewTensor(a.Shape, out)
}

// Sub returns a - b elementwise.
func Sub(a, b *Tensor) (*Tensor, error) {
	if err := checkSameShape("sub", a, b); err != nil {
		return nil, err
	}
	out := make([]float32, a.NumElems)
	for i := range out {
		out[i] = a.Data[i] - b.Data[i]
	}
	return NewTensor(a.Shape, out)
}

// Mul returns a * b elementwise.
func Mul(a, b *Tensor) (*Tensor, error) {
	if err := checkSameShape("mul", a, b); err != nil {
		return nil, err
	}
	out := make([]float32, a.NumElems)
	for i := range out {
		out[i] = a.Data[i] * b.Data[i]
	}
	return NewTensor(a.Shape, out)
}

// Scale multiplies every element by s in place.
func (t *Tensor) Scale(s float32) {
	for i := range t.Data {
		t.Data[i] *= s
	}
}

// Mean returns the arithmetic mean of all elements as a plain float.
// Diagnostics only; never part of the gradient graph.
func (t *Tensor) Mean() float32 {
	var sum float64
	for _, v := range t.Data {
		sum += float64(v)
	}
	return float32(sum / float64(t.NumElems))
}

// HasNonFinite reports whether any element is NaN or infinite.
func (t *Tensor) HasNonFinite() bool {
	for _, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}
