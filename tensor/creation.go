package tensor

import (
	"fmt"
	"math/rand"
)

// NewTensor creates a tensor with the given shape backed by data.
// The data length must match the shape exactly.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := calculateNumElements(shape)
	if len(data) != n {
		return nil, fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrShapeMismatch, shape, n, len(data))
	}
	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: n,
	}, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := calculateNumElements(shape)
	return NewTensor(shape, make([]float32, n))
}

// Ones creates a tensor filled with 1.
func Ones(shape []int) (*Tensor, error) {
	return Full(shape, 1.0)
}

// Full creates a tensor filled with a constant value.
func Full(shape []int, value float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := calculateNumElements(shape)
	data := make([]float32, n)
	for i := range data {
		data[i] = value
	}
	return NewTensor(shape, data)
}

// FromScalar wraps a single value as a [1] tensor.
func FromScalar(value float32) *Tensor {
	t, _ := NewTensor([]int{1}, []float32{value})
	return t
}

// Randn creates a tensor with normally distributed values (mean 0,
// stddev as given) drawn from rng. Used for weight initialization.
func Randn(shape []int, stddev float64, rng *rand.Rand) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := calculateNumElements(shape)
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(rng.NormFloat64() * stddev)
	}
	return NewTensor(shape, data)
}
