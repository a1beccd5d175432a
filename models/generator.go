package models

import (
	"fmt"
	"math/rand"

	"github.com/whitebrush/go-cartoon/tensor"
)

// Generator maps photographs to cartoon-styled images of the same
// resolution. Three 3x3 convolutions with a tanh head keep the output in
// the [-1, 1] range the datasets are normalized to.
type Generator struct {
	conv1 *conv2dLayer
	conv2 *conv2dLayer
	conv3 *conv2dLayer
}

// NewGenerator builds a generator for images with the given channel count
// (3 for RGB) and the given hidden width.
func NewGenerator(channels, hidden int, rng *rand.Rand) (*Generator, error) {
	conv1, err := newConv2DLayer("conv1", channels, hidden, 3, 1, 1, rng)
	if err != nil {
		return nil, err
	}
	conv2, err := newConv2DLayer("conv2", hidden, hidden, 3, 1, 1, rng)
	if err != nil {
		return nil, err
	}
	conv3, err := newConv2DLayer("conv3", hidden, channels, 3, 1, 1, rng)
	if err != nil {
		return nil, err
	}
	return &Generator{conv1: conv1, conv2: conv2, conv3: conv3}, nil
}

// Forward produces a stylized batch with the same shape as the input.
func (g *Generator) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := g.conv1.forward(x)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	h, err = tensor.ReLUAutograd(h)
	if err != nil {
		return nil, err
	}
	h, err = g.conv2.forward(h)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	h, err = tensor.ReLUAutograd(h)
	if err != nil {
		return nil, err
	}
	h, err = g.conv3.forward(h)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	return tensor.TanhAutograd(h)
}

// Parameters returns the trainable tensors in layer order.
func (g *Generator) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	params = append(params, g.conv1.parameters()...)
	params = append(params, g.conv2.parameters()...)
	params = append(params, g.conv3.parameters()...)
	return params
}

// NamedParameters returns checkpoint-ready named tensors.
func (g *Generator) NamedParameters() []NamedParameter {
	var params []NamedParameter
	params = append(params, g.conv1.namedParameters()...)
	params = append(params, g.conv2.namedParameters()...)
	params = append(params, g.conv3.namedParameters()...)
	return params
}
