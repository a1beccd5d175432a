package models

import (
	"fmt"
	"math/rand"

	"github.com/whitebrush/go-cartoon/tensor"
)

// Discriminator scores image batches as a grid of patch logits rather than
// one scalar per image. Two stride-2 convolutions put the grid at 1/4 of
// the input resolution, so a (N, C, H, W) batch yields (N, 1, H/4, W/4)
// logits, matching the label tensors the losses are constructed with.
type Discriminator struct {
	conv1 *conv2dLayer
	conv2 *conv2dLayer
	head  *conv2dLayer
	slope float32
}

// NewDiscriminator builds a patch discriminator for images with the given
// channel count and hidden width.
func NewDiscriminator(channels, hidden int, rng *rand.Rand) (*Discriminator, error) {
	conv1, err := newConv2DLayer("conv1", channels, hidden, 3, 2, 1, rng)
	if err != nil {
		return nil, err
	}
	conv2, err := newConv2DLayer("conv2", hidden, hidden*2, 3, 2, 1, rng)
	if err != nil {
		return nil, err
	}
	head, err := newConv2DLayer("head", hidden*2, 1, 3, 1, 1, rng)
	if err != nil {
		return nil, err
	}
	return &Discriminator{conv1: conv1, conv2: conv2, head: head, slope: 0.2}, nil
}

// Forward returns raw patch logits; the losses apply the sigmoid.
func (d *Discriminator) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := d.conv1.forward(x)
	if err != nil {
		return nil, fmt.Errorf("discriminator: %w", err)
	}
	h, err = tensor.LeakyReLUAutograd(h, d.slope)
	if err != nil {
		return nil, err
	}
	h, err = d.conv2.forward(h)
	if err != nil {
		return nil, fmt.Errorf("discriminator: %w", err)
	}
	h, err = tensor.LeakyReLUAutograd(h, d.slope)
	if err != nil {
		return nil, err
	}
	h, err = d.head.forward(h)
	if err != nil {
		return nil, fmt.Errorf("discriminator: %w", err)
	}
	return h, nil
}

// Parameters returns the trainable tensors in layer order.
func (d *Discriminator) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	params = append(params, d.conv1.parameters()...)
	params = append(params, d.conv2.parameters()...)
	params = append(params, d.head.parameters()...)
	return params
}

// NamedParameters returns checkpoint-ready named tensors.
func (d *Discriminator) NamedParameters() []NamedParameter {
	var params []NamedParameter
	params = append(params, d.conv1.namedParameters()...)
	params = append(params, d.conv2.namedParameters()...)
	params = append(params, d.head.namedParameters()...)
	return params
}
