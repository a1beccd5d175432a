package models

import (
	"fmt"
	"math/rand"

	"github.com/whitebrush/go-cartoon/tensor"
)

// conv2dLayer is a strided, zero-padded convolution with bias. All the
// reference networks here are stacks of these plus pointwise activations.
type conv2dLayer struct {
	name   string
	weight *tensor.Tensor // (outC, inC, k, k)
	bias   *tensor.Tensor // (outC)
	stride int
	pad    int
}

// newConv2DLayer initializes weights from N(0, 0.02) and zero bias, the
// usual GAN convolution initialization.
func newConv2DLayer(name string, inC, outC, kernel, stride, pad int, rng *rand.Rand) (*conv2dLayer, error) {
	w, err := tensor.Randn([]int{outC, inC, kernel, kernel}, 0.02, rng)
	if err != nil {
		return nil, fmt.Errorf("init %s weight: %w", name, err)
	}
	b, err := tensor.Zeros([]int{outC})
	if err != nil {
		return nil, fmt.Errorf("init %s bias: %w", name, err)
	}
	w.SetRequiresGrad(true)
	b.SetRequiresGrad(true)
	return &conv2dLayer{name: name, weight: w, bias: b, stride: stride, pad: pad}, nil
}

func (l *conv2dLayer) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.Conv2DAutograd(x, l.weight, l.bias, l.stride, l.pad)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.name, err)
	}
	return out, nil
}

func (l *conv2dLayer) parameters() []*tensor.Tensor {
	return []*tensor.Tensor{l.weight, l.bias}
}

func (l *conv2dLayer) namedParameters() []NamedParameter {
	return []NamedParameter{
		{Name: l.name + ".weight", Tensor: l.weight},
		{Name: l.name + ".bias", Tensor: l.bias},
	}
}
