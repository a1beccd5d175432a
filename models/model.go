package models

import (
	"github.com/whitebrush/go-cartoon/tensor"
)

// Model is the contract the training loop relies on. A Generator maps
// image batches to image batches; a Discriminator maps image batches to a
// patch grid of real/fake logits. The trainer never looks inside.
type Model interface {
	// Forward runs the network on a NCHW batch.
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)

	// Parameters returns every trainable tensor, in a stable order.
	Parameters() []*tensor.Tensor

	// NamedParameters returns the same tensors keyed by layer-qualified
	// names, for checkpoint save/load.
	NamedParameters() []NamedParameter
}

// NamedParameter pairs a parameter tensor with its checkpoint name.
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}
