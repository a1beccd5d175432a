package training

import (
	"fmt"

	"github.com/whitebrush/go-cartoon/tensor"
)

// PatchStride is the downsampling factor between discriminator input and
// its patch logit grid (two stride-2 convolutions).
const PatchStride = 4

// NewPatchLabels creates the constant real/fake label grids matching the
// discriminator's output for the configured batch and image size. They are
// built once at startup and shared read-only across every step.
func NewPatchLabels(batchSize, imageSize int) (real, fake *tensor.Tensor, err error) {
	if imageSize%PatchStride != 0 {
		return nil, nil, fmt.Errorf("%w: image size %d is not divisible by patch stride %d",
			tensor.ErrShapeMismatch, imageSize, PatchStride)
	}
	shape := []int{batchSize, 1, imageSize / PatchStride, imageSize / PatchStride}
	real, err = tensor.Ones(shape)
	if err != nil {
		return nil, nil, err
	}
	fake, err = tensor.Zeros(shape)
	if err != nil {
		return nil, nil, err
	}
	return real, fake, nil
}
