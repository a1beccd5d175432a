package training

import (
	"fmt"

	"github.com/whitebrush/go-cartoon/tensor"
)

// ContentLoss penalizes the generator for drifting away from its source
// photo while chasing the adversarial signal. Pixel-space L1 distance
// between the generated cartoon and the photo it was generated from.
type ContentLoss struct{}

// NewContentLoss creates a content loss module.
func NewContentLoss() *ContentLoss {
	return &ContentLoss{}
}

// Forward returns mean |generated - realPhoto| as a differentiable scalar.
// Inputs of different shapes fail with a shape mismatch error.
func (cl *ContentLoss) Forward(generated, realPhoto *tensor.Tensor) (*tensor.Tensor, error) {
	loss, err := tensor.L1Loss(generated, realPhoto)
	if err != nil {
		return nil, fmt.Errorf("content loss: %w", err)
	}
	return loss, nil
}

// AdversarialLoss is the discriminator's three-way objective: genuine
// cartoons are pushed toward the real label while generated images AND
// cartoon edge maps are pushed toward the fake label. Treating edge maps
// as a negative class teaches the discriminator to punish edge blur, which
// is what makes this loss cartoon-specific.
//
// The label tensors are bound at construction time and shape-checked on
// every call, so a run configured with one batch size cannot silently
// broadcast against predictions of another.
type AdversarialLoss struct {
	cartoonLabels *tensor.Tensor
	fakeLabels    *tensor.Tensor
}

// NewAdversarialLoss captures the constant label grids. The two label
// tensors must agree in shape and be 4D patch grids.
func NewAdversarialLoss(cartoonLabels, fakeLabels *tensor.Tensor) (*AdversarialLoss, error) {
	if len(cartoonLabels.Shape) != 4 || len(fakeLabels.Shape) != 4 {
		return nil, fmt.Errorf("%w: labels must be 4D patch grids, got %v and %v",
			tensor.ErrShapeMismatch, cartoonLabels.Shape, fakeLabels.Shape)
	}
	if !cartoonLabels.ShapeEquals(fakeLabels) {
		return nil, fmt.Errorf("%w: cartoon labels %v and fake labels %v disagree",
			tensor.ErrShapeMismatch, cartoonLabels.Shape, fakeLabels.Shape)
	}
	return &AdversarialLoss{cartoonLabels: cartoonLabels, fakeLabels: fakeLabels}, nil
}

// Forward combines the three BCE-with-logits terms into one scalar used
// only for the discriminator update.
func (al *AdversarialLoss) Forward(cartoonPred, generatedPred, edgePred *tensor.Tensor) (*tensor.Tensor, error) {
	realTerm, err := tensor.BCEWithLogits(cartoonPred, al.cartoonLabels)
	if err != nil {
		return nil, fmt.Errorf("adversarial loss, cartoon term: %w", err)
	}
	fakeTerm, err := tensor.BCEWithLogits(generatedPred, al.fakeLabels)
	if err != nil {
		return nil, fmt.Errorf("adversarial loss, generated term: %w", err)
	}
	edgeTerm, err := tensor.BCEWithLogits(edgePred, al.fakeLabels)
	if err != nil {
		return nil, fmt.Errorf("adversarial loss, edge term: %w", err)
	}

	sum, err := tensor.AddAutograd(realTerm, fakeTerm)
	if err != nil {
		return nil, err
	}
	return tensor.AddAutograd(sum, edgeTerm)
}

// GeneratorAdversarialLoss pushes the discriminator's verdict on generated
// images toward "real". Computed on logits for numerical stability.
type GeneratorAdversarialLoss struct {
	realLabels *tensor.Tensor
}

// NewGeneratorAdversarialLoss captures the constant real label grid.
func NewGeneratorAdversarialLoss(realLabels *tensor.Tensor) (*GeneratorAdversarialLoss, error) {
	if len(realLabels.Shape) != 4 {
		return nil, fmt.Errorf("%w: labels must be a 4D patch grid, got %v",
			tensor.ErrShapeMismatch, realLabels.Shape)
	}
	return &GeneratorAdversarialLoss{realLabels: realLabels}, nil
}

// Forward returns BCE-with-logits of the generated predictions against the
// real label.
func (gl *GeneratorAdversarialLoss) Forward(generatedPred *tensor.Tensor) (*tensor.Tensor, error) {
	loss, err := tensor.BCEWithLogits(generatedPred, gl.realLabels)
	if err != nil {
		return nil, fmt.Errorf("generator adversarial loss: %w", err)
	}
	return loss, nil
}
