package training

import (
	"errors"
	"fmt"
	"log"

	"github.com/whitebrush/go-cartoon/models"
	"github.com/whitebrush/go-cartoon/tensor"
)

// BatchSource produces a finite, restartable sequence of NCHW image
// batches. Next returns (nil, nil) when the epoch is exhausted.
type BatchSource interface {
	Next() (*tensor.Tensor, error)
	Reset()
	Len() int
}

// TrainerConfig is the fixed set of run parameters, read once at startup.
type TrainerConfig struct {
	Epochs             int
	ImageSize          int
	BatchSize          int
	LogInterval        int // batches between console lines
	PreviewInterval    int // iterations between preview images (N1)
	CheckpointInterval int // iterations between checkpoints (N2)
	PreviewDir         string
	CheckpointDir      string
	PlotPath           string // loss-history chart written after the run; empty disables
}

// StepResult carries the per-step numbers used for logging. DX and DGZ are
// plain floats computed outside the gradient graph.
type StepResult struct {
	ErrD     float32
	ErrG     float32
	DX       float32 // mean discriminator verdict on genuine cartoons
	DGZ      float32 // mean verdict on generated images after the G pass
	SteppedD bool    // false when the scaler skipped the update on overflow
	SteppedG bool
}

// Batch is one training step's worth of aligned image tensors.
type Batch struct {
	RealPhoto        *tensor.Tensor
	CartoonReference *tensor.Tensor
	CartoonEdgeMap   *tensor.Tensor
}

// forwardHandle guards the generator output that both halves of a
// step-pair share. The tensor is produced once and consumed exactly twice:
// detached for the discriminator update, live for the generator update.
// A third consumption is a bug in the step protocol, not a recoverable
// condition.
type forwardHandle struct {
	out       *tensor.Tensor
	remaining int
}

func newForwardHandle(out *tensor.Tensor) *forwardHandle {
	return &forwardHandle{out: out, remaining: 2}
}

func (h *forwardHandle) consume() (*tensor.Tensor, error) {
	if h.remaining == 0 {
		return nil, errors.New("generator output consumed more than twice in one step-pair")
	}
	h.remaining--
	return h.out, nil
}

// Trainer owns the adversarial optimization loop: it alternates one
// discriminator update and one generator update per batch, drives the
// shared gradient scaler in a fixed order, and feeds the artifact sink.
// All training-progress state (loss histories, iteration counter) lives
// here rather than in globals, so concurrent trainers do not interfere.
type Trainer struct {
	config TrainerConfig

	netG models.Model
	netD models.Model
	optG Optimizer
	optD Optimizer

	scaler      *GradScaler
	contentLoss *ContentLoss
	advLoss     *AdversarialLoss
	genAdvLoss  *GeneratorAdversarialLoss

	sink   *ArtifactSink
	logger *log.Logger

	iters   int // global step counter; drives preview/checkpoint triggers
	gLosses []float32
	dLosses []float32
}

// NewTrainer wires models, optimizers and the shared scaler into a
// trainer. Label tensors are built here, bound to the configured batch
// size and resolution.
func NewTrainer(config TrainerConfig, netG, netD models.Model, optG, optD Optimizer, scaler *GradScaler, logger *log.Logger) (*Trainer, error) {
	realLabels, fakeLabels, err := NewPatchLabels(config.BatchSize, config.ImageSize)
	if err != nil {
		return nil, fmt.Errorf("build labels: %w", err)
	}
	advLoss, err := NewAdversarialLoss(realLabels, fakeLabels)
	if err != nil {
		return nil, err
	}
	genAdvLoss, err := NewGeneratorAdversarialLoss(realLabels)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Trainer{
		config:      config,
		netG:        netG,
		netD:        netD,
		optG:        optG,
		optD:        optD,
		scaler:      scaler,
		contentLoss: NewContentLoss(),
		advLoss:     advLoss,
		genAdvLoss:  genAdvLoss,
		sink:        NewArtifactSink(config, logger),
		logger:      logger,
	}, nil
}

// Iters returns the global step counter.
func (t *Trainer) Iters() int {
	return t.iters
}

// Losses returns the per-step loss histories (generator, discriminator).
func (t *Trainer) Losses() (gLosses, dLosses []float32) {
	return t.gLosses, t.dLosses
}

// Sink exposes the artifact sink, mainly for inspection in tests.
func (t *Trainer) Sink() *ArtifactSink {
	return t.sink
}

// validateBatch enforces the batch invariant: all three tensors share
// batch size and spatial dimensions.
func validateBatch(b Batch) error {
	for _, part := range []*tensor.Tensor{b.RealPhoto, b.CartoonReference, b.CartoonEdgeMap} {
		if part == nil {
			return errors.New("batch has a nil component")
		}
		if len(part.Shape) != 4 {
			return fmt.Errorf("%w: batch components must be 4D, got %v", tensor.ErrShapeMismatch, part.Shape)
		}
	}
	if !b.RealPhoto.ShapeEquals(b.CartoonReference) || !b.RealPhoto.ShapeEquals(b.CartoonEdgeMap) {
		return fmt.Errorf("%w: batch components disagree: photo %v, cartoon %v, edges %v",
			tensor.ErrShapeMismatch, b.RealPhoto.Shape, b.CartoonReference.Shape, b.CartoonEdgeMap.Shape)
	}
	return nil
}

// TrainStep runs one full step-pair. The order is fixed: discriminator
// update first, then the generator update against the just-updated
// discriminator, then exactly one scaler update.
func (t *Trainer) TrainStep(batch Batch) (StepResult, error) {
	var res StepResult

	if err := validateBatch(batch); err != nil {
		return res, err
	}

	// --- Discriminator update ---
	t.optD.ZeroGrad()

	generated, err := t.netG.Forward(batch.RealPhoto)
	if err != nil {
		return res, fmt.Errorf("generator forward: %w", err)
	}
	handle := newForwardHandle(generated)

	cartoonPred, err := t.netD.Forward(batch.CartoonReference)
	if err != nil {
		return res, fmt.Errorf("discriminator forward (cartoon): %w", err)
	}
	edgePred, err := t.netD.Forward(batch.CartoonEdgeMap)
	if err != nil {
		return res, fmt.Errorf("discriminator forward (edges): %w", err)
	}

	// The generator must not receive gradient from the discriminator's
	// own update, so this pass sees the sample detached.
	genForD, err := handle.consume()
	if err != nil {
		return res, err
	}
	generatedPred, err := t.netD.Forward(genForD.Detach())
	if err != nil {
		return res, fmt.Errorf("discriminator forward (generated): %w", err)
	}

	errD, err := t.advLoss.Forward(cartoonPred, generatedPred, edgePred)
	if err != nil {
		return res, err
	}
	scaledD, err := t.scaler.Scale(errD)
	if err != nil {
		return res, err
	}
	if err := tensor.Backward(scaledD); err != nil {
		return res, fmt.Errorf("discriminator backward: %w", err)
	}
	res.DX = cartoonPred.Mean()

	res.SteppedD, err = t.scaler.Step(t.optD)
	if err != nil {
		return res, fmt.Errorf("discriminator step: %w", err)
	}

	// --- Generator update ---
	t.optG.ZeroGrad()

	// Second discriminator pass on the same generated sample, this time
	// with gradient flowing back into the generator.
	genForG, err := handle.consume()
	if err != nil {
		return res, err
	}
	generatedPredG, err := t.netD.Forward(genForG)
	if err != nil {
		return res, fmt.Errorf("discriminator forward (generator pass): %w", err)
	}

	advTerm, err := t.genAdvLoss.Forward(generatedPredG)
	if err != nil {
		return res, err
	}
	contentTerm, err := t.contentLoss.Forward(genForG, batch.RealPhoto)
	if err != nil {
		return res, err
	}
	errG, err := tensor.AddAutograd(advTerm, contentTerm)
	if err != nil {
		return res, err
	}
	scaledG, err := t.scaler.Scale(errG)
	if err != nil {
		return res, err
	}
	if err := tensor.Backward(scaledG); err != nil {
		return res, fmt.Errorf("generator backward: %w", err)
	}
	res.DGZ = generatedPredG.Mean()

	res.SteppedG, err = t.scaler.Step(t.optG)
	if err != nil {
		return res, fmt.Errorf("generator step: %w", err)
	}

	// One scale adjustment per step-pair, after both optimizers.
	t.scaler.Update()

	res.ErrD = errD.Item()
	res.ErrG = errG.Item()
	t.dLosses = append(t.dLosses, res.ErrD)
	t.gLosses = append(t.gLosses, res.ErrG)

	return res, nil
}

// RunEpoch advances the two data sources in lockstep and runs one
// step-pair per paired batch. Iteration ends with the shorter source:
// an intentional truncation, not an error. Returns the number of
// step-pairs executed.
func (t *Trainer) RunEpoch(epoch int, cartoonSource, realSource BatchSource, tracked *tensor.Tensor) (int, error) {
	cartoonSource.Reset()
	realSource.Reset()

	steps := 0
	for batchIdx := 0; ; batchIdx++ {
		wide, err := cartoonSource.Next()
		if err != nil {
			return steps, fmt.Errorf("cartoon source: %w", err)
		}
		photo, err := realSource.Next()
		if err != nil {
			return steps, fmt.Errorf("real source: %w", err)
		}
		if wide == nil || photo == nil {
			return steps, nil
		}

		cartoon, edges, err := SplitPaired(wide, t.config.ImageSize)
		if err != nil {
			return steps, err
		}

		res, err := t.TrainStep(Batch{RealPhoto: photo, CartoonReference: cartoon, CartoonEdgeMap: edges})
		if err != nil {
			return steps, err
		}

		if t.config.LogInterval > 0 && batchIdx%t.config.LogInterval == 0 {
			t.logger.Printf("[%d/%d][%d/%d]\tLoss_D: %.4f\tLoss_G: %.4f\tD(x): %.4f\tD(G(z)): %.4f",
				epoch, t.config.Epochs, batchIdx, realSource.Len(), res.ErrD, res.ErrG, res.DX, res.DGZ)
		}

		// Artifact triggers observe the global counter after the step
		// and before it advances; the per-epoch batch index above is a
		// separate counter and the two stay independent.
		t.sink.Observe(t.netG, t.netD, tracked, epoch, batchIdx, t.iters, res.ErrG)

		t.iters++
		steps++
	}
}

// Run executes the full training loop: captures the tracked preview batch
// from the real source, then trains for the configured epoch count. The
// loss-history chart is written at the end when configured.
func (t *Trainer) Run(cartoonSource, realSource BatchSource) error {
	realSource.Reset()
	tracked, err := realSource.Next()
	if err != nil {
		return fmt.Errorf("capture tracked batch: %w", err)
	}
	if tracked == nil {
		return errors.New("real data source is empty")
	}
	tracked = tracked.Detach()

	t.logger.Printf("starting training loop: %d epochs, scale %.0f", t.config.Epochs, t.scaler.CurrentScale())

	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		steps, err := t.RunEpoch(epoch, cartoonSource, realSource, tracked)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		t.logger.Printf("epoch %d done: %d step-pairs, scale %.0f, skipped %d",
			epoch, steps, t.scaler.CurrentScale(), t.scaler.SkippedSteps())
	}

	if t.config.PlotPath != "" {
		if err := SaveLossPlot(t.config.PlotPath, t.gLosses, t.dLosses); err != nil {
			// Plotting is an artifact of the run, not the run itself.
			t.logger.Printf("loss plot failed: %v", err)
		}
	}
	return nil
}

// SplitPaired splits a wide (N, C, H, 2*imageSize) tensor holding a
// cartoon frame and its edge map side by side into the two halves.
func SplitPaired(wide *tensor.Tensor, imageSize int) (cartoon, edges *tensor.Tensor, err error) {
	if len(wide.Shape) != 4 {
		return nil, nil, fmt.Errorf("%w: paired batch must be 4D, got %v", tensor.ErrShapeMismatch, wide.Shape)
	}
	n, c, h, w := wide.Shape[0], wide.Shape[1], wide.Shape[2], wide.Shape[3]
	if w != 2*imageSize {
		return nil, nil, fmt.Errorf("%w: paired batch width %d, expected %d", tensor.ErrShapeMismatch, w, 2*imageSize)
	}

	cartoon, err = tensor.Zeros([]int{n, c, h, imageSize})
	if err != nil {
		return nil, nil, err
	}
	edges, err = tensor.Zeros([]int{n, c, h, imageSize})
	if err != nil {
		return nil, nil, err
	}

	for i := 0; i < n*c*h; i++ {
		srcRow := wide.Data[i*w : (i+1)*w]
		copy(cartoon.Data[i*imageSize:(i+1)*imageSize], srcRow[:imageSize])
		copy(edges.Data[i*imageSize:(i+1)*imageSize], srcRow[imageSize:])
	}
	return cartoon, edges, nil
}
