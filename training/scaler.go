package training

import (
	"github.com/whitebrush/go-cartoon/tensor"
)

// scalerState is the gradient scaler's explicit state machine: it is
// either in steady growth or recovering from an overflow observed during
// the current step-pair.
type scalerState int

const (
	scalerSteady scalerState = iota
	scalerOverflow
)

// GradScalerConfig holds the adaptive scaling policy knobs.
type GradScalerConfig struct {
	InitScale      float32
	GrowthFactor   float32
	BackoffFactor  float32
	GrowthInterval int
}

// DefaultGradScalerConfig mirrors the usual mixed-precision defaults:
// start at 2^16, double after 2000 clean steps, halve on any overflow.
func DefaultGradScalerConfig() GradScalerConfig {
	return GradScalerConfig{
		InitScale:      65536,
		GrowthFactor:   2,
		BackoffFactor:  0.5,
		GrowthInterval: 2000,
	}
}

// GradScaler manages the mixed-precision loss scale shared by both
// optimizers of a step-pair. Losses are multiplied by the scale before
// backward so small gradients survive reduced precision; gradients are
// unscaled before the update, and non-finite gradients skip the update
// instead of corrupting the weights.
//
// The factor is shared across both models and must be driven in a fixed
// order: Step(discriminator), Step(generator), then exactly one Update()
// per step-pair, so the two optimizers cannot drift apart.
type GradScaler struct {
	config GradScalerConfig

	scale     float32
	state     scalerState
	goodSteps int

	overflows    int64
	skippedSteps int64
}

// NewGradScaler creates a scaler with the given policy.
func NewGradScaler(config GradScalerConfig) *GradScaler {
	return &GradScaler{config: config, scale: config.InitScale}
}

// Scale multiplies the loss by the current factor, inside the graph, so
// backward produces scaled gradients.
func (gs *GradScaler) Scale(loss *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.MulScalarAutograd(loss, gs.scale)
}

// Step unscales the optimizer's gradients and applies the update, unless
// any gradient is non-finite: then the update is skipped, the overflow is
// remembered for the next Update, and no error is returned (numeric
// overflow is recovered, never surfaced).
//
// Reports whether the update was applied.
func (gs *GradScaler) Step(opt Optimizer) (bool, error) {
	for _, param := range opt.Parameters() {
		grad := param.Grad()
		if grad == nil {
			continue
		}
		if grad.HasNonFinite() {
			gs.state = scalerOverflow
			gs.overflows++
			gs.skippedSteps++
			return false, nil
		}
	}

	inv := 1 / gs.scale
	for _, param := range opt.Parameters() {
		if grad := param.Grad(); grad != nil {
			grad.Scale(inv)
		}
	}

	if err := opt.Step(); err != nil {
		return false, err
	}
	return true, nil
}

// Update adjusts the scale once per step-pair: any overflow during the
// pair shrinks it immediately; a full growth interval of clean pairs
// doubles it.
func (gs *GradScaler) Update() {
	if gs.state == scalerOverflow {
		gs.scale *= gs.config.BackoffFactor
		gs.goodSteps = 0
		gs.state = scalerSteady
		return
	}
	gs.goodSteps++
	if gs.goodSteps >= gs.config.GrowthInterval {
		gs.scale *= gs.config.GrowthFactor
		gs.goodSteps = 0
	}
}

// CurrentScale returns the scale factor currently applied to losses.
func (gs *GradScaler) CurrentScale() float32 {
	return gs.scale
}

// SkippedSteps returns how many optimizer updates were skipped on
// overflow, for logging.
func (gs *GradScaler) SkippedSteps() int64 {
	return gs.skippedSteps
}
