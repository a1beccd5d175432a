package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whitebrush/go-cartoon/tensor"
)

// recordingOptimizer counts Step calls so tests can tell a skip from an
// applied update.
type recordingOptimizer struct {
	params []*tensor.Tensor
	steps  int
	lr     float64
}

func (o *recordingOptimizer) Step() error {
	o.steps++
	return nil
}

func (o *recordingOptimizer) ZeroGrad() { tensor.ZeroGrad(o.params) }

func (o *recordingOptimizer) Parameters() []*tensor.Tensor { return o.params }

func (o *recordingOptimizer) GetLR() float64 { return o.lr }

func (o *recordingOptimizer) SetLR(lr float64) { o.lr = lr }

func paramWithGrad(t *testing.T, gradValues []float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.Full([]int{len(gradValues)}, 1)
	require.NoError(t, err)
	p.SetRequiresGrad(true)
	g, err := tensor.NewTensor([]int{len(gradValues)}, gradValues)
	require.NoError(t, err)
	p.SetGrad(g)
	return p
}

func TestScalerSkipsOnNonFiniteGradient(t *testing.T) {
	param := paramWithGrad(t, []float32{0.5, float32(math.NaN())})
	before := append([]float32(nil), param.Data...)
	opt := &recordingOptimizer{params: []*tensor.Tensor{param}}

	scaler := NewGradScaler(DefaultGradScalerConfig())
	initScale := scaler.CurrentScale()

	stepped, err := scaler.Step(opt)
	require.NoError(t, err)
	require.False(t, stepped)
	require.Equal(t, 0, opt.steps)
	require.Equal(t, before, param.Data)
	require.Equal(t, int64(1), scaler.SkippedSteps())

	scaler.Update()
	require.Less(t, scaler.CurrentScale(), initScale)
	require.Equal(t, initScale*0.5, scaler.CurrentScale())
}

func TestScalerInfGradientAlsoSkips(t *testing.T) {
	param := paramWithGrad(t, []float32{float32(math.Inf(1))})
	opt := &recordingOptimizer{params: []*tensor.Tensor{param}}

	scaler := NewGradScaler(DefaultGradScalerConfig())
	stepped, err := scaler.Step(opt)
	require.NoError(t, err)
	require.False(t, stepped)
	require.Equal(t, 0, opt.steps)
}

func TestScalerUnscalesBeforeStepping(t *testing.T) {
	param := paramWithGrad(t, []float32{8, -16})
	opt := &recordingOptimizer{params: []*tensor.Tensor{param}}

	config := DefaultGradScalerConfig()
	config.InitScale = 4
	scaler := NewGradScaler(config)

	stepped, err := scaler.Step(opt)
	require.NoError(t, err)
	require.True(t, stepped)
	require.Equal(t, 1, opt.steps)
	require.Equal(t, []float32{2, -4}, param.Grad().Data)
}

func TestScalerGrowsAfterCleanInterval(t *testing.T) {
	config := DefaultGradScalerConfig()
	config.InitScale = 16
	config.GrowthInterval = 3
	scaler := NewGradScaler(config)

	scaler.Update()
	scaler.Update()
	require.Equal(t, float32(16), scaler.CurrentScale())
	scaler.Update()
	require.Equal(t, float32(32), scaler.CurrentScale())
}

func TestScalerOverflowResetsGrowthProgress(t *testing.T) {
	config := DefaultGradScalerConfig()
	config.InitScale = 16
	config.GrowthInterval = 2
	scaler := NewGradScaler(config)

	scaler.Update() // clean pair

	param := paramWithGrad(t, []float32{float32(math.NaN())})
	opt := &recordingOptimizer{params: []*tensor.Tensor{param}}
	_, err := scaler.Step(opt)
	require.NoError(t, err)
	scaler.Update()
	require.Equal(t, float32(8), scaler.CurrentScale())

	// The interval restarts from scratch after a backoff.
	scaler.Update()
	require.Equal(t, float32(8), scaler.CurrentScale())
	scaler.Update()
	require.Equal(t, float32(16), scaler.CurrentScale())
}

func TestScalerScalesLossInsideGraph(t *testing.T) {
	loss := tensor.FromScalar(0.25)
	loss.SetRequiresGrad(true)

	config := DefaultGradScalerConfig()
	config.InitScale = 8
	scaler := NewGradScaler(config)

	scaled, err := scaler.Scale(loss)
	require.NoError(t, err)
	require.InDelta(t, 2.0, float64(scaled.Item()), 1e-6)

	require.NoError(t, tensor.Backward(scaled))
	require.InDelta(t, 8.0, float64(loss.Grad().Item()), 1e-6)
}
