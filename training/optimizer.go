package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/whitebrush/go-cartoon/tensor"
)

// Optimizer is the contract the trainer and gradient scaler drive.
type Optimizer interface {
	Step() error                  // applies one parameter update from current gradients
	ZeroGrad()                    // clears accumulated gradients before a new backward pass
	Parameters() []*tensor.Tensor // tensors this optimizer updates
	GetLR() float64
	SetLR(lr float64)
}

// AdamWConfig holds AdamW hyperparameters.
type AdamWConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamWConfig returns the hyperparameters the cartoonizer trains
// with: lr 1e-4, betas (0.5, 0.99), weight decay 1e-4.
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LearningRate: 1e-4,
		Beta1:        0.5,
		Beta2:        0.99,
		Epsilon:      1e-8,
		WeightDecay:  1e-4,
	}
}

// AdamW implements Adam with decoupled weight decay. First and second
// moment estimates live per parameter tensor for the whole run.
type AdamW struct {
	parameters []*tensor.Tensor
	config     AdamWConfig
	step       int64
	m          map[*tensor.Tensor][]float32
	v          map[*tensor.Tensor][]float32
	mutex      sync.RWMutex
}

// NewAdamW creates an AdamW optimizer over the given parameters.
func NewAdamW(parameters []*tensor.Tensor, config AdamWConfig) *AdamW {
	adam := &AdamW{
		parameters: parameters,
		config:     config,
		m:          make(map[*tensor.Tensor][]float32),
		v:          make(map[*tensor.Tensor][]float32),
	}
	for _, param := range parameters {
		if param.RequiresGrad() {
			adam.m[param] = make([]float32, param.NumElems)
			adam.v[param] = make([]float32, param.NumElems)
		}
	}
	return adam
}

// Step performs a single AdamW update:
//
//	m = b1*m + (1-b1)*g        v = b2*v + (1-b2)*g^2
//	p -= lr * mhat / (sqrt(vhat) + eps)   (bias-corrected moments)
//	p -= lr * wd * p                      (decoupled decay)
//
// Parameters without an accumulated gradient are left untouched.
func (adam *AdamW) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.step++
	bias1 := 1.0 - math.Pow(adam.config.Beta1, float64(adam.step))
	bias2 := 1.0 - math.Pow(adam.config.Beta2, float64(adam.step))

	lr := adam.config.LearningRate
	b1 := float32(adam.config.Beta1)
	b2 := float32(adam.config.Beta2)

	for _, param := range adam.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}
		m, v := adam.m[param], adam.v[param]
		if m == nil || v == nil {
			return fmt.Errorf("no moment state for parameter %v", param.Shape)
		}
		grad := param.Grad().Data

		for i, g := range grad {
			m[i] = b1*m[i] + (1-b1)*g
			v[i] = b2*v[i] + (1-b2)*g*g

			mHat := float64(m[i]) / bias1
			vHat := float64(v[i]) / bias2

			update := lr * mHat / (math.Sqrt(vHat) + adam.config.Epsilon)
			p := float64(param.Data[i])
			p -= update
			p -= lr * adam.config.WeightDecay * float64(param.Data[i])
			param.Data[i] = float32(p)
		}
	}
	return nil
}

// ZeroGrad clears accumulated gradients for all parameters. Must run
// before every forward/backward pair; skipping it makes gradients
// accumulate across steps, which corrupts the update.
func (adam *AdamW) ZeroGrad() {
	tensor.ZeroGrad(adam.parameters)
}

// Parameters returns the tensors this optimizer updates.
func (adam *AdamW) Parameters() []*tensor.Tensor {
	return adam.parameters
}

// GetLR returns the current learning rate.
func (adam *AdamW) GetLR() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.config.LearningRate
}

// SetLR sets the learning rate.
func (adam *AdamW) SetLR(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.config.LearningRate = lr
}

// StepCount returns how many updates have been applied, for checkpointing.
func (adam *AdamW) StepCount() int64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.step
}
