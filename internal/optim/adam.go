package optim

import (
	"math"

	"github.com/born-ml/sensim/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // Second moment
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)   // Parameter update
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	t     int         // Timestep for bias correction
	m     [][]float64 // First moment estimates
	v     [][]float64 // Second moment estimates
}

var _ Optimizer = (*Adam)(nil)

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR    float64    // Learning rate (default: 0.001)
	Betas [2]float64 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps   float64    // Term for numerical stability (default: 1e-8)
}

// NewAdam creates a new Adam optimizer. Zero fields take their defaults:
// LR 0.001, Betas [0.9, 0.999], Eps 1e-8.
func NewAdam(config AdamConfig) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam{
		lr:    config.LR,
		beta1: config.Betas[0],
		beta2: config.Betas[1],
		eps:   config.Eps,
	}
}

// Step performs a single optimization step. Parameters with a nil gradient
// are skipped but the timestep still advances.
func (a *Adam) Step(params, grads []*tensor.Dense) error {
	if err := checkStep("adam", params, grads, &a.m, &a.v); err != nil {
		return err
	}
	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))

	for i, p := range params {
		if grads[i] == nil {
			continue
		}
		pd, gd, m, v := p.Data(), grads[i].Data(), a.m[i], a.v[i]
		for k, g := range gd {
			m[k] = a.beta1*m[k] + (1-a.beta1)*g
			v[k] = a.beta2*v[k] + (1-a.beta2)*g*g
			mHat := m[k] / bc1
			vHat := v[k] / bc2
			pd[k] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
	return nil
}

// LR returns the current learning rate.
func (a *Adam) LR() float64 { return a.lr }

// SetLR updates the learning rate.
func (a *Adam) SetLR(lr float64) { a.lr = lr }

// Timestep returns the number of steps taken since the last Reset.
func (a *Adam) Timestep() int { return a.t }

// Reset clears the moments and the timestep.
func (a *Adam) Reset() {
	a.t = 0
	a.m, a.v = nil, nil
}
