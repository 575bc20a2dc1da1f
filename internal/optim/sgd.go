package optim

import "github.com/born-ml/sensim/internal/tensor"

// SGD implements gradient descent with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
//
// Example:
//
//	opt := optim.NewSGD(optim.SGDConfig{
//	    LR:       0.01,
//	    Momentum: 0.9,
//	})
type SGD struct {
	lr       float64
	momentum float64
	velocity [][]float64
}

var _ Optimizer = (*SGD)(nil)

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR       float64 // Learning rate (default: 0.01)
	Momentum float64 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD optimizer. A zero LR selects 0.01.
func NewSGD(config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{lr: config.LR, momentum: config.Momentum}
}

// Step performs a single optimization step.
func (s *SGD) Step(params, grads []*tensor.Dense) error {
	if s.momentum == 0 {
		if err := checkStep("sgd", params, grads); err != nil {
			return err
		}
		for i, p := range params {
			if grads[i] == nil {
				continue
			}
			pd, gd := p.Data(), grads[i].Data()
			for k := range pd {
				pd[k] -= s.lr * gd[k]
			}
		}
		return nil
	}

	if err := checkStep("sgd", params, grads, &s.velocity); err != nil {
		return err
	}
	for i, p := range params {
		if grads[i] == nil {
			continue
		}
		pd, gd, v := p.Data(), grads[i].Data(), s.velocity[i]
		for k := range pd {
			v[k] = s.momentum*v[k] + gd[k]
			pd[k] -= s.lr * v[k]
		}
	}
	return nil
}

// LR returns the current learning rate.
func (s *SGD) LR() float64 { return s.lr }

// SetLR updates the learning rate.
func (s *SGD) SetLR(lr float64) { s.lr = lr }

// Reset clears the velocities.
func (s *SGD) Reset() { s.velocity = nil }
