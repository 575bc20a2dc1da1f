// Package optim implements first-order optimizers over dense parameter
// matrices.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Gradient descent with momentum
//   - Adam: Adaptive Moment Estimation
//
// Parameters are updated in place. Optimizer state is keyed by the position
// of each parameter in the slice passed to Step, so callers must pass the
// same parameters in the same order on every step.
//
// Example usage:
//
//	opt := optim.NewAdam(optim.AdamConfig{LR: 0.05})
//	for range iterations {
//	    grads := gradient(params)
//	    if err := opt.Step(params, grads); err != nil {
//	        return err
//	    }
//	}
package optim

import (
	"fmt"

	"github.com/born-ml/sensim/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies one update to params given grads of the same length
	// and shapes. A nil gradient leaves its parameter unchanged.
	Step(params, grads []*tensor.Dense) error

	// LR returns the current learning rate.
	LR() float64

	// SetLR updates the learning rate, for scheduling.
	SetLR(lr float64)

	// Reset clears accumulated state such as moments and velocities.
	Reset()
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float64 // Learning rate
}

// checkStep validates a parameter/gradient pairing and allocates the
// per-parameter state slices on first use.
func checkStep(name string, params, grads []*tensor.Dense, state ...*[][]float64) error {
	if len(params) != len(grads) {
		return fmt.Errorf("%s: %d parameters with %d gradients", name, len(params), len(grads))
	}
	for i, p := range params {
		if p == nil {
			return fmt.Errorf("%s: parameter %d is nil", name, i)
		}
		if g := grads[i]; g != nil && !g.Shape().Equal(p.Shape()) {
			return &tensor.ShapeError{Op: name, Shapes: []tensor.Shape{p.Shape(), g.Shape()}, Msg: fmt.Sprintf("gradient %d does not match its parameter", i)}
		}
	}
	for _, s := range state {
		if *s == nil {
			*s = make([][]float64, len(params))
		}
		if len(*s) != len(params) {
			return fmt.Errorf("%s: parameter count changed from %d to %d", name, len(*s), len(params))
		}
		for i, p := range params {
			if (*s)[i] == nil {
				(*s)[i] = make([]float64, p.Len())
			}
			if len((*s)[i]) != p.Len() {
				return fmt.Errorf("%s: parameter %d changed size from %d to %d", name, i, len((*s)[i]), p.Len())
			}
		}
	}
	return nil
}
