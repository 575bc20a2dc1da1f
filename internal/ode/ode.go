// Package ode defines the contract between the integrator and its numerical
// backends.
//
// A backend advances an explicit first-order system x' = f(t, x) over an
// interval with adaptive step control and reports every accepted step to an
// Observer. It returns an immutable Memory snapshot that is sufficient to
// resume stepping from the final time, which is what checkpoints store.
package ode

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// System is the right-hand side handed to a backend.
type System struct {
	// Dim is the number of states.
	Dim int

	// ErrorDim is the number of leading states under error control.
	// Zero means all states.
	ErrorDim int

	// RHS writes f(t, x) into dxdt.
	RHS func(t float64, x, dxdt []float64) error

	// Jacobian writes df/dx (Dim x Dim) into jac. Optional; implicit
	// backends fall back to finite differences when it is nil.
	Jacobian func(t float64, x []float64, jac *mat.Dense) error
}

// Controlled returns the number of states under error control.
func (s System) Controlled() int {
	if s.ErrorDim <= 0 || s.ErrorDim > s.Dim {
		return s.Dim
	}
	return s.ErrorDim
}

// Memory is an immutable backend snapshot taken after an accepted step.
type Memory interface {
	// Time returns the time the snapshot was taken at.
	Time() float64
	// StepSize returns the step size the backend proposes next.
	StepSize() float64
}

// Observer is called after every accepted step with the new time, state and
// backend snapshot. x must not be retained. Returning an error aborts the
// integration.
type Observer func(t float64, x []float64, mem Memory) error

// Stats counts the work done by one Integrate call.
type Stats struct {
	Steps         int
	RejectedSteps int
	RHSEvals      int
	JacobianEvals int
	NewtonIters   int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Steps += other.Steps
	s.RejectedSteps += other.RejectedSteps
	s.RHSEvals += other.RHSEvals
	s.JacobianEvals += other.JacobianEvals
	s.NewtonIters += other.NewtonIters
}

// Stepper is an integration backend.
type Stepper interface {
	// Name identifies the backend.
	Name() string

	// Integrate advances x in place from tFrom to tTo >= tFrom. mem, if
	// non-nil, resumes step-size history from a previous call ending at tFrom.
	// obs may be nil.
	Integrate(ctx context.Context, sys System, x []float64, tFrom, tTo float64, mem Memory, obs Observer) (Memory, Stats, error)
}
