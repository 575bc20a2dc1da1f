package ode

import (
	"context"
	"errors"
	"fmt"
)

// ErrIntegration is matched by every IntegrationFailure.
var ErrIntegration = errors.New("integration failed")

// Reason classifies an integration failure.
type Reason int

const (
	// NonConvergence means an implicit corrector or algebraic solve failed.
	NonConvergence Reason = iota + 1
	// StepUnderflow means the step size fell below the minimum step.
	StepUnderflow
	// TooManySteps means the step budget was exhausted.
	TooManySteps
	// NonFinite means the right-hand side produced NaN or Inf.
	NonFinite
	// Cancelled means the context was cancelled between steps.
	Cancelled
	// RHSFailure means evaluating the right-hand side returned an error.
	RHSFailure
)

func (r Reason) String() string {
	switch r {
	case NonConvergence:
		return "non-convergence"
	case StepUnderflow:
		return "step size underflow"
	case TooManySteps:
		return "too many steps"
	case NonFinite:
		return "non-finite values"
	case Cancelled:
		return "cancelled"
	case RHSFailure:
		return "right-hand side failure"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// IntegrationFailure reports why a backend stopped and the last time it
// reached successfully. Partial results are never returned with it.
type IntegrationFailure struct {
	Reason Reason
	Time   float64
	Err    error
}

func (e *IntegrationFailure) Error() string {
	msg := fmt.Sprintf("integration failed: %s (last successful time %g)", e.Reason, e.Time)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *IntegrationFailure) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrIntegration) true.
func (e *IntegrationFailure) Is(target error) bool { return target == ErrIntegration }

// Fail builds an IntegrationFailure.
func Fail(reason Reason, t float64, cause error) *IntegrationFailure {
	return &IntegrationFailure{Reason: reason, Time: t, Err: cause}
}

// FailRHS classifies an error returned by the right-hand side. Failures
// raised by nested integrations and cancellations keep their reason.
func FailRHS(t float64, err error) *IntegrationFailure {
	var f *IntegrationFailure
	if errors.As(err, &f) {
		return &IntegrationFailure{Reason: f.Reason, Time: t, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fail(Cancelled, t, err)
	}
	return Fail(RHSFailure, t, err)
}

// CheckContext returns a Cancelled failure at time t if ctx is done.
func CheckContext(ctx context.Context, t float64) error {
	if err := ctx.Err(); err != nil {
		return Fail(Cancelled, t, err)
	}
	return nil
}
