// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package integrator integrates differential-algebraic systems with exact
// forward and adjoint sensitivities.
//
// An Integrator is a sym.Callable: it can be called from expression graphs
// and differentiated to any order.
//
// Example:
//
//	q := sym.Column("q", 1)
//	p := sym.Column("p", 1)
//	dae := integrator.DAE{X: q, P: p, ODE: sym.Must(sym.Mul(p, q))}
//	ig, err := integrator.New("growth", dae, integrator.DefaultOptions())
//	xf, _, err := ig.Run(ctx, tensor.Scalar(1), tensor.Scalar(0.5), nil)
//	x0bar, pbar, err := ig.Adjoint(ctx, tensor.Scalar(1), nil)
package integrator

import (
	"github.com/born-ml/sensim/internal/checkpoint"
	"github.com/born-ml/sensim/internal/function"
	"github.com/born-ml/sensim/internal/integrator"
	"github.com/born-ml/sensim/internal/ode"
)

// DAE is a semi-explicit index-1 differential-algebraic system.
type DAE = integrator.DAE

// Options configures an Integrator.
type Options = integrator.Options

// Integrator integrates a DAE over a fixed interval.
type Integrator = integrator.Integrator

// CheckpointStats reports checkpoint recording of the last Run.
type CheckpointStats = checkpoint.Stats

// Error types.
type (
	ConfigurationError = integrator.ConfigurationError
	SequenceError      = integrator.SequenceError
	IntegrationFailure = ode.IntegrationFailure
	FailureReason      = ode.Reason
)

// Failure reasons.
const (
	NonConvergence = ode.NonConvergence
	StepUnderflow  = ode.StepUnderflow
	TooManySteps   = ode.TooManySteps
	NonFinite      = ode.NonFinite
	Cancelled      = ode.Cancelled
	RHSFailure     = ode.RHSFailure
)

var (
	ErrConfiguration = integrator.ErrConfiguration
	ErrSequence      = integrator.ErrSequence
	ErrIntegration   = ode.ErrIntegration
)

// DefaultOptions returns the default configuration.
func DefaultOptions() Options { return integrator.DefaultOptions() }

// LoadOptions reads yaml options from path over the defaults.
func LoadOptions(path string) (Options, error) { return integrator.LoadOptions(path) }

// OptionsFromMap applies a flat option bag over the defaults.
func OptionsFromMap(m map[string]any) (Options, error) { return integrator.OptionsFromMap(m) }

// Backends returns the registered backend names.
func Backends() []string { return integrator.Backends() }

// New creates an integrator for dae.
func New(name string, dae DAE, opts Options) (*Integrator, error) {
	return integrator.New(name, dae, opts)
}

// ParameterizeTime maps dae onto the unit interval with the horizon ends as
// leading parameters.
func ParameterizeTime(dae DAE) (DAE, error) { return integrator.ParameterizeTime(dae) }

// NewHorizon returns a Function (x0, [t0; tf; p], z0) -> (xf, zf).
func NewHorizon(name string, dae DAE, opts Options) (*function.Function, error) {
	return integrator.NewHorizon(name, dae, opts)
}
