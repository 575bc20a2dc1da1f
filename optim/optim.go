// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim

import (
	"context"

	"github.com/born-ml/sensim/internal/fit"
	"github.com/born-ml/sensim/internal/integrator"
	"github.com/born-ml/sensim/internal/optim"
	"github.com/born-ml/sensim/internal/tensor"
)

// Optimizer interface defines the common interface for all optimizers.
type Optimizer = optim.Optimizer

// Config represents the base configuration for optimizers.
type Config = optim.Config

// SGD represents the SGD optimizer with optional momentum.
type SGD = optim.SGD

// SGDConfig contains configuration for SGD optimizer.
type SGDConfig = optim.SGDConfig

// NewSGD creates a new SGD optimizer.
func NewSGD(config SGDConfig) *SGD { return optim.NewSGD(config) }

// Adam represents the Adam optimizer.
type Adam = optim.Adam

// AdamConfig contains configuration for Adam optimizer.
type AdamConfig = optim.AdamConfig

// NewAdam creates a new Adam optimizer.
func NewAdam(config AdamConfig) *Adam { return optim.NewAdam(config) }

// FitConfig controls FitParameters.
type FitConfig = fit.Config

// FitResult is the outcome of FitParameters.
type FitResult = fit.Result

// ErrDiverged is returned when the fit objective stops being finite.
var ErrDiverged = fit.ErrDiverged

// FitParameters fits p so that the final state of ig from (x0, p, z0)
// matches target in least squares, starting from p0.
func FitParameters(ctx context.Context, ig *integrator.Integrator, x0, z0, target, p0 *tensor.Dense, opt Optimizer, cfg FitConfig) (*FitResult, error) {
	return fit.Parameters(ctx, ig, x0, z0, target, p0, opt, cfg)
}
