// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides first-order optimizers and least-squares parameter
// estimation for integrators.
//
// # Overview
//
// This package contains:
//   - SGD: Gradient descent with momentum
//   - Adam: Adaptive Moment Estimation with bias correction
//   - FitParameters: fit integrator parameters to a final state using
//     adjoint gradients
//
// # Basic Usage
//
//	ig, _ := integrator.New("growth", dae, integrator.DefaultOptions())
//	res, err := optim.FitParameters(ctx, ig, x0, nil, target, p0,
//	    optim.NewAdam(optim.AdamConfig{LR: 0.05}),
//	    optim.FitConfig{MaxIterations: 300})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.P)
//
// Optimizers update parameters in place and keep per-parameter state by
// position, so every Step must see the same parameters in the same order.
package optim
