// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff exposes the forward and reverse sweeps used to
// differentiate compiled expression graphs.
//
// The sweeps are generic over an Algebra: Numeric evaluates on dense
// matrices, Symbolic builds new expression graphs. Most callers use the
// derivative Functions of package sym instead.
//
// Example:
//
//	x := sym.Column("x", 2)
//	prog, err := autodiff.Compile([]*sym.Node{x}, []*sym.Node{sym.Sum(sym.Exp(x))})
//	_, grads, err := autodiff.Reverse[*tensor.Dense](ctx, autodiff.Numeric{}, prog,
//	    []*tensor.Dense{tensor.Column(0, 1)}, [][]*tensor.Dense{{tensor.Scalar(1)}})
package autodiff

import (
	"context"

	"github.com/born-ml/sensim/internal/autodiff"
	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/tensor"
)

// Algebra is the value domain of a sweep.
type Algebra[V any] = autodiff.Algebra[V]

// Numeric evaluates on dense matrices.
type Numeric = autodiff.Numeric

// Symbolic builds expression graphs.
type Symbolic = autodiff.Symbolic

// Program is a compiled expression graph.
type Program = expr.Algorithm

// Compile closes the graph reachable from outputs over inputs.
func Compile(inputs, outputs []*expr.Node) (*Program, error) {
	return expr.Compile(inputs, outputs)
}

// Eval evaluates prog.
func Eval[V any](ctx context.Context, alg Algebra[V], prog *Program, inputs []V) ([]V, error) {
	return autodiff.Eval(ctx, alg, prog, inputs)
}

// Forward evaluates prog with len(seeds) tangent directions.
func Forward[V any](ctx context.Context, alg Algebra[V], prog *Program, inputs []V, seeds [][]V) ([]V, [][]V, error) {
	return autodiff.Forward(ctx, alg, prog, inputs, seeds)
}

// Reverse evaluates prog and propagates len(seeds) adjoint directions.
func Reverse[V any](ctx context.Context, alg Algebra[V], prog *Program, inputs []V, seeds [][]V) ([]V, [][]V, error) {
	return autodiff.Reverse(ctx, alg, prog, inputs, seeds)
}

// Gradient returns the gradient of the scalar output out of prog with
// respect to every input, evaluated numerically.
func Gradient(ctx context.Context, prog *Program, inputs []*tensor.Dense, out int) ([]*tensor.Dense, error) {
	seeds := make([]*tensor.Dense, len(prog.Outputs))
	seeds[out] = tensor.Scalar(1)
	_, sens, err := autodiff.Reverse[*tensor.Dense](ctx, autodiff.Numeric{}, prog, inputs, [][]*tensor.Dense{seeds})
	if err != nil {
		return nil, err
	}
	return sens[0], nil
}
