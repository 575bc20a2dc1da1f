// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package sym builds symbolic matrix expressions and closes them into
// differentiable Functions.
//
// Example:
//
//	x := sym.Column("x", 2)
//	y := sym.Must(sym.Mul(sym.Sin(x), x))
//	f, err := sym.NewFunction("f", []*sym.Node{x}, []*sym.Node{y})
//	jac, err := sym.Jacobian(f, 0, 0, sym.ModeAuto)
//	out, err := jac.Eval(ctx, []*tensor.Dense{tensor.Column(0.5, 1)})
package sym

import (
	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/function"
	"github.com/born-ml/sensim/internal/parallel"
	"github.com/born-ml/sensim/internal/tensor"
)

// Node is a vertex of an expression graph.
type Node = expr.Node

// Callable is anything a graph can call.
type Callable = expr.Callable

// Function is a compiled, immutable mapping from inputs to outputs.
type Function = function.Function

// Call is a stateful numeric evaluation with forward and adjoint seeds.
type Call = function.Call

// Mapped evaluates independent instances of a Callable.
type Mapped = function.Mapped

// Mode selects how a Jacobian is assembled.
type Mode = function.Mode

// Jacobian modes.
const (
	ModeAuto    = function.ModeAuto
	ModeForward = function.ModeForward
	ModeAdjoint = function.ModeAdjoint
)

// Error types and sentinels.
type (
	ShapeMismatchError = expr.ShapeMismatchError
	IndexError         = expr.IndexError
)

var (
	ErrShapeMismatch = expr.ErrShapeMismatch
	ErrIndex         = expr.ErrIndex
	ErrFreeVariable  = expr.ErrFreeVariable
	ErrInvalidInput  = expr.ErrInvalidInput
)

// Sym returns a rows x cols symbol.
func Sym(name string, rows, cols int) *Node { return expr.Sym(name, rows, cols) }

// Scalar returns a 1x1 symbol.
func Scalar(name string) *Node { return expr.Scalar(name) }

// Column returns an n x 1 symbol.
func Column(name string, n int) *Node { return expr.Column(name, n) }

// Const returns a constant node.
func Const(v *tensor.Dense) *Node { return expr.Const(v) }

// Must panics on error and returns n otherwise.
func Must(n *Node, err error) *Node { return expr.Must(n, err) }

func Neg(a *Node) *Node  { return expr.Neg(a) }
func Exp(a *Node) *Node  { return expr.Exp(a) }
func Log(a *Node) *Node  { return expr.Log(a) }
func Sin(a *Node) *Node  { return expr.Sin(a) }
func Cos(a *Node) *Node  { return expr.Cos(a) }
func Tan(a *Node) *Node  { return expr.Tan(a) }
func Tanh(a *Node) *Node { return expr.Tanh(a) }
func Sqrt(a *Node) *Node { return expr.Sqrt(a) }
func Sum(a *Node) *Node  { return expr.Sum(a) }
func Vec(a *Node) *Node  { return expr.Vec(a) }

// Transpose returns the transpose of a.
func Transpose(a *Node) *Node { return expr.Transpose(a) }

func Add(a, b *Node) (*Node, error)    { return expr.Add(a, b) }
func Sub(a, b *Node) (*Node, error)    { return expr.Sub(a, b) }
func Mul(a, b *Node) (*Node, error)    { return expr.Mul(a, b) }
func Div(a, b *Node) (*Node, error)    { return expr.Div(a, b) }
func Pow(a, b *Node) (*Node, error)    { return expr.Pow(a, b) }
func MatMul(a, b *Node) (*Node, error) { return expr.MatMul(a, b) }
func Solve(a, b *Node) (*Node, error)  { return expr.Solve(a, b) }
func Dot(a, b *Node) (*Node, error)    { return expr.Dot(a, b) }

// Reshape reinterprets a in column-major order.
func Reshape(a *Node, s tensor.Shape) (*Node, error) { return expr.Reshape(a, s) }

// Vertcat stacks parts vertically.
func Vertcat(parts ...*Node) (*Node, error) { return expr.Vertcat(parts...) }

// Horzcat stacks parts horizontally.
func Horzcat(parts ...*Node) (*Node, error) { return expr.Horzcat(parts...) }

// Block returns rows [r0, r1) and columns [c0, c1) of a.
func Block(a *Node, r0, r1, c0, c1 int) (*Node, error) { return expr.Block(a, r0, r1, c0, c1) }

// Element returns element k of a in column-major order.
func Element(a *Node, k int) (*Node, error) { return expr.Element(a, k) }

// CallNodes invokes f inside a graph.
func CallNodes(f Callable, args ...*Node) ([]*Node, error) { return expr.Call(f, args...) }

// NewFunction compiles a Function.
func NewFunction(name string, inputs, outputs []*Node) (*Function, error) {
	return function.New(name, inputs, outputs)
}

// Jacobian returns the Jacobian Function of output out with respect to input in.
func Jacobian(f *Function, in, out int, mode Mode) (*Function, error) {
	return function.Jacobian(f, in, out, mode)
}

// Hessian returns the Hessian Function of output out with respect to input in.
func Hessian(f *Function, in, out int) (*Function, error) { return function.Hessian(f, in, out) }

// Gradient returns the transposed Jacobian expression, built in adjoint mode.
func Gradient(f *Function, in, out int) (*Node, error) { return function.GradientExpr(f, in, out) }

// NewCall prepares a numeric call of f.
func NewCall(f Callable) *Call { return function.NewCall(f) }

// Map returns the n-instance map of f, evaluated on up to workers goroutines.
// workers <= 1 evaluates serially.
func Map(f Callable, n, workers int) (*Mapped, error) {
	cfg := parallel.Serial()
	if workers > 1 {
		cfg = parallel.DefaultConfig()
		cfg.Enabled, cfg.NumWorkers = true, workers
	}
	return function.Map(f, n, cfg)
}
