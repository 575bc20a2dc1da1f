// Package autodiff implements evaluation and automatic differentiation of
// compiled expression graphs.
//
// The sweeps are written once against an Algebra, an interpretation of the
// graph operations over some value type:
//
//   - Numeric evaluates over dense matrices
//   - Symbolic evaluates over expression nodes and so builds new graphs
//
// Running the forward sweep symbolically yields the graph of a forward
// derivative; running the reverse sweep symbolically yields the graph of an
// adjoint derivative. Both are plain graphs and can be differentiated again.
//
// Usage:
//
//	alg, _ := expr.Compile(inputs, outputs)
//	outs, sens, err := autodiff.Forward[*tensor.Dense](ctx, autodiff.Numeric{}, alg, args, seeds)
//
// Absent derivatives are structural zeros: a missing seed (nil) is never
// materialized, and operations whose operand tangents or adjoints are all
// absent are skipped.
package autodiff

import (
	"context"

	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/tensor"
)

// Algebra interprets graph operations over values of type V.
//
// The zero value of V stands for an absent value: Valid reports false for it.
type Algebra[V any] interface {
	Valid(v V) bool
	Shape(v V) tensor.Shape
	Const(d *tensor.Dense) V
	Unary(op expr.Op, a V) V
	Binary(op expr.Op, a, b V) (V, error)
	MatMul(a, b V) (V, error)
	Transpose(a V) V
	Reshape(a V, s tensor.Shape) (V, error)
	Concat(op expr.Op, parts []V) (V, error)
	Block(a V, r0, r1, c0, c1 int) (V, error)
	Embed(a V, s tensor.Shape, r0, c0 int) (V, error)
	Sum(a V) V
	Solve(a, b V) (V, error)
	Call(ctx context.Context, f expr.Callable, args []V) ([]V, error)
}

// Numeric evaluates graphs over dense matrices.
type Numeric struct{}

var _ Algebra[*tensor.Dense] = Numeric{}

func (Numeric) Valid(v *tensor.Dense) bool         { return v != nil }
func (Numeric) Shape(v *tensor.Dense) tensor.Shape { return v.Shape() }
func (Numeric) Const(d *tensor.Dense) *tensor.Dense {
	return d
}
func (Numeric) Unary(op expr.Op, a *tensor.Dense) *tensor.Dense {
	return expr.UnaryKernel(op)(a)
}
func (Numeric) Binary(op expr.Op, a, b *tensor.Dense) (*tensor.Dense, error) {
	return expr.BinaryKernel(op)(a, b)
}
func (Numeric) MatMul(a, b *tensor.Dense) (*tensor.Dense, error) { return tensor.MatMul(a, b) }
func (Numeric) Transpose(a *tensor.Dense) *tensor.Dense           { return tensor.Transpose(a) }
func (Numeric) Reshape(a *tensor.Dense, s tensor.Shape) (*tensor.Dense, error) {
	return tensor.Reshape(a, s)
}
func (Numeric) Concat(op expr.Op, parts []*tensor.Dense) (*tensor.Dense, error) {
	if op == expr.OpVertcat {
		return tensor.Vertcat(parts...)
	}
	return tensor.Horzcat(parts...)
}
func (Numeric) Block(a *tensor.Dense, r0, r1, c0, c1 int) (*tensor.Dense, error) {
	return tensor.Block(a, r0, r1, c0, c1)
}
func (Numeric) Embed(a *tensor.Dense, s tensor.Shape, r0, c0 int) (*tensor.Dense, error) {
	return tensor.Embed(a, s, r0, c0)
}
func (Numeric) Sum(a *tensor.Dense) *tensor.Dense                { return tensor.Sum(a) }
func (Numeric) Solve(a, b *tensor.Dense) (*tensor.Dense, error) { return tensor.Solve(a, b) }
func (Numeric) Call(ctx context.Context, f expr.Callable, args []*tensor.Dense) ([]*tensor.Dense, error) {
	return f.Eval(ctx, args)
}

// Symbolic evaluates graphs over expression nodes, producing new graphs.
// Operations on constants fold, and zero constants count as absent.
type Symbolic struct{}

var _ Algebra[*expr.Node] = Symbolic{}

func (Symbolic) Valid(v *expr.Node) bool         { return v != nil && !v.IsZero() }
func (Symbolic) Shape(v *expr.Node) tensor.Shape { return v.Shape() }
func (Symbolic) Const(d *tensor.Dense) *expr.Node {
	return expr.Const(d)
}
func (Symbolic) Unary(op expr.Op, a *expr.Node) *expr.Node {
	return expr.Unary(op, a)
}
func (Symbolic) Binary(op expr.Op, a, b *expr.Node) (*expr.Node, error) {
	return expr.Binary(op, a, b)
}
func (Symbolic) MatMul(a, b *expr.Node) (*expr.Node, error) { return expr.MatMul(a, b) }
func (Symbolic) Transpose(a *expr.Node) *expr.Node           { return expr.Transpose(a) }
func (Symbolic) Reshape(a *expr.Node, s tensor.Shape) (*expr.Node, error) {
	return expr.Reshape(a, s)
}
func (Symbolic) Concat(op expr.Op, parts []*expr.Node) (*expr.Node, error) {
	if op == expr.OpVertcat {
		return expr.Vertcat(parts...)
	}
	return expr.Horzcat(parts...)
}
func (Symbolic) Block(a *expr.Node, r0, r1, c0, c1 int) (*expr.Node, error) {
	return expr.Block(a, r0, r1, c0, c1)
}
func (Symbolic) Embed(a *expr.Node, s tensor.Shape, r0, c0 int) (*expr.Node, error) {
	return expr.Embed(a, s, r0, c0)
}
func (Symbolic) Sum(a *expr.Node) *expr.Node                { return expr.Sum(a) }
func (Symbolic) Solve(a, b *expr.Node) (*expr.Node, error) { return expr.Solve(a, b) }
func (Symbolic) Call(_ context.Context, f expr.Callable, args []*expr.Node) ([]*expr.Node, error) {
	return expr.Call(f, args...)
}
