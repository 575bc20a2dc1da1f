package function_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/function"
	"github.com/born-ml/sensim/internal/tensor"
)

// blackBox hides a Function behind a numeric reverse routine, the way an
// integrator does.
type blackBox struct {
	*function.Function
}

func (b blackBox) Reverse(nadj int) (expr.Callable, error) {
	if nadj == 0 {
		return b, nil
	}
	rev, err := b.ReverseFunction(nadj)
	if err != nil {
		return nil, err
	}
	return function.NewAdjoint(b, nadj, rev.Eval), nil
}

func model(t *testing.T) *function.Function {
	t.Helper()
	x := expr.Column("x", 2)
	p := expr.Scalar("p")
	x0 := expr.Must(expr.Element(x, 0))
	x1 := expr.Must(expr.Element(x, 1))
	y0 := expr.Must(expr.Mul(expr.Exp(expr.Must(expr.Mul(p, x0))), x1))
	y1 := expr.Must(expr.Mul(expr.Sin(x1), expr.Must(expr.Mul(p, p))))
	return function.MustNew("model", []*expr.Node{x, p}, []*expr.Node{expr.Must(expr.Vertcat(y0, y1))})
}

// wrap builds (x, p) -> sum(weights .* f(x, p)) through a call of f.
func wrap(t *testing.T, f expr.Callable) *function.Function {
	t.Helper()
	x := expr.Column("x", 2)
	p := expr.Scalar("p")
	out, err := expr.Call(f, x, p)
	require.NoError(t, err)
	s, err := expr.Dot(out[0], expr.Const(tensor.Column(1.5, -0.5)))
	require.NoError(t, err)
	return function.MustNew("wrapped", []*expr.Node{x, p}, []*expr.Node{s})
}

func TestAdjointShapes(t *testing.T) {
	f := model(t)
	a := function.NewAdjoint(f, 2, nil)
	assert.Equal(t, 2+2*1, a.NumIn())
	assert.Equal(t, 1+2*2, a.NumOut())
	assert.Equal(t, tensor.NewShape(2, 1), a.InputShape(2))
	assert.Equal(t, tensor.NewShape(1, 1), a.OutputShape(2))
	assert.Equal(t, tensor.NewShape(2, 1), a.OutputShape(3))
	assert.Equal(t, "adj2_model", a.Name())
	assert.Panics(t, func() { function.NewAdjoint(f, 0, nil) })
}

// TestAdjointSecondOrder differentiates through the numeric adjoint twice
// and compares with derivatives of the transparent graph.
func TestAdjointSecondOrder(t *testing.T) {
	f := model(t)
	open := wrap(t, f)
	closed := wrap(t, blackBox{f})
	args := []*tensor.Dense{tensor.Column(0.4, 1.3), tensor.Scalar(0.8)}

	for in := 0; in < 2; in++ {
		want, err := function.Hessian(open, in, 0)
		require.NoError(t, err)
		got, err := function.Hessian(closed, in, 0)
		require.NoError(t, err)
		assert.True(t, tensor.AllClose(eval1(t, want, args...), eval1(t, got, args...), 1e-10, 1e-12), "input %d", in)
	}

	// Reverse over reverse: the adjoint-mode Jacobian of the gradient.
	g, err := function.GradientExpr(closed, 0, 0)
	require.NoError(t, err)
	gf := function.MustNew("grad", closed.Inputs(), []*expr.Node{g})
	hr, err := function.Jacobian(gf, 0, 0, function.ModeAdjoint)
	require.NoError(t, err)
	hw, err := function.Hessian(open, 0, 0)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(eval1(t, hw, args...), eval1(t, hr, args...), 1e-10, 1e-12))

	// Mixed second derivatives with respect to x then p.
	hm, err := function.Jacobian(gf, 1, 0, function.ModeAdjoint)
	require.NoError(t, err)
	gw, err := function.GradientExpr(open, 0, 0)
	require.NoError(t, err)
	hmw, err := function.Jacobian(function.MustNew("gw", open.Inputs(), []*expr.Node{gw}), 1, 0, function.ModeForward)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(eval1(t, hmw, args...), eval1(t, hm, args...), 1e-10, 1e-12))
}

func TestAdjointEvalChecksArguments(t *testing.T) {
	f := model(t)
	rev, err := blackBox{f}.Reverse(1)
	require.NoError(t, err)
	_, err = rev.Eval(context.Background(), []*tensor.Dense{tensor.Column(1, 2)})
	assert.ErrorIs(t, err, expr.ErrIndex)

	out, err := rev.Eval(context.Background(), []*tensor.Dense{tensor.Column(0.4, 1.3), tensor.Scalar(0.8), tensor.Column(1, 0)})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, tensor.NewShape(2, 1), out[1].Shape())
	assert.Equal(t, tensor.NewShape(1, 1), out[2].Shape())
}
