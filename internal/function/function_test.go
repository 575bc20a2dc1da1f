package function_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/function"
	"github.com/born-ml/sensim/internal/parallel"
	"github.com/born-ml/sensim/internal/tensor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// rosen is the Rosenbrock function of a 2-vector, with a second output.
func rosen(t *testing.T) *function.Function {
	t.Helper()
	x := expr.Column("x", 2)
	x0 := expr.Must(expr.Element(x, 0))
	x1 := expr.Must(expr.Element(x, 1))
	a := expr.Must(expr.Sub(expr.ConstScalar(1), x0))
	b := expr.Must(expr.Sub(x1, expr.Must(expr.Mul(x0, x0))))
	f := expr.Must(expr.Add(expr.Must(expr.Mul(a, a)), expr.Must(expr.Mul(expr.ConstScalar(100), expr.Must(expr.Mul(b, b))))))
	g := expr.Must(expr.Vertcat(expr.Sin(x0), expr.Must(expr.Mul(x0, x1)), x1))
	return function.MustNew("rosen", []*expr.Node{x}, []*expr.Node{f, g})
}

func eval1(t *testing.T, f *function.Function, args ...*tensor.Dense) *tensor.Dense {
	t.Helper()
	out, err := f.Eval(context.Background(), args)
	require.NoError(t, err)
	return out[0]
}

var at = tensor.Column(0.7, -0.3)

func TestEval(t *testing.T) {
	f := rosen(t)
	out, err := f.Eval(context.Background(), []*tensor.Dense{at})
	require.NoError(t, err)
	want := (1-0.7)*(1-0.7) + 100*(-0.3-0.49)*(-0.3-0.49)
	assert.InDelta(t, want, out[0].Value(), 1e-12)
	assert.Equal(t, []float64{math.Sin(0.7), 0.7 * -0.3, -0.3}, out[1].Data())
	assert.Equal(t, "rosen:(x[2x1])->(o0[1x1],o1[3x1])", f.String())
}

func TestEvalArgumentErrors(t *testing.T) {
	f := rosen(t)
	_, err := f.Eval(context.Background(), nil)
	assert.ErrorIs(t, err, expr.ErrIndex)
	_, err = f.Eval(context.Background(), []*tensor.Dense{tensor.Column(1, 2, 3)})
	assert.ErrorIs(t, err, expr.ErrShapeMismatch)
	_, err = f.Eval(context.Background(), []*tensor.Dense{nil})
	assert.ErrorIs(t, err, expr.ErrInvalidInput)
}

func TestNewFreeVariable(t *testing.T) {
	x := expr.Scalar("x")
	y := expr.Scalar("y")
	_, err := function.New("f", []*expr.Node{x}, []*expr.Node{expr.Must(expr.Add(x, y))})
	assert.ErrorIs(t, err, expr.ErrFreeVariable)
}

func TestJacobianModesAgree(t *testing.T) {
	f := rosen(t)
	for out := 0; out < 2; out++ {
		jf, err := function.Jacobian(f, 0, out, function.ModeForward)
		require.NoError(t, err)
		ja, err := function.Jacobian(f, 0, out, function.ModeAdjoint)
		require.NoError(t, err)
		fwd, adj := eval1(t, jf, at), eval1(t, ja, at)
		assert.Equal(t, tensor.NewShape(f.OutputShape(out).NumElements(), 2), fwd.Shape())
		assert.True(t, tensor.AllClose(fwd, adj, 1e-12, 1e-12), "output %d: %v vs %v", out, fwd, adj)
	}

	j, err := function.Jacobian(f, 0, 1, function.ModeAuto)
	require.NoError(t, err)
	want := mustRows(t, [][]float64{{math.Cos(0.7), 0}, {-0.3, 0.7}, {0, 1}})
	assert.True(t, tensor.AllClose(want, eval1(t, j, at), 1e-12, 1e-12))
}

func mustRows(t *testing.T, rows [][]float64) *tensor.Dense {
	t.Helper()
	d, err := tensor.FromRows(rows)
	require.NoError(t, err)
	return d
}

func TestHessian(t *testing.T) {
	f := rosen(t)
	h, err := function.Hessian(f, 0, 0)
	require.NoError(t, err)
	got := eval1(t, h, at)

	x0, x1 := 0.7, -0.3
	want := mustRows(t, [][]float64{
		{2 - 400*(x1-x0*x0) + 800*x0*x0, -400 * x0},
		{-400 * x0, 200},
	})
	assert.True(t, tensor.AllClose(want, got, 1e-10, 1e-10), "got %v", got)
	assert.InDelta(t, got.At(0, 1), got.At(1, 0), 1e-12)

	grad, err := function.GradientExpr(f, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, tensor.NewShape(2, 1), grad.Shape())
}

func TestJacobianIndexErrors(t *testing.T) {
	f := rosen(t)
	_, err := function.JacobianExpr(f, 1, 0, function.ModeAuto)
	var ie *expr.IndexError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "input", ie.Kind)
	_, err = function.JacobianExpr(f, 0, 2, function.ModeAuto)
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "output", ie.Kind)
}

func TestJacobianEmpty(t *testing.T) {
	x := expr.Column("x", 2)
	e := expr.Column("e", 0)
	f := function.MustNew("f", []*expr.Node{x, e}, []*expr.Node{expr.Sum(x)})
	j, err := function.JacobianExpr(f, 1, 0, function.ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, tensor.NewShape(1, 0), j.Shape())
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]function.Mode{
		"": function.ModeAuto, "auto": function.ModeAuto,
		"fwd": function.ModeForward, "forward": function.ModeForward,
		"reverse": function.ModeAdjoint, "adjoint": function.ModeAdjoint,
	} {
		got, err := function.ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := function.ParseMode("sideways")
	assert.Error(t, err)
	assert.Equal(t, "forward", function.ModeForward.String())
}

func TestDerivativeFunctionsCached(t *testing.T) {
	f := rosen(t)
	a, err := f.ForwardFunction(3)
	require.NoError(t, err)
	b, err := f.ForwardFunction(3)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1+3, a.NumIn())
	assert.Equal(t, 2+3*2, a.NumOut())

	r, err := f.ReverseFunction(2)
	require.NoError(t, err)
	assert.Equal(t, 1+2*2, r.NumIn())
	assert.Equal(t, 2+2, r.NumOut())

	_, err = f.ReverseFunction(-1)
	assert.ErrorIs(t, err, expr.ErrIndex)
}

func TestCallAndInline(t *testing.T) {
	f := rosen(t)
	y := expr.Column("y", 2)
	called, err := f.Call(y)
	require.NoError(t, err)
	inlined, err := f.Inline(y)
	require.NoError(t, err)

	g := function.MustNew("g", []*expr.Node{y}, []*expr.Node{called[0], inlined[0]})
	out, err := g.Eval(context.Background(), []*tensor.Dense{at})
	require.NoError(t, err)
	assert.Equal(t, out[0].Value(), out[1].Value())
	assert.Greater(t, g.NumInstructions(), f.NumInstructions())

	// Derivatives flow through the call boundary.
	jc, err := function.Hessian(function.MustNew("gc", []*expr.Node{y}, []*expr.Node{called[0]}), 0, 0)
	require.NoError(t, err)
	ji, err := function.Hessian(function.MustNew("gi", []*expr.Node{y}, []*expr.Node{inlined[0]}), 0, 0)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(eval1(t, jc, at), eval1(t, ji, at), 1e-10, 1e-10))
}

func TestNumericCall(t *testing.T) {
	f := rosen(t)
	c := function.NewCall(f)
	require.NoError(t, c.SetInput(0, at))
	require.NoError(t, c.SetFwdSeed(0, 0, tensor.Column(1, 0)))
	require.NoError(t, c.SetFwdSeed(1, 0, tensor.Column(0, 1)))
	require.NoError(t, c.SetAdjSeed(0, 0, tensor.Scalar(1)))
	require.NoError(t, c.Evaluate(context.Background(), 2, 1))

	grad, err := c.AdjSens(0, 0)
	require.NoError(t, err)
	d0, err := c.FwdSens(0, 0)
	require.NoError(t, err)
	d1, err := c.FwdSens(1, 0)
	require.NoError(t, err)
	assert.InDelta(t, grad.At(0, 0), d0.Value(), 1e-12)
	assert.InDelta(t, grad.At(1, 0), d1.Value(), 1e-12)

	_, err = c.FwdSens(2, 0)
	assert.ErrorIs(t, err, expr.ErrIndex)
	_, err = c.AdjSens(0, 1)
	assert.ErrorIs(t, err, expr.ErrIndex)
	_, err = c.Output(5)
	assert.ErrorIs(t, err, expr.ErrIndex)
	assert.ErrorIs(t, c.SetInput(0, tensor.Scalar(1)), expr.ErrShapeMismatch)
	assert.ErrorIs(t, c.SetAdjSeed(0, 3, tensor.Scalar(1)), expr.ErrIndex)
	assert.ErrorIs(t, c.Evaluate(context.Background(), -1, 0), expr.ErrIndex)
}

func TestMap(t *testing.T) {
	x := expr.Column("x", 2)
	p := expr.Scalar("p")
	f := function.MustNew("scale", []*expr.Node{x, p}, []*expr.Node{expr.Must(expr.Mul(expr.Sin(x), p))})

	cfg := parallel.DefaultConfig()
	cfg.Enabled, cfg.NumWorkers = true, 4
	m, err := function.Map(f, 8, cfg)
	require.NoError(t, err)
	serial, err := function.Map(f, 8, parallel.Serial())
	require.NoError(t, err)
	assert.Equal(t, tensor.NewShape(2, 8), m.InputShape(0))
	assert.Equal(t, tensor.NewShape(1, 8), m.InputShape(1))

	xs := tensor.Zeros(tensor.NewShape(2, 8))
	ps := tensor.Zeros(tensor.NewShape(1, 8))
	for j := 0; j < 8; j++ {
		xs.Set(0, j, float64(j))
		xs.Set(1, j, -float64(j)/2)
		ps.Set(0, j, float64(j+1))
	}
	got, err := m.Eval(context.Background(), []*tensor.Dense{xs, ps})
	require.NoError(t, err)
	want, err := serial.Eval(context.Background(), []*tensor.Dense{xs, ps})
	require.NoError(t, err)
	assert.Equal(t, want[0].Data(), got[0].Data())
	for j := 0; j < 8; j++ {
		assert.InDelta(t, math.Sin(float64(j))*float64(j+1), got[0].At(0, j), 1e-12)
	}

	// The map is differentiable like any other callable.
	xs2 := expr.SymLike("xs", m.InputShape(0))
	ps2 := expr.SymLike("ps", m.InputShape(1))
	out, err := expr.Call(m, xs2, ps2)
	require.NoError(t, err)
	g := function.MustNew("g", []*expr.Node{xs2, ps2}, []*expr.Node{expr.Sum(out[0])})
	jf, err := function.Jacobian(g, 1, 0, function.ModeForward)
	require.NoError(t, err)
	ja, err := function.Jacobian(g, 1, 0, function.ModeAdjoint)
	require.NoError(t, err)
	jfv, jav := eval1(t, jf, xs, ps), eval1(t, ja, xs, ps)
	assert.True(t, tensor.AllClose(jfv, jav, 1e-12, 1e-12))
	for j := 0; j < 8; j++ {
		assert.InDelta(t, math.Sin(float64(j))+math.Sin(-float64(j)/2), jfv.At(0, j), 1e-12)
	}

	_, err = function.Map(f, 0, cfg)
	assert.ErrorIs(t, err, expr.ErrIndex)
}
