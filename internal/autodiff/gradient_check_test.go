package autodiff_test

import (
	"context"
	"math"
	"testing"

	"github.com/born-ml/sensim/internal/autodiff"
	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/tensor"
)

// gradCase builds one output from a 2x2 matrix x and a 2-vector y.
type gradCase struct {
	name  string
	build func(x, y *expr.Node) (*expr.Node, error)
}

func unary(f func(*expr.Node) *expr.Node) func(x, y *expr.Node) (*expr.Node, error) {
	return func(x, _ *expr.Node) (*expr.Node, error) { return f(x), nil }
}

var gradCases = []gradCase{
	{"neg", unary(expr.Neg)},
	{"exp", unary(expr.Exp)},
	{"log", unary(expr.Log)},
	{"sin", unary(expr.Sin)},
	{"cos", unary(expr.Cos)},
	{"tan", unary(expr.Tan)},
	{"tanh", unary(expr.Tanh)},
	{"sqrt", unary(expr.Sqrt)},
	{"add", func(x, y *expr.Node) (*expr.Node, error) { return expr.Add(x, expr.Transpose(y)) }},
	{"sub scalar", func(x, y *expr.Node) (*expr.Node, error) {
		e, err := expr.Element(y, 1)
		if err != nil {
			return nil, err
		}
		return expr.Sub(e, x)
	}},
	{"mul", func(x, y *expr.Node) (*expr.Node, error) { return expr.Mul(x, x) }},
	{"div", func(x, y *expr.Node) (*expr.Node, error) {
		yy, err := expr.Horzcat(y, y)
		if err != nil {
			return nil, err
		}
		return expr.Div(yy, x)
	}},
	{"pow", func(x, y *expr.Node) (*expr.Node, error) {
		e, err := expr.Element(y, 0)
		if err != nil {
			return nil, err
		}
		return expr.Pow(x, e)
	}},
	{"matmul", func(x, y *expr.Node) (*expr.Node, error) { return expr.MatMul(x, y) }},
	{"transpose matmul", func(x, y *expr.Node) (*expr.Node, error) {
		return expr.MatMul(expr.Transpose(y), x)
	}},
	{"reshape", func(x, y *expr.Node) (*expr.Node, error) {
		r, err := expr.Reshape(x, tensor.NewShape(1, 4))
		if err != nil {
			return nil, err
		}
		return expr.MatMul(r, expr.Vec(x))
	}},
	{"vertcat", func(x, y *expr.Node) (*expr.Node, error) {
		return expr.Vertcat(x, expr.Transpose(y), expr.Sin(x))
	}},
	{"block", func(x, y *expr.Node) (*expr.Node, error) {
		b, err := expr.Block(x, 0, 2, 1, 2)
		if err != nil {
			return nil, err
		}
		return expr.Mul(b, y)
	}},
	{"embed", func(x, y *expr.Node) (*expr.Node, error) {
		e, err := expr.Embed(y, tensor.NewShape(3, 2), 1, 1)
		if err != nil {
			return nil, err
		}
		return expr.Mul(e, expr.Sum(x))
	}},
	{"sum", func(x, y *expr.Node) (*expr.Node, error) { return expr.Dot(x, x) }},
	{"solve", func(x, y *expr.Node) (*expr.Node, error) { return expr.Solve(x, y) }},
	{"composite", func(x, y *expr.Node) (*expr.Node, error) {
		xy, err := expr.MatMul(x, y)
		if err != nil {
			return nil, err
		}
		e := expr.Exp(expr.Neg(xy))
		return expr.Dot(e, expr.Tanh(y))
	}},
}

var (
	xValue = mustRows([][]float64{{1.2, 0.4}, {0.7, 1.9}})
	yValue = tensor.Column(0.3, 1.1)
)

func mustRows(rows [][]float64) *tensor.Dense {
	d, err := tensor.FromRows(rows)
	if err != nil {
		panic(err)
	}
	return d
}

// numericalJacobian computes d vec(out) / d vec(input k) by central differences.
func numericalJacobian(t *testing.T, prog *expr.Algorithm, vals []*tensor.Dense, k int, eps float64) *tensor.Dense {
	t.Helper()
	ctx := context.Background()
	n := vals[k].Len()
	var jac *tensor.Dense
	for j := 0; j < n; j++ {
		shifted := func(delta float64) *tensor.Dense {
			in := append([]*tensor.Dense(nil), vals...)
			in[k] = vals[k].Clone()
			in[k].Data()[j] += delta
			out, err := autodiff.Eval[*tensor.Dense](ctx, autodiff.Numeric{}, prog, in)
			if err != nil {
				t.Fatalf("Eval: %v", err)
			}
			return out[0]
		}
		plus, minus := shifted(eps), shifted(-eps)
		if jac == nil {
			jac = tensor.Zeros(tensor.NewShape(plus.Len(), n))
		}
		for i := range plus.Data() {
			jac.Set(i, j, (plus.Data()[i]-minus.Data()[i])/(2*eps))
		}
	}
	return jac
}

func TestGradientCheck(t *testing.T) {
	ctx := context.Background()
	for _, tc := range gradCases {
		t.Run(tc.name, func(t *testing.T) {
			x := expr.Sym("x", 2, 2)
			y := expr.Column("y", 2)
			out, err := tc.build(x, y)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			prog, err := expr.Compile([]*expr.Node{x, y}, []*expr.Node{out})
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			vals := []*tensor.Dense{xValue, yValue}
			m := out.Shape().NumElements()

			for k := range vals {
				n := vals[k].Len()
				want := numericalJacobian(t, prog, vals, k, 1e-6)

				// Forward: one direction per input element.
				seeds := make([][]*tensor.Dense, n)
				for d := range seeds {
					seeds[d] = make([]*tensor.Dense, len(vals))
					seeds[d][k] = tensor.Unit(vals[k].Shape(), d)
				}
				_, fwd, err := autodiff.Forward[*tensor.Dense](ctx, autodiff.Numeric{}, prog, vals, seeds)
				if err != nil {
					t.Fatalf("Forward: %v", err)
				}

				// Reverse: one direction per output element.
				adj := make([][]*tensor.Dense, m)
				for d := range adj {
					adj[d] = []*tensor.Dense{tensor.Unit(out.Shape(), d)}
				}
				_, rev, err := autodiff.Reverse[*tensor.Dense](ctx, autodiff.Numeric{}, prog, vals, adj)
				if err != nil {
					t.Fatalf("Reverse: %v", err)
				}

				for i := 0; i < m; i++ {
					for j := 0; j < n; j++ {
						fd := want.At(i, j)
						tol := 1e-5 * (1 + math.Abs(fd))
						if got := fwd[j][0].Data()[i]; math.Abs(got-fd) > tol {
							t.Errorf("input %d: forward J[%d,%d] = %g, numerical %g", k, i, j, got, fd)
						}
						if got := rev[i][k].Data()[j]; math.Abs(got-fd) > tol {
							t.Errorf("input %d: reverse J[%d,%d] = %g, numerical %g", k, i, j, got, fd)
						}
					}
				}
			}
		})
	}
}

// TestSymbolicMatchesNumeric differentiates symbolically and evaluates the
// derivative graph, which must agree with the numeric sweep.
func TestSymbolicMatchesNumeric(t *testing.T) {
	ctx := context.Background()
	x := expr.Sym("x", 2, 2)
	y := expr.Column("y", 2)
	xy := expr.Must(expr.MatMul(x, y))
	out := expr.Must(expr.Mul(expr.Sin(xy), expr.Sum(x)))
	prog, err := expr.Compile([]*expr.Node{x, y}, []*expr.Node{out})
	if err != nil {
		t.Fatal(err)
	}

	vx := expr.Sym("vx", 2, 2)
	_, symSens, err := autodiff.Forward[*expr.Node](ctx, autodiff.Symbolic{}, prog, []*expr.Node{x, y}, [][]*expr.Node{{vx, nil}})
	if err != nil {
		t.Fatal(err)
	}
	dprog, err := expr.Compile([]*expr.Node{x, y, vx}, symSens[0])
	if err != nil {
		t.Fatal(err)
	}
	seed := mustRows([][]float64{{0.5, -1}, {2, 0.25}})
	got, err := autodiff.Eval[*tensor.Dense](ctx, autodiff.Numeric{}, dprog, []*tensor.Dense{xValue, yValue, seed})
	if err != nil {
		t.Fatal(err)
	}
	_, want, err := autodiff.Forward[*tensor.Dense](ctx, autodiff.Numeric{}, prog,
		[]*tensor.Dense{xValue, yValue}, [][]*tensor.Dense{{seed, nil}})
	if err != nil {
		t.Fatal(err)
	}
	if !tensor.AllClose(got[0], want[0][0], 1e-12, 1e-12) {
		t.Errorf("symbolic tangent = %v, numeric %v", got[0], want[0][0])
	}
}

func TestStructuralZeros(t *testing.T) {
	ctx := context.Background()
	x := expr.Scalar("x")
	y := expr.Scalar("y")
	prog, err := expr.Compile([]*expr.Node{x, y}, []*expr.Node{expr.Exp(x)})
	if err != nil {
		t.Fatal(err)
	}
	// A symbolic tangent along y alone is a literal zero constant.
	_, sens, err := autodiff.Forward[*expr.Node](ctx, autodiff.Symbolic{}, prog, []*expr.Node{x, y}, [][]*expr.Node{{nil, expr.ConstScalar(1)}})
	if err != nil {
		t.Fatal(err)
	}
	if !sens[0][0].IsZero() {
		t.Errorf("tangent along an unused input = %v, want structural zero", sens[0][0])
	}
	_, adj, err := autodiff.Reverse[*expr.Node](ctx, autodiff.Symbolic{}, prog, []*expr.Node{x, y}, [][]*expr.Node{{expr.ConstScalar(1)}})
	if err != nil {
		t.Fatal(err)
	}
	if !adj[0][1].IsZero() {
		t.Errorf("adjoint of an unused input = %v, want structural zero", adj[0][1])
	}
	if !adj[0][1].Shape().IsScalar() {
		t.Errorf("zero adjoint shape = %s, want 1x1", adj[0][1].Shape())
	}
}

func TestSeedCountMismatch(t *testing.T) {
	x := expr.Scalar("x")
	prog, err := expr.Compile([]*expr.Node{x}, []*expr.Node{expr.Sin(x)})
	if err != nil {
		t.Fatal(err)
	}
	vals := []*tensor.Dense{tensor.Scalar(1)}
	if _, _, err := autodiff.Forward[*tensor.Dense](context.Background(), autodiff.Numeric{}, prog, vals, [][]*tensor.Dense{{nil, nil}}); err == nil {
		t.Error("Forward with two seeds for one input should fail")
	}
	if _, _, err := autodiff.Reverse[*tensor.Dense](context.Background(), autodiff.Numeric{}, prog, vals, [][]*tensor.Dense{{}}); err == nil {
		t.Error("Reverse with no seeds for one output should fail")
	}
}

func TestEvalCancelled(t *testing.T) {
	x := expr.Scalar("x")
	n := x
	for i := 0; i < 10; i++ {
		n = expr.Sin(n)
	}
	prog, err := expr.Compile([]*expr.Node{x}, []*expr.Node{n})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := autodiff.Eval[*tensor.Dense](ctx, autodiff.Numeric{}, prog, []*tensor.Dense{tensor.Scalar(1)}); err == nil {
		t.Error("Eval with a cancelled context should fail")
	}
}
