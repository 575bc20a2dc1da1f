package expr_test

import (
	"errors"
	"testing"

	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/tensor"
)

func TestBinaryShapes(t *testing.T) {
	a := expr.Sym("a", 2, 3)
	s := expr.Scalar("s")

	got, err := expr.Mul(a, s)
	if err != nil {
		t.Fatalf("Mul with 1x1 operand: %v", err)
	}
	if want := tensor.NewShape(2, 3); !got.Shape().Equal(want) {
		t.Errorf("Mul shape = %s, want %s", got.Shape(), want)
	}

	if _, err := expr.Add(a, expr.Sym("b", 3, 2)); err == nil {
		t.Error("Add of 2x3 and 3x2 should fail")
	}
	if _, err := expr.MatMul(a, a); err == nil {
		t.Error("MatMul of 2x3 by 2x3 should fail")
	}
	if _, err := expr.Solve(a, expr.Column("b", 2)); err == nil {
		t.Error("Solve with a non-square matrix should fail")
	}
}

func TestConstantFolding(t *testing.T) {
	two := expr.ConstScalar(2)
	three := expr.ConstScalar(3)
	sum := expr.Must(expr.Add(two, three))
	if !sum.IsConst() || sum.Value().Value() != 5 {
		t.Errorf("2 + 3 = %v, want folded constant 5", sum)
	}
	if n := expr.Exp(expr.ConstScalar(0)); !n.IsConst() || n.Value().Value() != 1 {
		t.Errorf("exp(0) = %v, want folded constant 1", n)
	}
	if !expr.Zeros(tensor.NewShape(2, 2)).IsZero() {
		t.Error("Zeros should report IsZero")
	}
	x := expr.Scalar("x")
	if expr.Must(expr.Add(x, two)).IsConst() {
		t.Error("x + 2 must not fold")
	}
}

func TestSlicing(t *testing.T) {
	v := expr.Column("v", 5)
	r, err := expr.Rows(v, 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if r.Rows() != 3 {
		t.Errorf("Rows(1, 4) has %d rows, want 3", r.Rows())
	}
	if _, err := expr.Rows(v, 3, 7); err == nil {
		t.Error("Rows past the end should fail")
	}
	if _, err := expr.Element(v, 5); err == nil {
		t.Error("Element(5) of a 5-vector should fail")
	}
	m := expr.Sym("m", 2, 3)
	if got := expr.Vec(m).Shape(); !got.Equal(tensor.NewShape(6, 1)) {
		t.Errorf("Vec shape = %s, want 6x1", got)
	}
	if got := expr.Transpose(m).Shape(); !got.Equal(tensor.NewShape(3, 2)) {
		t.Errorf("Transpose shape = %s, want 3x2", got)
	}
	if _, err := expr.Reshape(m, tensor.NewShape(4, 2)); err == nil {
		t.Error("Reshape to a different element count should fail")
	}
	if _, err := expr.Vertcat(m, expr.Sym("n", 1, 2)); err == nil {
		t.Error("Vertcat with different column counts should fail")
	}
	e, err := expr.Embed(expr.Scalar("s"), tensor.NewShape(3, 3), 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !e.Shape().Equal(tensor.NewShape(3, 3)) {
		t.Errorf("Embed shape = %s, want 3x3", e.Shape())
	}
}

func TestCompileErrors(t *testing.T) {
	x := expr.Scalar("x")
	y := expr.Scalar("y")
	out := expr.Must(expr.Mul(x, y))

	_, err := expr.Compile([]*expr.Node{x}, []*expr.Node{out})
	if !errors.Is(err, expr.ErrFreeVariable) {
		t.Errorf("missing input: err = %v, want ErrFreeVariable", err)
	}
	_, err = expr.Compile([]*expr.Node{x, x}, []*expr.Node{x})
	if !errors.Is(err, expr.ErrInvalidInput) {
		t.Errorf("repeated input: err = %v, want ErrInvalidInput", err)
	}
	_, err = expr.Compile([]*expr.Node{out}, []*expr.Node{out})
	if !errors.Is(err, expr.ErrInvalidInput) {
		t.Errorf("non-leaf input: err = %v, want ErrInvalidInput", err)
	}
}

func TestCompileOrder(t *testing.T) {
	x := expr.Scalar("x")
	a := expr.Sin(x)
	b := expr.Cos(x)
	out := expr.Must(expr.Mul(a, b))

	first, err := expr.Compile([]*expr.Node{x}, []*expr.Node{out})
	if err != nil {
		t.Fatal(err)
	}
	second, err := expr.Compile([]*expr.Node{x}, []*expr.Node{out})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Instrs) != 4 {
		t.Fatalf("got %d instructions, want 4", len(first.Instrs))
	}
	for i := range first.Instrs {
		if first.Instrs[i].Node != second.Instrs[i].Node {
			t.Fatalf("instruction %d differs between compilations", i)
		}
		for _, arg := range first.Instrs[i].Args {
			if arg >= i {
				t.Errorf("instruction %d reads %d, which is not earlier", i, arg)
			}
		}
	}
	if got := first.LastUse[first.Outputs[0]]; got != len(first.Instrs) {
		t.Errorf("output LastUse = %d, want pinned to %d", got, len(first.Instrs))
	}
}

func TestCompileDeepChain(t *testing.T) {
	x := expr.Scalar("x")
	n := x
	for i := 0; i < 100000; i++ {
		n = expr.Sin(n)
	}
	prog, err := expr.Compile([]*expr.Node{x}, []*expr.Node{n})
	if err != nil {
		t.Fatal(err)
	}
	if len(prog.Instrs) != 100001 {
		t.Errorf("got %d instructions, want 100001", len(prog.Instrs))
	}
}

func TestFreeSymbols(t *testing.T) {
	x := expr.Scalar("x")
	y := expr.Scalar("y")
	e := expr.Must(expr.Add(expr.Must(expr.Mul(y, x)), x))
	got := expr.FreeSymbols(e)
	if len(got) != 2 || got[0] != x || got[1] != y {
		t.Errorf("FreeSymbols = %v, want [x y]", got)
	}
}

// stub is a Callable with fixed shapes that is never evaluated.
type stub struct{ expr.Callable }

func (stub) Name() string                 { return "stub" }
func (stub) NumIn() int                   { return 2 }
func (stub) NumOut() int                  { return 1 }
func (stub) InputShape(int) tensor.Shape  { return tensor.NewShape(2, 1) }
func (stub) OutputShape(int) tensor.Shape { return tensor.NewShape(1, 1) }

func TestCallChecksArguments(t *testing.T) {
	a := expr.Column("a", 2)
	_, err := expr.Call(stub{}, a)
	var ie *expr.IndexError
	if !errors.As(err, &ie) || ie.Kind != expr.KindArguments {
		t.Errorf("Call with one argument: err = %v, want IndexError about arguments", err)
	}
	_, err = expr.Call(stub{}, a, expr.Column("b", 3))
	var se *expr.ShapeMismatchError
	if !errors.As(err, &se) || se.Input != 1 {
		t.Errorf("Call with a 3-vector: err = %v, want ShapeMismatchError on input 1", err)
	}
	out, err := expr.Call(stub{}, a, a)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Op() != expr.OpOutput || out[0].Arg(0).Callee().Name() != "stub" {
		t.Errorf("Call outputs = %v, want one output node of stub", out)
	}
}
