package function

import (
	"context"
	"fmt"

	"github.com/born-ml/sensim/internal/autodiff"
	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/tensor"
)

// Mode selects how a Jacobian is assembled.
type Mode int

const (
	// ModeAuto uses forward mode when the input has no more elements than
	// the output and adjoint mode otherwise.
	ModeAuto Mode = iota
	// ModeForward stacks one tangent direction per input element.
	ModeForward
	// ModeAdjoint stacks one adjoint direction per output element.
	ModeAdjoint
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeForward:
		return "forward"
	case ModeAdjoint:
		return "adjoint"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode converts "auto", "forward" or "adjoint" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "auto":
		return ModeAuto, nil
	case "forward", "fwd":
		return ModeForward, nil
	case "adjoint", "reverse", "adj":
		return ModeAdjoint, nil
	}
	return ModeAuto, fmt.Errorf("unknown derivative mode %q", s)
}

func (f *Function) checkIO(in, out int) error {
	if in < 0 || in >= f.NumIn() {
		return &expr.IndexError{Function: f.name, Kind: "input", Index: in, Len: f.NumIn()}
	}
	if out < 0 || out >= f.NumOut() {
		return &expr.IndexError{Function: f.name, Kind: "output", Index: out, Len: f.NumOut()}
	}
	return nil
}

// JacobianExpr returns the expression of d vec(out) / d vec(in) over the
// inputs of f, a numel(out) x numel(in) matrix.
func JacobianExpr(f *Function, in, out int, mode Mode) (*expr.Node, error) {
	if err := f.checkIO(in, out); err != nil {
		return nil, err
	}
	inShape, outShape := f.InputShape(in), f.OutputShape(out)
	n, m := inShape.NumElements(), outShape.NumElements()
	if mode == ModeAuto {
		mode = ModeAdjoint
		if n <= m {
			mode = ModeForward
		}
	}
	if n == 0 || m == 0 {
		return expr.Zeros(tensor.NewShape(m, n)), nil
	}

	ctx := context.Background()
	switch mode {
	case ModeForward:
		seeds := make([][]*expr.Node, n)
		for d := range seeds {
			seeds[d] = make([]*expr.Node, f.NumIn())
			seeds[d][in] = expr.Const(tensor.Unit(inShape, d))
		}
		_, sens, err := autodiff.Forward[*expr.Node](ctx, autodiff.Symbolic{}, f.prog, f.inputs, seeds)
		if err != nil {
			return nil, fmt.Errorf("jacobian of %s: %w", f.name, err)
		}
		cols := make([]*expr.Node, n)
		for d := range cols {
			cols[d] = expr.Vec(sens[d][out])
		}
		return expr.Horzcat(cols...)
	case ModeAdjoint:
		seeds := make([][]*expr.Node, m)
		for d := range seeds {
			seeds[d] = make([]*expr.Node, f.NumOut())
			seeds[d][out] = expr.Const(tensor.Unit(outShape, d))
		}
		_, sens, err := autodiff.Reverse[*expr.Node](ctx, autodiff.Symbolic{}, f.prog, f.inputs, seeds)
		if err != nil {
			return nil, fmt.Errorf("jacobian of %s: %w", f.name, err)
		}
		rows := make([]*expr.Node, m)
		for d := range rows {
			rows[d] = expr.Transpose(expr.Vec(sens[d][in]))
		}
		return expr.Vertcat(rows...)
	}
	return nil, fmt.Errorf("jacobian of %s: unknown mode %v", f.name, mode)
}

// Jacobian returns a Function with the inputs of f and one output: the
// Jacobian of output out with respect to input in.
func Jacobian(f *Function, in, out int, mode Mode) (*Function, error) {
	j, err := JacobianExpr(f, in, out, mode)
	if err != nil {
		return nil, err
	}
	return New(fmt.Sprintf("jac_%s_i%d_o%d", f.name, in, out), f.inputs, []*expr.Node{j})
}

// GradientExpr returns the transposed Jacobian of output out with respect to
// input in, a numel(in) x numel(out) matrix, always built in adjoint mode.
// For a scalar output it is the gradient column.
func GradientExpr(f *Function, in, out int) (*expr.Node, error) {
	j, err := JacobianExpr(f, in, out, ModeAdjoint)
	if err != nil {
		return nil, err
	}
	return expr.Transpose(j), nil
}

// Hessian returns a Function with the inputs of f and one output: the
// Jacobian of vec(J^T) with respect to input in, where J is the Jacobian of
// output out. For a scalar output this is the symmetric Hessian.
//
// The gradient is built in adjoint mode and differentiated in forward mode.
func Hessian(f *Function, in, out int) (*Function, error) {
	gt, err := GradientExpr(f, in, out)
	if err != nil {
		return nil, err
	}
	g, err := New(fmt.Sprintf("grad_%s_i%d_o%d", f.name, in, out), f.inputs, []*expr.Node{expr.Vec(gt)})
	if err != nil {
		return nil, err
	}
	h, err := JacobianExpr(g, in, 0, ModeForward)
	if err != nil {
		return nil, err
	}
	return New(fmt.Sprintf("hess_%s_i%d_o%d", f.name, in, out), f.inputs, []*expr.Node{h})
}
