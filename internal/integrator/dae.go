package integrator

import (
	"fmt"

	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/function"
	"github.com/born-ml/sensim/internal/tensor"
)

// DAE is a semi-explicit index-1 differential-algebraic system
//
//	dx/dt = ODE(t, x, z, p)
//	    0 = Alg(t, x, z, p)
//
// T, X, Z and P must be distinct symbols; X, Z and P are columns. Z, P, T and
// Alg may be nil for a pure ODE without parameters.
type DAE struct {
	T   *expr.Node
	X   *expr.Node
	Z   *expr.Node
	P   *expr.Node
	ODE *expr.Node
	Alg *expr.Node
}

// Normalize fills optional fields and validates shapes.
func (d DAE) Normalize() (DAE, error) {
	if d.X == nil || d.ODE == nil {
		return DAE{}, fmt.Errorf("dae: differential state and right-hand side are required: %w", expr.ErrInvalidInput)
	}
	if d.T == nil {
		d.T = expr.Scalar("t")
	}
	if d.Z == nil {
		d.Z = expr.Column("z", 0)
	}
	if d.P == nil {
		d.P = expr.Column("p", 0)
	}
	if d.Alg == nil {
		d.Alg = expr.Zeros(tensor.NewShape(d.Z.Rows(), 1))
	}
	for _, s := range []struct {
		name string
		n    *expr.Node
	}{{"time", d.T}, {"differential state", d.X}, {"algebraic state", d.Z}, {"parameter", d.P}} {
		if !s.n.IsLeaf() {
			return DAE{}, fmt.Errorf("dae: %s must be a symbol: %w", s.name, expr.ErrInvalidInput)
		}
	}
	if !d.T.Shape().IsScalar() {
		return DAE{}, &expr.ShapeMismatchError{Function: "dae", Input: 0, Want: tensor.NewShape(1, 1), Got: d.T.Shape()}
	}
	for i, n := range []*expr.Node{d.X, d.Z, d.P} {
		if n.Cols() != 1 {
			return DAE{}, &expr.ShapeMismatchError{Function: "dae", Input: i + 1, Want: tensor.NewShape(n.Rows(), 1), Got: n.Shape()}
		}
	}
	if !d.ODE.Shape().Equal(d.X.Shape()) {
		return DAE{}, &expr.ShapeMismatchError{Function: "dae ode", Input: 0, Want: d.X.Shape(), Got: d.ODE.Shape()}
	}
	if !d.Alg.Shape().Equal(d.Z.Shape()) {
		return DAE{}, &expr.ShapeMismatchError{Function: "dae alg", Input: 0, Want: d.Z.Shape(), Got: d.Alg.Shape()}
	}
	return d, nil
}

// Dims returns the number of differential states, algebraic states and
// parameters.
func (d DAE) Dims() (nx, nz, np int) {
	return d.X.Rows(), d.Z.Rows(), d.P.Rows()
}

// RHS returns the Function (t, x, z, p) -> (ode, alg).
func (d DAE) RHS(name string) (*function.Function, error) {
	return function.New(name, []*expr.Node{d.T, d.X, d.Z, d.P}, []*expr.Node{d.ODE, d.Alg})
}

// ParameterizeTime maps d onto the fixed interval τ ∈ [0, 1]. The returned
// DAE has parameters [t0; tf; p] and the physical time appended to the
// differential state:
//
//	dx/dτ = (tf - t0) ODE(t, x, z, p)
//	dt/dτ =  tf - t0
//
// so a single integration from τ = 0 to 1 with initial state [x0; t0] covers
// any horizon [t0, tf].
func ParameterizeTime(d DAE) (DAE, error) {
	d, err := d.Normalize()
	if err != nil {
		return DAE{}, err
	}
	nx, nz, np := d.Dims()
	rhs, err := d.RHS("rhs")
	if err != nil {
		return DAE{}, err
	}

	tau := expr.Scalar("tau")
	xt := expr.Column(d.X.Name()+"_t", nx+1)
	pt := expr.Column(d.P.Name()+"_t", np+2)
	z := expr.Column(d.Z.Name(), nz)

	x, err := expr.Rows(xt, 0, nx)
	if err != nil {
		return DAE{}, err
	}
	t, err := expr.Element(xt, nx)
	if err != nil {
		return DAE{}, err
	}
	t0, err := expr.Element(pt, 0)
	if err != nil {
		return DAE{}, err
	}
	tf, err := expr.Element(pt, 1)
	if err != nil {
		return DAE{}, err
	}
	p, err := expr.Rows(pt, 2, np+2)
	if err != nil {
		return DAE{}, err
	}

	out, err := rhs.Inline(t, x, z, p)
	if err != nil {
		return DAE{}, err
	}
	span, err := expr.Sub(tf, t0)
	if err != nil {
		return DAE{}, err
	}
	dx, err := expr.Mul(span, out[0])
	if err != nil {
		return DAE{}, err
	}
	odeT, err := expr.Vertcat(dx, span)
	if err != nil {
		return DAE{}, err
	}
	return DAE{T: tau, X: xt, Z: z, P: pt, ODE: odeT, Alg: out[1]}, nil
}
