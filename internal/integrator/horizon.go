package integrator

import (
	"fmt"

	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/function"
)

// NewHorizon returns a Function (x0, [t0; tf; p], z0) -> (xf, zf) that
// integrates d from t0 to tf for any horizon given at call time. It calls a
// single integrator of ParameterizeTime(d) over [0, 1]; opts.T0 and opts.TF
// are ignored. The result is differentiable with respect to t0 and tf.
func NewHorizon(name string, d DAE, opts Options) (*function.Function, error) {
	d, err := d.Normalize()
	if err != nil {
		return nil, fmt.Errorf("horizon %s: %w", name, err)
	}
	td, err := ParameterizeTime(d)
	if err != nil {
		return nil, fmt.Errorf("horizon %s: %w", name, err)
	}
	opts.T0, opts.TF = 0, 1
	ig, err := New(name+"_tau", td, opts)
	if err != nil {
		return nil, err
	}

	nx, nz, np := d.Dims()
	x0 := expr.Column("x0", nx)
	p := expr.Column("p", np+2)
	z0 := expr.Column("z0", nz)
	t0, err := expr.Element(p, 0)
	if err != nil {
		return nil, err
	}
	xt0, err := expr.Vertcat(x0, t0)
	if err != nil {
		return nil, err
	}
	out, err := expr.Call(ig, xt0, p, z0)
	if err != nil {
		return nil, err
	}
	xf, err := expr.Rows(out[0], 0, nx)
	if err != nil {
		return nil, err
	}
	return function.New(name, []*expr.Node{x0, p, z0}, []*expr.Node{xf, out[1]})
}
