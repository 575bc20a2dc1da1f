package integrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/tensor"
)

func TestNormalizeDefaults(t *testing.T) {
	x := expr.Column("x", 3)
	d, err := DAE{X: x, ODE: expr.Neg(x)}.Normalize()
	require.NoError(t, err)
	nx, nz, np := d.Dims()
	assert.Equal(t, [3]int{3, 0, 0}, [3]int{nx, nz, np})
	assert.True(t, d.T.Shape().IsScalar())
	assert.Equal(t, tensor.NewShape(0, 1), d.Alg.Shape())
}

func TestNormalizeErrors(t *testing.T) {
	x := expr.Column("x", 2)
	z := expr.Column("z", 1)
	tests := []struct {
		name string
		dae  DAE
		want error
	}{
		{"missing state", DAE{ODE: x}, expr.ErrInvalidInput},
		{"missing rhs", DAE{X: x}, expr.ErrInvalidInput},
		{"state not a symbol", DAE{X: expr.Neg(x), ODE: x}, expr.ErrInvalidInput},
		{"matrix state", DAE{X: expr.Sym("m", 2, 2), ODE: expr.Sym("m", 2, 2)}, expr.ErrShapeMismatch},
		{"vector time", DAE{T: expr.Column("t", 2), X: x, ODE: x}, expr.ErrShapeMismatch},
		{"rhs shape", DAE{X: x, ODE: expr.ConstScalar(1)}, expr.ErrShapeMismatch},
		{"alg shape", DAE{X: x, Z: z, ODE: x, Alg: expr.Zeros(tensor.NewShape(2, 1))}, expr.ErrShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.dae.Normalize()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParameterizeTime(t *testing.T) {
	td, err := ParameterizeTime(growth())
	require.NoError(t, err)
	nx, nz, np := td.Dims()
	assert.Equal(t, 2, nx)
	assert.Equal(t, 0, nz)
	assert.Equal(t, 3, np)

	// At tau, x = [q; t] with p = [t0; tf; p] the rhs is scaled by tf - t0.
	rhs, err := td.RHS("rhs")
	require.NoError(t, err)
	out, err := rhs.Eval(context.Background(), []*tensor.Dense{
		tensor.Scalar(0.5), tensor.Column(3, 1.5), empty(), tensor.Column(1, 3, 2),
	})
	require.NoError(t, err)
	assert.InDelta(t, 2*(1.5*1.5/2)*3, out[0].At(0, 0), 1e-12)
	assert.InDelta(t, 2, out[0].At(1, 0), 1e-12)
}
