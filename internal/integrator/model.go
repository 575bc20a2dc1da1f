package integrator

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/function"
	"github.com/born-ml/sensim/internal/ode"
	"github.com/born-ml/sensim/internal/tensor"
)

// model evaluates a normalized DAE numerically. Algebraic states are
// eliminated by Newton's method on the residual, which turns the DAE into
// the ODE dx/dt = F(t, x, p) = ODE(t, x, z(t, x, p), p) handed to backends.
type model struct {
	nx, nz, np int

	rhs *function.Function // (t, x, z, p) -> (ode, alg)
	jac *function.Function // (t, x, z, p) -> (ode_x, ode_z, alg_x, alg_z)

	maxIter int
	tol     float64
}

func newModel(name string, d DAE, opts Options) (*model, error) {
	nx, nz, np := d.Dims()
	rhs, err := d.RHS(name + "_rhs")
	if err != nil {
		return nil, err
	}
	blocks := make([]*expr.Node, 0, 4)
	for _, io := range [][2]int{{1, 0}, {2, 0}, {1, 1}, {2, 1}} {
		j, err := function.JacobianExpr(rhs, io[0], io[1], function.ModeAuto)
		if err != nil {
			return nil, fmt.Errorf("jacobian of %s: %w", rhs.Name(), err)
		}
		blocks = append(blocks, j)
	}
	jac, err := function.New(name+"_jac", rhs.Inputs(), blocks)
	if err != nil {
		return nil, err
	}
	return &model{
		nx: nx, nz: nz, np: np,
		rhs:     rhs,
		jac:     jac,
		maxIter: opts.MaxNewtonIterations,
		tol:     opts.NewtonTolerance,
	}, nil
}

func column(v []float64) *tensor.Dense {
	d, _ := tensor.New(len(v), 1, v)
	return d
}

func (m *model) args(t float64, x, z, p []float64) []*tensor.Dense {
	return []*tensor.Dense{tensor.Scalar(t), column(x), column(z), column(p)}
}

// eval returns ODE and Alg at a point.
func (m *model) eval(ctx context.Context, t float64, x, z, p []float64) (f, g []float64, err error) {
	out, err := m.rhs.Eval(ctx, m.args(t, x, z, p))
	if err != nil {
		return nil, nil, err
	}
	return out[0].Data(), out[1].Data(), nil
}

// jacobians returns the four partial derivative blocks at a point.
func (m *model) jacobians(ctx context.Context, t float64, x, z, p []float64) (fx, fz, gx, gz *tensor.Dense, err error) {
	out, err := m.jac.Eval(ctx, m.args(t, x, z, p))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return out[0], out[1], out[2], out[3], nil
}

// solve returns z with Alg(t, x, z, p) = 0, starting from guess.
func (m *model) solve(ctx context.Context, t float64, x, p, guess []float64) ([]float64, error) {
	z := append([]float64(nil), guess...)
	if m.nz == 0 {
		return z, nil
	}
	for it := 0; it < m.maxIter; it++ {
		_, g, err := m.eval(ctx, t, x, z, p)
		if err != nil {
			return nil, err
		}
		_, _, _, gz, err := m.jacobians(ctx, t, x, z, p)
		if err != nil {
			return nil, err
		}
		dz, err := tensor.Solve(gz, column(g))
		if err != nil {
			return nil, ode.Fail(ode.NonConvergence, t, fmt.Errorf("algebraic jacobian: %w", err))
		}
		step, size := dz.Data(), 0.0
		for i := range z {
			z[i] -= step[i]
			size = math.Max(size, math.Abs(step[i])/(1+math.Abs(z[i])))
		}
		if !ode.Finite(z) {
			return nil, ode.Fail(ode.NonFinite, t, fmt.Errorf("algebraic state"))
		}
		if size <= m.tol {
			return z, nil
		}
	}
	return nil, ode.Fail(ode.NonConvergence, t, fmt.Errorf("algebraic state did not converge in %d iterations", m.maxIter))
}

// reduced returns the partial derivatives of F(t, x, p) with respect to x,
// f_x - f_z g_z^-1 g_x, at a consistent point.
func (m *model) reduced(ctx context.Context, t float64, x, z, p []float64) (*tensor.Dense, error) {
	fx, fz, gx, gz, err := m.jacobians(ctx, t, x, z, p)
	if err != nil {
		return nil, err
	}
	if m.nz == 0 {
		return fx, nil
	}
	s, err := tensor.Solve(gz, gx)
	if err != nil {
		return nil, ode.Fail(ode.NonConvergence, t, fmt.Errorf("algebraic jacobian: %w", err))
	}
	c, err := tensor.MatMul(fz, s)
	if err != nil {
		return nil, err
	}
	return tensor.Sub(fx, c)
}

// state tracks the algebraic state along one trajectory so every solve starts
// from the last solution.
type state struct {
	m *model
	p []float64
	z []float64
}

func (m *model) track(p, z0 []float64) *state {
	return &state{m: m, p: p, z: append([]float64(nil), z0...)}
}

// at solves for z at (t, x) and remembers it.
func (s *state) at(ctx context.Context, t float64, x []float64) ([]float64, error) {
	z, err := s.m.solve(ctx, t, x, s.p, s.z)
	if err != nil {
		return nil, err
	}
	s.z = z
	return z, nil
}

// system returns the reduced ODE for a backend.
func (s *state) system(ctx context.Context, errorDim int) ode.System {
	return ode.System{
		Dim:      s.m.nx,
		ErrorDim: errorDim,
		RHS: func(t float64, x, dxdt []float64) error {
			z, err := s.at(ctx, t, x)
			if err != nil {
				return err
			}
			f, _, err := s.m.eval(ctx, t, x, z, s.p)
			if err != nil {
				return err
			}
			copy(dxdt, f)
			return nil
		},
		Jacobian: func(t float64, x []float64, jac *mat.Dense) error {
			z, err := s.at(ctx, t, x)
			if err != nil {
				return err
			}
			j, err := s.m.reduced(ctx, t, x, z, s.p)
			if err != nil {
				return err
			}
			for r := 0; r < s.m.nx; r++ {
				for c := 0; c < s.m.nx; c++ {
					jac.Set(r, c, j.At(r, c))
				}
			}
			return nil
		},
	}
}
