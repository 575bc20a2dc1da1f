package integrator

import (
	"context"
	"fmt"
	"math"

	"github.com/born-ml/sensim/internal/checkpoint"
	"github.com/born-ml/sensim/internal/ode"
	"github.com/born-ml/sensim/internal/tensor"
)

// seed is one adjoint direction on the final states.
type seed struct {
	xf, zf []float64
}

// bar is the resulting sensitivity on the initial state and parameters.
type bar struct {
	x0, p []float64
}

// replay reconstructs states along a recorded trail: the nearest checkpoint
// at or before the query time is re-integrated forward to it. The local
// segment is discarded except for the last queried point.
type replay struct {
	in   *Integrator
	tr   *trail
	st   *state
	back ode.Stepper
	sys  ode.System

	stats ode.Stats

	have bool
	t    float64
	x, z []float64
}

func (in *Integrator) replay(ctx context.Context, tr *trail) *replay {
	st := in.m.track(tr.p, tr.z0)
	return &replay{
		in:   in,
		tr:   tr,
		st:   st,
		back: in.opts.stepper(),
		sys:  st.system(ctx, in.errorDim),
	}
}

// at returns x(t) and z(t). The returned slices must not be modified.
func (r *replay) at(ctx context.Context, t float64) (x, z []float64, err error) {
	t = math.Min(math.Max(t, r.in.opts.T0), r.in.opts.TF)
	if r.have && r.t == t {
		return r.x, r.z, nil
	}
	cp, err := r.tr.cps.Retrieve(t)
	if err != nil {
		return nil, nil, err
	}
	x = clone(cp.State)
	r.st.z = clone(cp.Algebraic)
	if t > cp.Time {
		_, stats, err := r.back.Integrate(ctx, r.sys, x, cp.Time, t, cp.Memory, nil)
		r.stats.Add(stats)
		if err != nil {
			return nil, nil, fmt.Errorf("reconstruct state at %g from checkpoint at %g: %w", t, cp.Time, err)
		}
	}
	if z, err = r.st.at(ctx, t, x); err != nil {
		return nil, nil, ode.FailRHS(t, err)
	}
	r.have, r.t, r.x, r.z = true, t, x, z
	return x, z, nil
}

// transposeSolve returns y with a^T y = b.
func transposeSolve(a *tensor.Dense, b []float64) ([]float64, error) {
	y, err := tensor.Solve(tensor.Transpose(a), column(clone(b)))
	if err != nil {
		return nil, err
	}
	return y.Data(), nil
}

// products evaluates the transposed Jacobian products of the right-hand
// side for seeds l_d on ODE and a_d on Alg, returning per direction the
// adjoints on x, z and p. Nil seeds are zero.
func (m *model) products(ctx context.Context, t float64, x, z, p []float64, l, a [][]float64) (xb, zb, pb [][]float64, err error) {
	n := len(l)
	rev, err := m.rhs.ReverseFunction(n)
	if err != nil {
		return nil, nil, nil, err
	}
	args := m.args(t, x, z, p)
	for d := 0; d < n; d++ {
		ld, ad := l[d], a[d]
		if ld == nil {
			ld = make([]float64, m.nx)
		}
		if ad == nil {
			ad = make([]float64, m.nz)
		}
		args = append(args, column(ld), column(ad))
	}
	out, err := rev.Eval(ctx, args)
	if err != nil {
		return nil, nil, nil, err
	}
	xb, zb, pb = make([][]float64, n), make([][]float64, n), make([][]float64, n)
	for d := 0; d < n; d++ {
		off := 2 + 4*d
		xb[d], zb[d], pb[d] = clone(out[off+1].Data()), clone(out[off+2].Data()), clone(out[off+3].Data())
	}
	return xb, zb, pb, nil
}

// backward integrates the adjoint system from TF to T0.
//
// With F(t, x, p) the reduced right-hand side and the algebraic state
// eliminated, the adjoint states follow, in reversed time s = TF - t,
//
//	dλ/ds = F_x^T λ = f_x^T λ + g_x^T ν,   g_z^T ν = -f_z^T λ
//	dμ/ds = F_p^T λ = f_p^T λ + g_p^T ν
//
// from λ = xf seed - g_x^T η, μ = -g_p^T η with g_z^T η = zf seed. At s =
// TF - T0, λ and μ are the sensitivities on x0 and p.
func (in *Integrator) backward(ctx context.Context, tr *trail, seeds []seed) (bars []bar, err error) {
	ctx, ps := in.begin(ctx, "adjoint")
	defer func() { ps.end(ctx, tr.cps, err) }()

	m := in.m
	n := len(seeds)
	nx, np := m.nx, m.np
	t0, tf := in.opts.T0, in.opts.TF
	rp := in.replay(ctx, tr)
	defer func() { ps.stats.Add(rp.stats) }()

	// Terminal conditions.
	y := make([]float64, n*(nx+np))
	lam := func(d int) []float64 { return y[d*(nx+np) : d*(nx+np)+nx] }
	mu := func(d int) []float64 { return y[d*(nx+np)+nx : (d+1)*(nx+np)] }
	for d, s := range seeds {
		copy(lam(d), s.xf)
	}
	if m.nz > 0 {
		_, _, _, gz, err := m.jacobians(ctx, tf, tr.xf, tr.zf, tr.p)
		if err != nil {
			return nil, err
		}
		eta := make([][]float64, n)
		for d, s := range seeds {
			if eta[d], err = transposeSolve(gz, s.zf); err != nil {
				return nil, ode.Fail(ode.NonConvergence, tf, fmt.Errorf("terminal algebraic adjoint: %w", err))
			}
		}
		gx, _, gp, err := m.products(ctx, tf, tr.xf, tr.zf, tr.p, make([][]float64, n), eta)
		if err != nil {
			return nil, err
		}
		for d := 0; d < n; d++ {
			l, u := lam(d), mu(d)
			for i := range l {
				l[i] -= gx[d][i]
			}
			for i := range u {
				u[i] = -gp[d][i]
			}
		}
	}

	sys := ode.System{
		Dim: len(y),
		RHS: func(s float64, y, dyds []float64) error {
			t := tf - s
			x, z, err := rp.at(ctx, t)
			if err != nil {
				return err
			}
			l := make([][]float64, n)
			for d := range l {
				l[d] = y[d*(nx+np) : d*(nx+np)+nx]
			}
			fx, fz, fp, err := m.products(ctx, t, x, z, tr.p, l, make([][]float64, n))
			if err != nil {
				return err
			}
			if m.nz > 0 {
				_, _, _, gz, err := m.jacobians(ctx, t, x, z, tr.p)
				if err != nil {
					return err
				}
				nu := make([][]float64, n)
				for d := range nu {
					neg := make([]float64, len(fz[d]))
					for i, v := range fz[d] {
						neg[i] = -v
					}
					if nu[d], err = transposeSolve(gz, neg); err != nil {
						return ode.Fail(ode.NonConvergence, t, fmt.Errorf("algebraic adjoint: %w", err))
					}
				}
				gx, _, gp, err := m.products(ctx, t, x, z, tr.p, make([][]float64, n), nu)
				if err != nil {
					return err
				}
				for d := 0; d < n; d++ {
					for i := range fx[d] {
						fx[d][i] += gx[d][i]
					}
					for i := range fp[d] {
						fp[d][i] += gp[d][i]
					}
				}
			}
			for d := 0; d < n; d++ {
				copy(dyds[d*(nx+np):], fx[d])
				copy(dyds[d*(nx+np)+nx:(d+1)*(nx+np)], fp[d])
			}
			return nil
		},
	}
	_, stats, err := in.opts.stepper().Integrate(ctx, sys, y, 0, tf-t0, nil, nil)
	ps.stats.Add(stats)
	if err != nil {
		return nil, fmt.Errorf("integrator %s adjoint: %w", in.name, err)
	}

	bars = make([]bar, n)
	for d := range bars {
		bars[d] = bar{x0: clone(lam(d)), p: clone(mu(d))}
	}
	return bars, nil
}

// checkpointStats reports the controller state of the cached trail.
func (tr *trail) checkpointStats() checkpoint.Stats {
	if tr == nil || tr.cps == nil {
		return checkpoint.Stats{}
	}
	return tr.cps.Stats()
}
