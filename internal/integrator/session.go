package integrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/born-ml/sensim/internal/checkpoint"
	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/ode"
	"github.com/born-ml/sensim/internal/tensor"
)

func (in *Integrator) check(i int, v *tensor.Dense, out bool) (*tensor.Dense, error) {
	want := in.InputShape(i)
	if out {
		want = in.OutputShape(i)
	}
	if v == nil {
		return tensor.Zeros(want), nil
	}
	if !v.Shape().Equal(want) {
		return nil, &expr.ShapeMismatchError{Function: in.name, Input: i, Want: want, Got: v.Shape()}
	}
	return v, nil
}

// Run integrates from x0 with parameters p and algebraic guess z0 and keeps
// the checkpoint trail for later Adjoint and Sensitivity calls. A Run with
// the same inputs as the cached trail returns its result without
// integrating; other inputs replace the trail. Nil p or z0 mean zeros.
func (in *Integrator) Run(ctx context.Context, x0, p, z0 *tensor.Dense) (xf, zf *tensor.Dense, err error) {
	args := []*tensor.Dense{x0, p, z0}
	for i := range args {
		if args[i], err = in.check(i, args[i], false); err != nil {
			return nil, nil, err
		}
	}

	in.trailMu.Lock()
	defer in.trailMu.Unlock()
	if tr := in.trail; tr != nil && tr.matches(args[0].Data(), args[1].Data(), args[2].Data()) {
		in.log.Debug("Reusing checkpoint trail", zap.Int("checkpoints", tr.cps.Len()))
		return column(clone(tr.xf)), column(clone(tr.zf)), nil
	}
	in.trail = nil
	tr, err := in.forward(ctx, args[0].Data(), args[1].Data(), args[2].Data(), true)
	if err != nil {
		return nil, nil, err
	}
	in.trail = tr
	return column(clone(tr.xf)), column(clone(tr.zf)), nil
}

// Adjoint returns the sensitivities of seedXf^T xf + seedZf^T zf with respect
// to x0 and p along the trail of the last Run. seedZf may be nil.
func (in *Integrator) Adjoint(ctx context.Context, seedXf, seedZf *tensor.Dense) (x0bar, pbar *tensor.Dense, err error) {
	if seedXf, err = in.check(0, seedXf, true); err != nil {
		return nil, nil, err
	}
	if seedZf, err = in.check(1, seedZf, true); err != nil {
		return nil, nil, err
	}
	in.trailMu.Lock()
	defer in.trailMu.Unlock()
	if in.trail == nil {
		return nil, nil, &SequenceError{Op: "adjoint"}
	}
	bars, err := in.backward(ctx, in.trail, []seed{{xf: seedXf.Data(), zf: seedZf.Data()}})
	if err != nil {
		return nil, nil, err
	}
	return column(bars[0].x0), column(bars[0].p), nil
}

// Sensitivity returns the directional derivatives of xf and zf along (dx0,
// dp), integrating the tangent equations over states rebuilt from the trail
// of the last Run. dp may be nil.
func (in *Integrator) Sensitivity(ctx context.Context, dx0, dp *tensor.Dense) (dxf, dzf *tensor.Dense, err error) {
	if dx0, err = in.check(0, dx0, false); err != nil {
		return nil, nil, err
	}
	if dp, err = in.check(1, dp, false); err != nil {
		return nil, nil, err
	}
	in.trailMu.Lock()
	defer in.trailMu.Unlock()
	if in.trail == nil {
		return nil, nil, &SequenceError{Op: "forward sensitivity"}
	}
	dx, dz, err := in.tangent(ctx, in.trail, dx0.Data(), dp.Data())
	if err != nil {
		return nil, nil, err
	}
	return column(dx), column(dz), nil
}

// Checkpoints reports the checkpoint controller of the cached trail.
func (in *Integrator) Checkpoints() checkpoint.Stats {
	in.trailMu.Lock()
	defer in.trailMu.Unlock()
	return in.trail.checkpointStats()
}

// Reset drops the cached trail.
func (in *Integrator) Reset() {
	in.trailMu.Lock()
	in.trail = nil
	in.trailMu.Unlock()
}

// algebraicTangent returns dz = -g_z^-1 (g_x dx + g_p dp) at a consistent
// point.
func (m *model) algebraicTangent(ctx context.Context, t float64, x, z, p, dx, dp []float64) ([]float64, error) {
	if m.nz == 0 {
		return nil, nil
	}
	_, dg, err := m.directional(ctx, t, x, z, p, dx, make([]float64, m.nz), dp)
	if err != nil {
		return nil, err
	}
	_, _, _, gz, err := m.jacobians(ctx, t, x, z, p)
	if err != nil {
		return nil, err
	}
	sol, err := tensor.Solve(gz, column(dg))
	if err != nil {
		return nil, ode.Fail(ode.NonConvergence, t, fmt.Errorf("algebraic tangent: %w", err))
	}
	dz := sol.Data()
	for i := range dz {
		dz[i] = -dz[i]
	}
	return dz, nil
}

// directional evaluates the forward derivative of the right-hand side along
// (dx, dz, dp).
func (m *model) directional(ctx context.Context, t float64, x, z, p, dx, dz, dp []float64) (df, dg []float64, err error) {
	fwd, err := m.rhs.ForwardFunction(1)
	if err != nil {
		return nil, nil, err
	}
	args := append(m.args(t, x, z, p), m.args(0, dx, dz, dp)...)
	out, err := fwd.Eval(ctx, args)
	if err != nil {
		return nil, nil, err
	}
	return clone(out[2].Data()), clone(out[3].Data()), nil
}

// tangent integrates dx' = F_x dx + F_p dp from T0 to TF along the trail.
func (in *Integrator) tangent(ctx context.Context, tr *trail, dx0, dp []float64) (dxf, dzf []float64, err error) {
	ctx, ps := in.begin(ctx, "sensitivity")
	defer func() { ps.end(ctx, tr.cps, err) }()

	m := in.m
	rp := in.replay(ctx, tr)
	defer func() { ps.stats.Add(rp.stats) }()

	sys := ode.System{
		Dim: m.nx,
		RHS: func(t float64, dx, ddx []float64) error {
			x, z, err := rp.at(ctx, t)
			if err != nil {
				return err
			}
			dz, err := m.algebraicTangent(ctx, t, x, z, tr.p, dx, dp)
			if err != nil {
				return err
			}
			if dz == nil {
				dz = make([]float64, 0)
			}
			df, _, err := m.directional(ctx, t, x, z, tr.p, dx, dz, dp)
			if err != nil {
				return err
			}
			copy(ddx, df)
			return nil
		},
	}
	dx := clone(dx0)
	_, stats, err := in.opts.stepper().Integrate(ctx, sys, dx, in.opts.T0, in.opts.TF, nil, nil)
	ps.stats.Add(stats)
	if err != nil {
		return nil, nil, fmt.Errorf("integrator %s sensitivity: %w", in.name, err)
	}
	dz, err := m.algebraicTangent(ctx, in.opts.TF, tr.xf, tr.zf, tr.p, dx, dp)
	if err != nil {
		return nil, nil, err
	}
	if dz == nil {
		dz = make([]float64, 0)
	}
	return dx, dz, nil
}
