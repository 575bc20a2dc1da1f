// Package integrator turns a DAE into a Callable that maps initial states
// and parameters to final states, with exact forward and adjoint
// sensitivities.
//
// An Integrator is used like a Function: it can be evaluated, called from
// other graphs and differentiated. Forward derivatives integrate the
// variational equations together with the state in one backend call.
// Reverse derivatives integrate the adjoint equations backward in time,
// rebuilding states from checkpoints recorded during a forward pass.
//
// Usage:
//
//	x := expr.Column("x", 2)
//	p := expr.Column("p", 4)
//	a := expr.Must(expr.Reshape(p, tensor.NewShape(2, 2)))
//	dae := integrator.DAE{X: x, P: p, ODE: expr.Must(expr.MatMul(a, x))}
//	ig, err := integrator.New("lin", dae, integrator.DefaultOptions())
//	jac, err := function.Jacobian(graphUsing(ig), 0, 0, function.ModeAuto)
package integrator

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/born-ml/sensim/internal/checkpoint"
	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/function"
	"github.com/born-ml/sensim/internal/ode"
	"github.com/born-ml/sensim/internal/tensor"
)

// Integrator integrates a DAE over [T0, TF].
//
// As a Callable its inputs are (x0, p, z0) and its outputs (xf, zf); z0 is
// only the initial guess for the consistent algebraic state. Eval, Forward
// and Reverse keep all state per call and are safe for concurrent use. The
// stateful Run, Adjoint and Sensitivity methods share a cached trail and
// serialize on a mutex.
type Integrator struct {
	name string
	dae  DAE
	opts Options
	m    *model
	log  *zap.Logger

	// errorDim is the number of leading states under error control, zero
	// for all.
	errorDim int

	mu  sync.Mutex
	fwd map[int]*function.Function
	rev map[int]*function.Adjoint

	trailMu sync.Mutex
	trail   *trail
}

var _ expr.Callable = (*Integrator)(nil)

// New creates an integrator for dae.
func New(name string, dae DAE, opts Options) (*Integrator, error) {
	return newIntegrator(name, dae, opts, 0)
}

func newIntegrator(name string, dae DAE, opts Options, errorDim int) (*Integrator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	d, err := dae.Normalize()
	if err != nil {
		return nil, fmt.Errorf("integrator %s: %w", name, err)
	}
	m, err := newModel(name, d, opts)
	if err != nil {
		return nil, fmt.Errorf("integrator %s: %w", name, err)
	}
	return &Integrator{
		name:     name,
		dae:      d,
		opts:     opts,
		m:        m,
		log:      opts.logger().With(zap.String("integrator", name)),
		errorDim: errorDim,
		fwd:      make(map[int]*function.Function),
		rev:      make(map[int]*function.Adjoint),
	}, nil
}

func (in *Integrator) Name() string { return in.name }
func (in *Integrator) NumIn() int   { return 3 }
func (in *Integrator) NumOut() int  { return 2 }

// InputShape returns the shape of x0, p or z0.
func (in *Integrator) InputShape(i int) tensor.Shape {
	switch i {
	case 0:
		return in.dae.X.Shape()
	case 1:
		return in.dae.P.Shape()
	}
	return in.dae.Z.Shape()
}

// OutputShape returns the shape of xf or zf.
func (in *Integrator) OutputShape(i int) tensor.Shape {
	if i == 0 {
		return in.dae.X.Shape()
	}
	return in.dae.Z.Shape()
}

// DAE returns the normalized system.
func (in *Integrator) DAE() DAE { return in.dae }

// Options returns the configuration.
func (in *Integrator) Options() Options { return in.opts }

func checkArgs(f expr.Callable, args []*tensor.Dense) error {
	shapes := make([]tensor.Shape, len(args))
	for i, a := range args {
		if a == nil {
			return fmt.Errorf("%s: input %d is nil: %w", f.Name(), i, expr.ErrInvalidInput)
		}
		shapes[i] = a.Shape()
	}
	return expr.CheckArgs(f, shapes)
}

// Eval integrates from x0 and returns the final states.
func (in *Integrator) Eval(ctx context.Context, args []*tensor.Dense) ([]*tensor.Dense, error) {
	if err := checkArgs(in, args); err != nil {
		return nil, err
	}
	tr, err := in.forward(ctx, args[0].Data(), args[1].Data(), args[2].Data(), false)
	if err != nil {
		return nil, err
	}
	return []*tensor.Dense{column(tr.xf), column(tr.zf)}, nil
}

// trail is the result of a forward pass.
type trail struct {
	x0, p, z0 []float64
	xf, zf    []float64
	cps       *checkpoint.Controller // nil unless recorded
}

func (tr *trail) matches(x0, p, z0 []float64) bool {
	return equal(tr.x0, x0) && equal(tr.p, p) && equal(tr.z0, z0)
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			return false
		}
	}
	return true
}

func clone(v []float64) []float64 { return append([]float64(nil), v...) }

// forward integrates from T0 to TF, recording checkpoints if asked.
func (in *Integrator) forward(ctx context.Context, x0, p, z0 []float64, record bool) (tr *trail, err error) {
	ctx, ps := in.begin(ctx, "forward")
	var cps *checkpoint.Controller
	defer func() { ps.end(ctx, cps, err) }()

	t0, tf := in.opts.T0, in.opts.TF
	x := clone(x0)
	st := in.m.track(p, z0)
	z, err := st.at(ctx, t0, x)
	if err != nil {
		return nil, ode.FailRHS(t0, err)
	}
	if record {
		if cps, err = checkpoint.New(in.opts.checkpoints()); err != nil {
			return nil, err
		}
		if err := cps.Record(t0, x, z, nil); err != nil {
			return nil, err
		}
	}

	var obs ode.Observer
	if record {
		obs = func(t float64, x []float64, mem ode.Memory) error {
			z, err := st.at(ctx, t, x)
			if err != nil {
				return ode.FailRHS(t, err)
			}
			return cps.Record(t, x, z, mem)
		}
	}
	_, stats, err := in.opts.stepper().Integrate(ctx, st.system(ctx, in.errorDim), x, t0, tf, nil, obs)
	ps.stats.Add(stats)
	if err != nil {
		return nil, fmt.Errorf("integrator %s: %w", in.name, err)
	}
	zf, err := st.at(ctx, tf, x)
	if err != nil {
		return nil, fmt.Errorf("integrator %s: %w", in.name, ode.FailRHS(tf, err))
	}
	return &trail{
		x0: clone(x0), p: clone(p), z0: clone(z0),
		xf: x, zf: zf,
		cps: cps,
	}, nil
}

// Forward returns the forward derivative with nfwd directions: a Function
// calling an integrator of the system augmented by its variational
// equations.
func (in *Integrator) Forward(nfwd int) (expr.Callable, error) {
	if nfwd < 0 {
		return nil, &expr.IndexError{Function: in.name, Kind: "direction count", Index: nfwd, Len: 0}
	}
	if nfwd == 0 {
		return in, nil
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if f, ok := in.fwd[nfwd]; ok {
		return f, nil
	}
	f, err := in.buildForward(nfwd)
	if err != nil {
		return nil, fmt.Errorf("forward derivative of %s: %w", in.name, err)
	}
	in.fwd[nfwd] = f
	return f, nil
}

// augmented returns the DAE of the state and n tangent directions,
// stacked as [x; dx_0; ...; dx_n-1] and likewise for z and p.
func (in *Integrator) augmented(n int) (DAE, error) {
	nx, nz, np := in.m.nx, in.m.nz, in.m.np
	k := n + 1
	t := expr.Scalar(in.dae.T.Name())
	X := expr.Column(in.dae.X.Name(), nx*k)
	Z := expr.Column(in.dae.Z.Name(), nz*k)
	P := expr.Column(in.dae.P.Name(), np*k)

	split := func(v *expr.Node, size int) ([]*expr.Node, error) {
		parts := make([]*expr.Node, k)
		for j := range parts {
			b, err := expr.Rows(v, j*size, (j+1)*size)
			if err != nil {
				return nil, err
			}
			parts[j] = b
		}
		return parts, nil
	}
	xs, err := split(X, nx)
	if err != nil {
		return DAE{}, err
	}
	zs, err := split(Z, nz)
	if err != nil {
		return DAE{}, err
	}
	ps, err := split(P, np)
	if err != nil {
		return DAE{}, err
	}

	fwd, err := in.m.rhs.ForwardFunction(n)
	if err != nil {
		return DAE{}, err
	}
	args := []*expr.Node{t, xs[0], zs[0], ps[0]}
	for d := 1; d <= n; d++ {
		args = append(args, expr.Zeros(t.Shape()), xs[d], zs[d], ps[d])
	}
	out, err := fwd.Inline(args...)
	if err != nil {
		return DAE{}, err
	}
	odes := []*expr.Node{out[0]}
	algs := []*expr.Node{out[1]}
	for d := 0; d < n; d++ {
		odes = append(odes, out[2+2*d])
		algs = append(algs, out[3+2*d])
	}
	odeAug, err := expr.Vertcat(odes...)
	if err != nil {
		return DAE{}, err
	}
	algAug, err := expr.Vertcat(algs...)
	if err != nil {
		return DAE{}, err
	}
	return DAE{T: t, X: X, Z: Z, P: P, ODE: odeAug, Alg: algAug}, nil
}

func (in *Integrator) buildForward(n int) (*function.Function, error) {
	aug, err := in.augmented(n)
	if err != nil {
		return nil, err
	}
	errorDim := in.errorDim
	if !in.opts.SensitivityErrorControl && errorDim == 0 {
		errorDim = in.m.nx
	}
	inner, err := newIntegrator(fmt.Sprintf("fwd%d_%s", n, in.name), aug, in.opts, errorDim)
	if err != nil {
		return nil, err
	}

	nx, nz := in.m.nx, in.m.nz
	ins := make([]*expr.Node, 0, 3*(n+1))
	var xs, ps, zs []*expr.Node
	for d := 0; d <= n; d++ {
		prefix := ""
		if d > 0 {
			prefix = fmt.Sprintf("fwd%d_", d-1)
		}
		x0 := expr.SymLike(prefix+"x0", in.InputShape(0))
		p := expr.SymLike(prefix+"p", in.InputShape(1))
		z0 := expr.SymLike(prefix+"z0", in.InputShape(2))
		ins = append(ins, x0, p, z0)
		xs, ps, zs = append(xs, x0), append(ps, p), append(zs, z0)
	}
	X0, err := expr.Vertcat(xs...)
	if err != nil {
		return nil, err
	}
	P, err := expr.Vertcat(ps...)
	if err != nil {
		return nil, err
	}
	Z0, err := expr.Vertcat(zs...)
	if err != nil {
		return nil, err
	}
	res, err := expr.Call(inner, X0, P, Z0)
	if err != nil {
		return nil, err
	}
	outs := make([]*expr.Node, 0, 2*(n+1))
	for d := 0; d <= n; d++ {
		xf, err := expr.Rows(res[0], d*nx, (d+1)*nx)
		if err != nil {
			return nil, err
		}
		zf, err := expr.Rows(res[1], d*nz, (d+1)*nz)
		if err != nil {
			return nil, err
		}
		outs = append(outs, xf, zf)
	}
	return function.New(fmt.Sprintf("fwd%d_%s", n, in.name), ins, outs)
}

// Reverse returns the reverse derivative with nadj directions, evaluated by
// checkpointed backward integration.
func (in *Integrator) Reverse(nadj int) (expr.Callable, error) {
	if nadj < 0 {
		return nil, &expr.IndexError{Function: in.name, Kind: "direction count", Index: nadj, Len: 0}
	}
	if nadj == 0 {
		return in, nil
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if r, ok := in.rev[nadj]; ok {
		return r, nil
	}
	r := function.NewAdjoint(in, nadj, func(ctx context.Context, args []*tensor.Dense) ([]*tensor.Dense, error) {
		return in.evalReverse(ctx, nadj, args)
	})
	in.rev[nadj] = r
	return r, nil
}

// evalReverse runs a recording forward pass and one backward pass for all
// directions. args are [x0, p, z0, per direction: (xf seed, zf seed)].
func (in *Integrator) evalReverse(ctx context.Context, n int, args []*tensor.Dense) ([]*tensor.Dense, error) {
	tr, err := in.forward(ctx, args[0].Data(), args[1].Data(), args[2].Data(), true)
	if err != nil {
		return nil, err
	}
	seeds := make([]seed, n)
	for d := range seeds {
		seeds[d] = seed{xf: args[3+2*d].Data(), zf: args[4+2*d].Data()}
	}
	bars, err := in.backward(ctx, tr, seeds)
	if err != nil {
		return nil, err
	}
	out := []*tensor.Dense{column(tr.xf), column(tr.zf)}
	for _, b := range bars {
		out = append(out, column(b.x0), column(b.p), tensor.Zeros(in.InputShape(2)))
	}
	return out, nil
}
