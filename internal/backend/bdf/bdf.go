// Package bdf implements an implicit backend for stiff systems: variable-step
// backward differentiation formulas of order 1 and 2 with a modified Newton
// corrector and a predictor-based local error estimate.
//
// The first two steps use BDF1 (implicit Euler) with an explicit Euler
// predictor. Once three points are known the method switches to BDF2 with a
// quadratic extrapolation predictor.
package bdf

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/sensim/internal/ode"
)

// Name is the backend identifier.
const Name = "bdf"

const (
	safety    = 0.9
	minFactor = 0.2
	maxFactor = 2.0
	// newtonShrink scales the step after a failed corrector.
	newtonShrink = 0.25
)

// Stepper is the BDF backend.
type Stepper struct {
	cfg ode.Settings
}

var _ ode.Stepper = (*Stepper)(nil)

// New creates a BDF stepper.
func New(cfg ode.Settings) *Stepper {
	return &Stepper{cfg: cfg}
}

// Name returns the backend name.
func (s *Stepper) Name() string { return Name }

type point struct {
	t float64
	y []float64
}

// memory holds up to three past points, oldest first, the last one being
// the current state.
type memory struct {
	h    float64
	hist []point
}

func (m memory) Time() float64 {
	if len(m.hist) == 0 {
		return math.NaN()
	}
	return m.hist[len(m.hist)-1].t
}

func (m memory) StepSize() float64 { return m.h }

func snapshot(h float64, hist []point) memory {
	out := make([]point, len(hist))
	for i, p := range hist {
		out[i] = point{t: p.t, y: append([]float64(nil), p.y...)}
	}
	return memory{h: h, hist: out}
}

// Integrate advances x from tFrom to tTo.
func (s *Stepper) Integrate(ctx context.Context, sys ode.System, x []float64, tFrom, tTo float64, mem ode.Memory, obs ode.Observer) (ode.Memory, ode.Stats, error) {
	var st ode.Stats
	if tTo < tFrom {
		return nil, st, fmt.Errorf("bdf: end time %g before start time %g", tTo, tFrom)
	}
	if len(x) != sys.Dim {
		return nil, st, fmt.Errorf("bdf: state has %d components, system has %d", len(x), sys.Dim)
	}
	if err := ode.CheckContext(ctx, tFrom); err != nil {
		return nil, st, err
	}

	// Resume history only if it ends at the current point.
	var hist []point
	h := 0.0
	if m, ok := mem.(memory); ok && m.Time() == tFrom {
		hist = snapshot(0, m.hist).hist
		h = m.h
	}
	if len(hist) == 0 {
		hist = []point{{t: tFrom, y: append([]float64(nil), x...)}}
	}
	if tTo == tFrom {
		return snapshot(h, hist), st, nil
	}

	n := sys.Dim
	if n == 0 {
		hist = []point{{t: tTo}}
		st.Steps++
		m := snapshot(tTo-tFrom, hist)
		if obs != nil {
			if err := obs(tTo, x, m); err != nil {
				return nil, st, err
			}
		}
		return m, st, nil
	}

	w := &work{
		s:    s,
		sys:  sys,
		st:   &st,
		f:    make([]float64, n),
		fn:   make([]float64, n),
		yp:   make([]float64, n),
		yc:   make([]float64, n),
		psi:  make([]float64, n),
		res:  make([]float64, n),
		errv: make([]float64, n),
		jac:  mat.NewDense(n, n, nil),
	}

	t := tFrom
	if h <= 0 {
		h = s.cfg.InitialStep
	}
	if h <= 0 {
		if err := w.rhs(t, x, w.fn); err != nil {
			return nil, st, err
		}
		h = s.initialStep(sys, x, w.fn, tTo-tFrom)
	}

	rejected := false
	newtonFailed := false
	for t < tTo {
		if err := ode.CheckContext(ctx, t); err != nil {
			return nil, st, err
		}
		if st.Steps+st.RejectedSteps >= s.cfg.MaxSteps {
			return nil, st, ode.Fail(ode.TooManySteps, t, fmt.Errorf("%d steps", s.cfg.MaxSteps))
		}
		h = s.cfg.Clamp(h)
		proposed := h
		last := false
		if t+h >= tTo || tTo-(t+h) < s.cfg.MinStepAt(tTo) {
			h = tTo - t
			last = true
		}
		if !last && h < s.cfg.MinStepAt(t) {
			if newtonFailed {
				return nil, st, ode.Fail(ode.NonConvergence, t, fmt.Errorf("corrector failed at step size %g", h))
			}
			return nil, st, ode.Fail(ode.StepUnderflow, t, fmt.Errorf("step size %g", h))
		}

		order := 1
		if len(hist) == 3 {
			order = 2
		}
		tNext := t + h
		if last {
			tNext = tTo
		}

		ok, err := w.step(order, hist, x, t, h, tNext)
		if err != nil {
			return nil, st, err
		}
		if !ok {
			st.RejectedSteps++
			rejected, newtonFailed = true, true
			h *= newtonShrink
			continue
		}
		newtonFailed = false

		// Local error estimate from the predictor-corrector difference.
		cst := 0.5
		if order == 2 {
			cst = 2.0 / 11
		}
		floats.SubTo(w.errv, w.yc, w.yp)
		floats.Scale(cst, w.errv)
		errNorm := s.cfg.ErrorNorm(w.errv, x, w.yc, sys.Controlled())
		if math.IsNaN(errNorm) {
			st.RejectedSteps++
			rejected = true
			h *= newtonShrink
			continue
		}
		if errNorm > 1 {
			st.RejectedSteps++
			rejected = true
			h *= math.Max(minFactor, safety*math.Pow(errNorm, -1/float64(order+1)))
			continue
		}

		t = tNext
		copy(x, w.yc)
		hist = append(hist, point{t: t, y: append([]float64(nil), x...)})
		if len(hist) > 3 {
			hist = hist[len(hist)-3:]
		}
		st.Steps++

		factor := maxFactor
		if errNorm > 0 {
			factor = math.Min(maxFactor, math.Max(minFactor, safety*math.Pow(errNorm, -1/float64(order+1))))
		}
		if rejected {
			factor = math.Min(factor, 1)
		}
		next := h * factor
		if last {
			next = math.Max(next, proposed)
		}
		h = next
		rejected = false
		if obs != nil {
			if err := obs(t, x, snapshot(h, hist)); err != nil {
				return nil, st, err
			}
		}
	}
	return snapshot(h, hist), st, nil
}

// work holds per-call scratch space.
type work struct {
	s   *Stepper
	sys ode.System
	st  *ode.Stats

	f, fn, yp, yc, psi, res, errv []float64
	jac                           *mat.Dense
}

func (w *work) rhs(t float64, y, dy []float64) error {
	w.st.RHSEvals++
	if err := w.sys.RHS(t, y, dy); err != nil {
		return ode.FailRHS(t, err)
	}
	return nil
}

// step computes the predictor yp and corrector yc for one attempt. It reports
// false if the corrector did not converge.
func (w *work) step(order int, hist []point, y []float64, t, h, tNext float64) (bool, error) {
	var gamma float64
	switch order {
	case 1:
		// yp = y + h f(t, y); y_{n+1} - h f(t_{n+1}, y_{n+1}) = y_n
		if err := w.rhs(t, y, w.fn); err != nil {
			return false, err
		}
		floats.AddScaledTo(w.yp, y, h, w.fn)
		copy(w.psi, y)
		gamma = 1
	default:
		p0, p1 := hist[0], hist[1]
		hPrev := t - p1.t
		omega := h / hPrev
		// y_{n+1} - a1 y_n + a2 y_{n-1} = beta h f_{n+1}
		a1 := (1 + omega) * (1 + omega) / (1 + 2*omega)
		a2 := omega * omega / (1 + 2*omega)
		gamma = (1 + omega) / (1 + 2*omega)
		for i := range w.psi {
			w.psi[i] = a1*y[i] - a2*p1.y[i]
		}
		lagrange(w.yp, tNext, p0, p1, point{t: t, y: y})
	}

	if !ode.Finite(w.yp) {
		return false, nil
	}
	copy(w.yc, w.yp)
	if err := w.jacobian(tNext, w.yc); err != nil {
		return false, err
	}
	n := len(y)
	m := mat.NewDense(n, n, nil)
	m.Scale(-gamma*h, w.jac)
	for i := 0; i < n; i++ {
		m.Set(i, i, m.At(i, i)+1)
	}
	var lu mat.LU
	lu.Factorize(m)
	if lu.Det() == 0 {
		return false, nil
	}

	rhsVec := mat.NewVecDense(n, w.res)
	delta := mat.NewVecDense(n, nil)
	for it := 0; it < w.s.cfg.MaxNewtonIterations; it++ {
		w.st.NewtonIters++
		if err := w.rhs(tNext, w.yc, w.f); err != nil {
			return false, err
		}
		// res = yc - gamma h f - psi
		for i := range w.res {
			w.res[i] = w.yc[i] - gamma*h*w.f[i] - w.psi[i]
		}
		if err := lu.SolveVecTo(delta, false, rhsVec); err != nil {
			var cond mat.Condition
			if !asCondition(err, &cond) {
				return false, nil
			}
		}
		d := delta.RawVector().Data
		floats.Sub(w.yc, d)
		if !ode.Finite(w.yc) {
			return false, nil
		}
		if w.s.cfg.ErrorNorm(d, y, w.yc, w.sys.Dim) <= w.s.cfg.NewtonTolerance {
			return true, nil
		}
	}
	return false, nil
}

func (w *work) jacobian(t float64, y []float64) error {
	w.st.JacobianEvals++
	if w.sys.Jacobian != nil {
		if err := w.sys.Jacobian(t, y, w.jac); err != nil {
			return ode.FailRHS(t, err)
		}
		return nil
	}
	f0 := make([]float64, len(y))
	if err := w.rhs(t, y, f0); err != nil {
		return err
	}
	evals, err := ode.FiniteDifferenceJacobian(w.sys, t, y, f0, w.jac)
	w.st.RHSEvals += evals
	if err != nil {
		return ode.FailRHS(t, err)
	}
	return nil
}

// lagrange writes the quadratic through p0, p1, p2 evaluated at t into dst.
func lagrange(dst []float64, t float64, p0, p1, p2 point) {
	l0 := (t - p1.t) * (t - p2.t) / ((p0.t - p1.t) * (p0.t - p2.t))
	l1 := (t - p0.t) * (t - p2.t) / ((p1.t - p0.t) * (p1.t - p2.t))
	l2 := (t - p0.t) * (t - p1.t) / ((p2.t - p0.t) * (p2.t - p1.t))
	for i := range dst {
		dst[i] = l0*p0.y[i] + l1*p1.y[i] + l2*p2.y[i]
	}
}

func (s *Stepper) initialStep(sys ode.System, x, f0 []float64, span float64) float64 {
	n := sys.Controlled()
	zero := make([]float64, len(x))
	d0 := s.cfg.ErrorNorm(x, x, zero, n)
	d1 := s.cfg.ErrorNorm(f0, x, zero, n)
	h := 1e-6
	if d0 >= 1e-5 && d1 >= 1e-5 {
		h = 0.01 * d0 / d1
	}
	return math.Min(h, span)
}
