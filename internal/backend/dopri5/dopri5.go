// Package dopri5 implements the default integration backend: an adaptive
// explicit Runge-Kutta method of order 5 with an embedded order 4 error
// estimate (Dormand-Prince), using the first-same-as-last property.
package dopri5

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/sensim/internal/ode"
)

// Name is the backend identifier.
const Name = "dopri5"

// Stepper is the Dormand-Prince backend.
type Stepper struct {
	cfg ode.Settings
}

var _ ode.Stepper = (*Stepper)(nil)

// New creates a Dormand-Prince stepper.
func New(cfg ode.Settings) *Stepper {
	return &Stepper{cfg: cfg}
}

// Name returns the backend name.
func (s *Stepper) Name() string { return Name }

type memory struct {
	t, h float64
}

func (m memory) Time() float64     { return m.t }
func (m memory) StepSize() float64 { return m.h }

// Integrate advances x from tFrom to tTo.
func (s *Stepper) Integrate(ctx context.Context, sys ode.System, x []float64, tFrom, tTo float64, mem ode.Memory, obs ode.Observer) (ode.Memory, ode.Stats, error) {
	var st ode.Stats
	if tTo < tFrom {
		return nil, st, fmt.Errorf("dopri5: end time %g before start time %g", tTo, tFrom)
	}
	if len(x) != sys.Dim {
		return nil, st, fmt.Errorf("dopri5: state has %d components, system has %d", len(x), sys.Dim)
	}
	if tTo == tFrom {
		return memory{t: tFrom, h: hint(mem)}, st, nil
	}
	if err := ode.CheckContext(ctx, tFrom); err != nil {
		return nil, st, err
	}

	n := sys.Dim
	var k [7][]float64
	for i := range k {
		k[i] = make([]float64, n)
	}
	ytmp := make([]float64, n)
	ynew := make([]float64, n)
	errv := make([]float64, n)

	eval := func(t float64, y, dy []float64) error {
		st.RHSEvals++
		if err := sys.RHS(t, y, dy); err != nil {
			return ode.FailRHS(t, err)
		}
		return nil
	}

	t := tFrom
	if err := eval(t, x, k[0]); err != nil {
		return nil, st, err
	}
	if !ode.Finite(k[0]) {
		return nil, st, ode.Fail(ode.NonFinite, t, fmt.Errorf("right-hand side at initial state"))
	}

	h := hint(mem)
	if h <= 0 {
		h = s.cfg.InitialStep
	}
	if h <= 0 {
		var err error
		if h, err = s.initialStep(sys, t, x, k[0], tTo-tFrom, eval); err != nil {
			return nil, st, err
		}
	}

	rejected, nonFinite := false, false
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
			if nonFinite {
				return nil, st, ode.Fail(ode.NonFinite, t, fmt.Errorf("step size %g", h))
			}
			return nil, st, ode.Fail(ode.StepUnderflow, t, fmt.Errorf("step size %g", h))
		}

		for i := 1; i < 7; i++ {
			copy(ytmp, x)
			for j := 0; j < i; j++ {
				if a[i][j] != 0 {
					floats.AddScaled(ytmp, h*a[i][j], k[j])
				}
			}
			if err := eval(t+c[i]*h, ytmp, k[i]); err != nil {
				return nil, st, err
			}
		}
		// The last stage is evaluated at the 5th order solution.
		copy(ynew, ytmp)

		for i := range errv {
			errv[i] = 0
		}
		for j := 0; j < 7; j++ {
			if e[j] != 0 {
				floats.AddScaled(errv, h*e[j], k[j])
			}
		}
		errNorm := s.cfg.ErrorNorm(errv, x, ynew, sys.Controlled())
		finite := ode.Finite(ynew) && ode.Finite(k[6]) && !math.IsNaN(errNorm)

		if finite && errNorm <= 1 {
			if last {
				t = tTo
			} else {
				t += h
			}
			copy(x, ynew)
			k[0], k[6] = k[6], k[0]
			st.Steps++

			factor := maxFactor
			if errNorm > 0 {
				factor = math.Min(maxFactor, math.Max(minFactor, safety*math.Pow(errNorm, -1.0/order)))
			}
			if rejected {
				factor = math.Min(factor, 1)
			}
			next := h * factor
			if last {
				next = math.Max(next, proposed)
			}
			h = next
			rejected, nonFinite = false, false
			if obs != nil {
				if err := obs(t, x, memory{t: t, h: h}); err != nil {
					return nil, st, err
				}
			}
			continue
		}

		st.RejectedSteps++
		rejected = true
		if !finite {
			nonFinite = true
			h *= 0.25
			continue
		}
		h *= math.Max(minFactor, safety*math.Pow(errNorm, -1.0/order))
	}
	return memory{t: tTo, h: h}, st, nil
}

// initialStep estimates a first step from the local scale of x and f.
func (s *Stepper) initialStep(sys ode.System, t float64, x, f0 []float64, span float64, eval func(float64, []float64, []float64) error) (float64, error) {
	n := sys.Controlled()
	zero := make([]float64, len(x))
	d0 := s.cfg.ErrorNorm(x, x, zero, n)
	d1 := s.cfg.ErrorNorm(f0, x, zero, n)
	h0 := 1e-6
	if d0 >= 1e-5 && d1 >= 1e-5 {
		h0 = 0.01 * d0 / d1
	}
	h0 = math.Min(h0, span)

	x1 := make([]float64, len(x))
	floats.AddScaledTo(x1, x, h0, f0)
	f1 := make([]float64, len(x))
	if err := eval(t+h0, x1, f1); err != nil {
		return 0, err
	}
	floats.Sub(f1, f0)
	d2 := s.cfg.ErrorNorm(f1, x, zero, n) / h0

	var h1 float64
	if m := math.Max(d1, d2); m <= 1e-15 || math.IsNaN(m) {
		h1 = math.Max(1e-6, h0*1e-3)
	} else {
		h1 = math.Pow(0.01/m, 1.0/order)
	}
	return math.Min(math.Min(100*h0, h1), span), nil
}

func hint(mem ode.Memory) float64 {
	if mem == nil {
		return 0
	}
	return mem.StepSize()
}
