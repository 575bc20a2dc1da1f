package dopri5

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/sensim/internal/ode"
)

func decay(rate float64) ode.System {
	return ode.System{
		Dim: 1,
		RHS: func(_ float64, x, dxdt []float64) error {
			dxdt[0] = -rate * x[0]
			return nil
		},
	}
}

// oscillator is x'' = -x written as a first-order system.
func oscillator() ode.System {
	return ode.System{
		Dim: 2,
		RHS: func(_ float64, x, dxdt []float64) error {
			dxdt[0] = x[1]
			dxdt[1] = -x[0]
			return nil
		},
	}
}

func reason(t *testing.T, err error) ode.Reason {
	t.Helper()
	var f *ode.IntegrationFailure
	require.True(t, errors.As(err, &f), "want IntegrationFailure, got %v", err)
	return f.Reason
}

func TestExponentialDecay(t *testing.T) {
	s := New(ode.DefaultSettings())
	x := []float64{1}
	mem, st, err := s.Integrate(context.Background(), decay(1), x, 0, 2, nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(-2), x[0], 1e-7)
	assert.Equal(t, 2.0, mem.Time())
	assert.Positive(t, mem.StepSize())
	assert.Positive(t, st.Steps)
	assert.GreaterOrEqual(t, st.RHSEvals, 6*st.Steps)
}

func TestOscillator(t *testing.T) {
	s := New(ode.DefaultSettings())
	x := []float64{1, 0}
	_, _, err := s.Integrate(context.Background(), oscillator(), x, 0, math.Pi, nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, -1, x[0], 1e-6)
	assert.InDelta(t, 0, x[1], 1e-6)
}

func TestObserverSeesEveryAcceptedStep(t *testing.T) {
	s := New(ode.DefaultSettings())
	var times []float64
	obs := func(t float64, _ []float64, mem ode.Memory) error {
		times = append(times, t)
		if mem.Time() != t {
			return errors.New("memory time differs from step time")
		}
		return nil
	}
	_, st, err := s.Integrate(context.Background(), decay(3), []float64{1}, 0.5, 1.5, nil, obs)
	require.NoError(t, err)
	require.Len(t, times, st.Steps)
	for i := 1; i < len(times); i++ {
		assert.Greater(t, times[i], times[i-1])
	}
	assert.Equal(t, 1.5, times[len(times)-1])
}

func TestObserverErrorAborts(t *testing.T) {
	s := New(ode.DefaultSettings())
	stop := errors.New("stop")
	_, _, err := s.Integrate(context.Background(), decay(1), []float64{1}, 0, 1, nil,
		func(float64, []float64, ode.Memory) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestResumeFromMemory(t *testing.T) {
	s := New(ode.DefaultSettings())
	sys := oscillator()

	whole := []float64{1, 0}
	_, _, err := s.Integrate(context.Background(), sys, whole, 0, 2, nil, nil)
	require.NoError(t, err)

	split := []float64{1, 0}
	mem, _, err := s.Integrate(context.Background(), sys, split, 0, 1, nil, nil)
	require.NoError(t, err)
	_, _, err = s.Integrate(context.Background(), sys, split, 1, 2, mem, nil)
	require.NoError(t, err)

	assert.InDelta(t, whole[0], split[0], 1e-7)
	assert.InDelta(t, whole[1], split[1], 1e-7)
}

func TestEmptyInterval(t *testing.T) {
	s := New(ode.DefaultSettings())
	x := []float64{4}
	mem, st, err := s.Integrate(context.Background(), decay(1), x, 1, 1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 4.0, x[0])
	assert.Equal(t, 1.0, mem.Time())
	assert.Zero(t, st.Steps)
}

func TestEmptyState(t *testing.T) {
	s := New(ode.DefaultSettings())
	sys := ode.System{RHS: func(float64, []float64, []float64) error { return nil }}
	mem, _, err := s.Integrate(context.Background(), sys, nil, 0, 1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, mem.Time())
}

func TestBadArguments(t *testing.T) {
	s := New(ode.DefaultSettings())
	_, _, err := s.Integrate(context.Background(), decay(1), []float64{1}, 1, 0, nil, nil)
	assert.Error(t, err)
	_, _, err = s.Integrate(context.Background(), decay(1), []float64{1, 2}, 0, 1, nil, nil)
	assert.Error(t, err)
}

func TestCancelled(t *testing.T) {
	s := New(ode.DefaultSettings())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := s.Integrate(ctx, decay(1), []float64{1}, 0, 1, nil, nil)
	require.Error(t, err)
	assert.Equal(t, ode.Cancelled, reason(t, err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ode.ErrIntegration)
}

func TestCancelledBetweenSteps(t *testing.T) {
	s := New(ode.DefaultSettings())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	steps := 0
	obs := func(float64, []float64, ode.Memory) error {
		steps++
		if steps == 2 {
			cancel()
		}
		return nil
	}
	_, _, err := s.Integrate(ctx, oscillator(), []float64{1, 0}, 0, 100, nil, obs)
	require.Error(t, err)
	assert.Equal(t, ode.Cancelled, reason(t, err))
	assert.Equal(t, 2, steps)
}

func TestTooManySteps(t *testing.T) {
	cfg := ode.DefaultSettings()
	cfg.MaxSteps = 5
	_, st, err := New(cfg).Integrate(context.Background(), oscillator(), []float64{1, 0}, 0, 100, nil, nil)
	require.Error(t, err)
	assert.Equal(t, ode.TooManySteps, reason(t, err))
	assert.Equal(t, 5, st.Steps+st.RejectedSteps)
}

func TestRHSFailure(t *testing.T) {
	boom := errors.New("boom")
	sys := ode.System{Dim: 1, RHS: func(t float64, _, dxdt []float64) error {
		if t > 0.5 {
			return boom
		}
		dxdt[0] = 1
		return nil
	}}
	_, _, err := New(ode.DefaultSettings()).Integrate(context.Background(), sys, []float64{0}, 0, 1, nil, nil)
	require.Error(t, err)
	assert.Equal(t, ode.RHSFailure, reason(t, err))
	assert.ErrorIs(t, err, boom)
}

func TestNonFiniteInitialDerivative(t *testing.T) {
	sys := ode.System{Dim: 1, RHS: func(_ float64, _, dxdt []float64) error {
		dxdt[0] = math.NaN()
		return nil
	}}
	_, _, err := New(ode.DefaultSettings()).Integrate(context.Background(), sys, []float64{0}, 0, 1, nil, nil)
	require.Error(t, err)
	assert.Equal(t, ode.NonFinite, reason(t, err))
}

func TestBlowUpFails(t *testing.T) {
	// x' = x^2, x(0) = 1 has a pole at t = 1.
	sys := ode.System{Dim: 1, RHS: func(_ float64, x, dxdt []float64) error {
		dxdt[0] = x[0] * x[0]
		return nil
	}}
	_, _, err := New(ode.DefaultSettings()).Integrate(context.Background(), sys, []float64{1}, 0, 2, nil, nil)
	require.Error(t, err)
	assert.Contains(t, []ode.Reason{ode.StepUnderflow, ode.NonFinite, ode.TooManySteps}, reason(t, err))

	var f *ode.IntegrationFailure
	require.True(t, errors.As(err, &f))
	assert.Greater(t, f.Time, 0.9)
	assert.Less(t, f.Time, 1.01)
}

func TestMaxStepBoundsSteps(t *testing.T) {
	cfg := ode.DefaultSettings()
	cfg.MaxStep = 0.01
	var prev float64
	obs := func(t float64, _ []float64, _ ode.Memory) error {
		if t-prev > 0.01+1e-12 {
			return errors.New("step larger than MaxStep")
		}
		prev = t
		return nil
	}
	_, st, err := New(cfg).Integrate(context.Background(), decay(1), []float64{1}, 0, 1, nil, obs)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st.Steps, 100)
}

func TestErrorDimIgnoresTrailingStates(t *testing.T) {
	// The second state is 1000 times more sensitive to step size; with
	// ErrorDim 1 it must not drive step selection.
	sys := ode.System{Dim: 2, ErrorDim: 1, RHS: func(_ float64, x, dxdt []float64) error {
		dxdt[0] = -x[0]
		dxdt[1] = -1e3 * x[0]
		return nil
	}}
	full := sys
	full.ErrorDim = 0

	_, partial, err := New(ode.DefaultSettings()).Integrate(context.Background(), sys, []float64{1, 0}, 0, 1, nil, nil)
	require.NoError(t, err)
	_, all, err := New(ode.DefaultSettings()).Integrate(context.Background(), full, []float64{1, 0}, 0, 1, nil, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, partial.Steps, all.Steps)
}
