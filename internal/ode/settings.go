package ode

import "math"

// Settings configures a backend.
type Settings struct {
	RelTol float64
	AbsTol float64

	// MaxSteps bounds accepted plus rejected steps per Integrate call.
	MaxSteps int

	// InitialStep is the first trial step; zero selects it automatically.
	InitialStep float64
	// MinStep is the smallest allowed step; zero means a multiple of the
	// time resolution at t.
	MinStep float64
	// MaxStep bounds the step size; zero means unbounded.
	MaxStep float64

	// MaxNewtonIterations bounds corrector iterations of implicit backends.
	MaxNewtonIterations int
	// NewtonTolerance is the weighted-norm convergence threshold of the corrector.
	NewtonTolerance float64
}

// DefaultSettings returns backend defaults.
func DefaultSettings() Settings {
	return Settings{
		RelTol:              1e-8,
		AbsTol:              1e-8,
		MaxSteps:            100000,
		MaxNewtonIterations: 8,
		NewtonTolerance:     1e-2,
	}
}

// ErrorNorm is the weighted RMS norm
//
//	sqrt(1/n sum (e_i / (atol + rtol*max(|a_i|, |b_i|)))^2)
//
// over the first n components.
func (s Settings) ErrorNorm(e, a, b []float64, n int) float64 {
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		w := s.AbsTol + s.RelTol*math.Max(math.Abs(a[i]), math.Abs(b[i]))
		r := e[i] / w
		sum += r * r
	}
	return math.Sqrt(sum / float64(n))
}

// MinStepAt returns the smallest step allowed at time t.
func (s Settings) MinStepAt(t float64) float64 {
	floor := 16 * epsilon * math.Max(math.Abs(t), 1)
	return math.Max(s.MinStep, floor)
}

// Clamp limits a proposed step to MaxStep.
func (s Settings) Clamp(h float64) float64 {
	if s.MaxStep > 0 && h > s.MaxStep {
		return s.MaxStep
	}
	return h
}

const epsilon = 2.220446049250313e-16
