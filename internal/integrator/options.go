package integrator

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/sensim/internal/backend/bdf"
	"github.com/born-ml/sensim/internal/backend/dopri5"
	"github.com/born-ml/sensim/internal/checkpoint"
	"github.com/born-ml/sensim/internal/ode"
)

// Options configures an Integrator. Every recognized option is a field; the
// yaml names are the keys accepted by LoadOptions and OptionsFromMap.
type Options struct {
	RelTol float64 `yaml:"reltol"`
	AbsTol float64 `yaml:"abstol"`

	// T0 and TF bound the integration interval.
	T0 float64 `yaml:"t0"`
	TF float64 `yaml:"tf"`

	// Backend is "dopri5" (explicit, default) or "bdf" (implicit, stiff).
	Backend string `yaml:"backend"`

	MaxSteps    int     `yaml:"max_steps"`
	InitialStep float64 `yaml:"initial_step"`
	MinStep     float64 `yaml:"min_step"`
	MaxStep     float64 `yaml:"max_step"`

	// MaxCheckpoints bounds the checkpoints kept for adjoint passes.
	MaxCheckpoints int `yaml:"max_checkpoints"`
	// StepsPerCheckpoint is the initial checkpoint spacing in accepted steps.
	StepsPerCheckpoint int `yaml:"steps_per_checkpoint"`

	// SensitivityErrorControl includes forward sensitivity states in the
	// step size error estimate.
	SensitivityErrorControl bool `yaml:"sensitivity_error_control"`

	// MaxNewtonIterations bounds Newton iterations of the algebraic solve
	// and of implicit backend correctors.
	MaxNewtonIterations int `yaml:"max_newton_iterations"`
	// NewtonTolerance is the relative step tolerance of the algebraic solve.
	NewtonTolerance float64 `yaml:"newton_tolerance"`

	// Logger receives debug and failure logs. Nil disables logging.
	Logger *zap.Logger `yaml:"-"`
}

// DefaultOptions returns the default configuration.
func DefaultOptions() Options {
	return Options{
		RelTol:                  1e-8,
		AbsTol:                  1e-8,
		T0:                      0,
		TF:                      1,
		Backend:                 dopri5.Name,
		MaxSteps:                100000,
		MaxCheckpoints:          1000,
		StepsPerCheckpoint:      1,
		SensitivityErrorControl: true,
		MaxNewtonIterations:     8,
		NewtonTolerance:         1e-10,
	}
}

// backends maps backend names to constructors.
var backends = map[string]func(ode.Settings) ode.Stepper{
	dopri5.Name: func(s ode.Settings) ode.Stepper { return dopri5.New(s) },
	bdf.Name:    func(s ode.Settings) ode.Stepper { return bdf.New(s) },
}

// Backends returns the registered backend names.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func invalid(key string, value any, format string, args ...any) error {
	return &ConfigurationError{Key: key, Value: value, Msg: fmt.Sprintf(format, args...)}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Validate checks every option.
func (o Options) Validate() error {
	if !(o.RelTol >= 0) || !finite(o.RelTol) {
		return invalid("reltol", o.RelTol, "must be a finite non-negative number")
	}
	if !(o.AbsTol >= 0) || !finite(o.AbsTol) {
		return invalid("abstol", o.AbsTol, "must be a finite non-negative number")
	}
	if o.RelTol == 0 && o.AbsTol == 0 {
		return invalid("abstol", o.AbsTol, "reltol and abstol cannot both be zero")
	}
	if !finite(o.T0) {
		return invalid("t0", o.T0, "must be finite")
	}
	if !finite(o.TF) || o.TF < o.T0 {
		return invalid("tf", o.TF, "must be finite and not before t0 = %g", o.T0)
	}
	if _, ok := backends[o.Backend]; !ok {
		return invalid("backend", o.Backend, "unknown backend, want one of %v", Backends())
	}
	if o.MaxSteps < 1 {
		return invalid("max_steps", o.MaxSteps, "must be positive")
	}
	for _, f := range []struct {
		key string
		v   float64
	}{{"initial_step", o.InitialStep}, {"min_step", o.MinStep}, {"max_step", o.MaxStep}} {
		if !(f.v >= 0) || !finite(f.v) {
			return invalid(f.key, f.v, "must be a finite non-negative number")
		}
	}
	if o.MaxStep > 0 && o.MinStep > o.MaxStep {
		return invalid("min_step", o.MinStep, "exceeds max_step = %g", o.MaxStep)
	}
	if o.MaxCheckpoints < 2 {
		return invalid("max_checkpoints", o.MaxCheckpoints, "must be at least 2")
	}
	if o.StepsPerCheckpoint < 1 {
		return invalid("steps_per_checkpoint", o.StepsPerCheckpoint, "must be positive")
	}
	if o.MaxNewtonIterations < 1 {
		return invalid("max_newton_iterations", o.MaxNewtonIterations, "must be positive")
	}
	if !(o.NewtonTolerance > 0) || !finite(o.NewtonTolerance) {
		return invalid("newton_tolerance", o.NewtonTolerance, "must be a finite positive number")
	}
	return nil
}

// settings returns the backend settings.
func (o Options) settings() ode.Settings {
	s := ode.DefaultSettings()
	s.RelTol = o.RelTol
	s.AbsTol = o.AbsTol
	s.MaxSteps = o.MaxSteps
	s.InitialStep = o.InitialStep
	s.MinStep = o.MinStep
	s.MaxStep = o.MaxStep
	s.MaxNewtonIterations = o.MaxNewtonIterations
	return s
}

func (o Options) checkpoints() checkpoint.Config {
	return checkpoint.Config{MaxCheckpoints: o.MaxCheckpoints, StepsPerCheckpoint: o.StepsPerCheckpoint}
}

func (o Options) stepper() ode.Stepper {
	return backends[o.Backend](o.settings())
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// DecodeOptions reads yaml options over the defaults. Unknown keys fail with
// a ConfigurationError.
func DecodeOptions(r io.Reader) (Options, error) {
	opts := DefaultOptions()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil && err != io.EOF {
		return Options{}, &ConfigurationError{Key: "yaml", Msg: err.Error()}
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// LoadOptions reads yaml options from path.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("load options: %w", err)
	}
	return DecodeOptions(bytes.NewReader(data))
}

// OptionsFromMap applies a flat option bag over the defaults. Keys are the
// yaml names; unknown keys and mistyped values fail with a ConfigurationError.
func OptionsFromMap(m map[string]any) (Options, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return Options{}, &ConfigurationError{Key: "options", Msg: err.Error()}
	}
	return DecodeOptions(bytes.NewReader(data))
}
