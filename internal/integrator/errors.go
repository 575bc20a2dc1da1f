package integrator

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is matched by every ConfigurationError.
	ErrConfiguration = errors.New("invalid integrator configuration")

	// ErrSequence is matched by every SequenceError.
	ErrSequence = errors.New("integrator call out of sequence")
)

// ConfigurationError reports an unknown or invalid option.
type ConfigurationError struct {
	Key   string
	Value any
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("integrator option %q: %s", e.Key, e.Msg)
	}
	return fmt.Sprintf("integrator option %q = %v: %s", e.Key, e.Value, e.Msg)
}

// Is makes errors.Is(err, ErrConfiguration) true.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// SequenceError reports a sensitivity request that needs a prior forward run.
type SequenceError struct {
	Op string
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("%s requires a completed forward run", e.Op)
}

// Is makes errors.Is(err, ErrSequence) true.
func (e *SequenceError) Is(target error) bool { return target == ErrSequence }
