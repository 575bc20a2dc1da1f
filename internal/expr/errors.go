package expr

import (
	"errors"
	"fmt"

	"github.com/born-ml/sensim/internal/tensor"
)

var (
	// ErrShapeMismatch is matched by every ShapeMismatchError.
	ErrShapeMismatch = errors.New("argument shape mismatch")

	// ErrIndex is matched by every IndexError.
	ErrIndex = errors.New("index out of range")

	// ErrFreeVariable is returned when an output depends on a symbol that is not an input.
	ErrFreeVariable = errors.New("free variable")

	// ErrInvalidInput is returned when a function input is not a distinct symbolic leaf.
	ErrInvalidInput = errors.New("invalid function input")
)

// ShapeMismatchError reports an argument whose shape differs from the declared input shape.
type ShapeMismatchError struct {
	Function string
	Input    int
	Want     tensor.Shape
	Got      tensor.Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: input %d has shape %s, want %s", e.Function, e.Input, e.Got, e.Want)
}

// Is makes errors.Is(err, ErrShapeMismatch) true.
func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }

// IndexError reports an input, output or direction index outside its range.
type IndexError struct {
	Function string
	Kind     string
	Index    int
	Len      int
}

// KindArguments marks an IndexError about the number of call arguments.
const KindArguments = "arguments"

func (e *IndexError) Error() string {
	if e.Kind == KindArguments {
		return fmt.Sprintf("%s: got %d arguments, want %d", e.Function, e.Index, e.Len)
	}
	return fmt.Sprintf("%s: %s index %d out of range [0, %d)", e.Function, e.Kind, e.Index, e.Len)
}

// Is makes errors.Is(err, ErrIndex) true.
func (e *IndexError) Is(target error) bool { return target == ErrIndex }

// CheckArgs validates the count and shapes of call arguments against f.
func CheckArgs(f Callable, shapes []tensor.Shape) error {
	if len(shapes) != f.NumIn() {
		return &IndexError{Function: f.Name(), Kind: KindArguments, Index: len(shapes), Len: f.NumIn()}
	}
	for i, s := range shapes {
		if want := f.InputShape(i); !want.Equal(s) {
			return &ShapeMismatchError{Function: f.Name(), Input: i, Want: want, Got: s}
		}
	}
	return nil
}
