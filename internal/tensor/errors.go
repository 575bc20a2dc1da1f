package tensor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrShape is matched by every ShapeError.
	ErrShape = errors.New("tensor: incompatible shapes")

	// ErrSingular is returned by Solve when the coefficient matrix is singular.
	ErrSingular = errors.New("tensor: singular matrix")
)

// ShapeError describes operands whose shapes are incompatible for Op.
type ShapeError struct {
	Op     string
	Shapes []Shape
	Msg    string
}

func (e *ShapeError) Error() string {
	parts := make([]string, len(e.Shapes))
	for i, s := range e.Shapes {
		parts[i] = s.String()
	}
	return fmt.Sprintf("%s: %s (shapes %s)", e.Op, e.Msg, strings.Join(parts, ", "))
}

// Is makes errors.Is(err, ErrShape) true for any ShapeError.
func (e *ShapeError) Is(target error) bool {
	return target == ErrShape
}
