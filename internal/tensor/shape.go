package tensor

import "fmt"

// Shape is the dimension of a matrix. Scalars are 1x1, column vectors are nx1.
// Zero dimensions are allowed and denote empty matrices.
type Shape struct {
	Rows int
	Cols int
}

// NewShape returns the shape rows x cols.
func NewShape(rows, cols int) Shape {
	return Shape{Rows: rows, Cols: cols}
}

// NumElements returns the total number of elements.
func (s Shape) NumElements() int {
	return s.Rows * s.Cols
}

// Validate checks that no dimension is negative.
func (s Shape) Validate() error {
	if s.Rows < 0 || s.Cols < 0 {
		return &ShapeError{Op: "validate", Shapes: []Shape{s}, Msg: "negative dimension"}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	return s.Rows == other.Rows && s.Cols == other.Cols
}

// IsScalar reports whether the shape is 1x1.
func (s Shape) IsScalar() bool {
	return s.Rows == 1 && s.Cols == 1
}

// IsColumn reports whether the shape has exactly one column.
func (s Shape) IsColumn() bool {
	return s.Cols == 1
}

// IsEmpty reports whether the shape holds no elements.
func (s Shape) IsEmpty() bool {
	return s.NumElements() == 0
}

// T returns the transposed shape.
func (s Shape) T() Shape {
	return Shape{Rows: s.Cols, Cols: s.Rows}
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.Rows, s.Cols)
}

// ElementwiseShape returns the result shape of an elementwise binary operation.
//
// Rules:
//   - equal shapes produce the same shape
//   - a 1x1 operand is expanded to the shape of the other operand
//
// Any other combination is a ShapeError.
func ElementwiseShape(op string, a, b Shape) (Shape, error) {
	switch {
	case a.Equal(b):
		return a, nil
	case a.IsScalar():
		return b, nil
	case b.IsScalar():
		return a, nil
	}
	return Shape{}, &ShapeError{Op: op, Shapes: []Shape{a, b}, Msg: "operands must have equal shapes or one must be 1x1"}
}
