package tensor

import (
	"fmt"
	"math"
	"strings"
)

// Dense is a dense float64 matrix stored in column-major order.
//
// Column-major storage makes vec(A) the backing slice itself, so reshaping
// never moves data and column vectors are contiguous.
type Dense struct {
	shape Shape
	data  []float64
}

// New creates a rows x cols matrix from column-major data.
// The slice is owned by the returned matrix.
func New(rows, cols int, data []float64) (*Dense, error) {
	s := NewShape(rows, cols)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if len(data) != s.NumElements() {
		return nil, &ShapeError{
			Op:     "new",
			Shapes: []Shape{s},
			Msg:    fmt.Sprintf("requires %d elements, got %d", s.NumElements(), len(data)),
		}
	}
	return &Dense{shape: s, data: data}, nil
}

// Zeros creates a zero matrix of the given shape.
func Zeros(s Shape) *Dense {
	if s.Rows < 0 || s.Cols < 0 {
		panic(fmt.Sprintf("tensor: negative shape %s", s))
	}
	return &Dense{shape: s, data: make([]float64, s.NumElements())}
}

// Full creates a matrix with every element set to v.
func Full(s Shape, v float64) *Dense {
	d := Zeros(s)
	for i := range d.data {
		d.data[i] = v
	}
	return d
}

// Scalar creates a 1x1 matrix.
func Scalar(v float64) *Dense {
	return &Dense{shape: NewShape(1, 1), data: []float64{v}}
}

// Column creates a column vector from values. The values are copied.
func Column(values ...float64) *Dense {
	data := make([]float64, len(values))
	copy(data, values)
	return &Dense{shape: NewShape(len(values), 1), data: data}
}

// FromRows creates a matrix from row slices, which must all have equal length.
func FromRows(rows [][]float64) (*Dense, error) {
	r := len(rows)
	c := 0
	if r > 0 {
		c = len(rows[0])
	}
	d := Zeros(NewShape(r, c))
	for i, row := range rows {
		if len(row) != c {
			return nil, &ShapeError{Op: "from_rows", Shapes: []Shape{d.shape}, Msg: fmt.Sprintf("row %d has %d columns", i, len(row))}
		}
		for j, v := range row {
			d.data[j*r+i] = v
		}
	}
	return d, nil
}

// Identity creates the n x n identity matrix.
func Identity(n int) *Dense {
	d := Zeros(NewShape(n, n))
	for i := 0; i < n; i++ {
		d.data[i*n+i] = 1
	}
	return d
}

// Unit creates a matrix of shape s with a single one at column-major position k.
func Unit(s Shape, k int) *Dense {
	d := Zeros(s)
	d.data[k] = 1
	return d
}

// Shape returns the matrix shape.
func (d *Dense) Shape() Shape { return d.shape }

// Rows returns the number of rows.
func (d *Dense) Rows() int { return d.shape.Rows }

// Cols returns the number of columns.
func (d *Dense) Cols() int { return d.shape.Cols }

// Len returns the number of elements.
func (d *Dense) Len() int { return len(d.data) }

// Data returns the column-major backing slice. Callers must not modify it
// unless they own the matrix.
func (d *Dense) Data() []float64 { return d.data }

// At returns element (i, j).
func (d *Dense) At(i, j int) float64 {
	return d.data[j*d.shape.Rows+i]
}

// Set sets element (i, j).
func (d *Dense) Set(i, j int, v float64) {
	d.data[j*d.shape.Rows+i] = v
}

// Value returns the single element of a 1x1 matrix.
func (d *Dense) Value() float64 {
	if !d.shape.IsScalar() {
		panic(fmt.Sprintf("tensor: Value on %s matrix", d.shape))
	}
	return d.data[0]
}

// Clone returns a deep copy.
func (d *Dense) Clone() *Dense {
	data := make([]float64, len(d.data))
	copy(data, d.data)
	return &Dense{shape: d.shape, data: data}
}

// IsZero reports whether every element is exactly zero.
func (d *Dense) IsZero() bool {
	for _, v := range d.data {
		if v != 0 {
			return false
		}
	}
	return true
}

// AllFinite reports whether no element is NaN or infinite.
func (d *Dense) AllFinite() bool {
	for _, v := range d.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// String formats the matrix row by row.
func (d *Dense) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < d.shape.Rows; i++ {
		if i > 0 {
			b.WriteString("; ")
		}
		for j := 0; j < d.shape.Cols; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%g", d.At(i, j))
		}
	}
	b.WriteByte(']')
	return b.String()
}

// AllClose reports whether a and b have equal shapes and
// |a-b| <= atol + rtol*|b| holds elementwise.
func AllClose(a, b *Dense, rtol, atol float64) bool {
	if !a.shape.Equal(b.shape) {
		return false
	}
	for i, av := range a.data {
		bv := b.data[i]
		if math.Abs(av-bv) > atol+rtol*math.Abs(bv) {
			return false
		}
	}
	return true
}
