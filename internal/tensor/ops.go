package tensor

import (
	"fmt"
	"math"
)

// Apply returns f applied elementwise to a.
func Apply(a *Dense, f func(float64) float64) *Dense {
	out := Zeros(a.shape)
	for i, v := range a.data {
		out.data[i] = f(v)
	}
	return out
}

// Neg returns -a.
func Neg(a *Dense) *Dense { return Apply(a, func(v float64) float64 { return -v }) }

// Exp returns exp(a) elementwise.
func Exp(a *Dense) *Dense { return Apply(a, math.Exp) }

// Log returns log(a) elementwise.
func Log(a *Dense) *Dense { return Apply(a, math.Log) }

// Sin returns sin(a) elementwise.
func Sin(a *Dense) *Dense { return Apply(a, math.Sin) }

// Cos returns cos(a) elementwise.
func Cos(a *Dense) *Dense { return Apply(a, math.Cos) }

// Tan returns tan(a) elementwise.
func Tan(a *Dense) *Dense { return Apply(a, math.Tan) }

// Tanh returns tanh(a) elementwise.
func Tanh(a *Dense) *Dense { return Apply(a, math.Tanh) }

// Sqrt returns sqrt(a) elementwise.
func Sqrt(a *Dense) *Dense { return Apply(a, math.Sqrt) }

// Zip combines a and b elementwise with f, expanding a 1x1 operand.
func Zip(op string, a, b *Dense, f func(x, y float64) float64) (*Dense, error) {
	s, err := ElementwiseShape(op, a.shape, b.shape)
	if err != nil {
		return nil, err
	}
	out := Zeros(s)
	as, bs := a.shape.IsScalar() && !s.IsScalar(), b.shape.IsScalar() && !s.IsScalar()
	for i := range out.data {
		x, y := 0.0, 0.0
		if as {
			x = a.data[0]
		} else {
			x = a.data[i]
		}
		if bs {
			y = b.data[0]
		} else {
			y = b.data[i]
		}
		out.data[i] = f(x, y)
	}
	return out, nil
}

// Add returns a + b.
func Add(a, b *Dense) (*Dense, error) {
	return Zip("add", a, b, func(x, y float64) float64 { return x + y })
}

// Sub returns a - b.
func Sub(a, b *Dense) (*Dense, error) {
	return Zip("sub", a, b, func(x, y float64) float64 { return x - y })
}

// Mul returns the elementwise product a .* b.
func Mul(a, b *Dense) (*Dense, error) {
	return Zip("mul", a, b, func(x, y float64) float64 { return x * y })
}

// Div returns the elementwise quotient a ./ b.
func Div(a, b *Dense) (*Dense, error) {
	return Zip("div", a, b, func(x, y float64) float64 { return x / y })
}

// Pow returns a .^ b.
func Pow(a, b *Dense) (*Dense, error) {
	return Zip("pow", a, b, math.Pow)
}

// Transpose returns the transpose of a.
func Transpose(a *Dense) *Dense {
	r, c := a.shape.Rows, a.shape.Cols
	out := Zeros(a.shape.T())
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			out.data[i*c+j] = a.data[j*r+i]
		}
	}
	return out
}

// Reshape reinterprets a with a new shape holding the same number of elements.
func Reshape(a *Dense, s Shape) (*Dense, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.NumElements() != a.shape.NumElements() {
		return nil, &ShapeError{Op: "reshape", Shapes: []Shape{a.shape, s}, Msg: "element count differs"}
	}
	out := a.Clone()
	out.shape = s
	return out, nil
}

// Vec returns the column vector vec(a).
func Vec(a *Dense) *Dense {
	out := a.Clone()
	out.shape = NewShape(len(out.data), 1)
	return out
}

// Vertcat stacks matrices with equal column counts on top of each other.
func Vertcat(parts ...*Dense) (*Dense, error) {
	if len(parts) == 0 {
		return Zeros(Shape{}), nil
	}
	cols, rows := parts[0].shape.Cols, 0
	for _, p := range parts {
		if p.shape.Cols != cols {
			return nil, &ShapeError{Op: "vertcat", Shapes: shapesOf(parts), Msg: "column counts differ"}
		}
		rows += p.shape.Rows
	}
	out := Zeros(NewShape(rows, cols))
	off := 0
	for _, p := range parts {
		for j := 0; j < cols; j++ {
			copy(out.data[j*rows+off:j*rows+off+p.shape.Rows], p.data[j*p.shape.Rows:(j+1)*p.shape.Rows])
		}
		off += p.shape.Rows
	}
	return out, nil
}

// Horzcat places matrices with equal row counts side by side.
func Horzcat(parts ...*Dense) (*Dense, error) {
	if len(parts) == 0 {
		return Zeros(Shape{}), nil
	}
	rows, cols := parts[0].shape.Rows, 0
	for _, p := range parts {
		if p.shape.Rows != rows {
			return nil, &ShapeError{Op: "horzcat", Shapes: shapesOf(parts), Msg: "row counts differ"}
		}
		cols += p.shape.Cols
	}
	data := make([]float64, 0, rows*cols)
	for _, p := range parts {
		data = append(data, p.data...)
	}
	return &Dense{shape: NewShape(rows, cols), data: data}, nil
}

// Block returns the submatrix of rows [r0, r1) and columns [c0, c1).
func Block(a *Dense, r0, r1, c0, c1 int) (*Dense, error) {
	if err := CheckBlock(a.shape, r0, r1, c0, c1); err != nil {
		return nil, err
	}
	out := Zeros(NewShape(r1-r0, c1-c0))
	for j := c0; j < c1; j++ {
		copy(out.data[(j-c0)*(r1-r0):(j-c0+1)*(r1-r0)], a.data[j*a.shape.Rows+r0:j*a.shape.Rows+r1])
	}
	return out, nil
}

// CheckBlock validates a block range against shape s.
func CheckBlock(s Shape, r0, r1, c0, c1 int) error {
	if r0 < 0 || r1 < r0 || r1 > s.Rows || c0 < 0 || c1 < c0 || c1 > s.Cols {
		return &ShapeError{Op: "block", Shapes: []Shape{s}, Msg: fmt.Sprintf("range [%d:%d, %d:%d] out of bounds", r0, r1, c0, c1)}
	}
	return nil
}

// Embed places a into a zero matrix of shape s with its top-left corner at (r0, c0).
// It is the adjoint of Block.
func Embed(a *Dense, s Shape, r0, c0 int) (*Dense, error) {
	if err := CheckBlock(s, r0, r0+a.shape.Rows, c0, c0+a.shape.Cols); err != nil {
		return nil, err
	}
	out := Zeros(s)
	for j := 0; j < a.shape.Cols; j++ {
		copy(out.data[(c0+j)*s.Rows+r0:(c0+j)*s.Rows+r0+a.shape.Rows], a.data[j*a.shape.Rows:(j+1)*a.shape.Rows])
	}
	return out, nil
}

// Sum returns the 1x1 sum of all elements.
func Sum(a *Dense) *Dense {
	var s float64
	for _, v := range a.data {
		s += v
	}
	return Scalar(s)
}

// ReduceTo sums g down to a 1x1 target when the target shape was expanded in
// an elementwise operation. Equal shapes are returned as is.
func ReduceTo(g *Dense, target Shape) (*Dense, error) {
	switch {
	case g.shape.Equal(target):
		return g, nil
	case target.IsScalar():
		return Sum(g), nil
	}
	return nil, &ShapeError{Op: "reduce", Shapes: []Shape{g.shape, target}, Msg: "cannot reduce to target"}
}

// Ones returns a matrix of ones with shape s.
func Ones(s Shape) *Dense { return Full(s, 1) }

func shapesOf(parts []*Dense) []Shape {
	out := make([]Shape, len(parts))
	for i, p := range parts {
		out[i] = p.shape
	}
	return out
}
