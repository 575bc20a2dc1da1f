package expr

import (
	"fmt"

	"github.com/born-ml/sensim/internal/tensor"
)

// Sym creates a free symbol of shape rows x cols.
func Sym(name string, rows, cols int) *Node {
	s := tensor.NewShape(rows, cols)
	if err := s.Validate(); err != nil {
		panic(fmt.Sprintf("expr: symbol %q: %v", name, err))
	}
	n := newNode(OpLeaf, s)
	n.name = name
	return n
}

// Scalar creates a 1x1 symbol.
func Scalar(name string) *Node { return Sym(name, 1, 1) }

// Column creates an n x 1 symbol.
func Column(name string, n int) *Node { return Sym(name, n, 1) }

// SymLike creates a symbol with the shape of s.
func SymLike(name string, s tensor.Shape) *Node { return Sym(name, s.Rows, s.Cols) }

// Const creates a constant node. The value is copied.
func Const(v *tensor.Dense) *Node {
	n := newNode(OpConst, v.Shape())
	n.value = v.Clone()
	return n
}

// ConstScalar creates a 1x1 constant.
func ConstScalar(v float64) *Node { return Const(tensor.Scalar(v)) }

// Zeros creates a zero constant of shape s.
func Zeros(s tensor.Shape) *Node { return Const(tensor.Zeros(s)) }

// Must panics if err is non-nil and returns n otherwise. It is meant for
// building graphs whose shapes are known to be valid.
func Must(n *Node, err error) *Node {
	if err != nil {
		panic(err)
	}
	return n
}

func allConst(args ...*Node) bool {
	for _, a := range args {
		if a.op != OpConst {
			return false
		}
	}
	return true
}

// Unary applies an elementwise unary operation.
func Unary(op Op, a *Node) *Node {
	k := UnaryKernel(op)
	if k == nil {
		panic(fmt.Sprintf("expr: %s is not a unary operation", op))
	}
	if a.op == OpConst {
		return Const(k(a.value))
	}
	return newNode(op, a.shape, a)
}

// Neg returns -a.
func Neg(a *Node) *Node { return Unary(OpNeg, a) }

// Exp returns exp(a).
func Exp(a *Node) *Node { return Unary(OpExp, a) }

// Log returns log(a).
func Log(a *Node) *Node { return Unary(OpLog, a) }

// Sin returns sin(a).
func Sin(a *Node) *Node { return Unary(OpSin, a) }

// Cos returns cos(a).
func Cos(a *Node) *Node { return Unary(OpCos, a) }

// Tan returns tan(a).
func Tan(a *Node) *Node { return Unary(OpTan, a) }

// Tanh returns tanh(a).
func Tanh(a *Node) *Node { return Unary(OpTanh, a) }

// Sqrt returns sqrt(a).
func Sqrt(a *Node) *Node { return Unary(OpSqrt, a) }

// Binary applies an elementwise binary operation. Operands must have equal
// shapes, or one of them must be 1x1.
func Binary(op Op, a, b *Node) (*Node, error) {
	k := BinaryKernel(op)
	if k == nil {
		return nil, fmt.Errorf("expr: %s is not an elementwise binary operation", op)
	}
	s, err := tensor.ElementwiseShape(op.String(), a.shape, b.shape)
	if err != nil {
		return nil, err
	}
	if allConst(a, b) {
		v, err := k(a.value, b.value)
		if err != nil {
			return nil, err
		}
		return Const(v), nil
	}
	return newNode(op, s, a, b), nil
}

// Add returns a + b.
func Add(a, b *Node) (*Node, error) { return Binary(OpAdd, a, b) }

// Sub returns a - b.
func Sub(a, b *Node) (*Node, error) { return Binary(OpSub, a, b) }

// Mul returns the elementwise product a .* b.
func Mul(a, b *Node) (*Node, error) { return Binary(OpMul, a, b) }

// Div returns the elementwise quotient a ./ b.
func Div(a, b *Node) (*Node, error) { return Binary(OpDiv, a, b) }

// Pow returns a .^ b.
func Pow(a, b *Node) (*Node, error) { return Binary(OpPow, a, b) }

// MatMul returns the matrix product a * b.
func MatMul(a, b *Node) (*Node, error) {
	if a.shape.Cols != b.shape.Rows {
		return nil, &tensor.ShapeError{Op: "matmul", Shapes: []tensor.Shape{a.shape, b.shape}, Msg: "inner dimensions differ"}
	}
	if allConst(a, b) {
		v, err := tensor.MatMul(a.value, b.value)
		if err != nil {
			return nil, err
		}
		return Const(v), nil
	}
	return newNode(OpMatMul, tensor.NewShape(a.shape.Rows, b.shape.Cols), a, b), nil
}

// Transpose returns a^T.
func Transpose(a *Node) *Node {
	if a.op == OpConst {
		return Const(tensor.Transpose(a.value))
	}
	return newNode(OpTranspose, a.shape.T(), a)
}

// Reshape reinterprets a (column-major) with shape s.
func Reshape(a *Node, s tensor.Shape) (*Node, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.NumElements() != a.shape.NumElements() {
		return nil, &tensor.ShapeError{Op: "reshape", Shapes: []tensor.Shape{a.shape, s}, Msg: "element count differs"}
	}
	if s.Equal(a.shape) {
		return a, nil
	}
	if a.op == OpConst {
		v, err := tensor.Reshape(a.value, s)
		if err != nil {
			return nil, err
		}
		return Const(v), nil
	}
	return newNode(OpReshape, s, a), nil
}

// Vec returns a reshaped into a column.
func Vec(a *Node) *Node {
	return Must(Reshape(a, tensor.NewShape(a.shape.NumElements(), 1)))
}

// Vertcat stacks operands with equal column counts.
func Vertcat(parts ...*Node) (*Node, error) {
	return concat(OpVertcat, parts)
}

// Horzcat places operands with equal row counts side by side.
func Horzcat(parts ...*Node) (*Node, error) {
	return concat(OpHorzcat, parts)
}

func concat(op Op, parts []*Node) (*Node, error) {
	if len(parts) == 0 {
		return Zeros(tensor.Shape{}), nil
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	shapes := make([]tensor.Shape, len(parts))
	s := tensor.Shape{}
	for i, p := range parts {
		shapes[i] = p.shape
	}
	for _, p := range parts {
		switch op {
		case OpVertcat:
			if p.shape.Cols != parts[0].shape.Cols {
				return nil, &tensor.ShapeError{Op: "vertcat", Shapes: shapes, Msg: "column counts differ"}
			}
			s = tensor.NewShape(s.Rows+p.shape.Rows, p.shape.Cols)
		default:
			if p.shape.Rows != parts[0].shape.Rows {
				return nil, &tensor.ShapeError{Op: "horzcat", Shapes: shapes, Msg: "row counts differ"}
			}
			s = tensor.NewShape(p.shape.Rows, s.Cols+p.shape.Cols)
		}
	}
	if allConst(parts...) {
		vals := make([]*tensor.Dense, len(parts))
		for i, p := range parts {
			vals[i] = p.value
		}
		var (
			v   *tensor.Dense
			err error
		)
		if op == OpVertcat {
			v, err = tensor.Vertcat(vals...)
		} else {
			v, err = tensor.Horzcat(vals...)
		}
		if err != nil {
			return nil, err
		}
		return Const(v), nil
	}
	return newNode(op, s, parts...), nil
}

// Block returns the submatrix of rows [r0, r1) and columns [c0, c1).
func Block(a *Node, r0, r1, c0, c1 int) (*Node, error) {
	if err := tensor.CheckBlock(a.shape, r0, r1, c0, c1); err != nil {
		return nil, err
	}
	if r0 == 0 && c0 == 0 && r1 == a.shape.Rows && c1 == a.shape.Cols {
		return a, nil
	}
	if a.op == OpConst {
		v, err := tensor.Block(a.value, r0, r1, c0, c1)
		if err != nil {
			return nil, err
		}
		return Const(v), nil
	}
	n := newNode(OpBlock, tensor.NewShape(r1-r0, c1-c0), a)
	n.rng = [4]int{r0, r1, c0, c1}
	return n, nil
}

// Rows returns rows [r0, r1) of a.
func Rows(a *Node, r0, r1 int) (*Node, error) {
	return Block(a, r0, r1, 0, a.shape.Cols)
}

// Cols returns columns [c0, c1) of a.
func Cols(a *Node, c0, c1 int) (*Node, error) {
	return Block(a, 0, a.shape.Rows, c0, c1)
}

// Element returns element k of a in column-major order as a 1x1 node.
func Element(a *Node, k int) (*Node, error) {
	if k < 0 || k >= a.shape.NumElements() {
		return nil, &IndexError{Function: "element", Kind: "element", Index: k, Len: a.shape.NumElements()}
	}
	if a.shape.Rows == 0 {
		return nil, &IndexError{Function: "element", Kind: "element", Index: k, Len: 0}
	}
	i, j := k%a.shape.Rows, k/a.shape.Rows
	return Block(a, i, i+1, j, j+1)
}

// Embed places a into a zero matrix of shape s at offset (r0, c0).
func Embed(a *Node, s tensor.Shape, r0, c0 int) (*Node, error) {
	if err := tensor.CheckBlock(s, r0, r0+a.shape.Rows, c0, c0+a.shape.Cols); err != nil {
		return nil, err
	}
	if s.Equal(a.shape) {
		return a, nil
	}
	if a.op == OpConst {
		v, err := tensor.Embed(a.value, s, r0, c0)
		if err != nil {
			return nil, err
		}
		return Const(v), nil
	}
	n := newNode(OpEmbed, s, a)
	n.rng = [4]int{r0, c0, 0, 0}
	return n, nil
}

// Sum returns the 1x1 sum of all elements of a.
func Sum(a *Node) *Node {
	if a.op == OpConst {
		return Const(tensor.Sum(a.value))
	}
	return newNode(OpSum, tensor.NewShape(1, 1), a)
}

// Dot returns sum(a .* b).
func Dot(a, b *Node) (*Node, error) {
	p, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	return Sum(p), nil
}

// Solve returns x with a * x = b.
func Solve(a, b *Node) (*Node, error) {
	if a.shape.Rows != a.shape.Cols || b.shape.Rows != a.shape.Rows {
		return nil, &tensor.ShapeError{Op: "solve", Shapes: []tensor.Shape{a.shape, b.shape}, Msg: "need square coefficients and matching rows"}
	}
	if allConst(a, b) {
		v, err := tensor.Solve(a.value, b.value)
		if err != nil {
			return nil, err
		}
		return Const(v), nil
	}
	return newNode(OpSolve, b.shape, a, b), nil
}
