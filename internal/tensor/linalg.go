package tensor

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MatMul returns the matrix product a * b.
//
// Column-major data of an r x c matrix is the row-major data of its c x r
// transpose, so the product is computed by gonum as (b^T a^T)^T without copies.
func MatMul(a, b *Dense) (*Dense, error) {
	if a.shape.Cols != b.shape.Rows {
		return nil, &ShapeError{Op: "matmul", Shapes: []Shape{a.shape, b.shape}, Msg: "inner dimensions differ"}
	}
	out := Zeros(NewShape(a.shape.Rows, b.shape.Cols))
	if out.Len() == 0 || a.shape.Cols == 0 {
		return out, nil
	}
	at := mat.NewDense(a.shape.Cols, a.shape.Rows, a.data)
	bt := mat.NewDense(b.shape.Cols, b.shape.Rows, b.data)
	ct := mat.NewDense(b.shape.Cols, a.shape.Rows, out.data)
	ct.Mul(bt, at)
	return out, nil
}

// ToGonum copies a into a row-major gonum matrix. Empty matrices are not supported by gonum
// and yield nil.
func ToGonum(a *Dense) *mat.Dense {
	if a.Len() == 0 {
		return nil
	}
	return mat.DenseCopyOf(mat.NewDense(a.shape.Cols, a.shape.Rows, a.data).T())
}

// FromGonum copies a gonum matrix into column-major storage.
func FromGonum(m mat.Matrix) *Dense {
	r, c := m.Dims()
	out := Zeros(NewShape(r, c))
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			out.data[j*r+i] = m.At(i, j)
		}
	}
	return out
}

// Solve returns x with a * x = b using an LU factorization with partial pivoting.
func Solve(a, b *Dense) (*Dense, error) {
	n := a.shape.Rows
	if a.shape.Cols != n {
		return nil, &ShapeError{Op: "solve", Shapes: []Shape{a.shape, b.shape}, Msg: "coefficient matrix must be square"}
	}
	if b.shape.Rows != n {
		return nil, &ShapeError{Op: "solve", Shapes: []Shape{a.shape, b.shape}, Msg: "right-hand side row count differs"}
	}
	if n == 0 || b.shape.Cols == 0 {
		return Zeros(b.shape), nil
	}
	var lu mat.LU
	lu.Factorize(ToGonum(a))
	if lu.Det() == 0 || math.IsInf(lu.Cond(), 1) {
		return nil, fmt.Errorf("solve %s system: %w", a.shape, ErrSingular)
	}
	x := mat.NewDense(n, b.shape.Cols, nil)
	if err := lu.SolveTo(x, false, ToGonum(b)); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, fmt.Errorf("solve %s system: %w", a.shape, ErrSingular)
		}
	}
	return FromGonum(x), nil
}
