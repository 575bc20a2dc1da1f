package autodiff

import (
	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/tensor"
)

// calc chains Algebra operations and keeps the first error, so derivative
// rules read like formulas. Once err is set every method returns the zero V.
type calc[V any] struct {
	alg Algebra[V]
	err error
}

func (c *calc[V]) ok() bool { return c.err == nil }

func (c *calc[V]) keep(v V, err error) V {
	if err != nil {
		c.err = err
		var zero V
		return zero
	}
	return v
}

func (c *calc[V]) scalar(v float64) V { return c.alg.Const(tensor.Scalar(v)) }

func (c *calc[V]) zeros(s tensor.Shape) V { return c.alg.Const(tensor.Zeros(s)) }

func (c *calc[V]) unary(op expr.Op, a V) V {
	if !c.ok() {
		var zero V
		return zero
	}
	return c.alg.Unary(op, a)
}

func (c *calc[V]) binary(op expr.Op, a, b V) V {
	if !c.ok() {
		var zero V
		return zero
	}
	return c.keep(c.alg.Binary(op, a, b))
}

func (c *calc[V]) add(a, b V) V { return c.binary(expr.OpAdd, a, b) }
func (c *calc[V]) sub(a, b V) V { return c.binary(expr.OpSub, a, b) }
func (c *calc[V]) mul(a, b V) V { return c.binary(expr.OpMul, a, b) }
func (c *calc[V]) div(a, b V) V { return c.binary(expr.OpDiv, a, b) }
func (c *calc[V]) pow(a, b V) V { return c.binary(expr.OpPow, a, b) }
func (c *calc[V]) neg(a V) V    { return c.unary(expr.OpNeg, a) }

func (c *calc[V]) matmul(a, b V) V {
	if !c.ok() {
		var zero V
		return zero
	}
	return c.keep(c.alg.MatMul(a, b))
}

func (c *calc[V]) transpose(a V) V {
	if !c.ok() {
		var zero V
		return zero
	}
	return c.alg.Transpose(a)
}

func (c *calc[V]) reshape(a V, s tensor.Shape) V {
	if !c.ok() {
		var zero V
		return zero
	}
	return c.keep(c.alg.Reshape(a, s))
}

func (c *calc[V]) concat(op expr.Op, parts []V) V {
	if !c.ok() {
		var zero V
		return zero
	}
	return c.keep(c.alg.Concat(op, parts))
}

func (c *calc[V]) block(a V, r0, r1, c0, c1 int) V {
	if !c.ok() {
		var zero V
		return zero
	}
	return c.keep(c.alg.Block(a, r0, r1, c0, c1))
}

func (c *calc[V]) embed(a V, s tensor.Shape, r0, c0 int) V {
	if !c.ok() {
		var zero V
		return zero
	}
	return c.keep(c.alg.Embed(a, s, r0, c0))
}

func (c *calc[V]) sum(a V) V {
	if !c.ok() {
		var zero V
		return zero
	}
	return c.alg.Sum(a)
}

func (c *calc[V]) solve(a, b V) V {
	if !c.ok() {
		var zero V
		return zero
	}
	return c.keep(c.alg.Solve(a, b))
}

// plus adds two possibly absent values of the same shape.
func (c *calc[V]) plus(a, b V) V {
	switch {
	case !c.alg.Valid(a):
		return b
	case !c.alg.Valid(b):
		return a
	}
	return c.add(a, b)
}

// expand broadcasts a 1x1 value to shape s. Values already of shape s are
// returned unchanged.
func (c *calc[V]) expand(v V, s tensor.Shape) V {
	if !c.ok() || c.alg.Shape(v).Equal(s) {
		return v
	}
	return c.add(c.zeros(s), v)
}

// reduce sums an adjoint down to a 1x1 operand that was expanded in an
// elementwise operation.
func (c *calc[V]) reduce(g V, s tensor.Shape) V {
	if !c.ok() || c.alg.Shape(g).Equal(s) {
		return g
	}
	return c.sum(g)
}

// orZeros materializes an absent value.
func (c *calc[V]) orZeros(v V, s tensor.Shape) V {
	if c.alg.Valid(v) {
		return v
	}
	return c.zeros(s)
}
