package autodiff

import (
	"fmt"

	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/tensor"
)

// tangent returns the forward derivative of y = n(x) given operand tangents dx,
// some of which may be absent.
//
// Rules (y is the primal result):
//   - neg:     dy = -da
//   - exp:     dy = y .* da
//   - log:     dy = da ./ a
//   - sin:     dy = cos(a) .* da
//   - cos:     dy = -sin(a) .* da
//   - tan:     dy = (1 + y.^2) .* da
//   - tanh:    dy = (1 - y.^2) .* da
//   - sqrt:    dy = da ./ (2y)
//   - mul:     dy = da .* b + a .* db
//   - div:     dy = (da - y .* db) ./ b
//   - pow:     dy = b .* a.^(b-1) .* da + y .* log(a) .* db
//   - matmul:  dy = dA B + A dB
//   - solve:   dX = A \ (dB - dA X)
//
// Structural operations apply themselves to the tangents.
func tangent[V any](alg Algebra[V], n *expr.Node, x []V, y V, dx []V) (V, error) {
	c := &calc[V]{alg: alg}
	has := func(k int) bool { return alg.Valid(dx[k]) }
	s := n.Shape()
	var t V

	switch op := n.Op(); op {
	case expr.OpNeg:
		t = c.neg(dx[0])
	case expr.OpExp:
		t = c.mul(y, dx[0])
	case expr.OpLog:
		t = c.div(dx[0], x[0])
	case expr.OpSin:
		t = c.mul(c.unary(expr.OpCos, x[0]), dx[0])
	case expr.OpCos:
		t = c.neg(c.mul(c.unary(expr.OpSin, x[0]), dx[0]))
	case expr.OpTan:
		t = c.mul(c.add(c.scalar(1), c.mul(y, y)), dx[0])
	case expr.OpTanh:
		t = c.mul(c.sub(c.scalar(1), c.mul(y, y)), dx[0])
	case expr.OpSqrt:
		t = c.div(dx[0], c.mul(c.scalar(2), y))

	case expr.OpAdd:
		switch {
		case has(0) && has(1):
			t = c.add(dx[0], dx[1])
		case has(0):
			t = c.expand(dx[0], s)
		default:
			t = c.expand(dx[1], s)
		}
	case expr.OpSub:
		switch {
		case has(0) && has(1):
			t = c.sub(dx[0], dx[1])
		case has(0):
			t = c.expand(dx[0], s)
		default:
			t = c.expand(c.neg(dx[1]), s)
		}
	case expr.OpMul:
		var t0, t1 V
		if has(0) {
			t0 = c.mul(dx[0], x[1])
		}
		if has(1) {
			t1 = c.mul(x[0], dx[1])
		}
		t = c.plus(t0, t1)
	case expr.OpDiv:
		num := dx[0]
		if has(1) {
			num = c.plus(num, c.neg(c.mul(y, dx[1])))
		}
		t = c.div(num, x[1])
	case expr.OpPow:
		var t0, t1 V
		if has(0) {
			t0 = c.mul(c.mul(x[1], c.pow(x[0], c.sub(x[1], c.scalar(1)))), dx[0])
		}
		if has(1) {
			t1 = c.mul(c.mul(y, c.unary(expr.OpLog, x[0])), dx[1])
		}
		t = c.plus(t0, t1)
	case expr.OpMatMul:
		var t0, t1 V
		if has(0) {
			t0 = c.matmul(dx[0], x[1])
		}
		if has(1) {
			t1 = c.matmul(x[0], dx[1])
		}
		t = c.plus(t0, t1)
	case expr.OpSolve:
		rhs := dx[1]
		if has(0) {
			rhs = c.plus(rhs, c.neg(c.matmul(dx[0], y)))
		}
		t = c.solve(x[0], rhs)

	case expr.OpTranspose:
		t = c.transpose(dx[0])
	case expr.OpReshape:
		t = c.reshape(dx[0], s)
	case expr.OpVertcat, expr.OpHorzcat:
		parts := make([]V, len(dx))
		for k := range dx {
			parts[k] = c.orZeros(dx[k], alg.Shape(x[k]))
		}
		t = c.concat(op, parts)
	case expr.OpBlock:
		r0, r1, c0, c1 := n.Range()
		t = c.block(dx[0], r0, r1, c0, c1)
	case expr.OpEmbed:
		r0, c0, _, _ := n.Range()
		t = c.embed(dx[0], s, r0, c0)
	case expr.OpSum:
		t = c.sum(dx[0])

	default:
		return t, fmt.Errorf("autodiff: no tangent rule for %s", op)
	}
	return t, c.err
}

// adjoint returns the contributions of the output adjoint g of y = n(x) to
// each operand, reduced to the operand shapes. Entries are absent for
// operands that receive nothing.
//
// Rules:
//   - add:     ā += g,          b̄ += g
//   - sub:     ā += g,          b̄ -= g
//   - mul:     ā += g .* b,     b̄ += g .* a
//   - div:     ā += g ./ b,     b̄ -= g .* y ./ b
//   - pow:     ā += g .* b .* a.^(b-1),  b̄ += g .* y .* log(a)
//   - matmul:  Ā += g Bᵀ,       B̄ += Aᵀ g
//   - solve:   B̄ += Aᵀ \ g,     Ā -= B̄ Xᵀ
//   - block:   ā += embed(g),   embed: ā += block(g)
//   - sum:     ā += g expanded to the shape of a
//
// Scalar operands that were expanded receive sum(contribution). Operands with
// need[k] false do not depend on any input and are skipped.
func adjoint[V any](alg Algebra[V], n *expr.Node, x []V, y V, g V, need []bool) ([]V, error) {
	c := &calc[V]{alg: alg}
	out := make([]V, len(x))
	shape := func(k int) tensor.Shape { return alg.Shape(x[k]) }

	switch op := n.Op(); op {
	case expr.OpNeg:
		out[0] = c.neg(g)
	case expr.OpExp:
		out[0] = c.mul(g, y)
	case expr.OpLog:
		out[0] = c.div(g, x[0])
	case expr.OpSin:
		out[0] = c.mul(g, c.unary(expr.OpCos, x[0]))
	case expr.OpCos:
		out[0] = c.neg(c.mul(g, c.unary(expr.OpSin, x[0])))
	case expr.OpTan:
		out[0] = c.mul(g, c.add(c.scalar(1), c.mul(y, y)))
	case expr.OpTanh:
		out[0] = c.mul(g, c.sub(c.scalar(1), c.mul(y, y)))
	case expr.OpSqrt:
		out[0] = c.div(g, c.mul(c.scalar(2), y))

	case expr.OpAdd:
		if need[0] {
			out[0] = c.reduce(g, shape(0))
		}
		if need[1] {
			out[1] = c.reduce(g, shape(1))
		}
	case expr.OpSub:
		if need[0] {
			out[0] = c.reduce(g, shape(0))
		}
		if need[1] {
			out[1] = c.reduce(c.neg(g), shape(1))
		}
	case expr.OpMul:
		if need[0] {
			out[0] = c.reduce(c.mul(g, x[1]), shape(0))
		}
		if need[1] {
			out[1] = c.reduce(c.mul(g, x[0]), shape(1))
		}
	case expr.OpDiv:
		if need[0] {
			out[0] = c.reduce(c.div(g, x[1]), shape(0))
		}
		if need[1] {
			out[1] = c.reduce(c.neg(c.div(c.mul(g, y), x[1])), shape(1))
		}
	case expr.OpPow:
		if need[0] {
			out[0] = c.reduce(c.mul(g, c.mul(x[1], c.pow(x[0], c.sub(x[1], c.scalar(1))))), shape(0))
		}
		if need[1] {
			out[1] = c.reduce(c.mul(g, c.mul(y, c.unary(expr.OpLog, x[0]))), shape(1))
		}
	case expr.OpMatMul:
		if need[0] {
			out[0] = c.matmul(g, c.transpose(x[1]))
		}
		if need[1] {
			out[1] = c.matmul(c.transpose(x[0]), g)
		}
	case expr.OpSolve:
		bbar := c.solve(c.transpose(x[0]), g)
		out[1] = bbar
		if need[0] {
			out[0] = c.neg(c.matmul(bbar, c.transpose(y)))
		}

	case expr.OpTranspose:
		out[0] = c.transpose(g)
	case expr.OpReshape:
		out[0] = c.reshape(g, shape(0))
	case expr.OpVertcat:
		off := 0
		for k := range x {
			r := shape(k).Rows
			out[k] = c.block(g, off, off+r, 0, shape(k).Cols)
			off += r
		}
	case expr.OpHorzcat:
		off := 0
		for k := range x {
			w := shape(k).Cols
			out[k] = c.block(g, 0, shape(k).Rows, off, off+w)
			off += w
		}
	case expr.OpBlock:
		r0, _, c0, _ := n.Range()
		out[0] = c.embed(g, shape(0), r0, c0)
	case expr.OpEmbed:
		r0, c0, _, _ := n.Range()
		s := shape(0)
		out[0] = c.block(g, r0, r0+s.Rows, c0, c0+s.Cols)
	case expr.OpSum:
		out[0] = c.expand(g, shape(0))

	default:
		return nil, fmt.Errorf("autodiff: no adjoint rule for %s", op)
	}
	return out, c.err
}
