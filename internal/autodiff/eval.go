package autodiff

import (
	"context"
	"fmt"

	"github.com/born-ml/sensim/internal/expr"
)

// sweep holds the primal values of one evaluation of an Algorithm.
type sweep[V any] struct {
	alg  Algebra[V]
	prog *expr.Algorithm
	vals []V
	outs [][]V // results of Call instructions

	// reuse is set when the inputs are the graph's own leaves under the
	// symbolic algebra; primal values are then the original nodes.
	reuse bool
}

func newSweep[V any](alg Algebra[V], prog *expr.Algorithm, inputs []V) (*sweep[V], error) {
	if len(inputs) != len(prog.Inputs) {
		return nil, fmt.Errorf("autodiff: got %d inputs, want %d", len(inputs), len(prog.Inputs))
	}
	s := &sweep[V]{
		alg:   alg,
		prog:  prog,
		vals:  make([]V, len(prog.Instrs)),
		outs:  make([][]V, len(prog.Instrs)),
		reuse: true,
	}
	for k, idx := range prog.Inputs {
		s.vals[idx] = inputs[k]
		if n, ok := any(inputs[k]).(*expr.Node); !ok || n != prog.Instrs[idx].Node {
			s.reuse = false
		}
	}
	return s, nil
}

func (s *sweep[V]) args(i int) []V {
	in := s.prog.Instrs[i].Args
	out := make([]V, len(in))
	for k, j := range in {
		out[k] = s.vals[j]
	}
	return out
}

// primal computes the value of instruction i from its operands.
func (s *sweep[V]) primal(ctx context.Context, i int) error {
	ins := s.prog.Instrs[i]
	n := ins.Node
	if n.Op() == expr.OpLeaf {
		return nil
	}
	if s.reuse {
		if n.Op() != expr.OpCall {
			s.vals[i] = any(n).(V)
		}
		return nil
	}
	if n.Op() == expr.OpCall {
		res, err := s.alg.Call(ctx, n.Callee(), s.args(i))
		if err != nil {
			return fmt.Errorf("call %s: %w", n.Callee().Name(), err)
		}
		s.outs[i] = res
		return nil
	}
	if n.Op() == expr.OpOutput {
		s.vals[i] = s.outs[ins.Args[0]][n.Index()]
		return nil
	}
	v, err := apply(s.alg, n, s.args(i))
	if err != nil {
		return fmt.Errorf("%s: %w", n.Op(), err)
	}
	s.vals[i] = v
	return nil
}

// release drops operand values whose last consumer is instruction i.
func (s *sweep[V]) release(i int) {
	var zero V
	for _, j := range s.prog.Instrs[i].Args {
		if s.prog.LastUse[j] == i {
			s.vals[j] = zero
			s.outs[j] = nil
		}
	}
}

func (s *sweep[V]) results() []V {
	out := make([]V, len(s.prog.Outputs))
	for k, idx := range s.prog.Outputs {
		out[k] = s.vals[idx]
	}
	return out
}

// apply evaluates a single-output operation.
func apply[V any](alg Algebra[V], n *expr.Node, x []V) (V, error) {
	var zero V
	switch op := n.Op(); op {
	case expr.OpConst:
		return alg.Const(n.Value()), nil
	case expr.OpNeg, expr.OpExp, expr.OpLog, expr.OpSin, expr.OpCos, expr.OpTan, expr.OpTanh, expr.OpSqrt:
		return alg.Unary(op, x[0]), nil
	case expr.OpAdd, expr.OpSub, expr.OpMul, expr.OpDiv, expr.OpPow:
		return alg.Binary(op, x[0], x[1])
	case expr.OpMatMul:
		return alg.MatMul(x[0], x[1])
	case expr.OpTranspose:
		return alg.Transpose(x[0]), nil
	case expr.OpReshape:
		return alg.Reshape(x[0], n.Shape())
	case expr.OpVertcat, expr.OpHorzcat:
		return alg.Concat(op, x)
	case expr.OpBlock:
		r0, r1, c0, c1 := n.Range()
		return alg.Block(x[0], r0, r1, c0, c1)
	case expr.OpEmbed:
		r0, c0, _, _ := n.Range()
		return alg.Embed(x[0], n.Shape(), r0, c0)
	case expr.OpSum:
		return alg.Sum(x[0]), nil
	case expr.OpSolve:
		return alg.Solve(x[0], x[1])
	case expr.OpLeaf, expr.OpCall, expr.OpOutput:
		return zero, fmt.Errorf("autodiff: %s is not a single-output operation", op)
	}
	return zero, fmt.Errorf("autodiff: unknown operation %d", n.Op())
}

// Eval evaluates prog on inputs and returns its outputs. Intermediate values
// are released after their last use. Cancellation of ctx is checked
// periodically.
func Eval[V any](ctx context.Context, alg Algebra[V], prog *expr.Algorithm, inputs []V) ([]V, error) {
	s, err := newSweep(alg, prog, inputs)
	if err != nil {
		return nil, err
	}
	for i := range prog.Instrs {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := s.primal(ctx, i); err != nil {
			return nil, err
		}
		s.release(i)
	}
	return s.results(), nil
}
