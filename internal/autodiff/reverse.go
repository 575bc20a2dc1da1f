package autodiff

import (
	"context"
	"fmt"

	"github.com/born-ml/sensim/internal/expr"
)

// tape accumulates the adjoints of one reverse direction, one slot per
// instruction, plus per-output slots for Call instructions.
type tape[V any] struct {
	c     *calc[V]
	adj   []V
	calls map[int][]V
}

func newTape[V any](alg Algebra[V], n int) *tape[V] {
	return &tape[V]{c: &calc[V]{alg: alg}, adj: make([]V, n), calls: make(map[int][]V)}
}

// accumulate adds g to the adjoint of instruction i.
func (t *tape[V]) accumulate(i int, g V) error {
	if !t.c.alg.Valid(g) {
		return nil
	}
	t.adj[i] = t.c.plus(t.adj[i], g)
	return t.c.err
}

// accumulateOutput adds g to output k of the Call instruction i.
func (t *tape[V]) accumulateOutput(i, k, nout int, g V) error {
	if !t.c.alg.Valid(g) {
		return nil
	}
	slots, ok := t.calls[i]
	if !ok {
		slots = make([]V, nout)
		t.calls[i] = slots
	}
	slots[k] = t.c.plus(slots[k], g)
	return t.c.err
}

// take returns the adjoint of instruction i and releases it.
func (t *tape[V]) take(i int) V {
	var zero V
	g := t.adj[i]
	t.adj[i] = zero
	return g
}

// Reverse evaluates prog and propagates len(seeds) adjoint directions back to
// the inputs in a single reverse pass.
//
// seeds[d][o] is the adjoint seed on output o in direction d (zero value V
// for none). The returned sens[d][k] is the adjoint of input k.
func Reverse[V any](ctx context.Context, alg Algebra[V], prog *expr.Algorithm, inputs []V, seeds [][]V) ([]V, [][]V, error) {
	s, err := newSweep(alg, prog, inputs)
	if err != nil {
		return nil, nil, err
	}
	need := make([]bool, len(prog.Instrs))
	for i, ins := range prog.Instrs {
		if err := s.primal(ctx, i); err != nil {
			return nil, nil, err
		}
		need[i] = ins.Node.Op() == expr.OpLeaf
		for _, j := range ins.Args {
			need[i] = need[i] || need[j]
		}
	}

	nadj := len(seeds)
	tapes := make([]*tape[V], nadj)
	for d := range seeds {
		if len(seeds[d]) != len(prog.Outputs) {
			return nil, nil, fmt.Errorf("autodiff: direction %d has %d seeds, want %d", d, len(seeds[d]), len(prog.Outputs))
		}
		tapes[d] = newTape(alg, len(prog.Instrs))
		for o, idx := range prog.Outputs {
			if err := tapes[d].accumulate(idx, seeds[d][o]); err != nil {
				return nil, nil, err
			}
		}
	}

	for i := len(prog.Instrs) - 1; i >= 0; i-- {
		ins := prog.Instrs[i]
		n := ins.Node
		if !need[i] || n.Op() == expr.OpLeaf || n.Op() == expr.OpConst {
			continue
		}
		switch n.Op() {
		case expr.OpOutput:
			call := ins.Args[0]
			nout := prog.Instrs[call].Node.Callee().NumOut()
			for _, t := range tapes {
				if err := t.accumulateOutput(call, n.Index(), nout, t.take(i)); err != nil {
					return nil, nil, err
				}
			}
			continue
		case expr.OpCall:
			if err := s.callAdjoints(ctx, i, tapes, need); err != nil {
				return nil, nil, err
			}
			continue
		}
		x := s.args(i)
		argNeed := make([]bool, len(ins.Args))
		for k, j := range ins.Args {
			argNeed[k] = need[j]
		}
		for _, t := range tapes {
			g := t.take(i)
			if !alg.Valid(g) {
				continue
			}
			contrib, err := adjoint(alg, n, x, s.vals[i], g, argNeed)
			if err != nil {
				return nil, nil, fmt.Errorf("adjoint of %s: %w", n.Op(), err)
			}
			for k, j := range ins.Args {
				if !argNeed[k] {
					continue
				}
				if err := t.accumulate(j, contrib[k]); err != nil {
					return nil, nil, err
				}
			}
		}
	}

	c := &calc[V]{alg: alg}
	sens := make([][]V, nadj)
	for d, t := range tapes {
		sens[d] = make([]V, len(prog.Inputs))
		for k, idx := range prog.Inputs {
			sens[d][k] = c.orZeros(t.adj[idx], prog.Instrs[idx].Node.Shape())
		}
	}
	return s.results(), sens, nil
}

// callAdjoints propagates output adjoints of a call to its operands with one
// invocation of the callee's reverse derivative covering every direction
// that reached the call.
func (s *sweep[V]) callAdjoints(ctx context.Context, i int, tapes []*tape[V], need []bool) error {
	ins := s.prog.Instrs[i]
	f := ins.Node.Callee()
	var active []int
	for d, t := range tapes {
		if _, ok := t.calls[i]; ok {
			active = append(active, d)
		}
	}
	if len(active) == 0 {
		return nil
	}
	rev, err := f.Reverse(len(active))
	if err != nil {
		return fmt.Errorf("reverse derivative of %s: %w", f.Name(), err)
	}
	c := &calc[V]{alg: s.alg}
	args := s.args(i)
	for _, d := range active {
		slots := tapes[d].calls[i]
		for o, g := range slots {
			args = append(args, c.orZeros(g, f.OutputShape(o)))
		}
		delete(tapes[d].calls, i)
	}
	out, err := s.alg.Call(ctx, rev, args)
	if err != nil {
		return fmt.Errorf("call %s: %w", rev.Name(), err)
	}
	nin, nout := f.NumIn(), f.NumOut()
	for k, d := range active {
		block := out[nout+k*nin : nout+(k+1)*nin]
		for a, j := range ins.Args {
			if !need[j] {
				continue
			}
			if err := tapes[d].accumulate(j, block[a]); err != nil {
				return err
			}
		}
	}
	return nil
}
