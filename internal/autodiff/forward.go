package autodiff

import (
	"context"
	"fmt"

	"github.com/born-ml/sensim/internal/expr"
)

// Forward evaluates prog together with len(seeds) tangent directions.
//
// seeds[d][k] is the tangent of input k in direction d; the zero value of V
// means the input does not vary in that direction. The returned sens[d][o]
// is the tangent of output o in direction d, materialized as zeros when it
// is structurally zero.
func Forward[V any](ctx context.Context, alg Algebra[V], prog *expr.Algorithm, inputs []V, seeds [][]V) ([]V, [][]V, error) {
	s, err := newSweep(alg, prog, inputs)
	if err != nil {
		return nil, nil, err
	}
	nfwd := len(seeds)
	dvals := make([][]V, nfwd)
	douts := make([][][]V, nfwd)
	for d := range seeds {
		if len(seeds[d]) != len(prog.Inputs) {
			return nil, nil, fmt.Errorf("autodiff: direction %d has %d seeds, want %d", d, len(seeds[d]), len(prog.Inputs))
		}
		dvals[d] = make([]V, len(prog.Instrs))
		douts[d] = make([][]V, len(prog.Instrs))
		for k, idx := range prog.Inputs {
			if alg.Valid(seeds[d][k]) {
				dvals[d][idx] = seeds[d][k]
			}
		}
	}

	darg := func(d, i int) ([]V, bool) {
		in := prog.Instrs[i].Args
		out := make([]V, len(in))
		found := false
		for k, j := range in {
			out[k] = dvals[d][j]
			found = found || alg.Valid(out[k])
		}
		return out, found
	}

	for i, ins := range prog.Instrs {
		if err := s.primal(ctx, i); err != nil {
			return nil, nil, err
		}
		n := ins.Node
		switch n.Op() {
		case expr.OpLeaf, expr.OpConst:
			continue
		case expr.OpCall:
			res, err := s.callTangents(ctx, i, nfwd, darg)
			if err != nil {
				return nil, nil, err
			}
			for d := range res {
				douts[d][i] = res[d]
			}
			continue
		case expr.OpOutput:
			call := ins.Args[0]
			for d := 0; d < nfwd; d++ {
				if douts[d][call] != nil {
					dvals[d][i] = douts[d][call][n.Index()]
				}
			}
			continue
		}
		x := s.args(i)
		for d := 0; d < nfwd; d++ {
			dx, active := darg(d, i)
			if !active {
				continue
			}
			t, err := tangent(alg, n, x, s.vals[i], dx)
			if err != nil {
				return nil, nil, fmt.Errorf("tangent of %s: %w", n.Op(), err)
			}
			dvals[d][i] = t
		}
	}

	c := &calc[V]{alg: alg}
	sens := make([][]V, nfwd)
	for d := range sens {
		sens[d] = make([]V, len(prog.Outputs))
		for o, idx := range prog.Outputs {
			sens[d][o] = c.orZeros(dvals[d][idx], prog.Instrs[idx].Node.Shape())
		}
	}
	return s.results(), sens, nil
}

// callTangents propagates tangents through a call by invoking the callee's
// forward derivative once for all directions that reach it.
func (s *sweep[V]) callTangents(ctx context.Context, i, nfwd int, darg func(d, i int) ([]V, bool)) ([][]V, error) {
	n := s.prog.Instrs[i].Node
	f := n.Callee()
	var (
		active []int
		seeds  [][]V
	)
	for d := 0; d < nfwd; d++ {
		dx, ok := darg(d, i)
		if ok {
			active = append(active, d)
			seeds = append(seeds, dx)
		}
	}
	res := make([][]V, nfwd)
	if len(active) == 0 {
		return res, nil
	}
	fwd, err := f.Forward(len(active))
	if err != nil {
		return nil, fmt.Errorf("forward derivative of %s: %w", f.Name(), err)
	}
	c := &calc[V]{alg: s.alg}
	args := s.args(i)
	for _, dx := range seeds {
		for k, v := range dx {
			args = append(args, c.orZeros(v, f.InputShape(k)))
		}
	}
	out, err := s.alg.Call(ctx, fwd, args)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", fwd.Name(), err)
	}
	nout := f.NumOut()
	for k, d := range active {
		res[d] = out[nout*(k+1) : nout*(k+2)]
	}
	return res, nil
}
