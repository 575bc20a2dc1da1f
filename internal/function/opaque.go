package function

import (
	"context"
	"fmt"
	"sync"

	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/tensor"
)

// EvalFunc evaluates a derivative numerically.
type EvalFunc func(ctx context.Context, args []*tensor.Dense) ([]*tensor.Dense, error)

// Adjoint is the reverse derivative of an opaque Callable F (one whose
// internals are not an expression graph, such as an integrator), evaluated by
// a caller-supplied routine.
//
// Its own derivatives are assembled from F's derivatives. With J the Jacobian
// of F and s an adjoint seed, the map (u, s) -> J(u)^T s is differentiated
// using the symmetry of second derivatives:
//
//	d/du (J^T s) . v = (d (J v) / du)^T s
//
// so forward derivatives of the adjoint are reverse derivatives of F's
// forward derivative, and vice versa. Both are returned as graph Functions.
type Adjoint struct {
	base expr.Callable
	nadj int
	eval EvalFunc
	name string

	mu  sync.Mutex
	fwd map[int]*Function
	rev map[int]*Function
}

var _ expr.Callable = (*Adjoint)(nil)

// NewAdjoint wraps eval as the nadj-direction reverse derivative of base.
// nadj must be positive.
func NewAdjoint(base expr.Callable, nadj int, eval EvalFunc) *Adjoint {
	if nadj < 1 {
		panic(fmt.Sprintf("function: adjoint of %s needs at least one direction, got %d", base.Name(), nadj))
	}
	return &Adjoint{
		base: base,
		nadj: nadj,
		eval: eval,
		name: fmt.Sprintf("adj%d_%s", nadj, base.Name()),
		fwd:  make(map[int]*Function),
		rev:  make(map[int]*Function),
	}
}

func (a *Adjoint) Name() string { return a.name }
func (a *Adjoint) NumIn() int   { return a.base.NumIn() + a.nadj*a.base.NumOut() }
func (a *Adjoint) NumOut() int  { return a.base.NumOut() + a.nadj*a.base.NumIn() }

func (a *Adjoint) InputShape(i int) tensor.Shape {
	k := a.base.NumIn()
	if i < k {
		return a.base.InputShape(i)
	}
	return a.base.OutputShape((i - k) % a.base.NumOut())
}

func (a *Adjoint) OutputShape(i int) tensor.Shape {
	m := a.base.NumOut()
	if i < m {
		return a.base.OutputShape(i)
	}
	return a.base.InputShape((i - m) % a.base.NumIn())
}

// Eval runs the wrapped adjoint routine after validating arguments.
func (a *Adjoint) Eval(ctx context.Context, args []*tensor.Dense) ([]*tensor.Dense, error) {
	if err := checkDense(a, args); err != nil {
		return nil, err
	}
	return a.eval(ctx, args)
}

// symbols creates input leaves for a derivative graph of the adjoint.
type symbols struct {
	u []*expr.Node   // base inputs
	s [][]*expr.Node // adjoint seeds, per direction d and base output
}

func (a *Adjoint) primalSymbols() symbols {
	k, m := a.base.NumIn(), a.base.NumOut()
	sy := symbols{u: make([]*expr.Node, k), s: make([][]*expr.Node, a.nadj)}
	for i := range sy.u {
		sy.u[i] = expr.SymLike(fmt.Sprintf("u%d", i), a.base.InputShape(i))
	}
	for d := range sy.s {
		sy.s[d] = make([]*expr.Node, m)
		for o := range sy.s[d] {
			sy.s[d][o] = expr.SymLike(fmt.Sprintf("s%d_%d", d, o), a.base.OutputShape(o))
		}
	}
	return sy
}

func (sy symbols) all() []*expr.Node {
	out := append([]*expr.Node(nil), sy.u...)
	for _, s := range sy.s {
		out = append(out, s...)
	}
	return out
}

// Forward returns the forward derivative of the adjoint as a graph Function.
func (a *Adjoint) Forward(nfwd int) (expr.Callable, error) {
	if nfwd == 0 {
		return a, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.fwd[nfwd]; ok {
		return f, nil
	}
	f, err := a.buildForward(nfwd)
	if err != nil {
		return nil, fmt.Errorf("forward derivative of %s: %w", a.name, err)
	}
	a.fwd[nfwd] = f
	return f, nil
}

func (a *Adjoint) buildForward(nfwd int) (*Function, error) {
	k, m, n := a.base.NumIn(), a.base.NumOut(), a.nadj
	f1, err := a.base.Forward(1)
	if err != nil {
		return nil, err
	}
	r1, err := f1.Reverse(n)
	if err != nil {
		return nil, err
	}
	sy := a.primalSymbols()
	ins := sy.all()
	var (
		primal  []*expr.Node
		tangent []*expr.Node
	)
	for e := 0; e < nfwd; e++ {
		du := make([]*expr.Node, k)
		for i := range du {
			du[i] = expr.SymLike(fmt.Sprintf("du%d_%d", e, i), a.base.InputShape(i))
		}
		ds := make([][]*expr.Node, n)
		for d := range ds {
			ds[d] = make([]*expr.Node, m)
			for o := range ds[d] {
				ds[d][o] = expr.SymLike(fmt.Sprintf("ds%d_%d_%d", e, d, o), a.base.OutputShape(o))
			}
		}
		ins = append(ins, du...)
		for _, s := range ds {
			ins = append(ins, s...)
		}

		// R1 inputs: [u, v=du, per d: (seed on y = ds_d, seed on Jv = s_d)]
		args := append(append([]*expr.Node(nil), sy.u...), du...)
		for d := 0; d < n; d++ {
			args = append(args, ds[d]...)
			args = append(args, sy.s[d]...)
		}
		out, err := expr.Call(r1, args...)
		if err != nil {
			return nil, err
		}
		// R1 outputs: [y, J du, per d: (adjoint on u, adjoint on v)]
		if e == 0 {
			primal = append(primal, out[:m]...)
			for d := 0; d < n; d++ {
				off := 2*m + d*2*k
				primal = append(primal, out[off+k:off+2*k]...)
			}
		}
		tangent = append(tangent, out[m:2*m]...)
		for d := 0; d < n; d++ {
			off := 2*m + d*2*k
			tangent = append(tangent, out[off:off+k]...)
		}
	}
	return New(fmt.Sprintf("fwd%d_%s", nfwd, a.name), ins, append(primal, tangent...))
}

// Reverse returns the reverse derivative of the adjoint as a graph Function.
func (a *Adjoint) Reverse(nadj int) (expr.Callable, error) {
	if nadj == 0 {
		return a, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.rev[nadj]; ok {
		return f, nil
	}
	f, err := a.buildReverse(nadj)
	if err != nil {
		return nil, fmt.Errorf("reverse derivative of %s: %w", a.name, err)
	}
	a.rev[nadj] = f
	return f, nil
}

func (a *Adjoint) buildReverse(nrev int) (*Function, error) {
	k, m, n := a.base.NumIn(), a.base.NumOut(), a.nadj
	f1, err := a.base.Forward(1)
	if err != nil {
		return nil, err
	}
	r11, err := f1.Reverse(1)
	if err != nil {
		return nil, err
	}
	sy := a.primalSymbols()
	ins := sy.all()
	outs, err := expr.Call(a, ins...)
	if err != nil {
		return nil, err
	}

	for e := 0; e < nrev; e++ {
		ybar := make([]*expr.Node, m)
		for o := range ybar {
			ybar[o] = expr.SymLike(fmt.Sprintf("ybar%d_%d", e, o), a.base.OutputShape(o))
		}
		abar := make([][]*expr.Node, n)
		for d := range abar {
			abar[d] = make([]*expr.Node, k)
			for i := range abar[d] {
				abar[d][i] = expr.SymLike(fmt.Sprintf("abar%d_%d_%d", e, d, i), a.base.InputShape(i))
			}
		}
		ins = append(ins, ybar...)
		for _, ab := range abar {
			ins = append(ins, ab...)
		}

		ubar := make([]*expr.Node, k)
		sbar := make([]*expr.Node, 0, n*m)
		for d := 0; d < n; d++ {
			// R11 inputs: [u, v=abar_d, seed on y, seed on Jv = s_d]
			args := append(append([]*expr.Node(nil), sy.u...), abar[d]...)
			for o := 0; o < m; o++ {
				if d == 0 {
					args = append(args, ybar[o])
				} else {
					args = append(args, expr.Zeros(a.base.OutputShape(o)))
				}
			}
			args = append(args, sy.s[d]...)
			out, err := expr.Call(r11, args...)
			if err != nil {
				return nil, err
			}
			// R11 outputs: [y, J abar_d, adjoint on u, adjoint on v]
			for i := 0; i < k; i++ {
				if ubar[i] == nil {
					ubar[i] = out[2*m+i]
					continue
				}
				if ubar[i], err = expr.Add(ubar[i], out[2*m+i]); err != nil {
					return nil, err
				}
			}
			sbar = append(sbar, out[m:2*m]...)
		}
		outs = append(outs, ubar...)
		outs = append(outs, sbar...)
	}
	return New(fmt.Sprintf("adj%d_%s", nrev, a.name), ins, outs)
}
