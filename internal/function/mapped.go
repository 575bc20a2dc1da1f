package function

import (
	"context"
	"fmt"

	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/parallel"
	"github.com/born-ml/sensim/internal/tensor"
)

// Mapped evaluates n independent instances of f. Every input and output is
// the horizontal concatenation of the per-instance matrices.
type Mapped struct {
	f   expr.Callable
	n   int
	cfg parallel.Config
}

var _ expr.Callable = (*Mapped)(nil)

// Map returns the n-instance map of f. With cfg.Enabled instances are
// evaluated concurrently on cfg.NumWorkers workers.
func Map(f expr.Callable, n int, cfg parallel.Config) (*Mapped, error) {
	if n < 1 {
		return nil, &expr.IndexError{Function: f.Name(), Kind: "instance count", Index: n, Len: 0}
	}
	return &Mapped{f: f, n: n, cfg: cfg}, nil
}

func (m *Mapped) Name() string { return fmt.Sprintf("map%d_%s", m.n, m.f.Name()) }
func (m *Mapped) NumIn() int   { return m.f.NumIn() }
func (m *Mapped) NumOut() int  { return m.f.NumOut() }

// Instances returns the number of mapped instances.
func (m *Mapped) Instances() int { return m.n }

func (m *Mapped) InputShape(i int) tensor.Shape {
	s := m.f.InputShape(i)
	return tensor.NewShape(s.Rows, s.Cols*m.n)
}

func (m *Mapped) OutputShape(i int) tensor.Shape {
	s := m.f.OutputShape(i)
	return tensor.NewShape(s.Rows, s.Cols*m.n)
}

// Eval splits the inputs into column blocks, evaluates every instance and
// concatenates the results.
func (m *Mapped) Eval(ctx context.Context, args []*tensor.Dense) ([]*tensor.Dense, error) {
	if err := checkDense(m, args); err != nil {
		return nil, err
	}
	results, err := parallel.Collect(ctx, m.n, func(ctx context.Context, j int) ([]*tensor.Dense, error) {
		in := make([]*tensor.Dense, len(args))
		for i, a := range args {
			w := m.f.InputShape(i).Cols
			blk, err := tensor.Block(a, 0, a.Rows(), j*w, (j+1)*w)
			if err != nil {
				return nil, err
			}
			in[i] = blk
		}
		out, err := m.f.Eval(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", j, err)
		}
		return out, nil
	}, m.cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Name(), err)
	}

	out := make([]*tensor.Dense, m.f.NumOut())
	parts := make([]*tensor.Dense, m.n)
	for o := range out {
		for j := range parts {
			parts[j] = results[j][o]
		}
		if out[o], err = tensor.Horzcat(parts...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Forward maps the forward derivative of f.
func (m *Mapped) Forward(nfwd int) (expr.Callable, error) {
	if nfwd == 0 {
		return m, nil
	}
	fwd, err := m.f.Forward(nfwd)
	if err != nil {
		return nil, err
	}
	return Map(fwd, m.n, m.cfg)
}

// Reverse maps the reverse derivative of f.
func (m *Mapped) Reverse(nadj int) (expr.Callable, error) {
	if nadj == 0 {
		return m, nil
	}
	rev, err := m.f.Reverse(nadj)
	if err != nil {
		return nil, err
	}
	return Map(rev, m.n, m.cfg)
}
