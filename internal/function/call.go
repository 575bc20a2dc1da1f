package function

import (
	"context"
	"fmt"

	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/tensor"
)

// Call is a stateful numeric evaluation of a Callable with optional forward
// and adjoint seeds. Set inputs and seeds, then Evaluate, then read results.
// Indices are zero-based; unset inputs and seeds are zero.
//
// A Call is not safe for concurrent use.
type Call struct {
	f expr.Callable

	inputs   []*tensor.Dense
	fwdSeeds [][]*tensor.Dense
	adjSeeds [][]*tensor.Dense

	outputs []*tensor.Dense
	fwdSens [][]*tensor.Dense
	adjSens [][]*tensor.Dense
}

// NewCall prepares a numeric call of f.
func NewCall(f expr.Callable) *Call {
	return &Call{f: f, inputs: make([]*tensor.Dense, f.NumIn())}
}

func (c *Call) indexError(kind string, i, n int) error {
	return &expr.IndexError{Function: c.f.Name(), Kind: kind, Index: i, Len: n}
}

func (c *Call) checkInput(i int, v *tensor.Dense) error {
	if i < 0 || i >= c.f.NumIn() {
		return c.indexError("input", i, c.f.NumIn())
	}
	if want := c.f.InputShape(i); !want.Equal(v.Shape()) {
		return &expr.ShapeMismatchError{Function: c.f.Name(), Input: i, Want: want, Got: v.Shape()}
	}
	return nil
}

// SetInput sets input i.
func (c *Call) SetInput(i int, v *tensor.Dense) error {
	if err := c.checkInput(i, v); err != nil {
		return err
	}
	c.inputs[i] = v.Clone()
	return nil
}

// SetFwdSeed sets the seed of input i in forward direction dir.
func (c *Call) SetFwdSeed(dir, i int, v *tensor.Dense) error {
	if dir < 0 {
		return c.indexError("forward direction", dir, len(c.fwdSeeds))
	}
	if err := c.checkInput(i, v); err != nil {
		return err
	}
	for len(c.fwdSeeds) <= dir {
		c.fwdSeeds = append(c.fwdSeeds, make([]*tensor.Dense, c.f.NumIn()))
	}
	c.fwdSeeds[dir][i] = v.Clone()
	return nil
}

// SetAdjSeed sets the seed of output o in adjoint direction dir.
func (c *Call) SetAdjSeed(dir, o int, v *tensor.Dense) error {
	if dir < 0 {
		return c.indexError("adjoint direction", dir, len(c.adjSeeds))
	}
	if o < 0 || o >= c.f.NumOut() {
		return c.indexError("output", o, c.f.NumOut())
	}
	if want := c.f.OutputShape(o); !want.Equal(v.Shape()) {
		return &expr.ShapeMismatchError{Function: c.f.Name(), Input: o, Want: want, Got: v.Shape()}
	}
	for len(c.adjSeeds) <= dir {
		c.adjSeeds = append(c.adjSeeds, make([]*tensor.Dense, c.f.NumOut()))
	}
	c.adjSeeds[dir][o] = v.Clone()
	return nil
}

// Evaluate computes outputs, nfwd forward sensitivities and nadj adjoint
// sensitivities.
func (c *Call) Evaluate(ctx context.Context, nfwd, nadj int) error {
	if nfwd < 0 || nadj < 0 {
		return fmt.Errorf("%s: negative direction count: %w", c.f.Name(), expr.ErrIndex)
	}
	base := make([]*tensor.Dense, c.f.NumIn())
	for i := range base {
		base[i] = c.inputs[i]
		if base[i] == nil {
			base[i] = tensor.Zeros(c.f.InputShape(i))
		}
	}
	c.fwdSens, c.adjSens = nil, nil

	out, err := c.f.Eval(ctx, base)
	if err != nil {
		return err
	}
	c.outputs = out

	if nfwd > 0 {
		fwd, err := c.f.Forward(nfwd)
		if err != nil {
			return err
		}
		args := append([]*tensor.Dense(nil), base...)
		for d := 0; d < nfwd; d++ {
			for i := 0; i < c.f.NumIn(); i++ {
				args = append(args, c.seed(c.fwdSeeds, d, i, c.f.InputShape(i)))
			}
		}
		res, err := fwd.Eval(ctx, args)
		if err != nil {
			return err
		}
		no := c.f.NumOut()
		c.fwdSens = make([][]*tensor.Dense, nfwd)
		for d := range c.fwdSens {
			c.fwdSens[d] = res[no*(d+1) : no*(d+2)]
		}
	}

	if nadj > 0 {
		rev, err := c.f.Reverse(nadj)
		if err != nil {
			return err
		}
		args := append([]*tensor.Dense(nil), base...)
		for d := 0; d < nadj; d++ {
			for o := 0; o < c.f.NumOut(); o++ {
				args = append(args, c.seed(c.adjSeeds, d, o, c.f.OutputShape(o)))
			}
		}
		res, err := rev.Eval(ctx, args)
		if err != nil {
			return err
		}
		no, ni := c.f.NumOut(), c.f.NumIn()
		c.adjSens = make([][]*tensor.Dense, nadj)
		for d := range c.adjSens {
			c.adjSens[d] = res[no+d*ni : no+(d+1)*ni]
		}
	}
	return nil
}

func (c *Call) seed(seeds [][]*tensor.Dense, d, i int, s tensor.Shape) *tensor.Dense {
	if d < len(seeds) && seeds[d][i] != nil {
		return seeds[d][i]
	}
	return tensor.Zeros(s)
}

// Output returns output i of the last Evaluate.
func (c *Call) Output(i int) (*tensor.Dense, error) {
	if i < 0 || i >= len(c.outputs) {
		return nil, c.indexError("output", i, len(c.outputs))
	}
	return c.outputs[i], nil
}

// FwdSens returns the sensitivity of output o in forward direction dir.
func (c *Call) FwdSens(dir, o int) (*tensor.Dense, error) {
	if dir < 0 || dir >= len(c.fwdSens) {
		return nil, c.indexError("forward direction", dir, len(c.fwdSens))
	}
	if o < 0 || o >= c.f.NumOut() {
		return nil, c.indexError("output", o, c.f.NumOut())
	}
	return c.fwdSens[dir][o], nil
}

// AdjSens returns the sensitivity of input i in adjoint direction dir.
func (c *Call) AdjSens(dir, i int) (*tensor.Dense, error) {
	if dir < 0 || dir >= len(c.adjSens) {
		return nil, c.indexError("adjoint direction", dir, len(c.adjSens))
	}
	if i < 0 || i >= c.f.NumIn() {
		return nil, c.indexError("input", i, c.f.NumIn())
	}
	return c.adjSens[dir][i], nil
}
