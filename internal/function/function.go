// Package function closes expression graphs into immutable, named Functions
// and builds their derivative Functions.
//
// A Function maps an ordered list of matrix inputs to an ordered list of
// matrix outputs. It is compiled once and is safe for concurrent evaluation.
// Forward and reverse derivatives are themselves Functions, built once and
// cached, so they can be evaluated, composed and differentiated again.
package function

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/born-ml/sensim/internal/autodiff"
	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/tensor"
)

// Function is a compiled, immutable mapping from inputs to outputs.
type Function struct {
	name    string
	inputs  []*expr.Node
	outputs []*expr.Node
	prog    *expr.Algorithm

	mu  sync.Mutex
	fwd map[int]*Function
	rev map[int]*Function
}

var _ expr.Callable = (*Function)(nil)

// New compiles a Function. Inputs must be distinct symbols and every symbol
// the outputs depend on must be an input.
func New(name string, inputs, outputs []*expr.Node) (*Function, error) {
	prog, err := expr.Compile(inputs, outputs)
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", name, err)
	}
	return &Function{
		name:    name,
		inputs:  append([]*expr.Node(nil), inputs...),
		outputs: append([]*expr.Node(nil), outputs...),
		prog:    prog,
		fwd:     make(map[int]*Function),
		rev:     make(map[int]*Function),
	}, nil
}

// MustNew is like New but panics on error.
func MustNew(name string, inputs, outputs []*expr.Node) *Function {
	f, err := New(name, inputs, outputs)
	if err != nil {
		panic(err)
	}
	return f
}

// Name returns the function name.
func (f *Function) Name() string { return f.name }

// NumIn returns the number of inputs.
func (f *Function) NumIn() int { return len(f.inputs) }

// NumOut returns the number of outputs.
func (f *Function) NumOut() int { return len(f.outputs) }

// InputShape returns the shape of input i.
func (f *Function) InputShape(i int) tensor.Shape { return f.inputs[i].Shape() }

// OutputShape returns the shape of output i.
func (f *Function) OutputShape(i int) tensor.Shape { return f.outputs[i].Shape() }

// Input returns the symbol of input i.
func (f *Function) Input(i int) *expr.Node { return f.inputs[i] }

// Output returns the expression of output i.
func (f *Function) Output(i int) *expr.Node { return f.outputs[i] }

// Inputs returns the input symbols.
func (f *Function) Inputs() []*expr.Node { return append([]*expr.Node(nil), f.inputs...) }

// Outputs returns the output expressions.
func (f *Function) Outputs() []*expr.Node { return append([]*expr.Node(nil), f.outputs...) }

// NumInstructions returns the size of the compiled algorithm.
func (f *Function) NumInstructions() int { return len(f.prog.Instrs) }

// Eval evaluates the function numerically.
func (f *Function) Eval(ctx context.Context, args []*tensor.Dense) ([]*tensor.Dense, error) {
	if err := checkDense(f, args); err != nil {
		return nil, err
	}
	out, err := autodiff.Eval[*tensor.Dense](ctx, autodiff.Numeric{}, f.prog, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.name, err)
	}
	return out, nil
}

// Call returns nodes invoking f on args inside another graph.
func (f *Function) Call(args ...*expr.Node) ([]*expr.Node, error) {
	return expr.Call(f, args...)
}

// Inline substitutes args for the inputs of f and returns the output
// expressions, without a call boundary.
func (f *Function) Inline(args ...*expr.Node) ([]*expr.Node, error) {
	shapes := make([]tensor.Shape, len(args))
	for i, a := range args {
		shapes[i] = a.Shape()
	}
	if err := expr.CheckArgs(f, shapes); err != nil {
		return nil, err
	}
	return autodiff.Eval[*expr.Node](context.Background(), autodiff.Symbolic{}, f.prog, args)
}

// Forward returns the forward derivative with nfwd directions.
func (f *Function) Forward(nfwd int) (expr.Callable, error) {
	return f.ForwardFunction(nfwd)
}

// Reverse returns the reverse derivative with nadj directions.
func (f *Function) Reverse(nadj int) (expr.Callable, error) {
	return f.ReverseFunction(nadj)
}

// ForwardFunction returns the forward derivative as a Function.
//
// Inputs are [inputs..., seeds of direction 0..., seeds of direction 1...];
// outputs are [outputs..., sensitivities of direction 0..., ...].
func (f *Function) ForwardFunction(nfwd int) (*Function, error) {
	if nfwd < 0 {
		return nil, &expr.IndexError{Function: f.name, Kind: "direction count", Index: nfwd, Len: 0}
	}
	if nfwd == 0 {
		return f, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.fwd[nfwd]; ok {
		return d, nil
	}

	seeds := make([][]*expr.Node, nfwd)
	ins := append([]*expr.Node(nil), f.inputs...)
	for d := range seeds {
		seeds[d] = make([]*expr.Node, len(f.inputs))
		for k, in := range f.inputs {
			seeds[d][k] = expr.SymLike(fmt.Sprintf("fwd%d_%s", d, in.Name()), in.Shape())
			ins = append(ins, seeds[d][k])
		}
	}
	outs, sens, err := autodiff.Forward[*expr.Node](context.Background(), autodiff.Symbolic{}, f.prog, f.inputs, seeds)
	if err != nil {
		return nil, fmt.Errorf("forward derivative of %s: %w", f.name, err)
	}
	for _, s := range sens {
		outs = append(outs, s...)
	}
	d, err := New(fmt.Sprintf("fwd%d_%s", nfwd, f.name), ins, outs)
	if err != nil {
		return nil, err
	}
	f.fwd[nfwd] = d
	return d, nil
}

// ReverseFunction returns the reverse derivative as a Function.
//
// Inputs are [inputs..., output seeds of direction 0..., ...]; outputs are
// [outputs..., input sensitivities of direction 0..., ...].
func (f *Function) ReverseFunction(nadj int) (*Function, error) {
	if nadj < 0 {
		return nil, &expr.IndexError{Function: f.name, Kind: "direction count", Index: nadj, Len: 0}
	}
	if nadj == 0 {
		return f, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.rev[nadj]; ok {
		return d, nil
	}

	seeds := make([][]*expr.Node, nadj)
	ins := append([]*expr.Node(nil), f.inputs...)
	for d := range seeds {
		seeds[d] = make([]*expr.Node, len(f.outputs))
		for k, out := range f.outputs {
			seeds[d][k] = expr.SymLike(fmt.Sprintf("adj%d_o%d", d, k), out.Shape())
			ins = append(ins, seeds[d][k])
		}
	}
	outs, sens, err := autodiff.Reverse[*expr.Node](context.Background(), autodiff.Symbolic{}, f.prog, f.inputs, seeds)
	if err != nil {
		return nil, fmt.Errorf("reverse derivative of %s: %w", f.name, err)
	}
	for _, s := range sens {
		outs = append(outs, s...)
	}
	d, err := New(fmt.Sprintf("adj%d_%s", nadj, f.name), ins, outs)
	if err != nil {
		return nil, err
	}
	f.rev[nadj] = d
	return d, nil
}

func (f *Function) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:(", f.name)
	for i, in := range f.inputs {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%s[%s]", in.Name(), in.Shape())
	}
	b.WriteString(")->(")
	for i, out := range f.outputs {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "o%d[%s]", i, out.Shape())
	}
	b.WriteString(")")
	return b.String()
}

func checkDense(f expr.Callable, args []*tensor.Dense) error {
	shapes := make([]tensor.Shape, len(args))
	for i, a := range args {
		if a == nil {
			return fmt.Errorf("%s: input %d is nil: %w", f.Name(), i, expr.ErrInvalidInput)
		}
		shapes[i] = a.Shape()
	}
	return expr.CheckArgs(f, shapes)
}
