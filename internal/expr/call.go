package expr

import (
	"context"

	"github.com/born-ml/sensim/internal/tensor"
)

// Callable is anything a graph can invoke: compiled functions, integrators and
// derivative wrappers. Implementations must be safe for concurrent Eval.
//
// Forward(n) returns a Callable with inputs [inputs..., n blocks of input seeds]
// and outputs [outputs..., n blocks of output sensitivities]. Reverse(n) returns
// one with inputs [inputs..., n blocks of output seeds] and outputs
// [outputs..., n blocks of input sensitivities].
type Callable interface {
	Name() string
	NumIn() int
	NumOut() int
	InputShape(i int) tensor.Shape
	OutputShape(i int) tensor.Shape
	Eval(ctx context.Context, args []*tensor.Dense) ([]*tensor.Dense, error)
	Forward(nfwd int) (Callable, error)
	Reverse(nadj int) (Callable, error)
}

// Call invokes f on args and returns one node per output of f.
func Call(f Callable, args ...*Node) ([]*Node, error) {
	shapes := make([]tensor.Shape, len(args))
	for i, a := range args {
		shapes[i] = a.shape
	}
	if err := CheckArgs(f, shapes); err != nil {
		return nil, err
	}
	c := newNode(OpCall, tensor.Shape{}, args...)
	c.callee = f
	outs := make([]*Node, f.NumOut())
	for i := range outs {
		o := newNode(OpOutput, f.OutputShape(i), c)
		o.index = i
		outs[i] = o
	}
	return outs, nil
}

// InputShapes returns the input shapes of f.
func InputShapes(f Callable) []tensor.Shape {
	out := make([]tensor.Shape, f.NumIn())
	for i := range out {
		out[i] = f.InputShape(i)
	}
	return out
}

// OutputShapes returns the output shapes of f.
func OutputShapes(f Callable) []tensor.Shape {
	out := make([]tensor.Shape, f.NumOut())
	for i := range out {
		out[i] = f.OutputShape(i)
	}
	return out
}
