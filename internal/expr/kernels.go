package expr

import "github.com/born-ml/sensim/internal/tensor"

// UnaryKernel returns the numeric kernel of an elementwise unary operation,
// or nil if op is not one.
func UnaryKernel(op Op) func(*tensor.Dense) *tensor.Dense {
	switch op {
	case OpNeg:
		return tensor.Neg
	case OpExp:
		return tensor.Exp
	case OpLog:
		return tensor.Log
	case OpSin:
		return tensor.Sin
	case OpCos:
		return tensor.Cos
	case OpTan:
		return tensor.Tan
	case OpTanh:
		return tensor.Tanh
	case OpSqrt:
		return tensor.Sqrt
	}
	return nil
}

// BinaryKernel returns the numeric kernel of an elementwise binary operation,
// or nil if op is not one.
func BinaryKernel(op Op) func(a, b *tensor.Dense) (*tensor.Dense, error) {
	switch op {
	case OpAdd:
		return tensor.Add
	case OpSub:
		return tensor.Sub
	case OpMul:
		return tensor.Mul
	case OpDiv:
		return tensor.Div
	case OpPow:
		return tensor.Pow
	}
	return nil
}
