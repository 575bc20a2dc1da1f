package expr

// Op identifies the operation a Node performs. The set is closed: every
// evaluator and derivative rule switches over all of it.
type Op int

const (
	OpLeaf Op = iota
	OpConst
	OpNeg
	OpExp
	OpLog
	OpSin
	OpCos
	OpTan
	OpTanh
	OpSqrt
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpPow
	OpMatMul
	OpTranspose
	OpReshape
	OpVertcat
	OpHorzcat
	OpBlock
	OpEmbed
	OpSum
	OpSolve
	OpCall
	OpOutput
)

var opNames = [...]string{
	OpLeaf:      "leaf",
	OpConst:     "const",
	OpNeg:       "neg",
	OpExp:       "exp",
	OpLog:       "log",
	OpSin:       "sin",
	OpCos:       "cos",
	OpTan:       "tan",
	OpTanh:      "tanh",
	OpSqrt:      "sqrt",
	OpAdd:       "add",
	OpSub:       "sub",
	OpMul:       "mul",
	OpDiv:       "div",
	OpPow:       "pow",
	OpMatMul:    "matmul",
	OpTranspose: "transpose",
	OpReshape:   "reshape",
	OpVertcat:   "vertcat",
	OpHorzcat:   "horzcat",
	OpBlock:     "block",
	OpEmbed:     "embed",
	OpSum:       "sum",
	OpSolve:     "solve",
	OpCall:      "call",
	OpOutput:    "output",
}

func (o Op) String() string {
	if o >= 0 && int(o) < len(opNames) {
		return opNames[o]
	}
	return "unknown"
}

// IsUnary reports whether o is an elementwise unary operation.
func (o Op) IsUnary() bool {
	return o >= OpNeg && o <= OpSqrt
}

// IsElementwiseBinary reports whether o is an elementwise binary operation.
func (o Op) IsElementwiseBinary() bool {
	return o >= OpAdd && o <= OpPow
}
