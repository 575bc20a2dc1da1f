// Package expr implements the symbolic expression graph.
//
// A Node is an immutable vertex of a directed acyclic graph. Nodes are shared
// by pointer: the same subexpression may feed many consumers, and structurally
// identical nodes built separately stay distinct. Every node has a fixed
// matrix shape that constructors validate.
//
// Graphs are closed into callable units by compiling them (see Compile) into
// an Algorithm: instructions in topological order over a flat arena.
package expr

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/born-ml/sensim/internal/tensor"
)

var nextID atomic.Uint64

// Node is a vertex of an expression graph.
type Node struct {
	id    uint64
	op    Op
	shape tensor.Shape
	args  []*Node

	name   string        // OpLeaf
	value  *tensor.Dense // OpConst
	rng    [4]int        // OpBlock: r0, r1, c0, c1; OpEmbed: r0, c0
	callee Callable      // OpCall
	index  int           // OpOutput
}

func newNode(op Op, shape tensor.Shape, args ...*Node) *Node {
	return &Node{id: nextID.Add(1), op: op, shape: shape, args: args}
}

// ID returns a process-unique identifier. Later nodes have larger ids.
func (n *Node) ID() uint64 { return n.id }

// Op returns the node operation.
func (n *Node) Op() Op { return n.op }

// Shape returns the node shape.
func (n *Node) Shape() tensor.Shape { return n.shape }

// Rows returns the number of rows.
func (n *Node) Rows() int { return n.shape.Rows }

// Cols returns the number of columns.
func (n *Node) Cols() int { return n.shape.Cols }

// NumArgs returns the number of operands.
func (n *Node) NumArgs() int { return len(n.args) }

// Arg returns operand i.
func (n *Node) Arg(i int) *Node { return n.args[i] }

// Name returns the symbol name of a leaf.
func (n *Node) Name() string { return n.name }

// Value returns the value of a constant node, nil otherwise.
func (n *Node) Value() *tensor.Dense { return n.value }

// Range returns the block range (r0, r1, c0, c1) of a Block node, or the
// offset (r0, c0, 0, 0) of an Embed node.
func (n *Node) Range() (int, int, int, int) { return n.rng[0], n.rng[1], n.rng[2], n.rng[3] }

// Callee returns the function invoked by a Call node.
func (n *Node) Callee() Callable { return n.callee }

// Index returns the selected output of an Output node.
func (n *Node) Index() int { return n.index }

// IsConst reports whether n is a constant.
func (n *Node) IsConst() bool { return n.op == OpConst }

// IsLeaf reports whether n is a free symbol.
func (n *Node) IsLeaf() bool { return n.op == OpLeaf }

// IsZero reports whether n is a constant with all elements zero.
func (n *Node) IsZero() bool { return n.op == OpConst && n.value.IsZero() }

// String renders the expression. Shared subexpressions are printed each time
// they are referenced.
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b, 0)
	return b.String()
}

const maxPrintDepth = 32

func (n *Node) write(b *strings.Builder, depth int) {
	if depth > maxPrintDepth {
		b.WriteString("...")
		return
	}
	switch n.op {
	case OpLeaf:
		b.WriteString(n.name)
		return
	case OpConst:
		if n.shape.IsScalar() {
			fmt.Fprintf(b, "%g", n.value.Value())
		} else {
			b.WriteString(n.value.String())
		}
		return
	case OpOutput:
		call := n.args[0]
		fmt.Fprintf(b, "%s{%d}(", call.callee.Name(), n.index)
		for i, a := range call.args {
			if i > 0 {
				b.WriteString(", ")
			}
			a.write(b, depth+1)
		}
		b.WriteByte(')')
		return
	case OpCall:
		b.WriteString(n.callee.Name())
	default:
		b.WriteString(n.op.String())
	}
	b.WriteByte('(')
	for i, a := range n.args {
		if i > 0 {
			b.WriteString(", ")
		}
		a.write(b, depth+1)
	}
	switch n.op {
	case OpBlock:
		fmt.Fprintf(b, ", %d:%d, %d:%d", n.rng[0], n.rng[1], n.rng[2], n.rng[3])
	case OpEmbed:
		fmt.Fprintf(b, ", %s@%d,%d", n.shape, n.rng[0], n.rng[1])
	case OpReshape:
		fmt.Fprintf(b, ", %s", n.shape)
	}
	b.WriteByte(')')
}
