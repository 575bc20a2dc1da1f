package expr

import (
	"cmp"
	"fmt"
	"slices"
)

// Instr is one step of an Algorithm: the node it evaluates and the
// instruction indices of its operands.
type Instr struct {
	Node *Node
	Args []int
	Rank int
}

// Algorithm is the compiled, topologically ordered form of a closed graph.
//
// Instructions are sorted by rank (longest path from a leaf or constant) and
// then by node id, so the order is deterministic. LastUse[i] is the index of
// the last instruction reading instruction i; outputs are pinned to
// len(Instrs) so evaluators can release everything else early.
type Algorithm struct {
	Instrs  []Instr
	Inputs  []int
	Outputs []int
	LastUse []int
}

// Compile closes the graph reachable from outputs over inputs.
//
// Inputs must be distinct symbolic leaves. Every leaf reachable from an
// output must be one of the inputs, otherwise ErrFreeVariable is returned.
func Compile(inputs, outputs []*Node) (*Algorithm, error) {
	isInput := make(map[*Node]int, len(inputs))
	for i, in := range inputs {
		if in == nil || in.op != OpLeaf {
			return nil, fmt.Errorf("input %d: not a symbolic leaf: %w", i, ErrInvalidInput)
		}
		if j, dup := isInput[in]; dup {
			return nil, fmt.Errorf("input %d: %q repeats input %d: %w", i, in.name, j, ErrInvalidInput)
		}
		isInput[in] = i
	}

	order, rank := topoSort(append(slices.Clone(outputs), inputs...))
	for _, n := range order {
		if n.op == OpLeaf {
			if _, ok := isInput[n]; !ok {
				return nil, fmt.Errorf("symbol %q (%s) is not an input: %w", n.name, n.shape, ErrFreeVariable)
			}
		}
	}

	slices.SortStableFunc(order, func(a, b *Node) int {
		if c := cmp.Compare(rank[a], rank[b]); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	index := make(map[*Node]int, len(order))
	alg := &Algorithm{
		Instrs:  make([]Instr, len(order)),
		Inputs:  make([]int, len(inputs)),
		Outputs: make([]int, len(outputs)),
		LastUse: make([]int, len(order)),
	}
	for i, n := range order {
		index[n] = i
		args := make([]int, len(n.args))
		for k, a := range n.args {
			args[k] = index[a]
			alg.LastUse[args[k]] = i
		}
		alg.Instrs[i] = Instr{Node: n, Args: args, Rank: rank[n]}
	}
	for i, in := range inputs {
		alg.Inputs[i] = index[in]
	}
	for i, out := range outputs {
		alg.Outputs[i] = index[out]
		alg.LastUse[index[out]] = len(order)
	}
	return alg, nil
}

// topoSort returns every node reachable from roots in post order along with
// its rank. It walks iteratively so deep chains do not grow the stack.
func topoSort(roots []*Node) ([]*Node, map[*Node]int) {
	type frame struct {
		n    *Node
		next int
	}
	rank := make(map[*Node]int)
	var (
		order []*Node
		stack []frame
	)
	for _, root := range roots {
		if _, seen := rank[root]; seen {
			continue
		}
		stack = append(stack, frame{n: root})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(top.n.args) {
				a := top.n.args[top.next]
				top.next++
				if _, seen := rank[a]; !seen {
					stack = append(stack, frame{n: a})
				}
				continue
			}
			r := 0
			for _, a := range top.n.args {
				r = max(r, rank[a]+1)
			}
			rank[top.n] = r
			order = append(order, top.n)
			stack = stack[:len(stack)-1]
		}
	}
	return order, rank
}

// FreeSymbols returns the distinct leaves reachable from nodes, ordered by id.
func FreeSymbols(nodes ...*Node) []*Node {
	order, _ := topoSort(nodes)
	var out []*Node
	for _, n := range order {
		if n.op == OpLeaf {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b *Node) int { return cmp.Compare(a.id, b.id) })
	return out
}
