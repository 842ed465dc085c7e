// Package planner implements the two query-planning transforms that shape
// both the streaming and batch plans: heuristic ordering of an N-way inner
// join (LogicalMultiJoin), and correlated-subquery
// decorrelation (Apply pull-up). Both operate on a small plan-node sum type
// local to this package rather than a shared optimizer IR, since nothing
// else in the repo needs to walk a general plan tree.
package planner

import "fmt"

// Expr is a conjunct of a join condition: an equi-join predicate between
// two distinct inputs, addressed by input index (not column position —
// the planner only needs connectivity, not the predicate's content, to
// reorder joins).
type Expr struct {
	Left, Right int // input indices this predicate connects
	Text        string // human-readable predicate, carried through unevaluated
}

// MultiJoin is an N-way inner join with a flat list of equi-join and
// non-equi conjuncts (On).
type MultiJoin struct {
	Inputs []string // input relation names/ids, index-addressed
	On     []Expr   // the full original condition, as individual conjuncts
}

// JoinNode is a binary join in the ordered left-deep chain ReorderJoins
// produces.
type JoinNode struct {
	Left, Right Operand
	Cond        string // "true_cond" until filter push-down distributes On back in
}

// Operand is either a leaf input (by index) or a nested JoinNode, forming
// the left-deep chain.
type Operand struct {
	InputIdx int // >= 0 for a leaf; -1 when Join is set
	Join     *JoinNode
}

func leaf(i int) Operand { return Operand{InputIdx: i, Join: nil} }

// ReorderResult is the output of ReorderJoins: the left-deep join chain
// plus the filter that must sit on top of it (the full original On,
// unchanged — downstream filter push-down is responsible for distributing
// the equi-conditions back into individual joins).
type ReorderResult struct {
	Plan   Operand
	Filter []Expr
}

// ReorderJoins orders an N-way inner join heuristically:
//  1. build an undirected graph over the N inputs from the equi-join edges
//     in mj.On;
//  2. label connected components, largest first;
//  3. within a component, greedily grow a left-deep chain: take the first
//     unplaced edge, then repeatedly take the first remaining edge that
//     touches the partial plan;
//  4. append isolated inputs (no edges at all) at the end.
//
// Property: the result touches every input exactly
// once.
func ReorderJoins(mj MultiJoin) (ReorderResult, error) {
	n := len(mj.Inputs)
	if n == 0 {
		return ReorderResult{}, fmt.Errorf("planner: multi-join has no inputs")
	}
	adj := make([][]Expr, n)
	for _, e := range mj.On {
		if e.Left == e.Right || e.Left < 0 || e.Right < 0 || e.Left >= n || e.Right >= n {
			continue // non-equi or self-referential conjuncts don't drive ordering
		}
		adj[e.Left] = append(adj[e.Left], e)
		adj[e.Right] = append(adj[e.Right], Expr{Left: e.Right, Right: e.Left, Text: e.Text})
	}

	comp, numComponents := labelComponents(n, adj)
	order := orderComponentsBySize(comp, numComponents)

	var chain Operand
	placed := make([]bool, n)
	first := true
	isolated := []int{}

	for _, c := range order {
		members := componentMembers(comp, c)
		if len(members) == 1 {
			isolated = append(isolated, members[0])
			continue
		}
		partial, usedEdges, err := growChain(members, adj)
		if err != nil {
			return ReorderResult{}, err
		}
		for _, i := range members {
			placed[i] = true
		}
		_ = usedEdges
		if first {
			chain = partial
			first = false
		} else {
			chain = Operand{InputIdx: -1, Join: &JoinNode{Left: chain, Right: partial, Cond: "true_cond"}}
		}
	}

	for _, i := range isolated {
		placed[i] = true
		leafOp := leaf(i)
		if first {
			chain = leafOp
			first = false
		} else {
			chain = Operand{InputIdx: -1, Join: &JoinNode{Left: chain, Right: leafOp, Cond: "true_cond"}}
		}
	}

	if countLeaves(chain) != n {
		return ReorderResult{}, fmt.Errorf("planner: internal error, chain covers %d of %d inputs", countLeaves(chain), n)
	}
	return ReorderResult{Plan: chain, Filter: mj.On}, nil
}

// growChain builds a left-deep chain over one connected component: start
// from the first edge's two endpoints, then repeatedly scan remaining edges
// for the first one touching the partial plan.
func growChain(members []int, adj [][]Expr) (Operand, []Expr, error) {
	inPlan := make(map[int]bool, len(members))
	var remaining []Expr
	seen := make(map[[2]int]bool)
	for _, m := range members {
		for _, e := range adj[m] {
			key := [2]int{e.Left, e.Right}
			rkey := [2]int{e.Right, e.Left}
			if seen[key] || seen[rkey] {
				continue
			}
			seen[key] = true
			remaining = append(remaining, e)
		}
	}
	if len(remaining) == 0 {
		return Operand{}, nil, fmt.Errorf("planner: component %v has no connecting edge", members)
	}

	first := remaining[0]
	remaining = remaining[1:]
	plan := Operand{InputIdx: -1, Join: &JoinNode{Left: leaf(first.Left), Right: leaf(first.Right), Cond: "true_cond"}}
	used := []Expr{first}
	inPlan[first.Left] = true
	inPlan[first.Right] = true

	for len(inPlan) < len(members) {
		idx := -1
		for i, e := range remaining {
			if inPlan[e.Left] != inPlan[e.Right] {
				idx = i
				break
			}
		}
		if idx == -1 {
			return Operand{}, nil, fmt.Errorf("planner: component %v has no edge connecting to the partial plan (internal bug)", members)
		}
		e := remaining[idx]
		remaining = append(remaining[:idx], remaining[idx+1:]...)
		var newLeaf int
		if inPlan[e.Left] {
			newLeaf = e.Right
		} else {
			newLeaf = e.Left
		}
		plan = Operand{InputIdx: -1, Join: &JoinNode{Left: plan, Right: leaf(newLeaf), Cond: "true_cond"}}
		used = append(used, e)
		inPlan[newLeaf] = true
	}
	return plan, used, nil
}

func countLeaves(op Operand) int {
	if op.Join == nil {
		return 1
	}
	return countLeaves(op.Join.Left) + countLeaves(op.Join.Right)
}

// labelComponents runs a union-find-free BFS labeling pass over the
// adjacency list.
func labelComponents(n int, adj [][]Expr) (comp []int, numComponents int) {
	comp = make([]int, n)
	for i := range comp {
		comp[i] = -1
	}
	label := 0
	for i := 0; i < n; i++ {
		if comp[i] != -1 {
			continue
		}
		queue := []int{i}
		comp[i] = label
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, e := range adj[cur] {
				if comp[e.Right] == -1 {
					comp[e.Right] = label
					queue = append(queue, e.Right)
				}
			}
		}
		label++
	}
	return comp, label
}

func componentMembers(comp []int, c int) []int {
	var members []int
	for i, cc := range comp {
		if cc == c {
			members = append(members, i)
		}
	}
	return members
}

// orderComponentsBySize returns component labels sorted by member count
// descending.
func orderComponentsBySize(comp []int, numComponents int) []int {
	sizes := make([]int, numComponents)
	for _, c := range comp {
		sizes[c]++
	}
	order := make([]int, numComponents)
	for i := range order {
		order[i] = i
	}
	// Simple insertion sort: numComponents is bounded by the join's input
	// count, which is never large enough to need anything fancier.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && sizes[order[j]] > sizes[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	return order
}
