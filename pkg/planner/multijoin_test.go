package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReorderJoinsChain: A(pk a), B(pk b),
// C(pk c); A.a = B.a and B.b = C.b. Expected plan is (A ⋈ B) ⋈ C and the
// emitted filter carries every original conjunct.
func TestReorderJoinsChain(t *testing.T) {
	mj := MultiJoin{
		Inputs: []string{"A", "B", "C"},
		On: []Expr{
			{Left: 0, Right: 1, Text: "A.a = B.a"},
			{Left: 1, Right: 2, Text: "B.b = C.b"},
		},
	}
	result, err := ReorderJoins(mj)
	require.NoError(t, err)

	require.NotNil(t, result.Plan.Join)
	top := result.Plan.Join
	// (A ⋈ B) ⋈ C: left is a join of {0,1}, right is leaf 2.
	assert.Equal(t, 2, top.Right.InputIdx)
	require.NotNil(t, top.Left.Join)
	inner := top.Left.Join
	assert.ElementsMatch(t, []int{0, 1}, []int{inner.Left.InputIdx, inner.Right.InputIdx})

	assert.Len(t, result.Filter, 2)
}

// TestReorderJoinsCompleteness: every input
// appears exactly once regardless of graph shape.
func TestReorderJoinsCompleteness(t *testing.T) {
	cases := []MultiJoin{
		{Inputs: []string{"A", "B", "C", "D"}, On: []Expr{
			{Left: 0, Right: 1, Text: "e1"},
			{Left: 2, Right: 3, Text: "e2"},
		}},
		{Inputs: []string{"A", "B", "C"}, On: nil}, // fully isolated
		{Inputs: []string{"A", "B", "C", "D", "E"}, On: []Expr{
			{Left: 0, Right: 1, Text: "e1"},
			{Left: 1, Right: 2, Text: "e2"},
			{Left: 0, Right: 2, Text: "e3"}, // cycle within a component
		}},
	}
	for _, mj := range cases {
		result, err := ReorderJoins(mj)
		require.NoError(t, err)
		seen := collectLeaves(result.Plan, nil)
		assert.Len(t, seen, len(mj.Inputs))
		assert.ElementsMatch(t, indexRange(len(mj.Inputs)), seen)
	}
}

func TestReorderJoinsRejectsNoInputs(t *testing.T) {
	_, err := ReorderJoins(MultiJoin{})
	require.Error(t, err)
}

func collectLeaves(op Operand, acc []int) []int {
	if op.Join == nil {
		return append(acc, op.InputIdx)
	}
	acc = collectLeaves(op.Join.Left, acc)
	acc = collectLeaves(op.Join.Right, acc)
	return acc
}

func indexRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
