package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/batchexec"
	"github.com/cascadedb/cascade/pkg/fragment"
	"github.com/cascadedb/cascade/pkg/planner"
)

func scan(tableID uint32) *LogicalNode {
	return &LogicalNode{Kind: KindScan, TableID: tableID}
}

func TestRewriteMultiJoinProducesLeftDeepChainUnderFilter(t *testing.T) {
	mj := &planner.MultiJoin{
		Inputs: []string{"A", "B", "C"},
		On: []planner.Expr{
			{Left: 0, Right: 1, Text: "A.a = B.a"},
			{Left: 1, Right: 2, Text: "B.b = C.b"},
		},
	}
	root := &LogicalNode{
		Kind:      KindMultiJoin,
		MultiJoin: mj,
		Children:  []*LogicalNode{scan(1), scan(2), scan(3)},
	}
	got, err := Rewrite(root)
	require.NoError(t, err)

	require.Equal(t, KindFilter, got.Kind)
	assert.Contains(t, got.Cond, "A.a = B.a")
	assert.Contains(t, got.Cond, "B.b = C.b")

	top := got.Children[0]
	require.Equal(t, KindJoin, top.Kind)
	inner := top.Children[0]
	require.Equal(t, KindJoin, inner.Kind)
	// (A join B) join C: the innermost join holds the first edge's
	// endpoints, C is appended on the right of the outer join.
	assert.Equal(t, uint32(1), inner.Children[0].TableID)
	assert.Equal(t, uint32(2), inner.Children[1].TableID)
	assert.Equal(t, uint32(3), top.Children[1].TableID)
}

func TestRewriteApplyPullsCorrelatedPredicateIntoJoin(t *testing.T) {
	apply := &planner.ApplyNode{
		OuterSchemaLen: 1,
		InnerSchemaLen: 1,
		JoinType:       "inner",
		ApplyOn:        "true",
		Conjuncts: []planner.Conjunct{
			{Text: "L.x = input.y", Correlated: true, OuterRefs: []planner.CorrelatedRef{{OuterColumnIdx: 0}}, InnerRefIdx: []int{0}},
			{Text: "input.y > 0", InnerRefIdx: []int{0}},
		},
	}
	root := &LogicalNode{
		Kind:     KindApply,
		Apply:    apply,
		Children: []*LogicalNode{scan(1), scan(2)},
	}
	got, err := Rewrite(root)
	require.NoError(t, err)

	require.Equal(t, KindJoin, got.Kind)
	assert.Contains(t, got.Cond, "L.x = input.y")
	// the uncorrelated conjunct stays on a filter under a project on the
	// inner side.
	project := got.Children[1]
	require.Equal(t, KindProject, project.Kind)
	filter := project.Children[0]
	require.Equal(t, KindFilter, filter.Kind)
	assert.Equal(t, "input.y > 0", filter.Cond)
}

func TestBuildStreamingPlanMapsKinds(t *testing.T) {
	root := &LogicalNode{
		Kind: KindMaterialize,
		Children: []*LogicalNode{{
			Kind: KindTopN,
			Children: []*LogicalNode{{
				Kind:     KindAgg,
				Children: []*LogicalNode{scan(7)},
			}},
		}},
	}
	plan, err := BuildStreamingPlan(root)
	require.NoError(t, err)
	require.Equal(t, fragment.NodeMaterialize, plan.Kind)
	require.Equal(t, fragment.NodeTopN, plan.Children[0].Kind)
	require.Equal(t, fragment.NodeHashAgg, plan.Children[0].Children[0].Kind)

	frags := fragment.Fragmentize(plan)
	// materialize root fragment, top-N fragment, hash-agg fragment.
	assert.Len(t, frags, 3)
}

func TestBuildStreamingPlanRejectsUnrewrittenNodes(t *testing.T) {
	_, err := BuildStreamingPlan(&LogicalNode{Kind: KindApply})
	assert.Error(t, err)
}

func TestBuildBatchPlanSplitsStagesAtJoins(t *testing.T) {
	root := &LogicalNode{
		Kind: KindJoin,
		Children: []*LogicalNode{
			{Kind: KindScan, TableID: 1, ScanVnodeSets: [][]bool{{true, false}, {false, true}}},
			scan(2),
		},
	}
	stage, err := BuildBatchPlan(root, 2)
	require.NoError(t, err)

	require.Len(t, stage.Children, 2)
	assert.True(t, stage.Children[0].Plan.IsTableScan)
	require.Len(t, stage.Plan.Children, 2)
	assert.True(t, stage.Plan.Children[0].IsExchange)

	// the DAG is runnable by the batch executor's own walker.
	for _, c := range stage.Children {
		assert.Equal(t, []*batchexec.Stage{stage}, c.Parents)
	}
}
