// Package frontend turns a bound logical plan into something the rest of
// the system can run: it applies the planner's rewrites (multi-join
// reordering, Apply pull-up), then lowers the result either into a
// streaming fragment DAG for materialization or into a batch stage DAG for
// the distributed executor. SQL parsing and binding happen upstream; this
// package starts from an already-bound LogicalNode tree.
package frontend

import (
	"fmt"

	"github.com/cascadedb/cascade/pkg/batchexec"
	"github.com/cascadedb/cascade/pkg/fragment"
	"github.com/cascadedb/cascade/pkg/planner"
)

// NodeKind classifies a bound logical plan node.
type NodeKind int

const (
	KindScan NodeKind = iota
	KindFilter
	KindProject
	KindJoin
	KindMultiJoin
	KindApply
	KindAgg
	KindTopN
	KindMaterialize
)

// LogicalNode is one node of the bound logical plan. Only the fields the
// node's Kind reads are meaningful.
type LogicalNode struct {
	Kind     NodeKind
	Children []*LogicalNode

	// KindScan
	TableID       uint32
	ScanVnodeSets [][]bool // one per partition, for batch task splitting

	// KindMultiJoin
	MultiJoin *planner.MultiJoin

	// KindApply
	Apply *planner.ApplyNode

	// KindJoin / KindFilter
	Cond string
}

// Rewrite applies the planner's transforms bottom-up: a KindMultiJoin
// becomes a left-deep chain of KindJoin nodes under a KindFilter carrying
// the original condition, and a KindApply becomes a KindJoin over its two
// children with the correlated predicates pulled into the join condition.
func Rewrite(n *LogicalNode) (*LogicalNode, error) {
	for i, c := range n.Children {
		rewritten, err := Rewrite(c)
		if err != nil {
			return nil, err
		}
		n.Children[i] = rewritten
	}
	switch n.Kind {
	case KindMultiJoin:
		return rewriteMultiJoin(n)
	case KindApply:
		return rewriteApply(n)
	default:
		return n, nil
	}
}

func rewriteMultiJoin(n *LogicalNode) (*LogicalNode, error) {
	if n.MultiJoin == nil {
		return nil, fmt.Errorf("frontend: multi-join node without a MultiJoin payload")
	}
	if len(n.Children) != len(n.MultiJoin.Inputs) {
		return nil, fmt.Errorf("frontend: multi-join has %d children but %d inputs", len(n.Children), len(n.MultiJoin.Inputs))
	}
	result, err := planner.ReorderJoins(*n.MultiJoin)
	if err != nil {
		return nil, err
	}
	joined, err := lowerOperand(result.Plan, n.Children)
	if err != nil {
		return nil, err
	}
	filter := &LogicalNode{Kind: KindFilter, Children: []*LogicalNode{joined}}
	for i, e := range result.Filter {
		if i > 0 {
			filter.Cond += " AND "
		}
		filter.Cond += e.Text
	}
	return filter, nil
}

func lowerOperand(op planner.Operand, inputs []*LogicalNode) (*LogicalNode, error) {
	if op.Join == nil {
		if op.InputIdx < 0 || op.InputIdx >= len(inputs) {
			return nil, fmt.Errorf("frontend: join operand references input %d of %d", op.InputIdx, len(inputs))
		}
		return inputs[op.InputIdx], nil
	}
	left, err := lowerOperand(op.Join.Left, inputs)
	if err != nil {
		return nil, err
	}
	right, err := lowerOperand(op.Join.Right, inputs)
	if err != nil {
		return nil, err
	}
	return &LogicalNode{Kind: KindJoin, Cond: op.Join.Cond, Children: []*LogicalNode{left, right}}, nil
}

func rewriteApply(n *LogicalNode) (*LogicalNode, error) {
	if n.Apply == nil {
		return nil, fmt.Errorf("frontend: apply node without an ApplyNode payload")
	}
	if len(n.Children) != 2 {
		return nil, fmt.Errorf("frontend: apply needs exactly two children, got %d", len(n.Children))
	}
	result := planner.PullUpCorrelated(*n.Apply)
	inner := n.Children[1]
	if len(result.Uncorrelated) > 0 || len(result.ProjectExposed) > 0 {
		filter := &LogicalNode{Kind: KindFilter, Children: []*LogicalNode{inner}}
		for i, c := range result.Uncorrelated {
			if i > 0 {
				filter.Cond += " AND "
			}
			filter.Cond += c
		}
		inner = &LogicalNode{Kind: KindProject, Children: []*LogicalNode{filter}}
	}
	return &LogicalNode{
		Kind:     KindJoin,
		Cond:     result.On,
		Children: []*LogicalNode{n.Children[0], inner},
	}, nil
}

// BuildStreamingPlan lowers a rewritten logical tree into the plan-node
// tree the fragmenter walks. KindApply/KindMultiJoin must have been
// rewritten away first.
func BuildStreamingPlan(n *LogicalNode) (*fragment.PlanNode, error) {
	var kind fragment.NodeKind
	switch n.Kind {
	case KindScan:
		kind = fragment.NodeSource
	case KindFilter, KindProject:
		kind = fragment.NodeStateless
	case KindJoin:
		kind = fragment.NodeHashJoin
	case KindAgg:
		kind = fragment.NodeHashAgg
	case KindTopN:
		kind = fragment.NodeTopN
	case KindMaterialize:
		kind = fragment.NodeMaterialize
	default:
		return nil, fmt.Errorf("frontend: logical kind %d cannot be lowered to a streaming plan; run Rewrite first", n.Kind)
	}
	out := &fragment.PlanNode{Kind: kind}
	for _, c := range n.Children {
		child, err := BuildStreamingPlan(c)
		if err != nil {
			return nil, err
		}
		out.Children = append(out.Children, child)
	}
	return out, nil
}

// BuildBatchPlan lowers a rewritten logical tree into a batch stage DAG:
// every KindJoin/KindAgg/KindTopN starts a new stage for each child, with
// an exchange node in the parent stage reading the child stage's output.
// The returned stage is the DAG's root.
func BuildBatchPlan(n *LogicalNode, parallelism int) (*batchexec.Stage, error) {
	b := &batchBuilder{parallelism: parallelism}
	root, err := b.stageFor(n)
	if err != nil {
		return nil, err
	}
	return root, nil
}

type batchBuilder struct {
	parallelism int
	nextStageID uint32
}

// stageFor builds the stage rooted at n; child stages hang off exchange
// plan nodes.
func (b *batchBuilder) stageFor(n *LogicalNode) (*batchexec.Stage, error) {
	stage := &batchexec.Stage{ID: b.nextStageID, Parallelism: b.parallelism}
	b.nextStageID++
	plan, err := b.lower(n, stage)
	if err != nil {
		return nil, err
	}
	stage.Plan = plan
	return stage, nil
}

func (b *batchBuilder) lower(n *LogicalNode, stage *batchexec.Stage) (*batchexec.PlanNode, error) {
	switch n.Kind {
	case KindScan:
		return &batchexec.PlanNode{IsTableScan: true, ScanVnodeSets: n.ScanVnodeSets}, nil
	case KindJoin, KindAgg, KindTopN:
		// stage boundary: each child becomes its own stage, read back
		// through an exchange.
		out := &batchexec.PlanNode{}
		for _, c := range n.Children {
			child, err := b.stageFor(c)
			if err != nil {
				return nil, err
			}
			child.Parents = append(child.Parents, stage)
			stage.Children = append(stage.Children, child)
			out.Children = append(out.Children, &batchexec.PlanNode{IsExchange: true})
		}
		return out, nil
	case KindFilter, KindProject, KindMaterialize:
		out := &batchexec.PlanNode{}
		for _, c := range n.Children {
			child, err := b.lower(c, stage)
			if err != nil {
				return nil, err
			}
			out.Children = append(out.Children, child)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("frontend: logical kind %d cannot be lowered to a batch plan; run Rewrite first", n.Kind)
	}
}
