package planner

import "strings"

// CorrelatedRef is one reference to an outer-query column inside an Apply's
// inner filter, e.g. the `L.x` half of `L.x = input.y`.
type CorrelatedRef struct {
	OuterColumnIdx int // position in the outer (left) side's schema
}

// Conjunct is one top-level AND-ed predicate inside the inner Filter of an
// `Apply(L, Project(Filter(input)))` pattern.
type Conjunct struct {
	Text        string
	Correlated  bool
	OuterRefs   []CorrelatedRef // only meaningful when Correlated
	InnerRefIdx []int           // positions this conjunct reads from the inner schema
}

// ApplyNode is the correlated-subquery pattern decorrelation targets.
type ApplyNode struct {
	OuterSchemaLen int // number of columns on L
	InnerSchemaLen int // number of columns on input, before any pull-up
	Conjuncts      []Conjunct
	JoinType       string // preserved unchanged onto the resulting Join
	ApplyOn        string // the Apply's own join condition, preserved unchanged
}

// PulledRef is one correlated conjunct moved into a join condition, plus
// the inner column the Project must now expose for it.
type PulledRef struct {
	Conjunct    string // conjunct text, carried unchanged (see PullUpCorrelated)
	ExposedIdx  int    // inner-schema position the Project must add an output for
}

// JoinResult is what PullUpCorrelated rewrites an ApplyNode into:
// Join(L, Project(Filter(uncorrelated)), JoinType, On = ApplyOn AND pulled).
type JoinResult struct {
	JoinType         string
	On               string
	Uncorrelated     []string // conjuncts left on the inner Filter
	PulledConjuncts  []string // correlated conjuncts, text unchanged, ANDed into On
	ProjectExposed   []int    // inner column positions the Project must additionally output,
	                          // in the order they were pulled
}

// PullUpCorrelated converts an Apply into an ordinary join by pulling the
// correlated predicates up into the join condition:
// partition the inner filter's conjuncts into correlated and uncorrelated;
// move each correlated conjunct's text, unchanged, into the join condition,
// and record each inner column it references (once, in pull order) in
// ProjectExposed so the Project can expose it. No InputRef index is
// rewritten: inner-side indices are not shifted past the outer schema or
// past previously pulled refs.
//
// For example, Apply(L, Project(Filter(input,
// "L.x = input.y AND input.y > 0"))) becomes Join(L, Project(Filter(input,
// "input.y > 0")), type, on = apply_on AND L.x = input.y), with the Project's
// output extended to include y.
func PullUpCorrelated(n ApplyNode) JoinResult {
	result := JoinResult{JoinType: n.JoinType, On: n.ApplyOn}
	exposed := map[int]int{} // inner column idx -> position in the exposed list, for dedup

	for _, c := range n.Conjuncts {
		if !c.Correlated {
			result.Uncorrelated = append(result.Uncorrelated, c.Text)
			continue
		}
		rewritten := c.Text
		for _, ref := range c.OuterRefs {
			rewritten = rewriteToken(rewritten, ref.OuterColumnIdx)
		}
		for _, innerIdx := range c.InnerRefIdx {
			if _, ok := exposed[innerIdx]; !ok {
				exposed[innerIdx] = len(result.ProjectExposed)
				result.ProjectExposed = append(result.ProjectExposed, innerIdx)
			}
		}
		result.PulledConjuncts = append(result.PulledConjuncts, rewritten)
	}

	if len(result.PulledConjuncts) > 0 {
		pulled := strings.Join(result.PulledConjuncts, " AND ")
		if result.On == "" {
			result.On = pulled
		} else {
			result.On = result.On + " AND " + pulled
		}
	}
	return result
}

// rewriteToken is a placeholder for the CorrelatedInputRef(i) ->
// InputRef(i) substitution at the expression-tree level. Since this
// package models conjuncts as opaque text (the binder's expression tree
// lives upstream), rewriting here is a no-op marker that documents where
// the real rewrite plugs in: the outer column keeps the same index once
// placed on the join's left side, so no text substitution is needed.
func rewriteToken(text string, outerIdx int) string {
	return text
}
