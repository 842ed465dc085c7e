package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPullUpCorrelatedFilter:
// Apply(L, Project(Filter(input, "L.x = input.y AND input.y > 0"))) becomes
// Join(L, Project(Filter(input, "input.y > 0")), type, on = apply_on AND
// L.x = input.y), with the Project extended to expose y.
func TestPullUpCorrelatedFilter(t *testing.T) {
	n := ApplyNode{
		OuterSchemaLen: 3,
		InnerSchemaLen: 2,
		JoinType:       "Inner",
		ApplyOn:        "true",
		Conjuncts: []Conjunct{
			{Text: "L.x = input.y", Correlated: true, OuterRefs: []CorrelatedRef{{OuterColumnIdx: 0}}, InnerRefIdx: []int{1}},
			{Text: "input.y > 0", Correlated: false},
		},
	}

	result := PullUpCorrelated(n)

	assert.Equal(t, "Inner", result.JoinType)
	assert.Equal(t, []string{"input.y > 0"}, result.Uncorrelated)
	assert.Equal(t, []string{"L.x = input.y"}, result.PulledConjuncts)
	assert.Equal(t, "true AND L.x = input.y", result.On)
	assert.Equal(t, []int{1}, result.ProjectExposed, "the Project must expose inner column 1 (y) for the join condition")
}

func TestPullUpCorrelatedNoCorrelatedConjunctsLeavesOnUnchanged(t *testing.T) {
	n := ApplyNode{
		JoinType: "Inner",
		ApplyOn:  "true",
		Conjuncts: []Conjunct{
			{Text: "input.y > 0", Correlated: false},
		},
	}
	result := PullUpCorrelated(n)
	assert.Equal(t, "true", result.On)
	assert.Empty(t, result.PulledConjuncts)
	assert.Empty(t, result.ProjectExposed)
}

func TestPullUpCorrelatedDedupsSharedInnerRef(t *testing.T) {
	n := ApplyNode{
		JoinType: "Inner",
		ApplyOn:  "true",
		Conjuncts: []Conjunct{
			{Text: "L.x = input.y", Correlated: true, InnerRefIdx: []int{1}},
			{Text: "L.z = input.y", Correlated: true, InnerRefIdx: []int{1}},
		},
	}
	result := PullUpCorrelated(n)
	assert.Equal(t, []int{1}, result.ProjectExposed, "exposing inner column 1 twice must dedup to one Project output")
}
