package opstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/common"
)

func TestCountStateTracksInsertsAndRetractions(t *testing.T) {
	var s CountState
	s.Add(1)
	s.Add(1)
	s.Add(-1)
	assert.Equal(t, int64(1), s.Value())
}

func TestSumStateUnsetUntilFirstAdd(t *testing.T) {
	var s SumState
	_, ok := s.Value()
	assert.False(t, ok)

	s.Add(5)
	s.Add(-2)
	v, ok := s.Value()
	require.True(t, ok)
	assert.Equal(t, float64(3), v)
}

func TestExtremeStateMinTracksSmallest(t *testing.T) {
	s := NewExtremeState(common.TypeInt64, false, 4)
	s.Insert(common.NewDatum(int64(5)), orderKey(1))
	s.Insert(common.NewDatum(int64(2)), orderKey(2))
	s.Insert(common.NewDatum(int64(8)), orderKey(3))

	v, ok := s.Value()
	require.True(t, ok)
	assert.Equal(t, int64(2), v.Value().(int64))
}

func TestExtremeStateMaxTracksLargest(t *testing.T) {
	s := NewExtremeState(common.TypeInt64, true, 4)
	s.Insert(common.NewDatum(int64(5)), orderKey(1))
	s.Insert(common.NewDatum(int64(2)), orderKey(2))
	s.Insert(common.NewDatum(int64(8)), orderKey(3))

	v, ok := s.Value()
	require.True(t, ok)
	assert.Equal(t, int64(8), v.Value().(int64))
}

func TestExtremeStateRetractFallsBackToNextCandidate(t *testing.T) {
	s := NewExtremeState(common.TypeInt64, false, 4)
	s.Insert(common.NewDatum(int64(2)), orderKey(1))
	s.Insert(common.NewDatum(int64(5)), orderKey(2))

	needsRefill := s.Retract(common.NewDatum(int64(2)), orderKey(1))
	assert.False(t, needsRefill)

	v, ok := s.Value()
	require.True(t, ok)
	assert.Equal(t, int64(5), v.Value().(int64))
}

func TestExtremeStateRetractEmptyingCacheSignalsRefill(t *testing.T) {
	s := NewExtremeState(common.TypeInt64, false, 4)
	s.Insert(common.NewDatum(int64(2)), orderKey(1))

	needsRefill := s.Retract(common.NewDatum(int64(2)), orderKey(1))
	assert.True(t, needsRefill)

	_, ok := s.Value()
	assert.False(t, ok)
}
