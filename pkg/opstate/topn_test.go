package opstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/common"
)

func ascInt64() []common.OrderType {
	return []common.OrderType{{Type: common.TypeInt64, Direction: common.Ascending}}
}

func mustTopNCache(t *testing.T, offset, limit int, withTies bool, ot []common.OrderType) *TopNCache {
	t.Helper()
	c, err := NewTopNCache(offset, limit, withTies, ot)
	require.NoError(t, err)
	return c
}

func orderKey(v int64) common.Row {
	return common.NewRow(common.NewDatum(v))
}

func TestTopNCacheInsertUnderLimitKeepsAll(t *testing.T) {
	c := mustTopNCache(t, 0, 3, false, ascInt64())
	for _, v := range []int64{3, 1, 2} {
		c.Insert(orderKey(v), orderKey(v))
	}
	require.Equal(t, 3, c.MiddleLen())
	rows := c.Rows()
	var got []int64
	for _, r := range rows {
		got = append(got, r.At(0).Value().(int64))
	}
	assert.Equal(t, []int64{1, 2, 3}, got)
}

func TestTopNCacheInsertBeyondLimitEvictsLargest(t *testing.T) {
	c := mustTopNCache(t, 0, 2, false, ascInt64())
	c.Insert(orderKey(5), orderKey(5))
	c.Insert(orderKey(10), orderKey(10))
	// 3 beats 10, which should move to high.
	c.Insert(orderKey(3), orderKey(3))

	require.Equal(t, 2, c.MiddleLen())
	require.Equal(t, 1, c.HighLen())

	var got []int64
	for _, r := range c.Rows() {
		got = append(got, r.At(0).Value().(int64))
	}
	assert.Equal(t, []int64{3, 5}, got)
}

func TestTopNCacheInsertNotBeatingCutoffGoesToHigh(t *testing.T) {
	c := mustTopNCache(t, 0, 2, false, ascInt64())
	c.Insert(orderKey(1), orderKey(1))
	c.Insert(orderKey(2), orderKey(2))
	c.Insert(orderKey(100), orderKey(100))

	assert.Equal(t, 2, c.MiddleLen())
	assert.Equal(t, 1, c.HighLen())
}

func TestTopNCacheDeletePromotesFromHigh(t *testing.T) {
	c := mustTopNCache(t, 0, 2, false, ascInt64())
	c.Insert(orderKey(1), orderKey(1))
	c.Insert(orderKey(2), orderKey(2))
	c.Insert(orderKey(3), orderKey(3)) // 3 goes to high

	removed, promoted, needsRefill := c.Delete(orderKey(1), orderKey(1))
	require.False(t, needsRefill)
	require.Len(t, removed, 1)
	require.Len(t, promoted, 1)

	var got []int64
	for _, r := range c.Rows() {
		got = append(got, r.At(0).Value().(int64))
	}
	assert.Equal(t, []int64{2, 3}, got)
	assert.Equal(t, 0, c.HighLen())
}

func TestTopNCacheDeleteWithEmptyHighSignalsRefill(t *testing.T) {
	c := mustTopNCache(t, 0, 2, false, ascInt64())
	c.Insert(orderKey(1), orderKey(1))
	c.Insert(orderKey(2), orderKey(2))

	_, _, needsRefill := c.Delete(orderKey(1), orderKey(1))
	assert.True(t, needsRefill)
	assert.Equal(t, 1, c.MiddleLen())
}

func TestTopNCacheWithTiesKeepsAllTiedAtCutoff(t *testing.T) {
	c := mustTopNCache(t, 0, 2, true, ascInt64())
	c.Insert(orderKey(1), orderKey(1))
	c.Insert(orderKey(2), orderKey(2))
	// ties the current cutoff (2): must stay in middle even though that's 3
	// rows for a limit of 2.
	c.Insert(orderKey(2), orderKey(20))

	assert.Equal(t, 3, c.MiddleLen())
}

func TestTopNCacheDeleteFromHighIsNoopOnMiddle(t *testing.T) {
	c := mustTopNCache(t, 0, 2, false, ascInt64())
	c.Insert(orderKey(1), orderKey(1))
	c.Insert(orderKey(2), orderKey(2))
	c.Insert(orderKey(3), orderKey(3))

	removed, promoted, needsRefill := c.Delete(orderKey(3), orderKey(3))
	assert.False(t, needsRefill)
	assert.Nil(t, removed)
	assert.Nil(t, promoted)
	assert.Equal(t, 2, c.MiddleLen())
	assert.Equal(t, 0, c.HighLen())
}

func descInt64() []common.OrderType {
	return []common.OrderType{{Type: common.TypeInt64, Direction: common.Descending}}
}

func scoreRow(name string, score int64) common.Row {
	return common.NewRow(common.NewDatum(name), common.NewDatum(score))
}

func TestTopNCacheWithTiesDeleteFromExtensionPromotesNothing(t *testing.T) {
	c := mustTopNCache(t, 0, 3, true, descInt64())
	rows := []common.Row{
		scoreRow("a", 9), scoreRow("b", 8), scoreRow("c", 8),
		scoreRow("d", 8), scoreRow("e", 7),
	}
	for _, r := range rows {
		c.Insert(common.NewRow(r.At(1)), r)
	}
	// ties extend middle past the limit; e waits in high.
	require.Equal(t, 4, c.MiddleLen())
	require.Equal(t, 1, c.HighLen())

	removed, promoted, needsRefill := c.Delete(common.NewRow(common.NewDatum(int64(9))), scoreRow("a", 9))
	require.Len(t, removed, 1)
	assert.Equal(t, "a", removed[0].At(0).Value().(string))
	// middle still holds limit rows (b, c, d), so e must not promote.
	assert.Nil(t, promoted)
	assert.False(t, needsRefill)
	assert.Equal(t, 3, c.MiddleLen())
	assert.Equal(t, 1, c.HighLen())
}

func TestTopNCacheWithTiesKeepsTiedRowAfterBeatingInsert(t *testing.T) {
	c := mustTopNCache(t, 0, 2, true, ascInt64())
	c.Insert(orderKey(5), orderKey(5))
	c.Insert(orderKey(5), common.NewRow(common.NewDatum(int64(5)), common.NewDatum("dup")))
	c.Insert(orderKey(7), orderKey(7))
	require.Equal(t, 2, c.MiddleLen()) // middle={5,5}, high={7}

	// 1 beats the cutoff: after inserting, the top-2 are {1,5} and the
	// second 5 ties the new cutoff, so it stays as a ties extension.
	added, displaced := c.Insert(orderKey(1), orderKey(1))
	require.Len(t, added, 1)
	assert.Empty(t, displaced)
	assert.Equal(t, 3, c.MiddleLen())
}

func TestTopNCacheRejectsTiesWithOffset(t *testing.T) {
	_, err := NewTopNCache(1, 2, true, ascInt64())
	assert.Error(t, err)
}

func TestTopNCacheOffsetAbsorbsLowRows(t *testing.T) {
	c := mustTopNCache(t, 2, 2, false, ascInt64())
	for _, v := range []int64{10, 20, 30, 40, 50} {
		c.Insert(orderKey(v), orderKey(v))
	}
	require.Equal(t, 2, c.LowLen())
	require.Equal(t, 2, c.MiddleLen())
	require.Equal(t, 1, c.HighLen())

	var got []int64
	for _, r := range c.Rows() {
		got = append(got, r.At(0).Value().(int64))
	}
	assert.Equal(t, []int64{30, 40}, got, "the answer skips the first offset rows")
}

func TestTopNCacheOffsetInsertBelowLowCascades(t *testing.T) {
	c := mustTopNCache(t, 1, 2, false, ascInt64())
	c.Insert(orderKey(10), orderKey(10))
	c.Insert(orderKey(20), orderKey(20))
	c.Insert(orderKey(30), orderKey(30))
	// 5 enters low; 10 cascades into middle and displaces 30 to high.
	added, displaced := c.Insert(orderKey(5), orderKey(5))
	require.Len(t, added, 1)
	assert.Equal(t, int64(10), added[0].At(0).Value().(int64))
	require.Len(t, displaced, 1)
	assert.Equal(t, int64(30), displaced[0].At(0).Value().(int64))

	var got []int64
	for _, r := range c.Rows() {
		got = append(got, r.At(0).Value().(int64))
	}
	assert.Equal(t, []int64{10, 20}, got)
}

func TestTopNCacheOffsetDeleteFromLowPullsUp(t *testing.T) {
	c := mustTopNCache(t, 2, 2, false, ascInt64())
	for _, v := range []int64{10, 20, 30, 40, 50} {
		c.Insert(orderKey(v), orderKey(v))
	}
	removed, promoted, needsRefill := c.Delete(orderKey(10), orderKey(10))
	require.False(t, needsRefill)
	require.Len(t, removed, 1)
	assert.Equal(t, int64(30), removed[0].At(0).Value().(int64))
	require.Len(t, promoted, 1)
	assert.Equal(t, int64(50), promoted[0].At(0).Value().(int64))

	assert.Equal(t, 2, c.LowLen())
	var got []int64
	for _, r := range c.Rows() {
		got = append(got, r.At(0).Value().(int64))
	}
	assert.Equal(t, []int64{40, 50}, got)
}

func TestTopNCacheLowNeverExceedsOffset(t *testing.T) {
	c := mustTopNCache(t, 3, 2, false, ascInt64())
	for v := int64(100); v > 80; v-- {
		c.Insert(orderKey(v), orderKey(v))
		assert.LessOrEqual(t, c.LowLen(), 3)
	}
}
