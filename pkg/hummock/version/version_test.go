package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyRejectsStaleDelta(t *testing.T) {
	v := NewEmpty(3)
	delta := VersionDelta{ID: 1, PrevID: 99, MaxSyncedEpoch: 1}
	_, err := v.Apply(delta)
	assert.Error(t, err)
}

func TestApplyInsertsIntoL0NewestFirst(t *testing.T) {
	v := NewEmpty(3)
	d1 := VersionDelta{ID: 1, PrevID: 0, LevelDeltas: []LevelDelta{
		{LevelIdx: 0, InsertTables: []SSTableInfo{{ID: 1}}},
	}}
	v, err := v.Apply(d1)
	require.NoError(t, err)

	d2 := VersionDelta{ID: 2, PrevID: 1, LevelDeltas: []LevelDelta{
		{LevelIdx: 0, InsertTables: []SSTableInfo{{ID: 2}}},
	}}
	v, err = v.Apply(d2)
	require.NoError(t, err)

	require.Len(t, v.Levels[0].Tables, 2)
	assert.Equal(t, uint64(2), v.Levels[0].Tables[0].ID, "newest table must be first")
	assert.Equal(t, uint64(1), v.Levels[0].Tables[1].ID)
}

func TestApplyCompactionDeletesInputsAndInsertsSorted(t *testing.T) {
	v := NewEmpty(3)
	seed := VersionDelta{ID: 1, PrevID: 0, LevelDeltas: []LevelDelta{
		{LevelIdx: 1, InsertTables: []SSTableInfo{
			{ID: 10, SmallestKey: []byte("m"), LargestKey: []byte("z")},
		}},
	}}
	v, err := v.Apply(seed)
	require.NoError(t, err)

	compact := VersionDelta{ID: 2, PrevID: 1, LevelDeltas: []LevelDelta{
		{LevelIdx: 1,
			DeleteIDs: []uint64{10},
			InsertTables: []SSTableInfo{
				{ID: 11, SmallestKey: []byte("m"), LargestKey: []byte("p")},
				{ID: 12, SmallestKey: []byte("a"), LargestKey: []byte("c")},
			},
		},
	}}
	v, err = v.Apply(compact)
	require.NoError(t, err)

	require.Len(t, v.Levels[1].Tables, 2)
	assert.Equal(t, uint64(12), v.Levels[1].Tables[0].ID, "level 1+ tables stay sorted by key")
	assert.Equal(t, uint64(11), v.Levels[1].Tables[1].ID)
}

func TestOriginalVersionUnmodifiedByApply(t *testing.T) {
	v := NewEmpty(3)
	d := VersionDelta{ID: 1, PrevID: 0, LevelDeltas: []LevelDelta{
		{LevelIdx: 0, InsertTables: []SSTableInfo{{ID: 1}}},
	}}
	next, err := v.Apply(d)
	require.NoError(t, err)
	assert.Empty(t, v.Levels[0].Tables, "original version must remain untouched")
	assert.Len(t, next.Levels[0].Tables, 1)
}

func TestKeyIndexLookup(t *testing.T) {
	level := Level{LevelIdx: 1, Tables: []SSTableInfo{
		{ID: 1, SmallestKey: []byte("a"), LargestKey: []byte("f")},
		{ID: 2, SmallestKey: []byte("g"), LargestKey: []byte("m")},
	}}
	idx := BuildKeyIndex(level)
	t1, ok := idx.Lookup([]byte("c"))
	require.True(t, ok)
	assert.Equal(t, uint64(1), t1.ID)

	t2, ok := idx.Lookup([]byte("h"))
	require.True(t, ok)
	assert.Equal(t, uint64(2), t2.ID)

	_, ok = idx.Lookup([]byte("z"))
	assert.False(t, ok)
}
