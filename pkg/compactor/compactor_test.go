package compactor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/hummock/sstable"
	"github.com/cascadedb/cascade/pkg/hummock/version"
	"github.com/cascadedb/cascade/pkg/objectstore"
	"github.com/cascadedb/cascade/pkg/rpc"
)

func buildTable(t *testing.T, store *objectstore.Store, objID uint64, entries []sstable.Entry) version.SSTableInfo {
	t.Helper()
	b := sstable.NewBuilder()
	for _, e := range entries {
		require.NoError(t, b.Add(e))
	}
	file, _, blocks, err := b.Finish()
	require.NoError(t, err)
	require.NoError(t, store.Upload(objID, file))
	smallest, _ := sstable.SplitInternalKey(blocks[0].SmallestKey)
	largest, _ := sstable.SplitInternalKey(blocks[len(blocks)-1].LargestKey)
	return version.SSTableInfo{ID: objID, ObjectID: objID, FileSize: uint64(len(file)), SmallestKey: smallest, LargestKey: largest}
}

func TestRunCompactionMergesAndDropsShadowedVersions(t *testing.T) {
	store, err := objectstore.New(t.TempDir(), 16)
	require.NoError(t, err)

	l0 := buildTable(t, store, 1, []sstable.Entry{
		{UserKey: []byte("a"), Epoch: 2, Value: []byte("a2")},
		{UserKey: []byte("c"), Epoch: 2, Value: nil}, // tombstone
	})
	l1 := buildTable(t, store, 2, []sstable.Entry{
		{UserKey: []byte("a"), Epoch: 1, Value: []byte("a1")},
		{UserKey: []byte("b"), Epoch: 1, Value: []byte("b1")},
		{UserKey: []byte("c"), Epoch: 1, Value: []byte("c1")},
	})

	c := New("compactor-1", "", nil, store)
	outputs, err := c.runCompaction(rpc.TaskWire{
		ID:                1,
		InputLevel:        0,
		TargetLevel:       1,
		Inputs:            []version.SSTableInfo{l0},
		TargetLevelInputs: []version.SSTableInfo{l1},
	})
	require.NoError(t, err)
	require.Len(t, outputs, 1)

	data, err := store.Read(outputs[0].ObjectID)
	require.NoError(t, err)
	reader, err := sstable.OpenReader(data)
	require.NoError(t, err)
	entries, err := reader.AllEntries()
	require.NoError(t, err)

	got := map[string]sstable.Entry{}
	for _, e := range entries {
		got[string(e.UserKey)] = e
	}
	require.Len(t, got, 3)
	require.Equal(t, []byte("a2"), got["a"].Value)
	require.Equal(t, uint64(2), got["a"].Epoch)
	require.Equal(t, []byte("b1"), got["b"].Value)
	require.Nil(t, got["c"].Value) // tombstone survives the merge at this level
}

func TestRunCompactionEmptyInputsProducesNoOutput(t *testing.T) {
	store, err := objectstore.New(t.TempDir(), 16)
	require.NoError(t, err)
	c := New("compactor-1", "", nil, store)
	outputs, err := c.runCompaction(rpc.TaskWire{})
	require.NoError(t, err)
	require.Empty(t, outputs)
}
