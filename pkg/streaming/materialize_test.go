package streaming

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/common"
	"github.com/cascadedb/cascade/pkg/hummock"
	"github.com/cascadedb/cascade/pkg/hummock/version"
	"github.com/cascadedb/cascade/pkg/statetable"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[uint64][]byte
}

func newFakeObjectStore() *fakeObjectStore { return &fakeObjectStore{objects: make(map[uint64][]byte)} }

func (f *fakeObjectStore) Upload(objectID uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectID] = append([]byte(nil), data...)
	return nil
}

func (f *fakeObjectStore) Read(objectID uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.objects[objectID]
	if !ok {
		return nil, fmt.Errorf("object %d not found", objectID)
	}
	return d, nil
}

type fakeVersionSource struct {
	mu sync.Mutex
	v  version.HummockVersion
}

func newFakeVersionSource() *fakeVersionSource {
	return &fakeVersionSource{v: version.NewEmpty(3)}
}

func (f *fakeVersionSource) CurrentVersion() version.HummockVersion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v
}

func (f *fakeVersionSource) CommitSync(maxSyncedEpoch uint64, newTable version.SSTableInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.v.MaxSyncedEpoch = maxSyncedEpoch
	f.v.Levels[0].Tables = append(f.v.Levels[0].Tables, newTable)
	return nil
}

func testRowDesc() common.TableDesc {
	return common.TableDesc{
		TableID: 42,
		Columns: []common.ColumnDesc{
			{ID: 1, Name: "id", Type: common.TypeInt64},
			{ID: 2, Name: "v", Type: common.TypeFloat64},
		},
		PrimaryKeyPos: []int{0},
		PrimaryKeyDir: []common.OrderDirection{common.Ascending},
	}
}

func row(id int64, v float64) common.Row {
	return common.NewRow(common.NewDatum(id), common.NewDatum(v))
}

// TestMaterializeScenario: a source actor feeds a
// chunk to a materialize actor before a checkpoint barrier; the view is
// readable at that epoch afterward, and a later delete is visible only from
// the epoch it committed in.
func TestMaterializeScenario(t *testing.T) {
	storage := hummock.NewStorage(newFakeObjectStore(), newFakeVersionSource())
	desc := testRowDesc()
	table := statetable.New(desc, []byte{0, 0, 0, 42}, storage)

	in := make(chan Message, 4)
	mat := NewMaterialize([]Input{in}, table, storage, desc.PrimaryKeyPos)

	in <- ChunkMessage(&Chunk{
		Ops:  []OpKind{OpInsert, OpInsert},
		Rows: []common.Row{row(1, 1.14), row(2, 5.14)},
	})
	in <- BarrierMessage(&Barrier{Epoch: 10, Checkpoint: true})

	ctx := context.Background()
	msg, ok, err := mat.Next(ctx) // chunk passes through unchanged
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, msg.Chunk)
	assert.Equal(t, 2, msg.Chunk.Len())

	msg, ok, err = mat.Next(ctx) // barrier commits + syncs epoch 10
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, msg.IsBarrier())

	r1, found, err := table.Get(common.NewRow(common.NewDatum(int64(1))), 10)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 1.14, r1.At(1).Value().(float64), 1e-9)

	r2, found, err := table.Get(common.NewRow(common.NewDatum(int64(2))), 10)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 5.14, r2.At(1).Value().(float64), 1e-9)

	// Delete row 1, commit a second checkpoint barrier at epoch 11.
	in <- ChunkMessage(&Chunk{
		Ops:  []OpKind{OpDelete},
		Rows: []common.Row{row(1, 0)},
	})
	in <- BarrierMessage(&Barrier{Epoch: 11, Checkpoint: true})

	_, _, err = mat.Next(ctx)
	require.NoError(t, err)
	_, _, err = mat.Next(ctx)
	require.NoError(t, err)

	_, found, err = table.Get(common.NewRow(common.NewDatum(int64(1))), 11)
	require.NoError(t, err)
	assert.False(t, found, "row 1 should be gone as of epoch 11")

	_, found, err = table.Get(common.NewRow(common.NewDatum(int64(2))), 11)
	require.NoError(t, err)
	assert.True(t, found, "row 2 is untouched by the delete")
}
