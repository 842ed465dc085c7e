package streaming

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/common"
)

type fakeIndex struct {
	rows  map[int64][]common.Row
	scans int
}

func (f *fakeIndex) ScanByKey(key common.Row) ([]common.Row, error) {
	f.scans++
	return f.rows[key.At(0).Value().(int64)], nil
}

func TestIndexJoinEmitsOneRowPerMatch(t *testing.T) {
	idx := &fakeIndex{rows: map[int64][]common.Row{
		7: {common.NewRow(common.NewDatum(int64(7)), common.NewDatum("left")), common.NewRow(common.NewDatum(int64(7)), common.NewDatum("right"))},
	}}
	in := make(chan Message, 4)
	join, err := NewIndexJoin([]Input{in}, idx, []int{0}, 8)
	require.NoError(t, err)

	in <- ChunkMessage(&Chunk{
		Ops:  []OpKind{OpInsert},
		Rows: []common.Row{common.NewRow(common.NewDatum(int64(7)), common.NewDatum("probe"))},
	})
	msg, ok, err := join.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, msg.Chunk.Len())
	// input columns first, then the matched row's.
	assert.Equal(t, "probe", msg.Chunk.Rows[0].At(1).Value().(string))
	assert.Equal(t, "left", msg.Chunk.Rows[0].At(3).Value().(string))
}

func TestIndexJoinCachesHotKeys(t *testing.T) {
	idx := &fakeIndex{rows: map[int64][]common.Row{1: {common.NewRow(common.NewDatum(int64(1)))}}}
	in := make(chan Message, 4)
	join, err := NewIndexJoin([]Input{in}, idx, []int{0}, 8)
	require.NoError(t, err)

	probe := common.NewRow(common.NewDatum(int64(1)))
	for i := 0; i < 3; i++ {
		in <- ChunkMessage(&Chunk{Ops: []OpKind{OpInsert}, Rows: []common.Row{probe}})
		_, _, err := join.Next(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, idx.scans, "repeat probes of the same key must hit the cache")

	join.Invalidate(probe)
	in <- ChunkMessage(&Chunk{Ops: []OpKind{OpInsert}, Rows: []common.Row{probe}})
	_, _, err = join.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, idx.scans, "invalidation must force a reload")
}

func TestIndexJoinAbsorbsUnmatchedRows(t *testing.T) {
	idx := &fakeIndex{rows: map[int64][]common.Row{}}
	in := make(chan Message, 4)
	join, err := NewIndexJoin([]Input{in}, idx, []int{0}, 8)
	require.NoError(t, err)

	in <- ChunkMessage(&Chunk{Ops: []OpKind{OpInsert}, Rows: []common.Row{common.NewRow(common.NewDatum(int64(9)))}})
	in <- BarrierMessage(&Barrier{Epoch: 1})
	msg, ok, err := join.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, msg.IsBarrier(), "an unmatched inner-join row emits nothing before the barrier")
}
