package streaming

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/common"
)

func scoreDescOrder() []common.OrderType {
	return []common.OrderType{{Type: common.TypeInt64, Direction: common.Descending}}
}

func namedScore(name string, score int64) common.Row {
	return common.NewRow(common.NewDatum(name), common.NewDatum(score))
}

func collectChunk(t *testing.T, exec Executor) *Chunk {
	t.Helper()
	msg, ok, err := exec.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, msg.Chunk, "expected a chunk, got a barrier")
	return msg.Chunk
}

func TestTopNEmitsOnlyAnswerChanges(t *testing.T) {
	in := make(chan Message, 16)
	topn, err := NewTopN([]Input{in}, 0, 2, false, []int{1}, scoreDescOrder(), nil)
	require.NoError(t, err)

	in <- ChunkMessage(&Chunk{
		Ops:  []OpKind{OpInsert, OpInsert, OpInsert},
		Rows: []common.Row{namedScore("a", 9), namedScore("b", 8), namedScore("c", 7)},
	})

	out := collectChunk(t, topn)
	// a and b enter the answer; c lands in the high tier and is absorbed,
	// so exactly two inserts flow downstream.
	require.Equal(t, 2, out.Len())
	assert.Equal(t, []OpKind{OpInsert, OpInsert}, out.Ops)
}

func TestTopNInsertBeatingCutoffEmitsDisplacement(t *testing.T) {
	in := make(chan Message, 16)
	topn, err := NewTopN([]Input{in}, 0, 2, false, []int{1}, scoreDescOrder(), nil)
	require.NoError(t, err)

	in <- ChunkMessage(&Chunk{
		Ops:  []OpKind{OpInsert, OpInsert},
		Rows: []common.Row{namedScore("a", 5), namedScore("b", 4)},
	})
	collectChunk(t, topn)

	in <- ChunkMessage(&Chunk{
		Ops:  []OpKind{OpInsert},
		Rows: []common.Row{namedScore("c", 9)},
	})
	out := collectChunk(t, topn)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, OpDelete, out.Ops[0])
	assert.Equal(t, "b", out.Rows[0].At(0).Value().(string))
	assert.Equal(t, OpInsert, out.Ops[1])
	assert.Equal(t, "c", out.Rows[1].At(0).Value().(string))
}

func TestTopNWithTiesDeleteDoesNotPromoteFromHigh(t *testing.T) {
	in := make(chan Message, 16)
	topn, err := NewTopN([]Input{in}, 0, 3, true, []int{1}, scoreDescOrder(), nil)
	require.NoError(t, err)

	in <- ChunkMessage(&Chunk{
		Ops: []OpKind{OpInsert, OpInsert, OpInsert, OpInsert, OpInsert},
		Rows: []common.Row{
			namedScore("a", 9), namedScore("b", 8), namedScore("c", 8),
			namedScore("d", 8), namedScore("e", 7),
		},
	})
	out := collectChunk(t, topn)
	// ties extend the answer to {a, b, c, d}; e is absorbed into high.
	require.Equal(t, 4, out.Len())

	in <- ChunkMessage(&Chunk{
		Ops:  []OpKind{OpDelete},
		Rows: []common.Row{namedScore("a", 9)},
	})
	out = collectChunk(t, topn)
	// the answer still holds three rows, so e must not promote.
	require.Equal(t, 1, out.Len())
	assert.Equal(t, OpDelete, out.Ops[0])
	assert.Equal(t, "a", out.Rows[0].At(0).Value().(string))
}

func TestTopNForwardsBarriers(t *testing.T) {
	in := make(chan Message, 16)
	topn, err := NewTopN([]Input{in}, 0, 2, false, []int{1}, scoreDescOrder(), nil)
	require.NoError(t, err)

	in <- BarrierMessage(&Barrier{Epoch: 7})
	msg, ok, err := topn.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, msg.IsBarrier())
	assert.Equal(t, uint64(7), msg.Barrier.Epoch)
}

func TestTopNOffsetSkipsLowTierRows(t *testing.T) {
	in := make(chan Message, 16)
	topn, err := NewTopN([]Input{in}, 2, 2, false, []int{1}, scoreDescOrder(), nil)
	require.NoError(t, err)

	// scores 9 and 8 fall in the skipped prefix; 7 and 6 are the answer;
	// 5 waits in high.
	in <- ChunkMessage(&Chunk{
		Ops: []OpKind{OpInsert, OpInsert, OpInsert, OpInsert, OpInsert},
		Rows: []common.Row{
			namedScore("a", 9), namedScore("b", 8), namedScore("c", 7),
			namedScore("d", 6), namedScore("e", 5),
		},
	})
	out := collectChunk(t, topn)
	emitted := map[string]bool{}
	for _, r := range out.Rows {
		emitted[r.At(0).Value().(string)] = true
	}
	assert.True(t, emitted["c"])
	assert.True(t, emitted["d"])
	assert.False(t, emitted["a"], "rows under OFFSET must not reach downstream")
	assert.False(t, emitted["b"], "rows under OFFSET must not reach downstream")
	assert.False(t, emitted["e"])
}

func TestTopNOffsetDeleteBelowAnswerShiftsIt(t *testing.T) {
	in := make(chan Message, 16)
	topn, err := NewTopN([]Input{in}, 2, 2, false, []int{1}, scoreDescOrder(), nil)
	require.NoError(t, err)

	in <- ChunkMessage(&Chunk{
		Ops: []OpKind{OpInsert, OpInsert, OpInsert, OpInsert, OpInsert},
		Rows: []common.Row{
			namedScore("a", 9), namedScore("b", 8), namedScore("c", 7),
			namedScore("d", 6), namedScore("e", 5),
		},
	})
	collectChunk(t, topn)

	// deleting a skipped row shifts the window: c moves under the offset,
	// e enters the answer.
	in <- ChunkMessage(&Chunk{Ops: []OpKind{OpDelete}, Rows: []common.Row{namedScore("a", 9)}})
	out := collectChunk(t, topn)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, OpDelete, out.Ops[0])
	assert.Equal(t, "c", out.Rows[0].At(0).Value().(string))
	assert.Equal(t, OpInsert, out.Ops[1])
	assert.Equal(t, "e", out.Rows[1].At(0).Value().(string))
}

func TestTopNRejectsTiesWithOffset(t *testing.T) {
	in := make(chan Message, 1)
	_, err := NewTopN([]Input{in}, 1, 2, true, []int{1}, scoreDescOrder(), nil)
	assert.Error(t, err)
}
