package streaming

import (
	"context"
	"fmt"

	"github.com/cascadedb/cascade/pkg/common"
)

// SnapshotReader iterates a historical table snapshot for the Chain
// operator's catch-up phase.
type SnapshotReader interface {
	// Next returns the next row, or ok=false when the snapshot is
	// exhausted.
	Next() (row common.Row, ok bool, err error)
}

// Chain joins a historical snapshot to a live upstream: it emits every
// snapshot row (tagged as an Insert) under the creating barrier's epoch,
// then switches to forwarding the live upstream stream unchanged. This is
// how a newly materialized view backfills without missing concurrent
// writes.
type Chain struct {
	snapshot    SnapshotReader
	upstream    Input
	creationEp  uint64
	rearranged  bool // rearranged chain: take one upstream message early, see NewChain
	snapshotted bool
	rowBudget   int // snapshot rows read before that early take; <= 0 = never
	rowsSinceBR int
	stashed     *Message // an upstream message read early that still needs forwarding
}

// NewChain constructs a Chain operator. creationEpoch is the epoch of the
// barrier that triggered materialization; rows from snapshot are emitted as
// though committed at that epoch. If rearranged is true and rowBudget > 0,
// every rowBudget snapshot rows, while nothing is held yet, the chain takes
// one waiting upstream message, if any, without blocking and holds it. At most one
// message is held, and it is forwarded first once the snapshot is
// exhausted; no upstream barrier is emitted while snapshot rows are still
// being read.
func NewChain(snapshot SnapshotReader, upstream Input, creationEpoch uint64, rearranged bool, rowBudget int) *Chain {
	return &Chain{snapshot: snapshot, upstream: upstream, creationEp: creationEpoch, rearranged: rearranged, rowBudget: rowBudget}
}

func (c *Chain) Next(ctx context.Context) (Message, bool, error) {
	if !c.snapshotted {
		row, ok, err := c.snapshot.Next()
		if err != nil {
			return Message{}, false, fmt.Errorf("streaming: chain snapshot read: %w", err)
		}
		if !ok {
			c.snapshotted = true
			return c.Next(ctx)
		}
		c.rowsSinceBR++
		chunk := &Chunk{Ops: []OpKind{OpInsert}, Rows: []common.Row{row}}
		if c.rearranged && c.rowBudget > 0 && c.rowsSinceBR >= c.rowBudget && c.stashed == nil {
			c.rowsSinceBR = 0
			// Take one waiting upstream message, barrier or chunk, without
			// blocking; it is held in stashed and forwarded once the
			// snapshot is exhausted rather than dropped.
			select {
			case msg := <-c.upstream:
				m := msg
				c.stashed = &m
			default:
			}
		}
		return ChunkMessage(chunk), true, nil
	}
	if c.stashed != nil {
		msg := *c.stashed
		c.stashed = nil
		return msg, true, nil
	}
	select {
	case <-ctx.Done():
		return Message{}, false, ctx.Err()
	case msg, ok := <-c.upstream:
		if !ok {
			return Message{}, false, nil
		}
		return msg, true, nil
	}
}
