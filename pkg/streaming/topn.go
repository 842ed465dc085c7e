package streaming

import (
	"context"

	"github.com/cascadedb/cascade/pkg/common"
	"github.com/cascadedb/cascade/pkg/opstate"
)

// Refiller reloads top-N candidates after a delete drained both the middle
// and high cache tiers. A nil
// Refiller turns a drained cache into a smaller answer instead of an
// error, acceptable for append-mostly streams.
type Refiller interface {
	// Refill returns the next rows past the given exclusive lower bound
	// in cache order, up to limit rows.
	Refill(after common.Row, limit int) ([]common.Row, error)
}

// TopN maintains rows [offset, offset+limit) of its input under an ORDER
// BY projection and emits only the changes to that answer: a row entering
// the answer becomes an Insert downstream, a row leaving it becomes a
// Delete. Rows absorbed by the skipped prefix or the overflow tier emit
// nothing.
type TopN struct {
	upstream *Merge
	cache    *opstate.TopNCache
	offset   int
	limit    int
	orderPos []int
	refiller Refiller
}

// NewTopN constructs a TopN over inputs. orderPos projects a row to its
// ORDER BY key, compared by ot; offset skips the first rows of the order;
// withTies extends the answer by the tie class on the boundary and
// requires offset zero.
func NewTopN(inputs []Input, offset, limit int, withTies bool, orderPos []int, ot []common.OrderType, refiller Refiller) (*TopN, error) {
	cache, err := opstate.NewTopNCache(offset, limit, withTies, ot)
	if err != nil {
		return nil, err
	}
	return &TopN{
		upstream: NewMerge(inputs),
		cache:    cache,
		offset:   offset,
		limit:    limit,
		orderPos: orderPos,
		refiller: refiller,
	}, nil
}

func (t *TopN) Next(ctx context.Context) (Message, bool, error) {
	for {
		msg, ok, err := t.upstream.Next(ctx)
		if err != nil || !ok {
			return msg, ok, err
		}
		if msg.IsBarrier() {
			return msg, true, nil
		}
		out, err := t.applyChunk(msg.Chunk)
		if err != nil {
			return Message{}, false, err
		}
		if out.Len() == 0 {
			// every row was absorbed outside the answer; nothing changed
			// downstream, so poll the upstream again.
			continue
		}
		return ChunkMessage(out), true, nil
	}
}

func (t *TopN) applyChunk(c *Chunk) (*Chunk, error) {
	out := &Chunk{}
	for i, op := range c.Ops {
		row := c.Rows[i]
		key := row.Project(t.orderPos)
		switch op {
		// Update pairs degenerate to plain delete/insert here: once rows
		// cross tier boundaries, the delta interleaves with promotions and
		// displacements and the pairing no longer names the same row.
		case OpInsert, OpUpdateInsert:
			added, displaced := t.cache.Insert(key, row)
			for _, r := range displaced {
				out.Ops = append(out.Ops, OpDelete)
				out.Rows = append(out.Rows, r)
			}
			for _, r := range added {
				out.Ops = append(out.Ops, OpInsert)
				out.Rows = append(out.Rows, r)
			}
		case OpDelete, OpUpdateDelete:
			removed, promoted, needsRefill := t.cache.Delete(key, row)
			for _, r := range removed {
				out.Ops = append(out.Ops, OpDelete)
				out.Rows = append(out.Rows, r)
			}
			if needsRefill && t.refiller != nil {
				// scan past the current answer's end; the deleted key is
				// the bound only when the answer emptied entirely.
				after := key
				if rows := t.cache.Rows(); len(rows) > 0 {
					after = rows[len(rows)-1].Project(t.orderPos)
				}
				refilled, err := t.refiller.Refill(after, (t.offset+t.limit)*2)
				if err != nil {
					return nil, err
				}
				for _, r := range refilled {
					a, _ := t.cache.Insert(r.Project(t.orderPos), r)
					promoted = append(promoted, a...)
				}
			}
			for _, r := range promoted {
				out.Ops = append(out.Ops, OpInsert)
				out.Rows = append(out.Rows, r)
			}
		}
	}
	return out, nil
}
