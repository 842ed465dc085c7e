package streaming

import (
	"context"
	"fmt"

	"github.com/cascadedb/cascade/pkg/common"
	"github.com/cascadedb/cascade/pkg/opstate"
)

// IndexReader serves the indexed side of a delta-index join: all rows of
// the index whose join key equals key, in pk order.
type IndexReader interface {
	ScanByKey(key common.Row) ([]common.Row, error)
}

// IndexJoin joins its input stream against an index maintained elsewhere
// (a materialized view's arrangement), emitting one output row per match
// with the input row's columns followed by the matched row's. Hot join
// keys are served from an LRU cache so a skewed stream doesn't hammer the
// index with the same prefix scan.
type IndexJoin struct {
	upstream *Merge
	reader   IndexReader
	cache    *opstate.JoinCache
	keyPos   []int
}

// NewIndexJoin constructs an IndexJoin over inputs. keyPos projects an
// input row to its join key; cacheSize bounds the hot-key cache.
func NewIndexJoin(inputs []Input, reader IndexReader, keyPos []int, cacheSize int) (*IndexJoin, error) {
	cache, err := opstate.NewJoinCache(cacheSize)
	if err != nil {
		return nil, err
	}
	return &IndexJoin{upstream: NewMerge(inputs), reader: reader, cache: cache, keyPos: keyPos}, nil
}

func (j *IndexJoin) Next(ctx context.Context) (Message, bool, error) {
	for {
		msg, ok, err := j.upstream.Next(ctx)
		if err != nil || !ok {
			return msg, ok, err
		}
		if msg.IsBarrier() {
			return msg, true, nil
		}
		out, err := j.applyChunk(msg.Chunk)
		if err != nil {
			return Message{}, false, err
		}
		if out.Len() == 0 {
			continue
		}
		return ChunkMessage(out), true, nil
	}
}

func (j *IndexJoin) applyChunk(c *Chunk) (*Chunk, error) {
	out := &Chunk{}
	for i, op := range c.Ops {
		row := c.Rows[i]
		key := row.Project(j.keyPos)
		matches, err := j.matchesFor(key)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			joined := make([]common.Datum, 0, row.Len()+m.Len())
			joined = append(joined, row.Values...)
			joined = append(joined, m.Values...)
			out.Ops = append(out.Ops, op)
			out.Rows = append(out.Rows, common.Row{Values: joined})
		}
	}
	return out, nil
}

func (j *IndexJoin) matchesFor(key common.Row) ([]common.Row, error) {
	id := fmt.Sprintf("%v", key.Values)
	if rows, ok := j.cache.Get(id); ok {
		return rows, nil
	}
	rows, err := j.reader.ScanByKey(key)
	if err != nil {
		return nil, fmt.Errorf("streaming: index join scan: %w", err)
	}
	j.cache.Put(id, rows)
	return rows, nil
}

// Invalidate drops a join key from the cache; the owner of the index calls
// this when the indexed side changes under that key.
func (j *IndexJoin) Invalidate(key common.Row) {
	j.cache.Drop(fmt.Sprintf("%v", key.Values))
}
