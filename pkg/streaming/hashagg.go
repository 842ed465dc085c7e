package streaming

import (
	"context"
	"fmt"

	"github.com/cascadedb/cascade/pkg/common"
	"github.com/cascadedb/cascade/pkg/opstate"
)

// AggKind selects an aggregate call's function.
type AggKind int

const (
	AggCount AggKind = iota
	AggSum
	AggMin
	AggMax
)

// AggCall is one aggregate call over an input column (ignored for
// COUNT(*), marked by Col < 0).
type AggCall struct {
	Kind AggKind
	Col  int
	Type common.DataType
}

// groupState holds one group's aggregation state. The row count doubles as
// the group's liveness: it is always maintained, even when no AggCount was
// asked for, so the executor knows when a retraction kills the group.
type groupState struct {
	key      common.Row
	rowCount *opstate.CountState
	counts   map[int]*opstate.CountState
	sums     map[int]*opstate.SumState
	extremes map[int]*opstate.ExtremeState
	lastOut  *common.Row // last emitted output row, nil before first emit
	dirty    bool
}

// HashAgg groups its input by a key projection and maintains one
// aggregation state per group, emitting per-group output deltas on every
// barrier: Insert for a new group, UpdateDelete/UpdateInsert for a changed
// one, Delete for a group whose row count reached zero.
type HashAgg struct {
	upstream *Merge
	keyPos   []int
	calls    []AggCall

	groups map[string]*groupState
	// pending holds the delta chunk built at a barrier; it is emitted
	// before the barrier itself.
	pending []Message
}

// NewHashAgg constructs a HashAgg over inputs, grouping rows by keyPos.
func NewHashAgg(inputs []Input, keyPos []int, calls []AggCall) *HashAgg {
	return &HashAgg{
		upstream: NewMerge(inputs),
		keyPos:   keyPos,
		calls:    calls,
		groups:   make(map[string]*groupState),
	}
}

func (h *HashAgg) Next(ctx context.Context) (Message, bool, error) {
	for {
		if len(h.pending) > 0 {
			msg := h.pending[0]
			h.pending = h.pending[1:]
			return msg, true, nil
		}
		msg, ok, err := h.upstream.Next(ctx)
		if err != nil || !ok {
			return msg, ok, err
		}
		if msg.IsBarrier() {
			out, err := h.flush()
			if err != nil {
				return Message{}, false, err
			}
			if out.Len() > 0 {
				h.pending = append(h.pending, ChunkMessage(out))
			}
			h.pending = append(h.pending, msg)
			continue
		}
		if err := h.applyChunk(msg.Chunk); err != nil {
			return Message{}, false, err
		}
	}
}

func (h *HashAgg) applyChunk(c *Chunk) error {
	for i, op := range c.Ops {
		row := c.Rows[i]
		key := row.Project(h.keyPos)
		id := fmt.Sprintf("%v", key.Values)
		g, ok := h.groups[id]
		if !ok {
			g = h.newGroup(key)
			h.groups[id] = g
		}
		switch op {
		case OpInsert, OpUpdateInsert:
			h.fold(g, row, 1)
		case OpDelete, OpUpdateDelete:
			if g.rowCount.Value() == 0 {
				return fmt.Errorf("streaming: hash-agg retraction for empty group %s", id)
			}
			h.fold(g, row, -1)
		}
		g.dirty = true
	}
	return nil
}

func (h *HashAgg) newGroup(key common.Row) *groupState {
	g := &groupState{
		key:      key,
		rowCount: &opstate.CountState{},
		counts:   make(map[int]*opstate.CountState),
		sums:     make(map[int]*opstate.SumState),
		extremes: make(map[int]*opstate.ExtremeState),
	}
	for i, call := range h.calls {
		switch call.Kind {
		case AggCount:
			g.counts[i] = &opstate.CountState{}
		case AggSum:
			g.sums[i] = &opstate.SumState{}
		case AggMin:
			g.extremes[i] = opstate.NewExtremeState(call.Type, false, 64)
		case AggMax:
			g.extremes[i] = opstate.NewExtremeState(call.Type, true, 64)
		}
	}
	return g
}

func (h *HashAgg) fold(g *groupState, row common.Row, sign int64) {
	g.rowCount.Add(sign)
	for i, call := range h.calls {
		var v common.Datum
		if call.Col >= 0 {
			v = row.At(call.Col)
			if v.IsNull() {
				continue // NULLs feed no aggregate
			}
		}
		switch call.Kind {
		case AggCount:
			g.counts[i].Add(sign)
		case AggSum:
			g.sums[i].Add(float64(sign) * toFloat(v))
		case AggMin, AggMax:
			if sign > 0 {
				g.extremes[i].Insert(v, row)
			} else {
				g.extremes[i].Retract(v, row)
			}
		}
	}
}

func toFloat(d common.Datum) float64 {
	switch v := d.Value().(type) {
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}

// flush materializes every dirty group's current output row into one delta
// chunk and resets dirtiness; called at each barrier so downstream sees at
// most one change per group per epoch.
func (h *HashAgg) flush() (*Chunk, error) {
	out := &Chunk{}
	for id, g := range h.groups {
		if !g.dirty {
			continue
		}
		g.dirty = false
		if g.rowCount.Value() == 0 {
			if g.lastOut != nil {
				out.Ops = append(out.Ops, OpDelete)
				out.Rows = append(out.Rows, *g.lastOut)
			}
			delete(h.groups, id)
			continue
		}
		row := h.outputRow(g)
		if g.lastOut == nil {
			out.Ops = append(out.Ops, OpInsert)
			out.Rows = append(out.Rows, row)
		} else {
			out.Ops = append(out.Ops, OpUpdateDelete, OpUpdateInsert)
			out.Rows = append(out.Rows, *g.lastOut, row)
		}
		g.lastOut = &row
	}
	return out, nil
}

// outputRow is the group key followed by one value per aggregate call.
func (h *HashAgg) outputRow(g *groupState) common.Row {
	values := append([]common.Datum(nil), g.key.Values...)
	for i, call := range h.calls {
		switch call.Kind {
		case AggCount:
			values = append(values, common.NewDatum(g.counts[i].Value()))
		case AggSum:
			if sum, ok := g.sums[i].Value(); ok {
				values = append(values, common.NewDatum(sum))
			} else {
				values = append(values, common.Null())
			}
		case AggMin, AggMax:
			if v, ok := g.extremes[i].Value(); ok {
				values = append(values, v)
			} else {
				values = append(values, common.Null())
			}
		}
	}
	return common.Row{Values: values}
}
