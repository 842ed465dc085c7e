package streaming

import (
	"fmt"

	"github.com/cascadedb/cascade/pkg/codec"
	"github.com/cascadedb/cascade/pkg/common"
)

// DispatchKind selects how a Dispatcher routes a chunk's rows to
// downstream actors.7 "Exchange and dispatch".
type DispatchKind int

const (
	DispatchHash DispatchKind = iota
	DispatchBroadcast
	DispatchSimple
	DispatchNoShuffle
)

// DownstreamSpec names one output edge of a dispatcher: the downstream
// actor id and the channel its messages are sent on. Hash dispatch takes
// its distribution-key positions from Dispatcher.DistKeyPos.
type DownstreamSpec struct {
	ActorID uint32
	Output  chan<- Message
}

// VnodeMapping is the run-length-encoded vnode -> actor assignment a Hash
// dispatcher consults, in the same run-length form it travels in on the
// wire: two
// parallel arrays where segment [Original[i-1]+1 .. Original[i]] maps to
// Actor[i].
type VnodeMapping struct {
	Original []uint32
	Actor    []uint32
}

// ActorFor returns the actor id owning vnode.
func (m VnodeMapping) ActorFor(vnode uint32) (uint32, bool) {
	lo := uint32(0)
	for i, hi := range m.Original {
		if vnode >= lo && vnode <= hi {
			return m.Actor[i], true
		}
		lo = hi + 1
	}
	return 0, false
}

// Dispatcher fans one actor's output chunks out to its downstream actors.
type Dispatcher struct {
	Kind         DispatchKind
	Downstreams  []DownstreamSpec
	DistKeyPos   []int            // Hash only: distribution-key column positions
	DistKeyOrder []common.OrderType
	Mapping      VnodeMapping // Hash only: vnode -> actor
}

// Dispatch routes msg to the configured downstreams. For a Barrier, the
// dispatcher always broadcasts to every downstream regardless of Kind —
// every actor in the fragment DAG must see every barrier epoch.
func (d *Dispatcher) Dispatch(msg Message) error {
	if msg.IsBarrier() {
		for _, out := range d.Downstreams {
			out.Output <- msg
		}
		return nil
	}
	switch d.Kind {
	case DispatchSimple, DispatchNoShuffle:
		if len(d.Downstreams) != 1 {
			return fmt.Errorf("streaming: %v dispatch requires exactly one downstream, got %d", d.Kind, len(d.Downstreams))
		}
		d.Downstreams[0].Output <- msg
		return nil
	case DispatchBroadcast:
		for _, out := range d.Downstreams {
			out.Output <- msg
		}
		return nil
	case DispatchHash:
		return d.dispatchHash(msg)
	default:
		return fmt.Errorf("streaming: unknown dispatch kind %v", d.Kind)
	}
}

// dispatchHash splits the chunk's rows by vnode and sends one sub-chunk per
// destination actor, so two actors of the same hash-partitioned fragment
// never need to coexist on the same vnode.
func (d *Dispatcher) dispatchHash(msg Message) error {
	byActor := make(map[uint32]*Chunk)
	order := make([]uint32, 0, len(d.Downstreams))
	for i, row := range msg.Chunk.Rows {
		distKey := row.Project(d.DistKeyPos)
		vnode, err := codec.VnodeHash(distKey, d.DistKeyOrder, codec.VnodeCount)
		if err != nil {
			return fmt.Errorf("streaming: hash dispatch: %w", err)
		}
		actorID, ok := d.Mapping.ActorFor(vnode)
		if !ok {
			return fmt.Errorf("streaming: no actor owns vnode %d", vnode)
		}
		sub, ok := byActor[actorID]
		if !ok {
			sub = &Chunk{}
			byActor[actorID] = sub
			order = append(order, actorID)
		}
		sub.Ops = append(sub.Ops, msg.Chunk.Ops[i])
		sub.Rows = append(sub.Rows, row)
	}
	downstreamByID := make(map[uint32]chan<- Message, len(d.Downstreams))
	for _, ds := range d.Downstreams {
		downstreamByID[ds.ActorID] = ds.Output
	}
	for _, actorID := range order {
		out, ok := downstreamByID[actorID]
		if !ok {
			return fmt.Errorf("streaming: vnode mapping names actor %d which is not a configured downstream", actorID)
		}
		out <- ChunkMessage(byActor[actorID])
	}
	return nil
}

// BuildVnodeMapping round-robins vnodeCount vnodes over actorIDs and
// compresses the assignment into the run-length encoding the scheduler
// (pkg/fragment) and the wire format both use.
func BuildVnodeMapping(vnodeCount int, actorIDs []uint32) VnodeMapping {
	if len(actorIDs) == 0 {
		return VnodeMapping{}
	}
	var m VnodeMapping
	owner := actorIDs[0]
	for v := 0; v < vnodeCount; v++ {
		cur := actorIDs[v%len(actorIDs)]
		if v > 0 && cur != owner {
			m.Original = append(m.Original, uint32(v-1))
			m.Actor = append(m.Actor, owner)
			owner = cur
		} else if v == 0 {
			owner = cur
		}
	}
	m.Original = append(m.Original, uint32(vnodeCount-1))
	m.Actor = append(m.Actor, owner)
	return m
}
