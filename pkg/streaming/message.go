// Package streaming implements the actor/fragment runtime: the
// Chunk/Barrier message model, barrier alignment,
// exchange dispatch, the chain operator, and materialize.
package streaming

import (
	"github.com/cascadedb/cascade/pkg/bitmap"
	"github.com/cascadedb/cascade/pkg/common"
)

// OpKind is the per-row operation carried in a Chunk.
type OpKind int

const (
	OpInsert OpKind = iota
	OpDelete
	OpUpdateDelete
	OpUpdateInsert
)

// Chunk is a columnar batch of row operations flowing between actors.
type Chunk struct {
	Ops  []OpKind
	Rows []common.Row
}

// Len returns the number of rows in the chunk.
func (c Chunk) Len() int { return len(c.Rows) }

// MutationKind identifies the kind of control change a Barrier carries.
type MutationKind int

const (
	MutationNone MutationKind = iota
	MutationStop
	MutationAdd
	MutationUpdate
	MutationSourceChangeSplit
	MutationPause
	MutationResume
)

// Mutation is the optional control payload riding on a Barrier.
type Mutation struct {
	Kind MutationKind

	// Stop lists actor ids that drain and exit after this barrier.
	Stop []uint32

	// Add/Update reconfiguration payloads. Dispatchers/Merges are addressed
	// by actor id; the zero value of each map means "no change of that
	// kind."
	AddDispatchers    map[uint32][]DownstreamSpec
	UpdateDispatchers map[uint32][]DownstreamSpec
	UpdateMerges      map[uint32][]uint32 // actor id -> new upstream actor ids
	VnodeBitmaps      map[uint32]*bitmap.Bitmap // actor id -> owned vnode set
	DroppedActors     []uint32
}

// Barrier is the control message that demarcates an epoch boundary.
type Barrier struct {
	Epoch      uint64
	Checkpoint bool
	Mutation   *Mutation
}

// Message is either a Chunk or a Barrier; exactly one of the two fields is
// set.
type Message struct {
	Chunk   *Chunk
	Barrier *Barrier
}

func ChunkMessage(c *Chunk) Message     { return Message{Chunk: c} }
func BarrierMessage(b *Barrier) Message { return Message{Barrier: b} }

// IsBarrier reports whether m carries a barrier rather than a chunk.
func (m Message) IsBarrier() bool { return m.Barrier != nil }
