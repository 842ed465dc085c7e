package streaming

import (
	"context"
	"fmt"

	"github.com/cascadedb/cascade/pkg/common"
)

// RowTable is the subset of pkg/statetable's StateTable a Materialize
// operator writes through. hummock.Storage-backed StateTables satisfy it
// directly.
type RowTable interface {
	Insert(row common.Row)
	Delete(pk common.Row)
	Update(pk common.Row, newRow common.Row)
	Commit(epoch uint64) error
}

// EpochSealer additionally seals epochs without necessarily syncing them to
// object storage; pkg/hummock.Storage satisfies it directly.
type EpochSealer interface {
	SealEpoch(epoch uint64) error
	Sync(maxSyncedEpoch uint64) (ok bool, err error)
}

// Materialize writes every chunk it receives to a state table keyed by the
// view's primary key and commits the buffered writes on every barrier.
// On a checkpoint barrier it also seals and synchronizes the epoch to
// storage; on a non-checkpoint barrier it only seals.
type Materialize struct {
	upstream *Merge
	table    RowTable
	sealer   EpochSealer
	pkPos    []int
}

// NewMaterialize constructs a Materialize operator over upstream, writing
// rows (projected to pkPos for updates/deletes) into table.
func NewMaterialize(inputs []Input, table RowTable, sealer EpochSealer, pkPos []int) *Materialize {
	return &Materialize{upstream: NewMerge(inputs), table: table, sealer: sealer, pkPos: pkPos}
}

func (m *Materialize) Next(ctx context.Context) (Message, bool, error) {
	msg, ok, err := m.upstream.Next(ctx)
	if err != nil || !ok {
		return msg, ok, err
	}
	if msg.Chunk != nil {
		m.applyChunk(msg.Chunk)
		return msg, true, nil
	}
	b := msg.Barrier
	if err := m.table.Commit(b.Epoch); err != nil {
		return Message{}, false, fmt.Errorf("streaming: materialize commit epoch %d: %w", b.Epoch, err)
	}
	if err := m.sealer.SealEpoch(b.Epoch); err != nil {
		return Message{}, false, fmt.Errorf("streaming: materialize seal epoch %d: %w", b.Epoch, err)
	}
	if b.Checkpoint {
		if _, err := m.sealer.Sync(b.Epoch); err != nil {
			return Message{}, false, fmt.Errorf("streaming: materialize sync epoch %d: %w", b.Epoch, err)
		}
	}
	return msg, true, nil
}

func (m *Materialize) applyChunk(c *Chunk) {
	for i, op := range c.Ops {
		row := c.Rows[i]
		pk := row.Project(m.pkPos)
		switch op {
		case OpInsert, OpUpdateInsert:
			m.table.Insert(row)
		case OpDelete:
			m.table.Delete(pk)
		case OpUpdateDelete:
			// Paired with the OpUpdateInsert that follows in the same
			// chunk; the cell writes a commit issues for Insert and
			// Update are identical (every column rewritten), so the
			// delete half needs no separate cell write.
		}
	}
}
