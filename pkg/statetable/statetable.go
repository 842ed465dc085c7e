// Package statetable implements the row-oriented view executors see on top
// of the cell-based LSM state store: a table commits whole rows, but each
// column is stored as an independent cell keyed by (keyspace, primary key,
// column id), with a reserved sentinel-column cell written on every insert
// and removed on every delete so row existence can be checked with a
// single-cell point lookup instead of reading every column.
package statetable

import (
	"fmt"

	"github.com/cascadedb/cascade/pkg/codec"
	"github.com/cascadedb/cascade/pkg/common"
)

// CellStore is the subset of the LSM state store a StateTable writes
// through and reads from.
type CellStore interface {
	Write(epoch uint64, key, value []byte) error
	Get(key []byte, atEpoch uint64) (value []byte, found bool, err error)
}

// opKind is the kind of one buffered memtable mutation, applied at Commit
// time.
type opKind int

const (
	opInsert opKind = iota
	opDelete
	opUpdate
)

type pendingOp struct {
	kind opKind
	pk   common.Row
	row  common.Row // new row contents for insert/update; empty for delete
}

// StateTable is the per-operator handle to one logical table's rows. It is
// not safe for concurrent use; the owning actor serializes access.
type StateTable struct {
	desc     common.TableDesc
	keyspace []byte
	store    CellStore
	pkOT     []common.OrderType

	pending []pendingOp
}

// New returns a StateTable backed by store, scoped to keyspace (a unique
// byte prefix per table, typically the table id).
func New(desc common.TableDesc, keyspace []byte, store CellStore) *StateTable {
	return &StateTable{
		desc:     desc,
		keyspace: keyspace,
		store:    store,
		pkOT:     desc.PrimaryKeyOrderTypes(),
	}
}

// Insert buffers a new row. The row must not already exist; violating this
// is only caught at read time (last writer in a commit batch wins);
// upstream operators are expected to emit each pk exactly once per epoch.
func (t *StateTable) Insert(row common.Row) {
	t.pending = append(t.pending, pendingOp{kind: opInsert, pk: t.desc.PrimaryKey(row), row: row})
}

// Delete buffers a row deletion by primary key.
func (t *StateTable) Delete(pk common.Row) {
	t.pending = append(t.pending, pendingOp{kind: opDelete, pk: pk})
}

// Update buffers a full-row replacement at pk, recorded as a single op: on
// Commit every cell under pk is rewritten with newRow's values, exactly as
// an Insert would. newRow's own primary-key columns are not used to locate
// the row, so an update that changes the primary key leaves the row under
// pk rather than moving it.
func (t *StateTable) Update(pk common.Row, newRow common.Row) {
	t.pending = append(t.pending, pendingOp{kind: opUpdate, pk: pk, row: newRow})
}

// Commit writes every buffered op to the cell store at epoch, in order, and
// clears the buffer.
func (t *StateTable) Commit(epoch uint64) error {
	for _, op := range t.pending {
		encodedPK, err := codec.EncodeRowKey(op.pk, t.pkOT)
		if err != nil {
			return fmt.Errorf("statetable: encode primary key: %w", err)
		}
		switch op.kind {
		case opDelete:
			if err := t.writeCell(epoch, encodedPK, codec.SentinelColumnID, nil); err != nil {
				return err
			}
			for _, col := range t.desc.Columns {
				if err := t.writeCell(epoch, encodedPK, col.ID, nil); err != nil {
					return err
				}
			}
		case opInsert, opUpdate:
			if err := t.writeCell(epoch, encodedPK, codec.SentinelColumnID, []byte{1}); err != nil {
				return err
			}
			for i, col := range t.desc.Columns {
				val, err := codec.EncodeDatum(op.row.At(i), col.Type)
				if err != nil {
					return fmt.Errorf("statetable: encode column %s: %w", col.Name, err)
				}
				if err := t.writeCell(epoch, encodedPK, col.ID, val); err != nil {
					return err
				}
			}
		}
	}
	t.pending = t.pending[:0]
	return nil
}

func (t *StateTable) writeCell(epoch uint64, encodedPK []byte, columnID uint32, value []byte) error {
	key := codec.EncodeCellKey(t.keyspace, encodedPK, columnID)
	return t.store.Write(epoch, key, value)
}

// Get reads a full row by primary key as of atEpoch. found is false if the
// sentinel cell is absent or has been deleted.
func (t *StateTable) Get(pk common.Row, atEpoch uint64) (common.Row, bool, error) {
	encodedPK, err := codec.EncodeRowKey(pk, t.pkOT)
	if err != nil {
		return common.Row{}, false, fmt.Errorf("statetable: encode primary key: %w", err)
	}

	sentinelKey := codec.EncodeCellKey(t.keyspace, encodedPK, codec.SentinelColumnID)
	_, found, err := t.store.Get(sentinelKey, atEpoch)
	if err != nil {
		return common.Row{}, false, err
	}
	if !found {
		return common.Row{}, false, nil
	}

	values := make([]common.Datum, len(t.desc.Columns))
	for i, col := range t.desc.Columns {
		key := codec.EncodeCellKey(t.keyspace, encodedPK, col.ID)
		raw, cellFound, err := t.store.Get(key, atEpoch)
		if err != nil {
			return common.Row{}, false, err
		}
		if !cellFound {
			values[i] = common.Null()
			continue
		}
		d, err := codec.DecodeDatum(raw, col.Type)
		if err != nil {
			return common.Row{}, false, fmt.Errorf("statetable: decode column %s: %w", col.Name, err)
		}
		values[i] = d
	}
	return common.Row{Values: values}, true, nil
}

// PendingLen reports how many ops are buffered, awaiting Commit. Exposed for
// tests and for an operator that wants to bound memtable growth between
// barriers.
func (t *StateTable) PendingLen() int { return len(t.pending) }
