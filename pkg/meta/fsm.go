package meta

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/cascadedb/cascade/pkg/hummock/version"
	"github.com/cascadedb/cascade/pkg/storage"
	"github.com/cascadedb/cascade/pkg/types"
)

// FSM implements the raft finite state machine over the meta catalog:
// worker registrations, the Hummock version manifest, compaction groups,
// and table records. Every mutation the cluster agrees on — a worker
// joining, a shared buffer sync advancing the version, a compaction
// outcome rewriting it — goes through Apply so every meta replica ends up
// with the identical catalog.
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFSM creates an FSM over store.
func NewFSM(store storage.Store) *FSM {
	return &FSM{store: store}
}

// Command is one state change operation in the raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opPutWorker           = "put_worker"
	opDeleteWorker        = "delete_worker"
	opAppendVersionDelta  = "append_version_delta"
	opPutCompactionGroup  = "put_compaction_group"
	opDeleteCompactionGroup = "delete_compaction_group"
	opPutTable            = "put_table"
	opDeleteTable         = "delete_table"
)

// Apply applies one committed raft log entry to the FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("meta: unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opPutWorker:
		var worker types.Worker
		if err := json.Unmarshal(cmd.Data, &worker); err != nil {
			return err
		}
		return f.store.PutWorker(&worker)

	case opDeleteWorker:
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteWorker(id)

	case opAppendVersionDelta:
		var delta version.VersionDelta
		if err := json.Unmarshal(cmd.Data, &delta); err != nil {
			return err
		}
		current, err := f.store.LoadVersion()
		if err != nil {
			return fmt.Errorf("load current version: %w", err)
		}
		next, err := current.Apply(delta)
		if err != nil {
			return fmt.Errorf("apply version delta: %w", err)
		}
		if err := f.store.AppendVersionDelta(&delta); err != nil {
			return fmt.Errorf("append version delta: %w", err)
		}
		return f.store.SaveVersion(&next)

	case opPutCompactionGroup:
		var group types.CompactionGroupRecord
		if err := json.Unmarshal(cmd.Data, &group); err != nil {
			return err
		}
		return f.store.PutCompactionGroup(&group)

	case opDeleteCompactionGroup:
		var id uint64
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteCompactionGroup(id)

	case opPutTable:
		var table types.TableRecord
		if err := json.Unmarshal(cmd.Data, &table); err != nil {
			return err
		}
		return f.store.PutTable(&table)

	case opDeleteTable:
		var id uint32
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteTable(id)

	default:
		return fmt.Errorf("meta: unknown command %q", cmd.Op)
	}
}

// Snapshot captures a point-in-time copy of the catalog for raft's log
// compaction. The Hummock version manifest itself is already the
// authoritative compacted state (deltas are replayed into it on Apply), so
// the snapshot carries the current version wholesale rather than the delta
// log, the same way the version's own Apply discards history once folded
// in.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	workers, err := f.store.ListWorkers()
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	current, err := f.store.LoadVersion()
	if err != nil {
		return nil, fmt.Errorf("load version: %w", err)
	}
	groups, err := f.store.ListCompactionGroups()
	if err != nil {
		return nil, fmt.Errorf("list compaction groups: %w", err)
	}
	tables, err := f.store.ListTables()
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	return &Snapshot{
		Workers:          workers,
		Version:          current,
		CompactionGroups: groups,
		Tables:           tables,
	}, nil
}

// Restore replaces the FSM's backing store contents with a previously
// persisted snapshot, used when a meta node restarts or joins and replays
// the leader's latest snapshot instead of the whole raft log.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("meta: decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, w := range snap.Workers {
		if err := f.store.PutWorker(w); err != nil {
			return fmt.Errorf("restore worker: %w", err)
		}
	}
	if err := f.store.SaveVersion(&snap.Version); err != nil {
		return fmt.Errorf("restore version: %w", err)
	}
	for _, g := range snap.CompactionGroups {
		if err := f.store.PutCompactionGroup(g); err != nil {
			return fmt.Errorf("restore compaction group: %w", err)
		}
	}
	for _, t := range snap.Tables {
		if err := f.store.PutTable(t); err != nil {
			return fmt.Errorf("restore table: %w", err)
		}
	}
	return nil
}

// Snapshot is the point-in-time catalog raft persists and replays.
type Snapshot struct {
	Workers          []*types.Worker
	Version          version.HummockVersion
	CompactionGroups []*types.CompactionGroupRecord
	Tables           []*types.TableRecord
}

// Persist writes the snapshot to sink, the shape raft.FSMSnapshot requires.
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release is a no-op; the snapshot holds no resources beyond the Go heap.
func (s *Snapshot) Release() {}
