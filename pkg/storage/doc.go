/*
Package storage provides BoltDB-backed persistence for the meta node's
cluster catalog: registered workers, the Hummock version manifest and its
delta log, compaction group membership, table/materialized-view records,
and the cluster CA.

# Architecture

Cascade uses BoltDB (bbolt) for embedded, transactional storage of the
control plane's persistent state, with zero external dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/cascade-meta.db          │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌────────────────────────────────────┐     │          │
	│  │  │ workers                (Worker ID) │     │          │
	│  │  │ hummock_version        (fixed key) │     │          │
	│  │  │ hummock_version_deltas (delta ID)  │     │          │
	│  │  │ compaction_groups      (group ID)  │     │          │
	│  │  │ tables                 (table ID)  │     │          │
	│  │  │ ca                     (fixed key) │     │          │
	│  │  └────────────────────────────────────┘     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - Read: db.View() - Concurrent reads       │          │
	│  │  - Write: db.Update() - Serialized writes   │          │
	│  │  - Rollback: Automatic on error             │          │
	│  │  - Commit: Automatic on success + fsync     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements the Store interface using BoltDB
  - Single database file per meta node
  - Automatic bucket creation on initialization
  - Thread-safe via BoltDB's transaction model

Buckets:
  - workers: compute/compactor node registrations and liveness
  - hummock_version: the single current HummockVersion, JSON at a fixed key
  - hummock_version_deltas: the append-only delta log, big-endian uint64 ID keys
  - compaction_groups: per-group membership and builtin group metadata
  - tables: table/materialized-view records, big-endian uint32 ID keys
  - ca: certificate authority data (single entry)

# Usage

	store, err := storage.NewBoltStore("/var/lib/cascade/meta-1")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	worker := &types.Worker{ID: "compute-1", Role: types.NodeRoleCompute, Address: "10.0.0.5:7000"}
	err = store.PutWorker(worker)
	workers, err := store.ListWorkers()

	err = store.SaveVersion(&initialVersion)
	deltas, err := store.ListVersionDeltas(0)
	err = store.AppendVersionDelta(&delta)

	group := &types.CompactionGroupRecord{ID: 1, Name: "default"}
	err = store.PutCompactionGroup(group)

# Design Patterns

Upsert Pattern: Put* methods double as create and update, no separate
existence check.

Idempotent Deletes: Delete* returns no error if the key doesn't exist.

Monotonic Integer Keys: version deltas and table IDs use big-endian encoding
so BoltDB's natural byte-order cursor iteration is also numeric iteration,
letting ListVersionDeltas(sinceID) seek straight to the first delta after
sinceID instead of scanning the whole bucket.

Error Wrapping: errors from opening the database and creating buckets are
wrapped with context via fmt.Errorf("...: %w", err); the other methods
return bbolt and encoding/json errors as they come.

# Integration Points

This package integrates with:

  - pkg/meta: raft FSM applies committed commands against this Store
  - pkg/hummock/version: HummockVersion and VersionDelta are the persisted shapes
  - pkg/security: CAStore is satisfied structurally by BoltStore's SaveCA/GetCA
  - pkg/reconciler: reads worker heartbeats and orphaned-object state indirectly via pkg/meta

# Security

File Permissions:
  - Database file: 0600 (owner read/write only)
  - Directory: not created by this package; its mode is left as the caller set it

Encryption at Rest:
  - Database file is not encrypted; secrets and the CA root key are encrypted
    before they ever reach this package (see pkg/security)

# See Also

  - pkg/meta for the raft FSM that drives this store
  - pkg/types for the persisted entity definitions
  - pkg/hummock/version for HummockVersion/VersionDelta
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
