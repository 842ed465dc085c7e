/*
Package types defines the core data structures persisted by the meta
node's catalog: worker registrations, compaction group records, and table
records. These are the entities pkg/storage persists and pkg/meta's raft
FSM mutates; everything heavier (HummockVersion, streaming fragments,
batch plans) lives closer to the package that owns it (pkg/hummock/version,
pkg/fragment, pkg/batchexec) rather than in this shared package, so that
a change to one subsystem's wire shape doesn't ripple into every other
package that imports types.

# Core Types

Cluster Topology:
  - Worker: a registered compute or compactor node, with role, address,
    and liveness state
  - NodeRole: compute or compactor
  - NodeStatus: healthy, unhealthy, or draining

Catalog:
  - CompactionGroupRecord: a named collection of tables sharing one LSM
    tree and one compaction schedule (the builtin groups are
    "state_default" and "mv", one per workload class)
  - TableRecord: one SQL table or materialized view, naming the
    compaction group that owns its key range

# Usage

	worker := &types.Worker{
		ID:            "compute-1",
		Role:          types.NodeRoleCompute,
		Address:       "10.0.0.5:7000",
		Status:        types.NodeStatusHealthy,
		RegisteredAt:  time.Now(),
		LastHeartbeat: time.Now(),
	}

	group := &types.CompactionGroupRecord{ID: 1, Name: "state_default"}

	table := &types.TableRecord{
		ID:                 42,
		Name:                "orders_mv",
		CompactionGroupID:   1,
		IsMaterializedView:  true,
		CreatedAt:           time.Now(),
	}

# Design Patterns

Enumeration Pattern: enums use typed string constants, e.g.

	type NodeRole string
	const (
		NodeRoleCompute   NodeRole = "compute"
		NodeRoleCompactor NodeRole = "compactor"
	)

# Integration Points

This package integrates with:

  - pkg/storage: persists every type here to BoltDB, one bucket each
  - pkg/meta: raft FSM commands carry these types as their JSON payload
  - pkg/meta: reads Worker.LastHeartbeat to report unhealthy workers to
    pkg/reconciler, and creates the builtin CompactionGroupRecords

# Thread Safety

All types in this package are plain data: read-safe to share across
goroutines, but mutation must be synchronized by the caller (pkg/meta's
FSM holds the relevant lock before mutating and re-persisting).

# See Also

  - pkg/storage for the persistence layer
  - pkg/meta for the raft FSM that mutates these types
  - pkg/hummock/version for the LSM manifest types these records reference
*/
package types
