// Package types defines the cluster membership vocabulary shared by
// pkg/meta, pkg/compute, and pkg/compactor: node roles, worker records, and
// the compaction-group/table-id catalog entries Meta's FSM replicates.
package types

import "time"

// NodeRole identifies which of the four cluster roles a
// worker plays. Frontend is stateless and out of this module's scope, so
// it never registers with Meta; only Compute and Compactor do.
type NodeRole string

const (
	NodeRoleCompute   NodeRole = "compute"
	NodeRoleCompactor NodeRole = "compactor"
)

// NodeStatus is a worker's liveness as tracked by Meta's heartbeat-based
// health checker.
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
	NodeStatusDraining  NodeStatus = "draining"
)

// Worker is one registered compute or compactor node, as persisted by
// Meta's store and replicated through its raft FSM.
type Worker struct {
	ID            string
	Role          NodeRole
	Address       string // host:port the compute/exchange/compactor RPC server listens on
	Status        NodeStatus
	LastHeartbeat time.Time
	RegisteredAt  time.Time
}

// CompactionGroupRecord is the persisted form of a compaction group:
// two builtins exist (StateDefault, MaterializedView), and Meta may
// register additional groups as materialized views are created.
type CompactionGroupRecord struct {
	ID        uint64
	Name      string
	TableIDs  []uint32 // logical table ids whose SSTs compact together
	CreatedAt time.Time
}

// TableRecord is the catalog's minimal view of a logical table: just
// enough for the fragmenter and compaction-group manager to place its
// state behind a keyspace and a compaction group. Full catalog management
// (columns, types, SQL binding) lives in the frontend's binder; this is
// the slice Meta itself needs.
type TableRecord struct {
	ID                 uint32
	Name               string
	CompactionGroupID  uint64
	IsMaterializedView bool
	CreatedAt          time.Time
}
