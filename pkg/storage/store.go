package storage

import (
	"github.com/cascadedb/cascade/pkg/hummock/version"
	"github.com/cascadedb/cascade/pkg/types"
)

// Store is the persistence interface Meta's FSM applies committed raft log
// entries against. A single implementation (BoltStore) backs it; kept as
// an interface so pkg/meta's FSM doesn't need to know bbolt is underneath.
type Store interface {
	// Workers
	PutWorker(worker *types.Worker) error
	GetWorker(id string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	DeleteWorker(id string) error

	// HummockVersion: the current version plus the append-only delta log
	// compute/compactor nodes replay to stay in sync.
	SaveVersion(v *version.HummockVersion) error
	LoadVersion() (*version.HummockVersion, error)
	AppendVersionDelta(delta *version.VersionDelta) error
	ListVersionDeltas(sinceID uint64) ([]*version.VersionDelta, error)

	// Compaction groups
	PutCompactionGroup(group *types.CompactionGroupRecord) error
	GetCompactionGroup(id uint64) (*types.CompactionGroupRecord, error)
	ListCompactionGroups() ([]*types.CompactionGroupRecord, error)
	DeleteCompactionGroup(id uint64) error

	// Catalog
	PutTable(table *types.TableRecord) error
	GetTable(id uint32) (*types.TableRecord, error)
	GetTableByName(name string) (*types.TableRecord, error)
	ListTables() ([]*types.TableRecord, error)
	DeleteTable(id uint32) error

	// Certificate Authority
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	// Utility
	Close() error
}
