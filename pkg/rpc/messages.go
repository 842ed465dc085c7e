// Package rpc defines the inter-node RPC surfaces — Meta, Task, Exchange,
// and Compactor services — over real gRPC transport with a
// gob-encoded message codec (see codec.go) in place of generated protobuf
// stubs.
package rpc

import (
	"github.com/cascadedb/cascade/pkg/common"
	"github.com/cascadedb/cascade/pkg/fragment"
	"github.com/cascadedb/cascade/pkg/hummock/version"
	"github.com/cascadedb/cascade/pkg/streaming"
)

// --- MetaService: Compute/Compactor -> Meta -------------------------------

// RegisterWorkerRequest registers a compute or compactor node with Meta.
type RegisterWorkerRequest struct {
	NodeID string
	Role   string // "compute" or "compactor"
	Host   string
}

type RegisterWorkerResponse struct {
	WorkerID string
}

type HeartbeatRequest struct {
	WorkerID string
}

type HeartbeatResponse struct {
	Healthy bool
}

// PinVersionRequest pins the current HummockVersion so its SSTs survive
// vacuum while the caller reads them.
type PinVersionRequest struct {
	WorkerID string
}

type PinVersionResponse struct {
	Version version.HummockVersion
}

type UnpinVersionRequest struct {
	WorkerID  string
	VersionID uint64
}

type UnpinVersionResponse struct{}

// ReportSyncedSSTRequest tells Meta a compute node has flushed and uploaded
// an SST for an epoch. Meta applies each report on its own, setting the
// group's MaxSyncedEpoch to this request's Epoch; it does not wait for the
// other compute nodes to report.
type ReportSyncedSSTRequest struct {
	WorkerID string
	Epoch    uint64
	Table    version.SSTableInfo
}

type ReportSyncedSSTResponse struct{}

// ReportCompactionOutcomeRequest reports a finished compaction task.
type ReportCompactionOutcomeRequest struct {
	WorkerID string
	TaskID   uint64
	Success  bool
	Output   []version.SSTableInfo
}

type ReportCompactionOutcomeResponse struct{}

// --- MetaService: Meta -> Compute (server-streaming) ----------------------

// BarrierStreamRequest subscribes a compute node to the barrier commands
// Meta injects for the actors it hosts.
type BarrierStreamRequest struct {
	WorkerID string
}

// BarrierCommand is one message of the Meta->Compute barrier stream: either
// a barrier to inject into every local source actor, or a membership change
// to apply alongside it (carried as the barrier's Mutation).
type BarrierCommand struct {
	Barrier streaming.Barrier
}

// ActorLocation names one actor and the host serving it; an empty Host
// means the actor is co-located on the receiving compute node itself, so
// its dispatcher output can be wired through a local channel instead of an
// ExchangeService.GetStream dial.
type ActorLocation struct {
	ActorID uint32
	Host    string
}

// CreateActorsRequest instructs a compute node to instantiate the actors of
// one fragment assigned to it. Downstreams/UpstreamSources carry the slice
// of cluster-wide topology a compute node needs to wire each actor's
// dispatcher and merge without querying Meta again per actor: for actor id
// A, Downstreams[A] lists every actor A must dispatch to, and
// UpstreamSources[A] lists every actor A must read from.
type CreateActorsRequest struct {
	WorkerID        string
	Fragment        fragment.Fragment
	Actors          []fragment.Actor
	VnodeMapping    streaming.VnodeMapping
	Downstreams     map[uint32][]ActorLocation
	UpstreamSources map[uint32][]ActorLocation
	// TableDesc is the row schema backing this fragment's internal state
	// table(s) (Materialize/HashAgg/HashJoin/TopN/Chain); one shared schema
	// per fragment, since a fragment carries at most one stateful operator
	// on its main path.
	TableDesc common.TableDesc
}

type CreateActorsResponse struct{}

type DropActorsRequest struct {
	WorkerID string
	ActorIDs []uint32
}

type DropActorsResponse struct{}

// --- TaskService: Compute <-> Compute --------------------------------------

// PlanNodeWire is the gob-friendly shape of a batch plan node crossing the
// wire alongside a CreateTaskRequest.
type PlanNodeWire struct {
	IsTableScan   bool
	IsExchange    bool
	ScanVnodeSets [][]bool
	Children      []PlanNodeWire
}

// ExchangeSourceWire names one producer task a consumer task dials.
type ExchangeSourceWire struct {
	QueryID       string
	StageID       uint32
	TaskNum       uint32
	Host          string
}

type CreateTaskRequest struct {
	QueryID         string
	StageID         uint32
	TaskNum         uint32
	Plan            PlanNodeWire
	VnodeSet        []bool
	ExchangeSources []ExchangeSourceWire
}

type CreateTaskResponse struct{}

type AbortTaskRequest struct {
	QueryID string
	StageID uint32
	TaskNum uint32
}

type AbortTaskResponse struct{}

type GetTaskInfoRequest struct {
	QueryID string
	StageID uint32
	TaskNum uint32
}

// TaskStatusWire mirrors batchexec.TaskStatus across the wire.
type TaskStatusWire int

const (
	TaskStatusPending TaskStatusWire = iota
	TaskStatusRunning
	TaskStatusFinished
	TaskStatusFailed
)

type GetTaskInfoResponse struct {
	Status TaskStatusWire
	Error  string
}

// --- ExchangeService: Compute <-> Compute (server-streaming) ---------------

// GetDataRequest opens a batch-chunk stream from one producer task.
type GetDataRequest struct {
	QueryID string
	StageID uint32
	TaskNum uint32
}

// DataChunk is one server-streamed message of ExchangeService.GetData.
type DataChunk struct {
	Rows []WireRow
	// ColumnTypes is repeated on every chunk rather than negotiated once so
	// a consumer reconnecting mid-stream after a retry doesn't need a
	// separate schema RPC.
	ColumnTypes []int32
}

// GetStreamRequest opens a streaming-actor message stream between two
// compute nodes hosting adjacent fragments.
type GetStreamRequest struct {
	UpstreamActorID   uint32
	DownstreamActorID uint32
}

// StreamMessageWire carries one streaming.Message (chunk or barrier) over
// ExchangeService.GetStream.
type StreamMessageWire struct {
	IsBarrier   bool
	ChunkRows   []WireRow
	ChunkOps    []int32
	ColumnTypes []int32
	Barrier     streaming.Barrier
}

// --- CompactorService: Meta <-> Compactor ----------------------------------

// TaskWire is the gob-friendly shape of compaction.Task crossing the wire.
type TaskWire struct {
	ID                uint64
	InputLevel        int
	TargetLevel       int
	Inputs            []version.SSTableInfo
	TargetLevelInputs []version.SSTableInfo
}

// GetCompactionTaskRequest is a long-poll from an idle compactor. Meta
// answers it with the task its Dispatcher assigned to that compactor, or
// with HasTask false when none arrives before the poll times out.
type GetCompactionTaskRequest struct {
	CompactorID string
}

type GetCompactionTaskResponse struct {
	HasTask bool
	Task    TaskWire
}

type ReportCompactionTaskRequest struct {
	CompactorID string
	TaskID      uint64
	Success     bool
	Output      []version.SSTableInfo
}

type ReportCompactionTaskResponse struct{}

// VacuumBatchRequest is a compactor's poll for SST ids to delete from the
// object store; Meta returns the ids queued for it in the response.
type VacuumBatchRequest struct {
	CompactorID string
	ObjectIDs   []uint64
}

type VacuumBatchResponse struct {
	Acked []uint64
}
