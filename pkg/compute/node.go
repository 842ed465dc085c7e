package compute

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/cascadedb/cascade/pkg/hummock"
	"github.com/cascadedb/cascade/pkg/log"
	"github.com/cascadedb/cascade/pkg/rpc"
)

const (
	heartbeatInterval = 5 * time.Second
	dialWaitTimeout    = 30 * time.Second
)

// Node is the Compute role of the cluster: it hosts streaming actors
// (actorRuntime) and runs batch tasks assigned by a query coordinator,
// exposing both over the same rpc.TaskServer/rpc.ExchangeServer a peer
// compute node or Meta dials. It registers with Meta at startup and then
// serves whatever Meta schedules onto it.
type Node struct {
	id       string
	host     string
	certDir  string
	insecure bool

	meta    *rpc.MetaClient
	taskCli *rpc.TaskClient
	rt      *actorRuntime

	logger zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*batchTask
}

var (
	_ rpc.TaskServer     = (*Node)(nil)
	_ rpc.ExchangeServer = (*Node)(nil)
)

// NewNode constructs a Node that will register as id (or be assigned one by
// Meta if empty) at host, storing its streaming state in storage. metaCC is
// an already-dialed connection to Meta, backing both the MetaClient
// (register/heartbeat/pin) and TaskClient (barrier subscription) stubs.
func NewNode(id, host, certDir string, insecure bool, storage *hummock.Storage, metaCC *grpc.ClientConn) *Node {
	return &Node{
		id:       id,
		host:     host,
		certDir:  certDir,
		insecure: insecure,
		meta:     rpc.NewMetaClient(metaCC),
		taskCli:  rpc.NewTaskClient(metaCC),
		rt:       newActorRuntime(storage, certDir, insecure),
		logger:   log.WithComponent("compute"),
		tasks:    make(map[string]*batchTask),
	}
}

// Run registers with Meta, subscribes to its barrier feed, and blocks
// heartbeating until ctx is cancelled. The actual TaskServer/ExchangeServer
// RPC surface is served independently by whatever grpc.Server the caller
// registers this Node against.
func (n *Node) Run(ctx context.Context) error {
	resp, err := n.meta.RegisterWorker(ctx, &rpc.RegisterWorkerRequest{NodeID: n.id, Role: "compute", Host: n.host})
	if err != nil {
		return fmt.Errorf("compute: register with meta: %w", err)
	}
	n.id = resp.WorkerID
	n.logger = n.logger.With().Str("worker_id", n.id).Logger()
	n.logger.Info().Msg("compute node registered")

	go n.heartbeatLoop(ctx)
	return n.streamBarriersLoop(ctx)
}

func (n *Node) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := n.meta.Heartbeat(ctx, &rpc.HeartbeatRequest{WorkerID: n.id}); err != nil {
				n.logger.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// streamBarriersLoop subscribes to Meta's barrier feed and injects every
// barrier it receives into this node's locally hosted source actors,
// reconnecting with backoff if the stream drops.
func (n *Node) streamBarriersLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		stream, err := n.taskCli.StreamBarriers(ctx, &rpc.BarrierStreamRequest{WorkerID: n.id})
		if err != nil {
			n.logger.Warn().Err(err).Msg("barrier stream dial failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for {
			cmd, err := stream.Recv()
			if err != nil {
				n.logger.Warn().Err(err).Msg("barrier stream broken, reconnecting")
				break
			}
			n.rt.InjectBarrier(cmd.Barrier)
		}
	}
}

// --- rpc.TaskServer: actor lifecycle, served for real -----------------------

func (n *Node) CreateActors(ctx context.Context, req *rpc.CreateActorsRequest) (*rpc.CreateActorsResponse, error) {
	if err := n.rt.CreateActors(ctx, req); err != nil {
		return nil, err
	}
	return &rpc.CreateActorsResponse{}, nil
}

func (n *Node) DropActors(ctx context.Context, req *rpc.DropActorsRequest) (*rpc.DropActorsResponse, error) {
	n.rt.DropActors(req.ActorIDs)
	return &rpc.DropActorsResponse{}, nil
}

// StreamBarriers is Meta's own push surface; a compute node only ever
// consumes it as a client (see streamBarriersLoop), so its server side here
// mirrors how Meta stubs out the task-control methods it doesn't serve.
func (n *Node) StreamBarriers(*rpc.BarrierStreamRequest, rpc.BarrierStreamServer) error {
	return errNotServedByCompute
}

var errNotServedByCompute = fmt.Errorf("compute: method is served by meta, not a compute node")

// --- rpc.TaskServer: batch task control --------------------------------------

func (n *Node) CreateTask(ctx context.Context, req *rpc.CreateTaskRequest) (*rpc.CreateTaskResponse, error) {
	key := taskKey(req.QueryID, req.StageID, req.TaskNum)
	taskCtx, cancel := context.WithCancel(context.Background())
	bt := &batchTask{status: rpc.TaskStatusRunning, cancel: cancel, done: make(chan struct{})}

	n.mu.Lock()
	n.tasks[key] = bt
	n.mu.Unlock()

	go n.runBatchTask(taskCtx, req, bt)
	return &rpc.CreateTaskResponse{}, nil
}

func (n *Node) AbortTask(ctx context.Context, req *rpc.AbortTaskRequest) (*rpc.AbortTaskResponse, error) {
	key := taskKey(req.QueryID, req.StageID, req.TaskNum)
	n.mu.Lock()
	bt, ok := n.tasks[key]
	n.mu.Unlock()
	if ok {
		bt.cancel()
	}
	return &rpc.AbortTaskResponse{}, nil
}

func (n *Node) GetTaskInfo(ctx context.Context, req *rpc.GetTaskInfoRequest) (*rpc.GetTaskInfoResponse, error) {
	key := taskKey(req.QueryID, req.StageID, req.TaskNum)
	n.mu.Lock()
	bt, ok := n.tasks[key]
	n.mu.Unlock()
	if !ok {
		return &rpc.GetTaskInfoResponse{Status: rpc.TaskStatusPending}, nil
	}
	bt.mu.Lock()
	defer bt.mu.Unlock()
	errMsg := ""
	if bt.err != nil {
		errMsg = bt.err.Error()
	}
	return &rpc.GetTaskInfoResponse{Status: bt.status, Error: errMsg}, nil
}

// --- rpc.ExchangeServer ------------------------------------------------------

// GetData serves one batch task's completed output in fixed-size chunks,
// blocking until that task finishes (or ctx is cancelled). A consumer task
// that dials in before its source is registered waits for it to appear
// rather than failing outright, since parent stages are started only once
// every child task is scheduled but may still race the coordinator's own
// bookkeeping of who to tell.
func (n *Node) GetData(req *rpc.GetDataRequest, stream rpc.DataStreamServer) error {
	bt, err := n.awaitTask(stream.Context(), req.QueryID, req.StageID, req.TaskNum)
	if err != nil {
		return err
	}
	<-bt.done
	bt.mu.Lock()
	rows, colTypes, taskErr := bt.rows, bt.colTypes, bt.err
	bt.mu.Unlock()
	if taskErr != nil {
		return taskErr
	}

	const chunkSize = 1024
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := stream.Send(&rpc.DataChunk{Rows: rows[start:end], ColumnTypes: colTypes}); err != nil {
			return err
		}
	}
	return nil
}

// GetStream serves a local streaming-actor edge to a remote downstream.
func (n *Node) GetStream(req *rpc.GetStreamRequest, stream rpc.MessageStreamServer) error {
	return n.rt.ServeStream(stream.Context(), req.UpstreamActorID, req.DownstreamActorID, stream.Send)
}

func (n *Node) awaitTask(ctx context.Context, queryID string, stageID, taskNum uint32) (*batchTask, error) {
	key := taskKey(queryID, stageID, taskNum)
	deadline := time.Now().Add(dialWaitTimeout)
	for {
		n.mu.Lock()
		bt, ok := n.tasks[key]
		n.mu.Unlock()
		if ok {
			return bt, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("compute: task %s never registered", key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func taskKey(queryID string, stageID, taskNum uint32) string {
	return fmt.Sprintf("%s/%d/%d", queryID, stageID, taskNum)
}

// batchTask is the live state of one batch task this node has been asked to
// run: it shuffles rows in from its exchange sources and buffers them for
// GetData to serve once finished. There is no operator evaluation here
// (filters, projections, aggregates) — that belongs to a query planner this
// repo doesn't implement end to end (see fragment/planner non-goals); a
// table-scan leaf task therefore finishes with zero rows rather than
// actually reading storage, the same honest-stub shape as
// actor_runtime.go's stubSnapshotReader.
type batchTask struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	status   rpc.TaskStatusWire
	rows     []rpc.WireRow
	colTypes []int32
	err      error
}

// runBatchTask executes req by concatenating every exchange source's output
// in order; this is the shuffle-merge half of batch execution, not an
// operator pipeline.
func (n *Node) runBatchTask(ctx context.Context, req *rpc.CreateTaskRequest, bt *batchTask) {
	defer close(bt.done)

	if req.Plan.IsTableScan {
		bt.mu.Lock()
		bt.status = rpc.TaskStatusFinished
		bt.mu.Unlock()
		return
	}

	var rows []rpc.WireRow
	var colTypes []int32
	for _, src := range req.ExchangeSources {
		cc, err := n.rt.dial(src.Host)
		if err != nil {
			n.failTask(bt, fmt.Errorf("compute: dial exchange source %s: %w", src.Host, err))
			return
		}
		client := rpc.NewExchangeClient(cc)
		stream, err := client.GetData(ctx, &rpc.GetDataRequest{QueryID: src.QueryID, StageID: src.StageID, TaskNum: src.TaskNum})
		if err != nil {
			n.failTask(bt, fmt.Errorf("compute: open exchange source %s: %w", src.Host, err))
			return
		}
		for {
			chunk, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				n.failTask(bt, fmt.Errorf("compute: read exchange source %s: %w", src.Host, err))
				return
			}
			rows = append(rows, chunk.Rows...)
			if colTypes == nil {
				colTypes = chunk.ColumnTypes
			}
		}
	}

	bt.mu.Lock()
	bt.rows, bt.colTypes, bt.status = rows, colTypes, rpc.TaskStatusFinished
	bt.mu.Unlock()
}

func (n *Node) failTask(bt *batchTask, err error) {
	bt.mu.Lock()
	bt.status, bt.err = rpc.TaskStatusFailed, err
	bt.mu.Unlock()
	n.logger.Error().Err(err).Msg("batch task failed")
}
