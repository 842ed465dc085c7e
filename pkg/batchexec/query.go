// Package batchexec implements the distributed batch-query executor: a
// query DAG of stages separated by exchanges, each stage
// expanded into parallel tasks scheduled onto compute workers.
package batchexec

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cascadedb/cascade/pkg/log"
)

// StageStatus is a stage's lifecycle state.
type StageStatus int

const (
	StagePending StageStatus = iota
	StageStarted
	StageRunning
	StageCompleted
	StageFailed
)

// StageEventKind identifies what a StageExecution reported to QueryExecution.
type StageEventKind int

const (
	EventScheduled StageEventKind = iota
	EventStageFailed
)

// StageEvent is what a StageExecution publishes to its owning
// QueryExecution.
type StageEvent struct {
	Kind     StageEventKind
	StageID  uint32
	Reason   error
}

// PlanNode is one node of the query plan this component schedules; only
// the shape the scheduler needs (its own stage boundary, and whether it's
// a table scan or an exchange) is modeled here — the planner that produces
// this tree lives in pkg/planner and upstream of this package's scope.
type PlanNode struct {
	IsTableScan   bool
	IsExchange    bool
	ScanVnodeSets [][]bool // one entry per task, when IsTableScan
	Children      []*PlanNode
}

// Stage is one unit of batch-query parallelism, separated from others by
// exchange nodes.
type Stage struct {
	ID          uint32
	Plan        *PlanNode
	Parallelism int
	Children    []*Stage // stages this stage reads from via an Exchange
	Parents     []*Stage

	queryID QueryID
}

// QueryID identifies one batch query execution end to end.
type QueryID string

// NewQueryID mints a fresh query id.
func NewQueryID() QueryID { return QueryID(uuid.NewString()) }

// WorkerAssigner places a task onto a compute worker; for a table-scan
// task it must honor the vnode-bitmap-to-worker binding (the worker
// hosting that parallel unit), for others it may assign freely.
type WorkerAssigner interface {
	// AssignForScan returns the worker hosting the parallel unit that owns
	// vnodeSet.
	AssignForScan(vnodeSet []bool) (workerID string, err error)
	// AssignAny returns any available worker, e.g. round-robin.
	AssignAny() (workerID string, err error)
}

// TaskRunner starts/aborts a task on a remote compute worker; pkg/rpc's
// TaskService client satisfies this.
type TaskRunner interface {
	CreateTask(workerID string, task Task) error
	AbortTask(workerID string, taskID TaskID) error
}

// SnapshotReleaser releases a pinned Hummock snapshot once every
// table-scan-bearing stage has been scheduled.
type SnapshotReleaser interface {
	Release(queryID QueryID) error
}

// QueryExecution drives one query's stage DAG to completion: start all
// leaf stages; on every Scheduled(s) event, start every
// parent stage whose children are all now scheduled; on Scheduled(root),
// hand a QueryResultFetcher to the waiting caller.
type QueryExecution struct {
	ID     QueryID
	root   *Stage
	stages map[uint32]*StageExecution

	assigner WorkerAssigner
	runner   TaskRunner
	releaser SnapshotReleaser

	mu             sync.Mutex
	scheduledCount map[uint32]int // stage id -> number of children scheduled so far
	scanStagesLeft int            // table-scan-bearing stages not yet scheduled
	failed         error
	failedOnce     sync.Once
	resultCh       chan *QueryResultFetcher
	doneCh         chan struct{}

	logger zerolog.Logger
}

// NewQueryExecution constructs a QueryExecution over the given stage DAG
// (root is the stage with no parents; every other stage is reachable from
// it through Children).
func NewQueryExecution(id QueryID, root *Stage, assigner WorkerAssigner, runner TaskRunner, releaser SnapshotReleaser) *QueryExecution {
	q := &QueryExecution{
		ID: id, root: root,
		stages:         make(map[uint32]*StageExecution),
		assigner:       assigner,
		runner:         runner,
		releaser:       releaser,
		scheduledCount: make(map[uint32]int),
		resultCh:       make(chan *QueryResultFetcher, 1),
		doneCh:         make(chan struct{}),
		logger:         log.WithComponent("batch").With().Str("query_id", string(id)).Logger(),
	}
	var walk func(s *Stage)
	seen := map[uint32]bool{}
	walk = func(s *Stage) {
		if seen[s.ID] {
			return
		}
		seen[s.ID] = true
		s.assignQueryID(id)
		se := NewStageExecution(s, assigner, runner)
		q.stages[s.ID] = se
		if containsTableScan(s.Plan) {
			q.scanStagesLeft++
		}
		for _, c := range s.Children {
			walk(c)
		}
	}
	walk(root)
	return q
}

func containsTableScan(n *PlanNode) bool {
	if n == nil {
		return false
	}
	if n.IsTableScan {
		return true
	}
	for _, c := range n.Children {
		if containsTableScan(c) {
			return true
		}
	}
	return false
}

// Run starts every leaf stage (a stage with no children) and drives the DAG
// to completion, returning the QueryResultFetcher once the root stage has
// been scheduled, or the first stage failure.
func (q *QueryExecution) Run() (*QueryResultFetcher, error) {
	var leaves []*Stage
	var collect func(s *Stage)
	seen := map[uint32]bool{}
	collect = func(s *Stage) {
		if seen[s.ID] {
			return
		}
		seen[s.ID] = true
		if len(s.Children) == 0 {
			leaves = append(leaves, s)
		}
		for _, c := range s.Children {
			collect(c)
		}
	}
	collect(q.root)

	for _, leaf := range leaves {
		q.startStage(leaf)
	}

	select {
	case fetcher := <-q.resultCh:
		return fetcher, nil
	case <-q.doneCh:
		return nil, q.failed
	}
}

func (q *QueryExecution) startStage(s *Stage) {
	se := q.stages[s.ID]
	go func() {
		if err := se.Start(); err != nil {
			q.onFailed(s.ID, err)
			return
		}
		q.onScheduled(s)
	}()
}

func (q *QueryExecution) onScheduled(s *Stage) {
	q.mu.Lock()
	if containsTableScan(s.Plan) {
		q.scanStagesLeft--
		if q.scanStagesLeft == 0 && q.releaser != nil {
			// Every stage with a table scan has now pinned and released
			// its share of work; release the query's snapshot pin now
			// rather than waiting for the whole query to finish.
			if err := q.releaser.Release(q.ID); err != nil {
				q.logger.Warn().Err(err).Msg("snapshot release failed")
			}
		}
	}
	var toStart []*Stage
	for _, p := range s.Parents {
		q.scheduledCount[p.ID]++
		if q.scheduledCount[p.ID] == len(p.Children) {
			toStart = append(toStart, p)
		}
	}
	isRoot := s.ID == q.root.ID
	q.mu.Unlock()

	for _, p := range toStart {
		q.startStage(p)
	}
	if isRoot {
		fetcher := NewQueryResultFetcher(q.ID, s)
		select {
		case q.resultCh <- fetcher:
		default:
		}
	}
}

func (q *QueryExecution) onFailed(stageID uint32, err error) {
	q.failedOnce.Do(func() {
		q.mu.Lock()
		q.failed = fmt.Errorf("batchexec: stage %d failed: %w", stageID, err)
		q.mu.Unlock()
		close(q.doneCh)
	})
}

// Cancel stops every stage, releasing any pinned snapshot. There is no partial result delivery after Cancel.
func (q *QueryExecution) Cancel() {
	for _, se := range q.stages {
		se.Cancel()
	}
	if q.releaser != nil {
		_ = q.releaser.Release(q.ID)
	}
}
