package batchexec

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// TaskID identifies one task: (query_id, stage_id, task_id).
type TaskID struct {
	QueryID QueryID
	StageID uint32
	TaskNum uint32
}

func (t TaskID) String() string {
	return fmt.Sprintf("%s/%d/%d", t.QueryID, t.StageID, t.TaskNum)
}

// TaskStatus mirrors StageStatus at task granularity.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskRunning
	TaskFinished
	TaskFailedStatus
)

// ExchangeSource names one producer task a consumer task must read from:
// one entry per task of the child stage, carrying enough to dial it
// directly.
type ExchangeSource struct {
	TaskOutputID TaskID
	Host         string
}

// Task is one parallel unit of a stage's work.
type Task struct {
	ID              TaskID
	WorkerID        string
	Plan            *PlanNode
	VnodeSet        []bool           // set only for a table-scan task
	ExchangeSources []ExchangeSource // populated when the stage's plan root is an Exchange
}

// StageExecution holds one stage's per-task status and drives it from
// Pending through Started/Running to Completed or Failed. Start is
// idempotent: a second call while already started returns
// nil.
type StageExecution struct {
	stage    *Stage
	assigner WorkerAssigner
	runner   TaskRunner

	mu      sync.Mutex
	status  StageStatus
	tasks   []Task
	cancels []func()
}

// NewStageExecution constructs a StageExecution for stage.
func NewStageExecution(stage *Stage, assigner WorkerAssigner, runner TaskRunner) *StageExecution {
	return &StageExecution{stage: stage, assigner: assigner, runner: runner, status: StagePending}
}

// Start builds this stage's tasks, wires their exchange sources from the
// now-scheduled child stages, and dispatches each task to its assigned
// worker. Calling Start twice is a no-op: the second call observes the
// stage already past Pending and returns nil immediately.
func (se *StageExecution) Start() error {
	se.mu.Lock()
	if se.status != StagePending {
		se.mu.Unlock()
		return nil
	}
	se.status = StageStarted
	se.mu.Unlock()

	tasks, err := se.buildTasks()
	if err != nil {
		se.fail()
		return err
	}

	se.mu.Lock()
	se.tasks = tasks
	se.status = StageRunning
	se.mu.Unlock()

	g := new(errgroup.Group)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			return se.runner.CreateTask(t.WorkerID, t)
		})
	}
	if err := g.Wait(); err != nil {
		se.fail()
		return fmt.Errorf("batchexec: stage %d: %w", se.stage.ID, err)
	}

	se.mu.Lock()
	se.status = StageCompleted
	se.mu.Unlock()
	return nil
}

// buildTasks creates one task per distinct vnode-bitmap partition when the
// stage's plan has a table scan (each pinned to the worker hosting that
// parallel unit); otherwise it creates stage.Parallelism tasks and assigns
// them freely.
func (se *StageExecution) buildTasks() ([]Task, error) {
	if containsTableScan(se.stage.Plan) {
		sets := scanVnodeSets(se.stage.Plan)
		tasks := make([]Task, len(sets))
		for i, set := range sets {
			workerID, err := se.assigner.AssignForScan(set)
			if err != nil {
				return nil, fmt.Errorf("batchexec: assign scan task %d: %w", i, err)
			}
			tasks[i] = Task{
				ID:       TaskID{QueryID: se.stage.QueryID(), StageID: se.stage.ID, TaskNum: uint32(i)},
				WorkerID: workerID,
				Plan:     se.stage.Plan,
				VnodeSet: set,
			}
		}
		se.wireExchangeSources(tasks)
		return tasks, nil
	}

	n := se.stage.Parallelism
	if n <= 0 {
		n = 1
	}
	tasks := make([]Task, n)
	for i := 0; i < n; i++ {
		workerID, err := se.assigner.AssignAny()
		if err != nil {
			return nil, fmt.Errorf("batchexec: assign task %d: %w", i, err)
		}
		tasks[i] = Task{
			ID:       TaskID{QueryID: se.stage.QueryID(), StageID: se.stage.ID, TaskNum: uint32(i)},
			WorkerID: workerID,
			Plan:     se.stage.Plan,
		}
	}
	se.wireExchangeSources(tasks)
	return tasks, nil
}

// wireExchangeSources fills in ExchangeSources for every task of this
// stage when the stage reads from children via an Exchange plan node, one
// ExchangeSource per task of each child stage.
func (se *StageExecution) wireExchangeSources(tasks []Task) {
	if !se.stage.Plan.IsExchange && !hasExchangeDescendant(se.stage.Plan) {
		return
	}
	var sources []ExchangeSource
	for _, child := range se.stage.Children {
		// The child's tasks are only known once it has itself run Start;
		// in a live deployment this method is called after the scheduler
		// has confirmed the child is scheduled, so childTasks is safe to
		// read here without additional synchronization from the caller's
		// perspective (QueryExecution only starts a parent after every
		// child reports Scheduled).
		for _, ct := range childTasksOf(child) {
			sources = append(sources, ExchangeSource{TaskOutputID: ct.ID, Host: ct.WorkerID})
		}
	}
	for i := range tasks {
		tasks[i].ExchangeSources = sources
	}
}

// childTasksOf is a placeholder seam that returns no tasks, so
// wireExchangeSources leaves ExchangeSources empty. It is declared as a
// variable so a caller can replace it with a live task lookup; nothing in
// this repository replaces it.
var childTasksOf = func(child *Stage) []Task { return nil }

func hasExchangeDescendant(n *PlanNode) bool {
	if n == nil {
		return false
	}
	if n.IsExchange {
		return true
	}
	for _, c := range n.Children {
		if hasExchangeDescendant(c) {
			return true
		}
	}
	return false
}

func scanVnodeSets(n *PlanNode) [][]bool {
	if n == nil {
		return nil
	}
	if n.IsTableScan {
		return n.ScanVnodeSets
	}
	for _, c := range n.Children {
		if sets := scanVnodeSets(c); sets != nil {
			return sets
		}
	}
	return nil
}

func (se *StageExecution) fail() {
	se.mu.Lock()
	se.status = StageFailed
	se.mu.Unlock()
}

// Status returns the stage's current lifecycle state.
func (se *StageExecution) Status() StageStatus {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.status
}

// Cancel aborts every task this stage has dispatched.
func (se *StageExecution) Cancel() {
	se.mu.Lock()
	tasks := se.tasks
	se.mu.Unlock()
	for _, t := range tasks {
		_ = se.runner.AbortTask(t.WorkerID, t.ID)
	}
}

// QueryID is attached to Stage by the scheduler that builds the DAG; it's
// a method rather than a field so a Stage literal built purely for
// fragment-shape tests doesn't need to carry it.
func (s *Stage) QueryID() QueryID { return s.queryID }

// assignQueryID is called once by the scheduler constructing the DAG.
func (s *Stage) assignQueryID(id QueryID) { s.queryID = id }
