package batchexec

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAssigner struct{}

func (fakeAssigner) AssignForScan(vnodeSet []bool) (string, error) { return "worker-scan", nil }
func (fakeAssigner) AssignAny() (string, error)                    { return "worker-any", nil }

type recordingRunner struct {
	mu      sync.Mutex
	created []Task
	fail    map[uint32]bool // stage id -> force CreateTask to fail
}

func newRecordingRunner() *recordingRunner { return &recordingRunner{fail: map[uint32]bool{}} }

func (r *recordingRunner) CreateTask(workerID string, task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[task.ID.StageID] {
		return errors.New("injected failure")
	}
	r.created = append(r.created, task)
	return nil
}

func (r *recordingRunner) AbortTask(workerID string, taskID TaskID) error { return nil }

type countingReleaser struct {
	n int32
}

func (c *countingReleaser) Release(q QueryID) error {
	atomic.AddInt32(&c.n, 1)
	return nil
}

// buildDiamond builds leaf1, leaf2 -> join -> root, a 4-stage DAG where
// both leaves (and, with scansOnRoot, the root) contain table scans so the
// snapshot-release timing test can exercise "every table-scan stage
// scheduled".
func buildDiamond(scansOnRoot bool) *Stage {
	scan := &PlanNode{IsTableScan: true, ScanVnodeSets: [][]bool{{true, false}, {false, true}}}
	plain := &PlanNode{}

	leaf1 := &Stage{ID: 1, Plan: scan, Parallelism: 1}
	leaf2 := &Stage{ID: 2, Plan: scan, Parallelism: 1}
	join := &Stage{ID: 3, Plan: plain, Parallelism: 1, Children: []*Stage{leaf1, leaf2}}
	rootPlan := plain
	if scansOnRoot {
		rootPlan = scan
	}
	root := &Stage{ID: 4, Plan: rootPlan, Parallelism: 1, Children: []*Stage{join}}

	leaf1.Parents = []*Stage{join}
	leaf2.Parents = []*Stage{join}
	join.Parents = []*Stage{root}
	return root
}

func TestQueryExecutionSchedulesParentsAfterAllChildren(t *testing.T) {
	root := buildDiamond(false)
	runner := newRecordingRunner()
	qe := NewQueryExecution(NewQueryID(), root, fakeAssigner{}, runner, nil)

	fetcher, err := qe.Run()
	require.NoError(t, err)
	require.NotNil(t, fetcher)

	// Every stage's task(s) must have been created exactly once.
	stageIDs := map[uint32]int{}
	runner.mu.Lock()
	for _, task := range runner.created {
		stageIDs[task.ID.StageID]++
	}
	runner.mu.Unlock()
	// The scan leaves split into one task per vnode set (two each).
	assert.Equal(t, map[uint32]int{1: 2, 2: 2, 3: 1, 4: 1}, stageIDs)
}

func TestQueryExecutionPropagatesFirstStageFailure(t *testing.T) {
	root := buildDiamond(false)
	runner := newRecordingRunner()
	runner.fail[1] = true
	qe := NewQueryExecution(NewQueryID(), root, fakeAssigner{}, runner, nil)

	fetcher, err := qe.Run()
	assert.Nil(t, fetcher)
	require.Error(t, err)
}

func TestStageExecutionStartIsIdempotent(t *testing.T) {
	root := &Stage{ID: 1, Plan: &PlanNode{}, Parallelism: 1}
	runner := newRecordingRunner()
	se := NewStageExecution(root, fakeAssigner{}, runner)

	require.NoError(t, se.Start())
	require.NoError(t, se.Start()) // second call observes non-Pending and returns nil

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Len(t, runner.created, 1, "a second Start must not re-dispatch tasks")
}

func TestSnapshotReleasedOnceEveryScanStageScheduled(t *testing.T) {
	root := buildDiamond(true) // both leaves and root scan
	runner := newRecordingRunner()
	releaser := &countingReleaser{}
	qe := NewQueryExecution(NewQueryID(), root, fakeAssigner{}, runner, releaser)

	_, err := qe.Run()
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&releaser.n), "release fires exactly once, after the last scan stage schedules")
}
