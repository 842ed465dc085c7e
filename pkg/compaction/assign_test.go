package compaction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/events"
	"github.com/cascadedb/cascade/pkg/hummock/version"
)

type recordingCompactor struct {
	id      string
	fail    bool
	sent    []Task
}

func (c *recordingCompactor) ID() string { return c.id }
func (c *recordingCompactor) Send(task Task) error {
	if c.fail {
		return errors.New("injected send failure")
	}
	c.sent = append(c.sent, task)
	return nil
}

// overlappingVersion builds an L0 with two SSTs overlapping L1's single
// SST range.
func overlappingVersion(cfg Config) version.HummockVersion {
	v := version.NewEmpty(cfg.MaxLevel)
	v.Levels[0].Tables = []version.SSTableInfo{
		mkTable(1, 1<<20, "b", "f"),
		mkTable(2, 1<<20, "g", "k"),
	}
	v.Levels[1].Tables = []version.SSTableInfo{
		mkTable(3, 1<<20, "a", "z"),
	}
	return v
}

func TestPickAndAssignHappyPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level0TriggerNumber = 1
	sched := NewScheduler(cfg, nil)
	sched.Refresh(overlappingVersion(cfg))

	pool := NewPool()
	compactor := &recordingCompactor{id: "c1"}
	pool.Register(compactor)

	disp := NewDispatcher(sched, pool, events.NewBroker())
	result, task, err := disp.PickAndAssign()
	require.NoError(t, err)
	assert.Equal(t, AssignOK, result)
	require.NotNil(t, task)
	require.Len(t, compactor.sent, 1)
	assert.Equal(t, task.ID, compactor.sent[0].ID)

	// Refresh queued only one task and it has been popped, so a second scan
	// without another Refresh yields nothing further to pick.
	result2, task2, err2 := disp.PickAndAssign()
	assert.NoError(t, err2)
	assert.Equal(t, AssignNoTask, result2)
	assert.Nil(t, task2)
}

func TestPickAndAssignSendFailureRetriesWithNextCompactor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level0TriggerNumber = 1
	sched := NewScheduler(cfg, nil)
	sched.Refresh(overlappingVersion(cfg))

	pool := NewPool()
	first := &recordingCompactor{id: "c1", fail: true}
	second := &recordingCompactor{id: "c2"}
	pool.Register(first)
	pool.Register(second)

	disp := NewDispatcher(sched, pool, nil)

	result, task, err := disp.PickAndAssign()
	require.Error(t, err)
	assert.Equal(t, AssignSendFailure, result)
	require.NotNil(t, task)
	assert.Empty(t, first.sent)

	// the failed send requeued the task and paused the first compactor: a
	// plain retry must reach the task through the second compactor.
	result2, task2, err2 := disp.PickAndAssign()
	require.NoError(t, err2)
	assert.Equal(t, AssignOK, result2)
	require.NotNil(t, task2)
	require.Len(t, second.sent, 1)
	assert.Empty(t, first.sent)
}

func TestPoolAssignPanicsOnDoubleAssignment(t *testing.T) {
	pool := NewPool()
	c := &recordingCompactor{id: "c1"}
	pool.Register(c)
	task := Task{ID: 7}

	_, ok := pool.assign(task)
	require.True(t, ok)

	pool.Register(c) // re-admit so a second assign has somewhere to go
	assert.Panics(t, func() { pool.assign(task) })
}
