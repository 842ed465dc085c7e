package compaction

import (
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cascadedb/cascade/pkg/events"
	"github.com/cascadedb/cascade/pkg/hummock/version"
	"github.com/cascadedb/cascade/pkg/log"
	"github.com/cascadedb/cascade/pkg/metrics"
)

// Scheduler owns the compaction-group-local queue of tasks awaiting an idle
// compactor, deduplicated so a level already scheduled isn't enqueued a
// second time, and wakes waiting compactors via the event broker instead of
// polling.
type Scheduler struct {
	cfg      Config
	selector *Selector
	broker   *events.Broker
	logger   zerolog.Logger

	mu       sync.Mutex
	pending  map[int]bool // levelIdx -> has an outstanding task
	tasks    map[uint64]Task
	nextID   uint64
}

// NewScheduler returns a Scheduler for one compaction group.
func NewScheduler(cfg Config, broker *events.Broker) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		selector: NewSelector(cfg),
		broker:   broker,
		logger:   log.WithComponent("compaction-scheduler"),
		pending:  make(map[int]bool),
		tasks:    make(map[uint64]Task),
	}
}

// Refresh re-evaluates the level scores against the current version and
// enqueues a new task if a level needs compaction and isn't already
// pending. Call after every version delta (flush or compaction commit).
func (s *Scheduler) Refresh(v version.HummockVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pendingFn := func(levelIdx int, tableID uint64) bool { return false } // level-granularity dedup below
	levelIdx, baseLevel, ok := s.selector.PickLevel(v.Levels, pendingFn)
	if !ok || s.pending[levelIdx] {
		return
	}

	task, ok := s.buildTask(levelIdx, baseLevel, v)
	if !ok {
		return
	}
	s.pending[levelIdx] = true
	s.tasks[task.ID] = task
	metrics.CompactionTasksTotal.WithLabelValues(levelToLabel(levelIdx), "scheduled").Inc()
	s.logger.Info().
		Uint64("task_id", task.ID).
		Int("input_level", task.InputLevel).
		Int("target_level", task.TargetLevel).
		Int("num_inputs", len(task.Inputs)).
		Msg("compaction task scheduled")

	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventCompactionTaskReady, Message: "task ready"})
	}
}

func (s *Scheduler) buildTask(levelIdx, baseLevel int, v version.HummockVersion) (Task, bool) {
	s.nextID++
	id := s.nextID
	if levelIdx == 0 {
		target := v.Levels[baseLevel]
		return PickTierCompaction(id, v.Levels[0], target, baseLevel, nil)
	}
	targetIdx := levelIdx + 1
	if targetIdx >= len(v.Levels) {
		targetIdx = levelIdx
	}
	return PickMinOverlappingCompaction(id, v.Levels[levelIdx], v.Levels[targetIdx], nil)
}

// Pop removes and returns one pending task, if any, for a requesting
// compactor. ok is false when the queue is empty.
func (s *Scheduler) Pop() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		delete(s.tasks, id)
		delete(s.pending, t.InputLevel)
		return t, true
	}
	return Task{}, false
}

// Complete clears bookkeeping for a finished task so its level can be
// rescheduled on the next Refresh.
func (s *Scheduler) Complete(task Task, success bool) {
	status := "completed"
	if !success {
		status = "failed"
	}
	metrics.CompactionTasksTotal.WithLabelValues(levelToLabel(task.InputLevel), status).Inc()
}

// requeue puts a popped task back into the (unordered) task set, used when a
// Dispatcher fails to assign it to a compactor: the level is marked pending again so a concurrent
// Refresh doesn't also enqueue it.
func (s *Scheduler) requeue(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[task.InputLevel] = true
	s.tasks[task.ID] = task
}

func levelToLabel(levelIdx int) string {
	return "L" + strconv.Itoa(levelIdx)
}
