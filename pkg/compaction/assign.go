package compaction

import (
	"fmt"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/rs/zerolog"

	"github.com/cascadedb/cascade/pkg/events"
	"github.com/cascadedb/cascade/pkg/log"
	"github.com/cascadedb/cascade/pkg/metrics"
)

// CompactorHandle is one pool member a Dispatcher can hand a task to;
// pkg/compactor's RPC client implements this over CompactorService.
type CompactorHandle interface {
	ID() string
	Send(task Task) error
}

// Pool tracks which registered compactors are currently idle, in FIFO
// registration order, and which task (if any) each is working on. A
// compactor taken out of the idle queue by pause stays registered but is
// never handed a task again: Idle and Register leave a paused compactor out
// of the queue, and only Unregister clears the pause.
type Pool struct {
	mu         sync.Mutex
	order      []string
	byID       map[string]CompactorHandle
	paused     map[string]bool
	assignedTo map[uint64]string
	latency    map[string]ewma.MovingAverage // smoothed per-compactor task round-trip
}

// NewPool returns an empty compactor pool.
func NewPool() *Pool {
	return &Pool{
		byID:       make(map[string]CompactorHandle),
		paused:     make(map[string]bool),
		assignedTo: make(map[uint64]string),
		latency:    make(map[string]ewma.MovingAverage),
	}
}

// Register admits h to the pool, idle unless it was previously paused.
func (p *Pool) Register(h CompactorHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := h.ID()
	p.byID[id] = h
	if !p.paused[id] {
		p.order = append(p.order, id)
	}
}

// Unregister removes a compactor entirely, e.g. on node departure.
func (p *Pool) Unregister(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.byID, id)
	delete(p.paused, id)
	p.removeFromOrder(id)
}

// Idle re-admits id to the idle queue — called on heartbeat renewal or task
// completion ack — unless it's currently paused.
func (p *Pool) Idle(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused[id] {
		return
	}
	for _, existing := range p.order {
		if existing == id {
			return
		}
	}
	p.order = append(p.order, id)
}

// pause takes id out of the idle queue without unregistering it.
func (p *Pool) pause(id string) {
	p.paused[id] = true
	p.removeFromOrder(id)
}

func (p *Pool) removeFromOrder(id string) {
	for i, existing := range p.order {
		if existing == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}

// assign pops the oldest idle compactor for task. A task id assigned twice
// without an intervening Release is a programmer error.
func (p *Pool) assign(task Task) (CompactorHandle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.assignedTo[task.ID]; dup {
		panic(fmt.Sprintf("compaction: task %d assigned twice", task.ID))
	}
	for len(p.order) > 0 {
		id := p.order[0]
		p.order = p.order[1:]
		h, ok := p.byID[id]
		if !ok || p.paused[id] {
			continue
		}
		p.assignedTo[task.ID] = id
		return h, true
	}
	return nil, false
}

// release clears the in-flight assignment for task, e.g. after SendFailure
// or on task completion.
func (p *Pool) release(taskID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.assignedTo, taskID)
}

// AssignedTo reports which compactor currently holds taskID, or "" if the
// task has no live assignment.
func (p *Pool) AssignedTo(taskID uint64) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.assignedTo[taskID]
}

// observeLatency folds one task's round-trip into the compactor's moving
// average.
func (p *Pool) observeLatency(id string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	avg, ok := p.latency[id]
	if !ok {
		avg = ewma.NewMovingAverage()
		p.latency[id] = avg
	}
	avg.Add(d.Seconds())
}

// AvgTaskLatency returns the smoothed task round-trip for a compactor in
// seconds; zero until enough samples have accumulated.
func (p *Pool) AvgTaskLatency(id string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if avg, ok := p.latency[id]; ok {
		return avg.Value()
	}
	return 0
}

// slowCompactorSeconds is the smoothed round-trip above which a compactor
// is called out in the logs; it stays in the pool regardless, since a slow
// compactor still makes progress.
const slowCompactorSeconds = 300.0

// AssignResult is pick_and_assign's outcome scenarios S4/S5.
type AssignResult int

const (
	AssignOK AssignResult = iota
	AssignNoTask
	AssignSendFailure
)

// Dispatcher drives one compaction group's Scheduler against a Pool:
// wait for an idle compactor, pick a task, assign and send it, and handle
// the cancellation paths when any of those steps fails.
type Dispatcher struct {
	sched  *Scheduler
	pool   *Pool
	broker *events.Broker
	logger zerolog.Logger

	mu     sync.Mutex
	sentAt map[uint64]time.Time
}

// NewDispatcher ties sched's task queue to pool's idle compactors.
func NewDispatcher(sched *Scheduler, pool *Pool, broker *events.Broker) *Dispatcher {
	return &Dispatcher{sched: sched, pool: pool, broker: broker, logger: log.WithComponent("compaction-dispatcher"), sentAt: make(map[uint64]time.Time)}
}

// PickAndAssign pops one pending task and hands it to an idle compactor.
// AssignNoTask covers both "nothing pending" and "nothing idle" — in the
// latter case the task is requeued so it is not lost (AssignFailCanceled).
// AssignSendFailure means the chosen compactor was paused and the task
// cancelled (SendFailCanceled); the cancelled task goes straight back on
// the queue, so the caller's next PickAndAssign (or the periodic scheduler
// tick) retries it against the remaining compactors.
func (d *Dispatcher) PickAndAssign() (AssignResult, *Task, error) {
	task, ok := d.sched.Pop()
	if !ok {
		return AssignNoTask, nil, nil
	}

	handle, ok := d.pool.assign(task)
	if !ok {
		d.sched.requeue(task)
		return AssignNoTask, nil, fmt.Errorf("compaction: no idle compactor for task %d", task.ID)
	}

	if err := handle.Send(task); err != nil {
		d.pool.release(task.ID)
		d.pool.pause(handle.ID())
		d.sched.requeue(task)
		metrics.CompactionTasksTotal.WithLabelValues(levelToLabel(task.InputLevel), "send_fail_canceled").Inc()
		d.logger.Warn().Err(err).Uint64("task_id", task.ID).Str("compactor", handle.ID()).Msg("compaction task send failed, compactor paused and task requeued")
		return AssignSendFailure, &task, err
	}
	d.mu.Lock()
	d.sentAt[task.ID] = time.Now()
	d.mu.Unlock()
	return AssignOK, &task, nil
}

// Complete reports a finished (or failed) task's outcome: clears the
// assignment and re-admits the compactor to the idle queue whether or not
// the task succeeded. It does not enqueue further work for the group; that
// happens on the next Scheduler.Refresh.
func (d *Dispatcher) Complete(task Task, compactorID string, success bool) {
	d.mu.Lock()
	sent, sampled := d.sentAt[task.ID]
	delete(d.sentAt, task.ID)
	d.mu.Unlock()
	if sampled {
		d.pool.observeLatency(compactorID, time.Since(sent))
		if avg := d.pool.AvgTaskLatency(compactorID); avg > slowCompactorSeconds {
			d.logger.Warn().Str("compactor", compactorID).Float64("avg_task_seconds", avg).Msg("compactor running slow")
		}
	}
	d.pool.release(task.ID)
	d.pool.Idle(compactorID)
	d.sched.Complete(task, success)
	if d.broker != nil {
		evt := events.EventCompactionCompleted
		if !success {
			evt = events.EventCompactionFailed
		}
		d.broker.Publish(&events.Event{Type: evt, Message: fmt.Sprintf("task %d", task.ID)})
	}
}
