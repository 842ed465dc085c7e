package meta

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cascadedb/cascade/pkg/compaction"
	"github.com/cascadedb/cascade/pkg/events"
	"github.com/cascadedb/cascade/pkg/health"
	"github.com/cascadedb/cascade/pkg/hummock/version"
	"github.com/cascadedb/cascade/pkg/log"
	"github.com/cascadedb/cascade/pkg/metrics"
	"github.com/cascadedb/cascade/pkg/rpc"
	"github.com/cascadedb/cascade/pkg/streaming"
	"github.com/cascadedb/cascade/pkg/types"
)

// pendingTask is one compaction task Meta has handed to a compactor and is
// waiting on ReportCompactionOutcome for; that handler uses it to find the
// task's group, input tables and target level, and turns the inputs into
// orphan candidates once a successful outcome is committed.
type pendingTask struct {
	groupID     uint64
	task        compaction.Task
	compactorID string
	assignedAt  time.Time
}

// orphanCandidate is an SST object id created by a compute/compactor flush
// or compaction output that is not (or no longer) referenced by the current
// version. It becomes eligible for deletion once retentionPeriod has
// elapsed since it was first observed, giving in-flight readers time to pin
// the version that references it before vacuum can race ahead of them.
type orphanCandidate struct {
	objectID  uint64
	createdAt time.Time
}

const orphanRetention = 5 * time.Minute

// compactorConn is the Meta-side CompactorHandle: GetCompactionTask long-
// polls on taskCh, so Dispatcher.Send (called from the scheduler goroutine)
// just needs to push one task onto it for the blocked RPC handler to
// return. pendingVacuum holds object ids dispatched to this compactor by
// DeleteObjects and not yet claimed by a VacuumBatch poll; guarded by the
// owning Meta's mu, not a lock of its own.
type compactorConn struct {
	id            string
	taskCh        chan compaction.Task
	pendingVacuum []uint64
}

func newCompactorConn(id string) *compactorConn {
	return &compactorConn{id: id, taskCh: make(chan compaction.Task, 1)}
}

func (c *compactorConn) ID() string { return c.id }

// Send implements compaction.CompactorHandle. It must not block: a full
// taskCh means a prior task is still waiting to be picked up by
// GetCompactionTask, which the dispatcher treats as a send failure so the
// compactor gets paused rather than silently dropping work.
func (c *compactorConn) Send(task compaction.Task) error {
	select {
	case c.taskCh <- task:
		return nil
	default:
		return fmt.Errorf("meta: compactor %s has an unclaimed task outstanding", c.id)
	}
}

// --- MetaServer -------------------------------------------------------

var _ rpc.MetaServer = (*Meta)(nil)

func (m *Meta) RegisterWorker(ctx context.Context, req *rpc.RegisterWorkerRequest) (*rpc.RegisterWorkerResponse, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RPCRequestDuration, "meta", "RegisterWorker")

	workerID := req.NodeID
	if workerID == "" {
		workerID = uuid.NewString()
	}
	worker := &types.Worker{
		ID:            workerID,
		Role:          types.NodeRole(req.Role),
		Address:       req.Host,
		Status:        types.NodeStatusHealthy,
		RegisteredAt:  time.Now(),
		LastHeartbeat: time.Now(),
	}
	if err := m.Apply(opPutWorker, worker); err != nil {
		return nil, fmt.Errorf("meta: register worker: %w", err)
	}

	m.mu.Lock()
	m.workerHealth[workerID] = health.NewStatus()
	m.mu.Unlock()

	if worker.Role == types.NodeRoleCompactor {
		m.mu.Lock()
		m.compactorConns[workerID] = newCompactorConn(workerID)
		m.mu.Unlock()
		for _, g := range m.groups {
			g.pool.Register(m.compactorConns[workerID])
		}
	}

	if m.eventBroker != nil {
		m.eventBroker.Publish(&events.Event{Type: events.EventNodeJoined, Message: workerID})
	}
	return &rpc.RegisterWorkerResponse{WorkerID: workerID}, nil
}

func (m *Meta) Heartbeat(ctx context.Context, req *rpc.HeartbeatRequest) (*rpc.HeartbeatResponse, error) {
	worker, err := m.store.GetWorker(req.WorkerID)
	if err != nil || worker == nil {
		return &rpc.HeartbeatResponse{Healthy: false}, nil
	}
	worker.LastHeartbeat = time.Now()
	wasUnhealthy := worker.Status != types.NodeStatusHealthy
	worker.Status = types.NodeStatusHealthy
	if err := m.Apply(opPutWorker, worker); err != nil {
		return nil, fmt.Errorf("meta: heartbeat: %w", err)
	}
	if wasUnhealthy {
		if conn, ok := m.compactorConns[req.WorkerID]; ok {
			for _, g := range m.groups {
				g.pool.Idle(conn.ID())
			}
		}
	}
	return &rpc.HeartbeatResponse{Healthy: true}, nil
}

func (m *Meta) PinVersion(ctx context.Context, req *rpc.PinVersionRequest) (*rpc.PinVersionResponse, error) {
	v, err := m.store.LoadVersion()
	if err != nil {
		return nil, fmt.Errorf("meta: pin version: %w", err)
	}
	m.mu.Lock()
	m.pinnedVersions[req.WorkerID] = v.ID
	m.mu.Unlock()
	return &rpc.PinVersionResponse{Version: *v}, nil
}

func (m *Meta) UnpinVersion(ctx context.Context, req *rpc.UnpinVersionRequest) (*rpc.UnpinVersionResponse, error) {
	m.mu.Lock()
	if m.pinnedVersions[req.WorkerID] == req.VersionID {
		delete(m.pinnedVersions, req.WorkerID)
	}
	m.mu.Unlock()
	return &rpc.UnpinVersionResponse{}, nil
}

func (m *Meta) ReportSyncedSST(ctx context.Context, req *rpc.ReportSyncedSSTRequest) (*rpc.ReportSyncedSSTResponse, error) {
	current, err := m.store.LoadVersion()
	if err != nil {
		return nil, fmt.Errorf("meta: report synced sst: %w", err)
	}
	delta := version.VersionDelta{
		ID:             current.ID + 1,
		PrevID:         current.ID,
		MaxSyncedEpoch: req.Epoch,
		LevelDeltas: []version.LevelDelta{
			{LevelIdx: 0, InsertTables: []version.SSTableInfo{req.Table}},
		},
	}
	if err := m.Apply(opAppendVersionDelta, delta); err != nil {
		return nil, fmt.Errorf("meta: apply sync delta: %w", err)
	}

	m.mu.Lock()
	for _, g := range m.groups {
		if next, err := m.store.LoadVersion(); err == nil {
			g.sched.Refresh(*next)
		}
	}
	m.mu.Unlock()

	if m.eventBroker != nil {
		m.eventBroker.Publish(&events.Event{Type: events.EventVersionUpdated, Message: fmt.Sprintf("epoch %d", req.Epoch)})
	}
	return &rpc.ReportSyncedSSTResponse{}, nil
}

func (m *Meta) ReportCompactionOutcome(ctx context.Context, req *rpc.ReportCompactionOutcomeRequest) (*rpc.ReportCompactionOutcomeResponse, error) {
	m.mu.Lock()
	pending, ok := m.pendingCompactionTasks[req.TaskID]
	if ok {
		delete(m.pendingCompactionTasks, req.TaskID)
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("meta: unknown compaction task %d", req.TaskID)
	}

	group, ok := m.groups[pending.groupID]
	if !ok {
		return nil, fmt.Errorf("meta: unknown compaction group %d", pending.groupID)
	}

	if req.Success {
		current, err := m.store.LoadVersion()
		if err != nil {
			return nil, fmt.Errorf("meta: report compaction outcome: %w", err)
		}
		deleteIDs := make([]uint64, len(pending.task.Inputs))
		for i, t := range pending.task.Inputs {
			deleteIDs[i] = t.ID
		}
		delta := version.VersionDelta{
			ID:             current.ID + 1,
			PrevID:         current.ID,
			MaxSyncedEpoch: current.MaxSyncedEpoch,
			LevelDeltas: []version.LevelDelta{
				{LevelIdx: pending.task.InputLevel, DeleteIDs: deleteIDs},
				{LevelIdx: pending.task.TargetLevel, InsertTables: req.Output},
			},
		}
		if err := m.Apply(opAppendVersionDelta, delta); err != nil {
			return nil, fmt.Errorf("meta: apply compaction delta: %w", err)
		}

		m.mu.Lock()
		for _, t := range pending.task.Inputs {
			m.orphanCandidates = append(m.orphanCandidates, orphanCandidate{objectID: t.ObjectID, createdAt: time.Now()})
		}
		if next, err := m.store.LoadVersion(); err == nil {
			group.sched.Refresh(*next)
		}
		m.mu.Unlock()
		metrics.CompactionTasksTotal.WithLabelValues(levelToLabel(pending.task.TargetLevel), "success").Inc()
	} else {
		metrics.CompactionTasksTotal.WithLabelValues(levelToLabel(pending.task.TargetLevel), "failed").Inc()
	}

	group.dispatcher.Complete(pending.task, req.WorkerID, req.Success)
	return &rpc.ReportCompactionOutcomeResponse{}, nil
}

func levelToLabel(levelIdx int) string {
	if levelIdx == 0 {
		return "L0"
	}
	return fmt.Sprintf("L%d", levelIdx)
}

// --- TaskServer: Meta only implements StreamBarriers --------------------

var _ rpc.TaskServer = (*Meta)(nil)

var errNotServedByMeta = errors.New("meta: method is served by compute nodes, not meta")

func (m *Meta) CreateTask(context.Context, *rpc.CreateTaskRequest) (*rpc.CreateTaskResponse, error) {
	return nil, errNotServedByMeta
}

func (m *Meta) AbortTask(context.Context, *rpc.AbortTaskRequest) (*rpc.AbortTaskResponse, error) {
	return nil, errNotServedByMeta
}

func (m *Meta) GetTaskInfo(context.Context, *rpc.GetTaskInfoRequest) (*rpc.GetTaskInfoResponse, error) {
	return nil, errNotServedByMeta
}

func (m *Meta) CreateActors(context.Context, *rpc.CreateActorsRequest) (*rpc.CreateActorsResponse, error) {
	return nil, errNotServedByMeta
}

func (m *Meta) DropActors(context.Context, *rpc.DropActorsRequest) (*rpc.DropActorsResponse, error) {
	return nil, errNotServedByMeta
}

// StreamBarriers registers workerID's subscriber channel and blocks,
// forwarding every barrier Meta injects until the stream breaks or Meta
// shuts down.
func (m *Meta) StreamBarriers(req *rpc.BarrierStreamRequest, stream rpc.BarrierStreamServer) error {
	ch := make(chan *rpc.BarrierCommand, 16)
	m.barrierMu.Lock()
	m.barrierSubs[req.WorkerID] = ch
	m.barrierMu.Unlock()

	defer func() {
		m.barrierMu.Lock()
		delete(m.barrierSubs, req.WorkerID)
		m.barrierMu.Unlock()
	}()

	for {
		select {
		case cmd, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(cmd); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// dispatchGroup drives one group's dispatcher until it runs out of tasks
// or idle compactors. A SendFailure result immediately retries, since the
// failed task was requeued and the offending compactor paused.
func (m *Meta) dispatchGroup(g *groupRuntime) {
	for {
		result, task, err := g.dispatcher.PickAndAssign()
		switch result {
		case compaction.AssignOK:
			if task != nil {
				m.mu.Lock()
				groupID := groupIDOf(m.groups, g)
				m.mu.Unlock()
				m.trackPending(groupID, *task, g.pool.AssignedTo(task.ID))
			}
		case compaction.AssignSendFailure:
			continue
		default:
			if err != nil {
				log.WithComponent("meta").Debug().Err(err).Msg("compaction dispatch idle")
			}
			return
		}
	}
}

// compactionTickLoop is the scheduler's fallback clock: it periodically
// re-scores every group against the current version and redrives dispatch,
// so a task cancelled by a send failure (or skipped because no compactor
// was idle) is retried without waiting for the next version delta.
func (m *Meta) compactionTickLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if !m.IsLeader() {
			continue
		}
		current, err := m.store.LoadVersion()
		if err != nil || current == nil {
			continue
		}
		m.mu.Lock()
		groups := make([]*groupRuntime, 0, len(m.groups))
		for _, g := range m.groups {
			g.sched.Refresh(*current)
			groups = append(groups, g)
		}
		m.mu.Unlock()
		for _, g := range groups {
			m.dispatchGroup(g)
		}
	}
}

// barrierInjectionLoop periodically advances the global epoch and pushes a
// barrier to every subscribed compute node. Every Nth tick is a
// checkpoint; the ticks in between seal epochs without forcing a storage
// sync.
func (m *Meta) barrierInjectionLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var epoch uint64
	var tick int
	for range ticker.C {
		if !m.IsLeader() {
			continue
		}
		epoch++
		tick++
		barrier := &streaming.Barrier{Epoch: epoch, Checkpoint: tick%5 == 0}
		cmd := &rpc.BarrierCommand{Barrier: *barrier}

		m.barrierMu.Lock()
		for workerID, ch := range m.barrierSubs {
			select {
			case ch <- cmd:
			default:
				log.WithComponent("meta").Warn().Str("worker_id", workerID).Msg("barrier subscriber channel full, dropping slow consumer")
			}
		}
		m.barrierMu.Unlock()
	}
}

// --- CompactorServer ----------------------------------------------------

var _ rpc.CompactorServer = (*Meta)(nil)

// GetCompactionTask long-polls for the compactor's next assignment: it
// first asks every compaction group's dispatcher to pick and assign a task
// (cheap, since PickAndAssign is non-blocking), then waits on its own
// connection's channel for whatever assignment lands there, whether from
// this call's own pick or a concurrent scheduler tick.
func (m *Meta) GetCompactionTask(ctx context.Context, req *rpc.GetCompactionTaskRequest) (*rpc.GetCompactionTaskResponse, error) {
	m.mu.Lock()
	conn, ok := m.compactorConns[req.CompactorID]
	if !ok {
		conn = newCompactorConn(req.CompactorID)
		m.compactorConns[req.CompactorID] = conn
	}
	groups := make([]*groupRuntime, 0, len(m.groups))
	for id, g := range m.groups {
		groups = append(groups, g)
		g.pool.Register(conn)
		_ = id
	}
	m.mu.Unlock()

	for _, g := range groups {
		m.dispatchGroup(g)
	}

	select {
	case task := <-conn.taskCh:
		return &rpc.GetCompactionTaskResponse{HasTask: true, Task: toTaskWire(task)}, nil
	case <-time.After(20 * time.Second):
		return &rpc.GetCompactionTaskResponse{HasTask: false}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func groupIDOf(groups map[uint64]*groupRuntime, target *groupRuntime) uint64 {
	for id, g := range groups {
		if g == target {
			return id
		}
	}
	return 0
}

func (m *Meta) trackPending(groupID uint64, task compaction.Task, compactorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingCompactionTasks[task.ID] = pendingTask{
		groupID:     groupID,
		task:        task,
		compactorID: compactorID,
		assignedAt:  time.Now(),
	}
}

func toTaskWire(t compaction.Task) rpc.TaskWire {
	return rpc.TaskWire{
		ID:                t.ID,
		InputLevel:        t.InputLevel,
		TargetLevel:       t.TargetLevel,
		Inputs:            t.Inputs,
		TargetLevelInputs: t.TargetLevelInputs,
	}
}

func (m *Meta) ReportCompactionTask(ctx context.Context, req *rpc.ReportCompactionTaskRequest) (*rpc.ReportCompactionTaskResponse, error) {
	_, err := m.ReportCompactionOutcome(ctx, &rpc.ReportCompactionOutcomeRequest{
		WorkerID: req.CompactorID,
		TaskID:   req.TaskID,
		Success:  req.Success,
		Output:   req.Output,
	})
	if err != nil {
		return nil, err
	}
	return &rpc.ReportCompactionTaskResponse{}, nil
}

// VacuumBatch is polled by a compactor to claim the object ids DeleteObjects
// queued for it. req.ObjectIDs (if any) are ids the compactor is confirming
// it has already deleted from a prior batch, purely informational since
// DeleteObjects already removed them from orphanCandidates when it queued
// them.
func (m *Meta) VacuumBatch(ctx context.Context, req *rpc.VacuumBatchRequest) (*rpc.VacuumBatchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.compactorConns[req.CompactorID]
	if !ok {
		conn = newCompactorConn(req.CompactorID)
		m.compactorConns[req.CompactorID] = conn
	}
	batch := conn.pendingVacuum
	conn.pendingVacuum = nil
	return &rpc.VacuumBatchResponse{Acked: batch}, nil
}

// --- reconciler.VacuumTarget --------------------------------------------

// vacuumTarget adapts *Meta to reconciler.VacuumTarget without pulling a
// reconciler import into Meta's own method set.
type vacuumTarget struct{ m *Meta }

// OrphanedObjects returns candidates old enough that any reader racing to
// pin the version that references them has had time to do so. It deletes
// nothing itself; DeleteObjects hands the ids to a compactor over
// VacuumBatch.
func (v vacuumTarget) OrphanedObjects() ([]uint64, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	now := time.Now()
	var ids []uint64
	for _, c := range v.m.orphanCandidates {
		if now.Sub(c.createdAt) >= orphanRetention {
			ids = append(ids, c.objectID)
		}
	}
	return ids, nil
}

// DeleteObjects queues ids onto a registered compactor's pendingVacuum
// batch, claimed on its next VacuumBatch poll, and drops them from
// orphanCandidates so the next vacuum cycle doesn't redispatch the same
// ids while that poll is still outstanding.
func (v vacuumTarget) DeleteObjects(ids []uint64) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()

	var handle *compactorConn
	for _, conn := range v.m.compactorConns {
		handle = conn
		break
	}
	if handle == nil {
		return fmt.Errorf("meta: no registered compactor to vacuum %d objects", len(ids))
	}
	handle.pendingVacuum = append(handle.pendingVacuum, ids...)

	toDelete := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		toDelete[id] = true
	}
	remaining := v.m.orphanCandidates[:0:0]
	for _, c := range v.m.orphanCandidates {
		if !toDelete[c.objectID] {
			remaining = append(remaining, c)
		}
	}
	v.m.orphanCandidates = remaining
	return nil
}

// UnhealthyWorkers folds one liveness observation per worker into its
// health.Status and returns the workers whose verdict just went unhealthy.
// A single stale heartbeat window is only a strike; the verdict flips
// after healthCfg.Retries consecutive stale cycles.
func (v vacuumTarget) UnhealthyWorkers(timeout time.Duration) ([]string, error) {
	workers, err := v.m.store.ListWorkers()
	if err != nil {
		return nil, err
	}
	var unhealthy []string
	now := time.Now()
	cutoff := now.Add(-timeout)
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	for _, w := range workers {
		if w.Status != types.NodeStatusHealthy {
			continue
		}
		st, ok := v.m.workerHealth[w.ID]
		if !ok {
			st = health.NewStatus()
			v.m.workerHealth[w.ID] = st
		}
		if st.InStartPeriod(v.m.healthCfg) {
			continue
		}
		st.Update(health.Result{Healthy: !w.LastHeartbeat.Before(cutoff), CheckedAt: now}, v.m.healthCfg)
		if !st.Healthy {
			unhealthy = append(unhealthy, w.ID)
		}
	}
	return unhealthy, nil
}

func (v vacuumTarget) MarkWorkerUnhealthy(workerID string) error {
	worker, err := v.m.store.GetWorker(workerID)
	if err != nil || worker == nil {
		return err
	}
	worker.Status = types.NodeStatusUnhealthy
	if err := v.m.Apply(opPutWorker, worker); err != nil {
		return err
	}
	v.m.mu.Lock()
	if conn, ok := v.m.compactorConns[workerID]; ok {
		for _, g := range v.m.groups {
			g.pool.Unregister(conn.ID())
		}
	}
	v.m.mu.Unlock()
	if v.m.eventBroker != nil {
		v.m.eventBroker.Publish(&events.Event{Type: events.EventNodeUnhealthy, Message: workerID})
	}
	return nil
}
