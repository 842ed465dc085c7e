// Package reconciler implements the vacuum loop: a periodic background pass
// that finds SSTable objects no longer referenced by any live HummockVersion
// snapshot and deletes them from the object store, and marks workers that
// have stopped heartbeating as unhealthy.
package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cascadedb/cascade/pkg/log"
	"github.com/cascadedb/cascade/pkg/metrics"
)

// VacuumTarget is the subset of meta-node state the vacuum loop acts on.
// Kept as an interface (rather than importing pkg/meta or pkg/hummock
// directly) so this package has no dependency on the storage engine's
// internal types.
type VacuumTarget interface {
	// OrphanedObjects returns SSTable object ids that are not referenced by
	// any checkpoint or pinned version snapshot.
	OrphanedObjects() ([]uint64, error)
	// DeleteObjects hands the given SSTable object ids off for deletion from
	// the object store (Meta queues them for a compactor's next VacuumBatch
	// poll) and stops tracking them as orphan candidates.
	DeleteObjects(ids []uint64) error
	// UnhealthyWorkers returns the ids of workers whose last heartbeat
	// exceeded the liveness timeout.
	UnhealthyWorkers(timeout time.Duration) ([]string, error)
	// MarkWorkerUnhealthy marks a worker unhealthy and removes it from
	// compaction task assignment; its actors and in-flight tasks are not
	// reassigned.
	MarkWorkerUnhealthy(workerID string) error
}

// Reconciler runs the vacuum loop against a VacuumTarget.
type Reconciler struct {
	target  VacuumTarget
	logger  zerolog.Logger
	mu      sync.Mutex
	stopCh  chan struct{}
	period  time.Duration
	timeout time.Duration
}

// New creates a new Reconciler. period is the vacuum cycle interval; timeout
// is how long a worker may go without a heartbeat before it's marked
// unhealthy.
func New(target VacuumTarget, period, timeout time.Duration) *Reconciler {
	return &Reconciler{
		target:  target,
		logger:  log.WithComponent("vacuum"),
		stopCh:  make(chan struct{}),
		period:  period,
		timeout: timeout,
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	r.logger.Info().Msg("vacuum loop started")

	for {
		select {
		case <-ticker.C:
			if err := r.cycle(); err != nil {
				r.logger.Error().Err(err).Msg("vacuum cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("vacuum loop stopped")
			return
		}
	}
}

func (r *Reconciler) cycle() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.VacuumDuration)
		metrics.VacuumCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.vacuumOrphanedObjects(); err != nil {
		r.logger.Error().Err(err).Msg("failed to vacuum orphaned objects")
	}
	if err := r.reconcileWorkers(); err != nil {
		r.logger.Error().Err(err).Msg("failed to reconcile workers")
	}
	return nil
}

func (r *Reconciler) vacuumOrphanedObjects() error {
	ids, err := r.target.OrphanedObjects()
	if err != nil {
		return fmt.Errorf("list orphaned objects: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	r.logger.Info().Int("count", len(ids)).Msg("deleting orphaned sstable objects")
	if err := r.target.DeleteObjects(ids); err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	metrics.ObjectsDeletedTotal.Add(float64(len(ids)))
	return nil
}

func (r *Reconciler) reconcileWorkers() error {
	unhealthy, err := r.target.UnhealthyWorkers(r.timeout)
	if err != nil {
		return fmt.Errorf("list unhealthy workers: %w", err)
	}
	for _, id := range unhealthy {
		r.logger.Warn().Str("worker_id", id).Msg("worker missed heartbeat, marking unhealthy")
		if err := r.target.MarkWorkerUnhealthy(id); err != nil {
			r.logger.Error().Err(err).Str("worker_id", id).Msg("failed to mark worker unhealthy")
		}
	}
	return nil
}
