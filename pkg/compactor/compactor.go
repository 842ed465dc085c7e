// Package compactor implements the Compactor node role: a stateless
// process that registers with Meta, heartbeats, long-polls for a
// compaction or vacuum task, performs it against the shared object store,
// and reports the outcome.
package compactor

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/cascadedb/cascade/pkg/hummock/sstable"
	"github.com/cascadedb/cascade/pkg/hummock/version"
	"github.com/cascadedb/cascade/pkg/log"
	"github.com/cascadedb/cascade/pkg/metrics"
	"github.com/cascadedb/cascade/pkg/objectstore"
	"github.com/cascadedb/cascade/pkg/rpc"
)

const (
	heartbeatInterval = 5 * time.Second
	pollTimeout       = 30 * time.Second
	vacuumInterval    = 10 * time.Second
)

// Compactor pulls compaction and vacuum tasks from Meta and executes them
// against a local view of the shared object store. Meta
// serves both rpc.MetaServer (register/heartbeat/report outcome) and
// rpc.CompactorServer (task pull/vacuum) off the same listener, so a single
// dialed connection backs both client stubs here.
type Compactor struct {
	id        string
	host      string
	meta      *rpc.MetaClient
	compactor *rpc.CompactorClient
	objects   *objectstore.Store
	logger    zerolog.Logger
}

// New constructs a Compactor identified by id (its worker id, assigned by
// Meta on first RegisterWorker if empty) and host (the address other nodes
// would dial to reach it, unused today since compactors only ever dial out
// to Meta, but carried for parity with Compute's registration record). cc
// may be nil in tests that only exercise runCompaction/mergeInputs directly.
func New(id, host string, cc *grpc.ClientConn, objects *objectstore.Store) *Compactor {
	return &Compactor{
		id:        id,
		host:      host,
		meta:      rpc.NewMetaClient(cc),
		compactor: rpc.NewCompactorClient(cc),
		objects:   objects,
		logger:    log.WithComponent("compactor"),
	}
}

// Run registers with Meta and blocks serving the pull loop and heartbeat
// until ctx is cancelled.
func (c *Compactor) Run(ctx context.Context) error {
	resp, err := c.meta.RegisterWorker(ctx, &rpc.RegisterWorkerRequest{NodeID: c.id, Role: "compactor", Host: c.host})
	if err != nil {
		return fmt.Errorf("compactor: register with meta: %w", err)
	}
	c.id = resp.WorkerID
	c.logger = c.logger.With().Str("compactor_id", c.id).Logger()
	c.logger.Info().Msg("compactor registered")

	go c.heartbeatLoop(ctx)
	go c.vacuumLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.pollOnce(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("compaction poll failed, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *Compactor) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.meta.Heartbeat(ctx, &rpc.HeartbeatRequest{WorkerID: c.id}); err != nil {
				c.logger.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// vacuumLoop periodically polls VacuumBatch for object ids Meta's vacuum
// reconciler has queued for this compactor and deletes them locally.
func (c *Compactor) vacuumLoop(ctx context.Context) {
	ticker := time.NewTicker(vacuumInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runVacuumBatch(ctx)
		}
	}
}

func (c *Compactor) runVacuumBatch(ctx context.Context) {
	resp, err := c.compactor.VacuumBatch(ctx, &rpc.VacuumBatchRequest{CompactorID: c.id})
	if err != nil {
		c.logger.Warn().Err(err).Msg("vacuum batch poll failed")
		return
	}
	for _, id := range resp.Acked {
		if err := c.objects.Delete(id); err != nil {
			c.logger.Warn().Err(err).Uint64("object_id", id).Msg("vacuum delete failed")
			continue
		}
		metrics.ObjectsDeletedTotal.Inc()
	}
}

// pollOnce long-polls GetCompactionTask; a timeout with no task is not an
// error, just another iteration of the outer loop.
func (c *Compactor) pollOnce(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout+5*time.Second)
	defer cancel()

	resp, err := c.compactor.GetCompactionTask(pollCtx, &rpc.GetCompactionTaskRequest{CompactorID: c.id})
	if err != nil {
		return err
	}
	if !resp.HasTask {
		return nil
	}

	task := resp.Task
	logger := c.logger.With().Uint64("task_id", task.ID).Int("input_level", task.InputLevel).Int("target_level", task.TargetLevel).Logger()
	logger.Info().Int("inputs", len(task.Inputs)).Int("target_inputs", len(task.TargetLevelInputs)).Msg("running compaction task")

	timer := metrics.NewTimer()
	outputs, err := c.runCompaction(task)
	timer.ObserveDurationVec(metrics.CompactionDuration, levelLabel(task.TargetLevel))
	if err != nil {
		logger.Error().Err(err).Msg("compaction task failed")
		_, reportErr := c.compactor.ReportCompactionTask(ctx, &rpc.ReportCompactionTaskRequest{
			CompactorID: c.id, TaskID: task.ID, Success: false,
		})
		return reportErr
	}

	logger.Info().Int("outputs", len(outputs)).Msg("compaction task finished")
	_, err = c.compactor.ReportCompactionTask(ctx, &rpc.ReportCompactionTaskRequest{
		CompactorID: c.id, TaskID: task.ID, Success: true, Output: outputs,
	})
	return err
}

// runCompaction merges every entry across task.Inputs and
// task.TargetLevelInputs, keeping only the newest version of each user key
// (tombstones included; none is dropped), then re-splits the merged stream
// into output tables of at most maxOutputFileEntries entries, uploaded
// under freshly minted object ids.
func (c *Compactor) runCompaction(task rpc.TaskWire) ([]version.SSTableInfo, error) {
	all := task.Inputs
	all = append(append([]version.SSTableInfo(nil), all...), task.TargetLevelInputs...)

	entries, err := c.mergeInputs(all)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	// Deep-level outputs are written once and read for a long time, so pay
	// for zstd's better ratio there; outputs targeting L0 or L1 stay on lz4
	// to keep checkpoint-driven compaction cheap.
	codec := sstable.CodecLZ4
	if task.TargetLevel >= 2 {
		codec = sstable.CodecZstd
	}
	builder := sstable.NewBuilderWithCodec(codec)
	var outputs []version.SSTableInfo
	var pending int
	var minEpoch, maxEpoch uint64
	flush := func() error {
		if builder.Empty() {
			return nil
		}
		file, _, blocks, err := builder.Finish()
		if err != nil {
			return err
		}
		objID, err := newObjectID()
		if err != nil {
			return err
		}
		if err := c.objects.Upload(objID, file); err != nil {
			return fmt.Errorf("compactor: upload compacted table: %w", err)
		}
		smallest, _ := sstable.SplitInternalKey(blocks[0].SmallestKey)
		largest, _ := sstable.SplitInternalKey(blocks[len(blocks)-1].LargestKey)
		outputs = append(outputs, version.SSTableInfo{
			ID:          objID,
			ObjectID:    objID,
			FileSize:    uint64(len(file)),
			SmallestKey: smallest,
			LargestKey:  largest,
			MinEpoch:    minEpoch,
			MaxEpoch:    maxEpoch,
		})
		builder = sstable.NewBuilderWithCodec(codec)
		pending = 0
		minEpoch, maxEpoch = 0, 0
		return nil
	}

	for _, e := range entries {
		if err := builder.Add(e); err != nil {
			return nil, fmt.Errorf("compactor: append merged entry: %w", err)
		}
		if pending == 0 || e.Epoch < minEpoch {
			minEpoch = e.Epoch
		}
		if e.Epoch > maxEpoch {
			maxEpoch = e.Epoch
		}
		pending++
		// Builder internally seals blocks at its own target size; a
		// compaction task additionally caps an individual output file at
		// maxOutputFileEntries so no single compacted SST grows unbounded
		// across very large inputs.
		if pending >= maxOutputFileEntries {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// maxOutputFileEntries bounds a single compaction output file; chosen so a
// multi-GB input level still yields several manageable output SSTs rather
// than one oversized file.
const maxOutputFileEntries = 1 << 16

// mergeInputs reads every input table, merges all entries in internal-key
// order (ascending user key, then newest epoch first), and keeps only the
// newest entry for each user key. A tombstone that is the newest entry for
// its key is kept like any other value: this package has no visibility into
// whether TargetLevel is the tree's last occupied level, so it never drops
// tombstones.
func (c *Compactor) mergeInputs(tables []version.SSTableInfo) ([]sstable.Entry, error) {
	var all []sstable.Entry
	for _, t := range tables {
		data, err := c.objects.Read(t.ObjectID)
		if err != nil {
			return nil, fmt.Errorf("compactor: read input object %d: %w", t.ObjectID, err)
		}
		reader, err := sstable.OpenReader(data)
		if err != nil {
			return nil, fmt.Errorf("compactor: open input table %d: %w", t.ID, err)
		}
		es, err := reader.AllEntries()
		if err != nil {
			return nil, fmt.Errorf("compactor: decode input table %d: %w", t.ID, err)
		}
		all = append(all, es...)
	}

	sort.Slice(all, func(i, j int) bool {
		if c := compareBytes(all[i].UserKey, all[j].UserKey); c != 0 {
			return c < 0
		}
		return all[i].Epoch > all[j].Epoch // newest epoch first within a key
	})

	merged := make([]sstable.Entry, 0, len(all))
	for i, e := range all {
		if i > 0 && compareBytes(e.UserKey, all[i-1].UserKey) == 0 {
			// A strictly older entry for a key already covered by a newer
			// one is fully shadowed; drop it rather than re-adding it to
			// the merged output.
			continue
		}
		merged = append(merged, e)
	}
	return merged, nil
}

func levelLabel(levelIdx int) string {
	if levelIdx == 0 {
		return "L0"
	}
	return fmt.Sprintf("L%d", levelIdx)
}

func compareBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

// newObjectID mints a fresh object id for a compaction output table. Unlike
// a compute node's per-process Storage.nextObjID counter, a compactor has
// no single owner to sequence against (many compactors run concurrently
// against the same object store), so ids are drawn from a random 64-bit
// space instead, the same crypto/rand-backed idiom pkg/meta's TokenManager
// and pkg/security use for unguessable identifiers.
func newObjectID() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("compactor: generate object id: %w", err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
