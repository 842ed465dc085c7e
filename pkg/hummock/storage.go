// Package hummock implements the compute-node-local read/write path over
// the LSM state store: a per-epoch shared buffer that batches writes in
// memory, the seal/sync lifecycle that flushes a sealed epoch's buffer into
// new L0 SSTables, and a point-get read path that checks the shared buffer
// before falling back to the version's on-disk levels, short-circuiting
// each candidate table with its Bloom filter.
package hummock

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/cascadedb/cascade/pkg/hummock/sstable"
	"github.com/cascadedb/cascade/pkg/hummock/version"
	"github.com/cascadedb/cascade/pkg/metrics"
)

// ObjectStore is the subset of pkg/objectstore.Store the state store needs:
// upload a built table's bytes under an object id, and fetch one back by
// id. Declared locally to avoid a storage<->objectstore import cycle risk
// as the module grows.
type ObjectStore interface {
	Upload(objectID uint64, data []byte) error
	Read(objectID uint64) ([]byte, error)
}

// VersionSource supplies the current pinned HummockVersion and a way to
// commit a newly flushed L0 table as a VersionDelta.
type VersionSource interface {
	CurrentVersion() version.HummockVersion
	CommitSync(maxSyncedEpoch uint64, newTable version.SSTableInfo) error
}

// batch holds one epoch's buffered writes in insertion order until
// SealEpoch sorts them by user key ascending, keeping only the last write
// of each key (matching memtable commit order).
type batch struct {
	epoch   uint64
	entries []sstable.Entry
}

// SharedBuffer buffers writes for epochs that haven't yet been synced
// (flushed to an SSTable and committed to the version manifest).
type SharedBuffer struct {
	mu        sync.RWMutex
	unsealed  map[uint64]*batch // epoch -> in-progress batch, still accepting writes
	sealed    []*batch          // sealed, ready to sync, oldest first
	sizeBytes int
}

// NewSharedBuffer returns an empty shared buffer.
func NewSharedBuffer() *SharedBuffer {
	return &SharedBuffer{unsealed: make(map[uint64]*batch)}
}

// Write appends one entry to the given epoch's in-progress batch. epoch
// must not already be sealed.
func (b *SharedBuffer) Write(epoch uint64, userKey, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bt, ok := b.unsealed[epoch]
	if !ok {
		bt = &batch{epoch: epoch}
		b.unsealed[epoch] = bt
	}
	bt.entries = append(bt.entries, sstable.Entry{UserKey: append([]byte(nil), userKey...), Epoch: epoch, Value: value})
	b.sizeBytes += len(userKey) + len(value)
	metrics.SharedBufferBytes.Set(float64(b.sizeBytes))
	return nil
}

// SealEpoch moves an epoch's in-progress batch to the sealed queue, sorting
// its entries by internal key for the upcoming sync. Called once the
// upstream barrier for this epoch has been collected, so no more writes
// will arrive for it.
func (b *SharedBuffer) SealEpoch(epoch uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bt, ok := b.unsealed[epoch]
	if !ok {
		return fmt.Errorf("hummock: epoch %d has no unsealed batch to seal", epoch)
	}
	delete(b.unsealed, epoch)
	sort.SliceStable(bt.entries, func(i, j int) bool {
		return bytes.Compare(
			sstable.EncodeInternalKey(bt.entries[i].UserKey, bt.entries[i].Epoch),
			sstable.EncodeInternalKey(bt.entries[j].UserKey, bt.entries[j].Epoch),
		) < 0
	})
	// Every entry carries this epoch, so writes to one key now sit next to
	// each other in insertion order; keep only the last of each.
	kept := bt.entries[:0]
	for _, e := range bt.entries {
		if n := len(kept); n > 0 && bytes.Equal(kept[n-1].UserKey, e.UserKey) {
			b.sizeBytes -= len(kept[n-1].UserKey) + len(kept[n-1].Value)
			kept[n-1] = e
			continue
		}
		kept = append(kept, e)
	}
	bt.entries = kept
	b.sealed = append(b.sealed, bt)
	return nil
}

// oldestSealed returns and removes the oldest sealed batch, or nil if none.
func (b *SharedBuffer) oldestSealed() *batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sealed) == 0 {
		return nil
	}
	bt := b.sealed[0]
	b.sealed = b.sealed[1:]
	b.sizeBytes -= batchBytes(bt)
	metrics.SharedBufferBytes.Set(float64(b.sizeBytes))
	return bt
}

func batchBytes(bt *batch) int {
	n := 0
	for _, e := range bt.entries {
		n += len(e.UserKey) + len(e.Value)
	}
	return n
}

// get scans every sealed and unsealed batch of the shared buffer and returns
// the entry at userKey with the highest epoch <= atEpoch (for equal epochs,
// the later entry wins).
func (b *SharedBuffer) get(userKey []byte, atEpoch uint64) (value []byte, found, isDelete bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	scan := func(entries []sstable.Entry) (bestEpoch uint64, value []byte, found, isDelete bool) {
		for _, e := range entries {
			if !bytes.Equal(e.UserKey, userKey) || e.Epoch > atEpoch {
				continue
			}
			if e.Epoch >= bestEpoch {
				bestEpoch = e.Epoch
				found = true
				isDelete = e.Value == nil
				value = e.Value
			}
		}
		return
	}

	var bestEpoch uint64
	for _, bt := range b.sealed {
		if e, v, f, d := scan(bt.entries); f && e >= bestEpoch {
			bestEpoch, value, found, isDelete = e, v, f, d
		}
	}
	for _, bt := range b.unsealed {
		if e, v, f, d := scan(bt.entries); f && e >= bestEpoch {
			bestEpoch, value, found, isDelete = e, v, f, d
		}
	}
	return value, found, isDelete
}

// Storage is the compute-node-local handle to the LSM state store: writes
// land in the shared buffer; seal/sync moves a completed epoch out to a new
// L0 SSTable and commits it to the cluster-wide version; reads check the
// shared buffer first, then each on-disk level in newest-to-oldest order
// (L0 newest-first, L1+ via their sorted, non-overlapping key ranges).
type Storage struct {
	buf     *SharedBuffer
	objects ObjectStore
	source  VersionSource

	mu         sync.Mutex
	nextObjID  uint64
}

// NewStorage wires a Storage over an object store and version source.
func NewStorage(objects ObjectStore, source VersionSource) *Storage {
	return &Storage{
		buf:     NewSharedBuffer(),
		objects: objects,
		source:  source,
	}
}

// Write buffers one write at epoch.
func (s *Storage) Write(epoch uint64, userKey, value []byte) error {
	return s.buf.Write(epoch, userKey, value)
}

// SealEpoch seals epoch's writes so Sync can flush them.
func (s *Storage) SealEpoch(epoch uint64) error {
	return s.buf.SealEpoch(epoch)
}

// Sync flushes the oldest sealed epoch's batch to a new SSTable and commits
// it as an L0 insertion in the version manifest. Returns ok=false if there
// is no sealed batch waiting.
func (s *Storage) Sync(maxSyncedEpoch uint64) (ok bool, err error) {
	bt := s.buf.oldestSealed()
	if bt == nil {
		return false, nil
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SyncDuration)

	builder := sstable.NewBuilder()
	for _, e := range bt.entries {
		if err := builder.Add(e); err != nil {
			return false, fmt.Errorf("hummock: sync epoch %d: %w", bt.epoch, err)
		}
	}
	if builder.Empty() {
		return true, nil
	}
	file, _, blocks, err := builder.Finish()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.nextObjID++
	objID := s.nextObjID
	s.mu.Unlock()

	if err := s.objects.Upload(objID, file); err != nil {
		return false, fmt.Errorf("hummock: upload table for epoch %d: %w", bt.epoch, err)
	}

	smallest, _ := sstable.SplitInternalKey(blocks[0].SmallestKey)
	largest, _ := sstable.SplitInternalKey(blocks[len(blocks)-1].LargestKey)
	info := version.SSTableInfo{
		ID:          objID,
		ObjectID:     objID,
		FileSize:    uint64(len(file)),
		SmallestKey: smallest,
		LargestKey:  largest,
		MinEpoch:    bt.epoch,
		MaxEpoch:    bt.epoch,
	}
	if err := s.source.CommitSync(maxSyncedEpoch, info); err != nil {
		return false, fmt.Errorf("hummock: commit sync for epoch %d: %w", bt.epoch, err)
	}
	return true, nil
}

// Get reads the newest value visible at userKey as of atEpoch: the shared
// buffer first, then L0 (newest table first), then each sorted level.
func (s *Storage) Get(userKey []byte, atEpoch uint64) ([]byte, bool, error) {
	if v, found, isDelete := s.buf.get(userKey, atEpoch); found {
		if isDelete {
			return nil, false, nil
		}
		return v, true, nil
	}

	v := s.source.CurrentVersion()
	for _, lvl := range v.Levels {
		for _, t := range lvl.Tables {
			if bytes.Compare(userKey, t.SmallestKey) < 0 || bytes.Compare(userKey, t.LargestKey) > 0 {
				continue
			}
			data, err := s.objects.Read(t.ObjectID)
			if err != nil {
				return nil, false, fmt.Errorf("hummock: read object %d: %w", t.ObjectID, err)
			}
			reader, err := sstable.OpenReader(data)
			if err != nil {
				return nil, false, err
			}
			value, found, isDelete, err := reader.Get(userKey, atEpoch)
			if err != nil {
				return nil, false, err
			}
			if found {
				return value, true, nil
			}
			if isDelete {
				return nil, false, nil
			}
		}
	}
	return nil, false, nil
}
