// Package version models HummockVersion: the meta node's manifest of which
// SSTables exist and which level of the LSM tree they belong to, plus the
// append-only log of VersionDelta records compute/compactor nodes replay to
// stay in sync without re-fetching the whole manifest on every change.
package version

import (
	"fmt"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// SSTableInfo describes one on-disk table object.
type SSTableInfo struct {
	ID          uint64
	ObjectID    uint64 // object-store key; distinct from ID so compaction can
	                   // rewrite the manifest entry without re-uploading
	FileSize    uint64
	SmallestKey []byte
	LargestKey  []byte
	// MinEpoch/MaxEpoch bound the epochs of entries within this table.
	MinEpoch uint64
	MaxEpoch uint64
}

// Level is one numbered level of the tree. Level 0 is unsorted (tables may
// overlap in key range and are ordered newest-first); levels 1+ are sorted
// and non-overlapping.
type Level struct {
	LevelIdx int
	Tables   []SSTableInfo
}

// TotalFileSize sums the file size of every table in the level.
func (l Level) TotalFileSize() uint64 {
	var sum uint64
	for _, t := range l.Tables {
		sum += t.FileSize
	}
	return sum
}

// HummockVersion is one immutable snapshot of the LSM tree's shape plus the
// epoch watermark up to which all compute nodes have synced their shared
// buffer. compactors and compute nodes pin a version id to keep its tables
// from being vacuumed while they're reading it.
type HummockVersion struct {
	ID          uint64
	MaxSyncedEpoch uint64
	Levels      []Level
}

// NewEmpty returns the version a freshly created compaction group starts
// from: maxLevel+1 empty levels (L0..Lmax).
func NewEmpty(maxLevel int) HummockVersion {
	levels := make([]Level, maxLevel+1)
	for i := range levels {
		levels[i] = Level{LevelIdx: i}
	}
	return HummockVersion{Levels: levels}
}

// DeltaOp is one atomic change a VersionDelta applies to a level.
type DeltaOp int

const (
	// OpInsert adds new tables to a level (a flush, or a compaction's
	// output tables).
	OpInsert DeltaOp = iota
	// OpDelete removes tables from a level (compaction input tables).
	OpDelete
)

// LevelDelta is the set of table insertions/deletions for one level within
// a single VersionDelta.
type LevelDelta struct {
	LevelIdx     int
	InsertTables []SSTableInfo
	DeleteIDs    []uint64
}

// VersionDelta is the unit of replication: meta produces one per shared
// buffer sync (L0 insert) or compaction task completion (delete input
// tables from their levels, insert output tables into the target level).
type VersionDelta struct {
	ID             uint64
	PrevID         uint64
	MaxSyncedEpoch uint64
	LevelDeltas    []LevelDelta
}

// Apply returns the version that results from applying delta to v. v is not
// mutated; callers that want copy-on-write sharing across concurrently
// pinned versions should treat the result as a wholly new HummockVersion.
func (v HummockVersion) Apply(delta VersionDelta) (HummockVersion, error) {
	if delta.PrevID != v.ID {
		return HummockVersion{}, fmt.Errorf("version: delta prev_id %d does not match current version %d", delta.PrevID, v.ID)
	}
	next := HummockVersion{
		ID:             delta.ID,
		MaxSyncedEpoch: delta.MaxSyncedEpoch,
		Levels:         make([]Level, len(v.Levels)),
	}
	copy(next.Levels, v.Levels)

	for _, ld := range delta.LevelDeltas {
		if ld.LevelIdx >= len(next.Levels) {
			return HummockVersion{}, fmt.Errorf("version: level index %d out of range", ld.LevelIdx)
		}
		lvl := next.Levels[ld.LevelIdx]
		if len(ld.DeleteIDs) > 0 {
			deleted := make(map[uint64]bool, len(ld.DeleteIDs))
			for _, id := range ld.DeleteIDs {
				deleted[id] = true
			}
			kept := lvl.Tables[:0:0]
			for _, t := range lvl.Tables {
				if !deleted[t.ID] {
					kept = append(kept, t)
				}
			}
			lvl.Tables = kept
		}
		if len(ld.InsertTables) > 0 {
			if ld.LevelIdx == 0 {
				// L0 tables are kept newest-first: prepend.
				lvl.Tables = append(append([]SSTableInfo{}, ld.InsertTables...), lvl.Tables...)
			} else {
				// Copy before sorting so v's backing array is never written.
				lvl.Tables = append(append([]SSTableInfo{}, lvl.Tables...), ld.InsertTables...)
				sortTablesByKey(lvl.Tables)
			}
		}
		next.Levels[ld.LevelIdx] = lvl
	}
	return next, nil
}

func sortTablesByKey(tables []SSTableInfo) {
	for i := 1; i < len(tables); i++ {
		for j := i; j > 0 && string(tables[j].SmallestKey) < string(tables[j-1].SmallestKey); j-- {
			tables[j], tables[j-1] = tables[j-1], tables[j]
		}
	}
}

// KeyIndex is an immutable radix-tree index from a table's smallest key to
// its SSTableInfo over one sorted, non-overlapping level. BuildKeyIndex
// builds a fresh tree on each call, and Lookup walks every entry rather
// than binary-searching.
type KeyIndex struct {
	tree *iradix.Tree
}

// BuildKeyIndex constructs a KeyIndex over a sorted, non-overlapping level.
func BuildKeyIndex(level Level) KeyIndex {
	tree := iradix.New()
	for _, t := range level.Tables {
		tree, _, _ = tree.Insert(t.SmallestKey, t)
	}
	return KeyIndex{tree: tree}
}

// Lookup returns the table whose key range contains key, if any.
func (k KeyIndex) Lookup(key []byte) (SSTableInfo, bool) {
	root := k.tree.Root()
	var best SSTableInfo
	found := false
	root.Walk(func(k []byte, v interface{}) bool {
		t := v.(SSTableInfo)
		if string(key) >= string(t.SmallestKey) && string(key) <= string(t.LargestKey) {
			best = t
			found = true
		}
		return false
	})
	return best, found
}
