package compaction

import (
	"bytes"

	"github.com/cascadedb/cascade/pkg/hummock/version"
)

// Task describes one compaction job: input tables pulled from inputLevel
// (and, for a tiering task, overlapping tables already resident in
// targetLevel), to be merged and rewritten as new tables in targetLevel.
type Task struct {
	ID          uint64
	InputLevel  int
	TargetLevel int
	Inputs      []version.SSTableInfo
	// TargetLevelInputs holds tables already in TargetLevel that overlap
	// the input key range and must be merged in too (empty when nothing in
	// TargetLevel overlaps the inputs).
	TargetLevelInputs []version.SSTableInfo
}

func keyRangesOverlap(aLo, aHi, bLo, bHi []byte) bool {
	return bytes.Compare(aLo, bHi) <= 0 && bytes.Compare(bLo, aHi) <= 0
}

func tableRange(tables []version.SSTableInfo) (lo, hi []byte) {
	for i, t := range tables {
		if i == 0 || bytes.Compare(t.SmallestKey, lo) < 0 {
			lo = t.SmallestKey
		}
		if i == 0 || bytes.Compare(t.LargestKey, hi) > 0 {
			hi = t.LargestKey
		}
	}
	return
}

func overlappingTables(tables []version.SSTableInfo, lo, hi []byte) []version.SSTableInfo {
	var out []version.SSTableInfo
	for _, t := range tables {
		if keyRangesOverlap(t.SmallestKey, t.LargestKey, lo, hi) {
			out = append(out, t)
		}
	}
	return out
}

// PickTierCompaction forms an L0-to-targetLevel task: every idle L0 table
// (newest-first, so the merge sees the right MVCC order) plus whichever
// tables in targetLevel overlap their combined key range.
func PickTierCompaction(taskID uint64, l0 version.Level, target version.Level, targetLevel int, pending PendingCompact) (Task, bool) {
	var idle []version.SSTableInfo
	for _, t := range l0.Tables {
		if pending != nil && pending(0, t.ID) {
			continue
		}
		idle = append(idle, t)
	}
	if len(idle) == 0 {
		return Task{}, false
	}
	lo, hi := tableRange(idle)
	overlap := overlappingTables(target.Tables, lo, hi)
	return Task{
		ID:                taskID,
		InputLevel:        0,
		TargetLevel:       targetLevel,
		Inputs:            idle,
		TargetLevelInputs: overlap,
	}, true
}

// PickMinOverlappingCompaction picks one table from a sorted input level
// (the one whose overlap with the next level is smallest, to bound write
// amplification) and every table in the next level overlapping it.
func PickMinOverlappingCompaction(taskID uint64, input version.Level, target version.Level, pending PendingCompact) (Task, bool) {
	var best *version.SSTableInfo
	bestOverlapBytes := ^uint64(0)
	var bestOverlap []version.SSTableInfo

	for i, t := range input.Tables {
		if pending != nil && pending(input.LevelIdx, t.ID) {
			continue
		}
		overlap := overlappingTables(target.Tables, t.SmallestKey, t.LargestKey)
		var overlapBytes uint64
		for _, o := range overlap {
			overlapBytes += o.FileSize
		}
		if best == nil || overlapBytes < bestOverlapBytes {
			best = &input.Tables[i]
			bestOverlapBytes = overlapBytes
			bestOverlap = overlap
		}
	}
	if best == nil {
		return Task{}, false
	}
	return Task{
		ID:                taskID,
		InputLevel:        input.LevelIdx,
		TargetLevel:       target.LevelIdx,
		Inputs:            []version.SSTableInfo{*best},
		TargetLevelInputs: bestOverlap,
	}, true
}
