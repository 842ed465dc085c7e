package compaction

import (
	"sort"

	"github.com/cascadedb/cascade/pkg/hummock/version"
)

// scoreBase is the "no compaction needed" baseline score. A level scores
// above scoreBase once its occupancy exceeds its target capacity.
const scoreBase = 100

// selectContext is the per-invocation scratch state calculateLevelBaseSize
// and scoreLevels build up.
type selectContext struct {
	levelMaxBytes []uint64
	baseLevel     int
	scoreLevels   []scoredLevel
}

type scoredLevel struct {
	score    uint64
	levelIdx int
}

// Selector picks which level of a compaction group most urgently needs
// compaction, weighing L0's file count against every other level's
// occupancy relative to its target size.
type Selector struct {
	cfg Config
}

// NewSelector returns a Selector configured by cfg.
func NewSelector(cfg Config) *Selector {
	return &Selector{cfg: cfg}
}

// PendingCompact reports, for each level, which table ids already have a
// compaction task in flight against them — the selector must not pick
// tables that are already being compacted.
type PendingCompact func(levelIdx int, tableID uint64) bool

// NeedsCompaction reports whether any level's score exceeds scoreBase.
func (s *Selector) NeedsCompaction(levels []version.Level, pending PendingCompact) bool {
	ctx := s.scoreLevels(levels, pending)
	return len(ctx.scoreLevels) > 0 && ctx.scoreLevels[0].score > scoreBase
}

// PickLevel returns the level index most in need of compaction and the
// base level computed for the current data distribution (needed by the
// caller to choose tier vs. min-overlap picking), or ok=false if nothing
// needs compacting.
func (s *Selector) PickLevel(levels []version.Level, pending PendingCompact) (levelIdx, baseLevel int, ok bool) {
	ctx := s.scoreLevels(levels, pending)
	for _, sl := range ctx.scoreLevels {
		if sl.score <= scoreBase {
			return 0, 0, false
		}
		return sl.levelIdx, ctx.baseLevel, true
	}
	return 0, 0, false
}

// calculateLevelBaseSize computes the target byte size for each level,
// following RocksDB's dynamic-level-size algorithm: find the deepest
// non-empty level, then derive the base level (the shallowest level that
// should hold data at all) and each level's multiplier-scaled target size
// working down from the bottom.
func (s *Selector) calculateLevelBaseSize(levels []version.Level) selectContext {
	var ctx selectContext
	ctx.levelMaxBytes = make([]uint64, s.cfg.MaxLevel+1)
	for i := range ctx.levelMaxBytes {
		ctx.levelMaxBytes[i] = ^uint64(0)
	}

	firstNonEmptyLevel := 0
	var maxLevelSize, l0Size uint64
	for _, lvl := range levels {
		total := lvl.TotalFileSize()
		if lvl.LevelIdx > 0 {
			if total > 0 && firstNonEmptyLevel == 0 {
				firstNonEmptyLevel = lvl.LevelIdx
			}
			if total > maxLevelSize {
				maxLevelSize = total
			}
		} else {
			l0Size = total
		}
	}

	if maxLevelSize == 0 {
		ctx.baseLevel = s.cfg.MaxLevel
		return ctx
	}

	baseBytesMax := s.cfg.MaxBytesForLevelBase
	if l0Size > baseBytesMax {
		baseBytesMax = l0Size
	}
	baseBytesMin := baseBytesMax / s.cfg.MaxBytesForLevelMultiplier

	curLevelSize := maxLevelSize
	for i := firstNonEmptyLevel; i < s.cfg.MaxLevel; i++ {
		curLevelSize /= s.cfg.MaxBytesForLevelMultiplier
	}

	var baseLevelSize uint64
	if curLevelSize <= baseBytesMin {
		ctx.baseLevel = firstNonEmptyLevel
		baseLevelSize = baseBytesMin + 1
	} else {
		ctx.baseLevel = firstNonEmptyLevel
		for ctx.baseLevel > 1 && curLevelSize > baseBytesMax {
			ctx.baseLevel--
			curLevelSize /= s.cfg.MaxBytesForLevelMultiplier
		}
		if baseBytesMax < curLevelSize {
			baseLevelSize = baseBytesMax
		} else {
			baseLevelSize = curLevelSize
		}
	}

	levelSize := baseLevelSize
	for i := ctx.baseLevel; i <= s.cfg.MaxLevel; i++ {
		if levelSize > baseBytesMax {
			ctx.levelMaxBytes[i] = levelSize
		} else {
			ctx.levelMaxBytes[i] = baseBytesMax
		}
		levelSize = uint64(float64(levelSize) * float64(s.cfg.MaxBytesForLevelMultiplier))
	}
	return ctx
}

func (s *Selector) scoreLevels(levels []version.Level, pending PendingCompact) selectContext {
	ctx := s.calculateLevelBaseSize(levels)

	for _, lvl := range levels {
		if lvl.LevelIdx >= s.cfg.MaxLevel {
			continue // the bottommost level is never an input level
		}
		var totalSize uint64
		var idleFileCount uint64
		for _, t := range lvl.Tables {
			if pending != nil && pending(lvl.LevelIdx, t.ID) {
				continue
			}
			totalSize += t.FileSize
			idleFileCount++
		}
		if totalSize == 0 {
			continue
		}
		if lvl.LevelIdx == 0 {
			score := idleFileCount*scoreBase/s.cfg.Level0TriggerNumber + idleFileCount + scoreBase
			bySize := totalSize * scoreBase / s.cfg.MaxBytesForLevelBase
			if bySize > score {
				score = bySize
			}
			ctx.scoreLevels = append(ctx.scoreLevels, scoredLevel{score, 0})
		} else {
			ctx.scoreLevels = append(ctx.scoreLevels, scoredLevel{
				totalSize * scoreBase / ctx.levelMaxBytes[lvl.LevelIdx],
				lvl.LevelIdx,
			})
		}
	}

	sort.Slice(ctx.scoreLevels, func(i, j int) bool {
		return ctx.scoreLevels[i].score > ctx.scoreLevels[j].score
	})
	return ctx
}
