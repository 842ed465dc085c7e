// Package compaction implements the dynamic-level compaction selector: the
// scoring function that decides which level most needs compacting, the
// tier and min-overlapping pickers that turn a chosen level into a concrete
// set of input tables, and the scheduler and dispatcher that drive
// compactor nodes. The selector follows RocksDB's dynamic leveled
// compaction scheme.
package compaction

// Config holds the tunables the level selector and pickers need.
type Config struct {
	MaxLevel                  int
	MaxBytesForLevelBase       uint64
	MaxBytesForLevelMultiplier uint64
	Level0TriggerNumber        uint64
	Level0MaxFileNumber        int
	SizeRatio                  uint64 // percent tolerance for tier grouping
}

// DefaultConfig returns the standard single-tenant tuning.
func DefaultConfig() Config {
	return Config{
		MaxLevel:                   6,
		MaxBytesForLevelBase:       256 << 20, // 256MiB
		MaxBytesForLevelMultiplier: 5,
		Level0TriggerNumber:        4,
		Level0MaxFileNumber:        16,
		SizeRatio:                  100,
	}
}
