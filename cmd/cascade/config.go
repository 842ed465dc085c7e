package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cascadedb/cascade/pkg/compaction"
)

// nodeConfig is the optional YAML bootstrap file every subcommand accepts
// via --config. Command-line flags win over file values; file values win
// over built-in defaults. Only the fields a given role reads matter for
// that role — a shared file can configure a whole cluster.
type nodeConfig struct {
	DataDir     string `yaml:"data_dir"`
	RPCAddr     string `yaml:"rpc_addr"`
	MetaAddr    string `yaml:"meta_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	Vacuum struct {
		Period           time.Duration `yaml:"period"`
		HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	} `yaml:"vacuum"`

	Compaction struct {
		MaxLevel                   int    `yaml:"max_level"`
		MaxBytesForLevelBase       uint64 `yaml:"max_bytes_for_level_base"`
		MaxBytesForLevelMultiplier uint64 `yaml:"max_bytes_for_level_multiplier"`
		Level0TriggerNumber        uint64 `yaml:"level0_trigger_number"`
		Level0MaxFileNumber        int    `yaml:"level0_max_file_number"`
	} `yaml:"compaction"`
}

// loadNodeConfig reads path if non-empty; an empty path yields the zero
// config so callers can apply it unconditionally.
func loadNodeConfig(path string) (nodeConfig, error) {
	var cfg nodeConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// compactionConfig merges the file's compaction section over the defaults,
// field by field so a file can override just one knob.
func (c nodeConfig) compactionConfig() compaction.Config {
	out := compaction.DefaultConfig()
	if c.Compaction.MaxLevel != 0 {
		out.MaxLevel = c.Compaction.MaxLevel
	}
	if c.Compaction.MaxBytesForLevelBase != 0 {
		out.MaxBytesForLevelBase = c.Compaction.MaxBytesForLevelBase
	}
	if c.Compaction.MaxBytesForLevelMultiplier != 0 {
		out.MaxBytesForLevelMultiplier = c.Compaction.MaxBytesForLevelMultiplier
	}
	if c.Compaction.Level0TriggerNumber != 0 {
		out.Level0TriggerNumber = c.Compaction.Level0TriggerNumber
	}
	if c.Compaction.Level0MaxFileNumber != 0 {
		out.Level0MaxFileNumber = c.Compaction.Level0MaxFileNumber
	}
	return out
}

// orDefault returns flagVal unless it still holds def and the file set
// fileVal.
func orDefault(flagVal, def, fileVal string) string {
	if flagVal == def && fileVal != "" {
		return fileVal
	}
	return flagVal
}
