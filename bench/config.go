// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Benchmark configuration file, repurposed from the teacher's
// drivedb YAML loader (dropped along with the rest of the SMART/ATA
// stack, see DESIGN.md) onto this package's own document shape.
package bench

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the on-disk benchmark configuration. Command-line flags
// take precedence over any field also set here; see cmd/nvmebench.
type Config struct {
	Device      string `yaml:"device"`
	Controller  uint64 `yaml:"controller"` // remote/cluster device id, alternative to Device
	Adapter     uint32 `yaml:"adapter"`    // remote/cluster adapter number
	Namespace   uint32 `yaml:"namespace"`
	Pattern     string `yaml:"pattern"` // "repeat", "sequential", "random"
	NumQueues   int    `yaml:"num_queues"`
	QueueDepth  uint32 `yaml:"queue_depth"`
	StartBlock  uint64 `yaml:"start"`
	NumBlocks   uint64 `yaml:"blocks"` // 0 means "to the end of the namespace"
	Repetitions int    `yaml:"repetitions"`
	Write       bool   `yaml:"write"`
	VerifyFile  string `yaml:"verify"`
}

// DefaultConfig returns the benchmark's built-in defaults, used for any
// field a config file and the command line both leave unset.
func DefaultConfig() Config {
	return Config{
		Namespace:   1,
		Pattern:     "sequential",
		NumQueues:   1,
		QueueDepth:  32,
		Repetitions: 1000,
		Write:       false,
	}
}

// LoadConfig reads and parses a YAML benchmark configuration file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("nvmecore/bench: read config: %w", err)
	}

	if err := yaml.Unmarshal(f, &cfg); err != nil {
		return cfg, fmt.Errorf("nvmecore/bench: parse config: %w", err)
	}

	return cfg, nil
}

// ParsePattern converts a config/flag pattern name into an AccessPattern.
func ParsePattern(name string) (AccessPattern, error) {
	switch name {
	case "repeat":
		return PatternRepeat, nil
	case "sequential", "":
		return PatternSequential, nil
	case "random":
		return PatternRandom, nil
	default:
		return 0, fmt.Errorf("nvmecore/bench: unknown access pattern %q", name)
	}
}
