// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package bench

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultConfig()
	assert.Equal(uint32(1), cfg.Namespace)
	assert.Equal("sequential", cfg.Pattern)
	assert.Equal(1, cfg.NumQueues)
	assert.Equal(uint32(32), cfg.QueueDepth)
	assert.Equal(uint64(0), cfg.StartBlock)
	assert.Equal(uint64(0), cfg.NumBlocks)
	assert.Equal(1000, cfg.Repetitions)
	assert.False(cfg.Write)
	assert.Equal("", cfg.VerifyFile)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "bench.yaml")
	contents := "device: /dev/disnvme0\nnamespace: 2\npattern: random\nnum_queues: 4\nqueue_depth: 16\nstart: 1000\nblocks: 2000\nrepetitions: 500\nwrite: true\nverify: /tmp/reference.bin\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writeFile() error = %v", err)
	}

	cfg, err := LoadConfig(path)
	assert.NoError(err)
	assert.Equal("/dev/disnvme0", cfg.Device)
	assert.Equal(uint32(2), cfg.Namespace)
	assert.Equal("random", cfg.Pattern)
	assert.Equal(4, cfg.NumQueues)
	assert.Equal(uint32(16), cfg.QueueDepth)
	assert.Equal(uint64(1000), cfg.StartBlock)
	assert.Equal(uint64(2000), cfg.NumBlocks)
	assert.Equal(500, cfg.Repetitions)
	assert.True(cfg.Write)
	assert.Equal("/tmp/reference.bin", cfg.VerifyFile)
}

func TestLoadConfigPartialFileKeepsRemainingDefaults(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "bench.yaml")
	if err := os.WriteFile(path, []byte("device: /dev/disnvme1\n"), 0644); err != nil {
		t.Fatalf("writeFile() error = %v", err)
	}

	cfg, err := LoadConfig(path)
	assert.NoError(err)
	assert.Equal("/dev/disnvme1", cfg.Device)
	assert.Equal("sequential", cfg.Pattern) // untouched default
	assert.Equal(1000, cfg.Repetitions)     // untouched default
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/bench.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestParsePattern(t *testing.T) {
	cases := []struct {
		name string
		want AccessPattern
		err  bool
	}{
		{"repeat", PatternRepeat, false},
		{"sequential", PatternSequential, false},
		{"", PatternSequential, false},
		{"random", PatternRandom, false},
		{"bogus", 0, true},
	}

	for _, c := range cases {
		got, err := ParsePattern(c.name)
		if c.err {
			if err == nil {
				t.Errorf("ParsePattern(%q) expected error", c.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePattern(%q) unexpected error: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("ParsePattern(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}
