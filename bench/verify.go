// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Optional post-run verification, grounded on main.cc's -verify flag:
// compare the benchmark's DMA data buffers against a known-good
// reference file rather than just timing the transfers.
package bench

import (
	"bytes"
	"fmt"
	"os"
)

// VerifyAgainstFile compares each queue's DMA data buffer (in Queues
// order) against the contents of the reference file at path. For
// PatternRepeat every queue's buffer is compared against the whole
// reference file independently. For PatternSequential the buffers are
// concatenated in queue order and compared against the file as one.
// PatternRandom has no fixed expected contents to check against.
func VerifyAgainstFile(path string, pattern AccessPattern, buffers [][]byte) error {
	if pattern == PatternRandom {
		return fmt.Errorf("nvmecore/bench: verification is not supported for the random access pattern")
	}

	want, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("nvmecore/bench: read reference file: %w", err)
	}

	switch pattern {
	case PatternRepeat:
		for i, buf := range buffers {
			if !bytes.Equal(truncate(buf, len(want)), want) {
				return fmt.Errorf("nvmecore/bench: queue %d data does not match reference file", i)
			}
		}

	case PatternSequential:
		var got []byte
		for _, buf := range buffers {
			got = append(got, buf...)
		}
		if !bytes.Equal(truncate(got, len(want)), want) {
			return fmt.Errorf("nvmecore/bench: concatenated queue data does not match reference file")
		}
	}

	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
