// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Latency statistics, grounded on main.cc's Times/printStatistics: per
// transfer latency samples aggregated into min/avg/max.
package bench

import (
	"fmt"
	"time"
)

// Times holds one queue worker's latency samples for a benchmark run,
// one Duration per transfer batch submitted, plus a tally of non-zero
// completion statuses observed along the way (non-fatal; recorded for
// the record per main.cc's measure()).
type Times struct {
	QueueDepth  uint32
	Samples     []time.Duration
	ErrorStatus map[uint16]int
}

// Stats summarizes a Times sample set.
type Stats struct {
	Min, Avg, Max time.Duration
	Count         int
	Errors        int // total non-zero completion statuses observed
}

// Summarize computes min/avg/max over t's samples. An empty sample set
// returns a zero Stats.
func (t Times) Summarize() Stats {
	if len(t.Samples) == 0 {
		return Stats{}
	}

	min, max := t.Samples[0], t.Samples[0]
	var total time.Duration

	for _, s := range t.Samples {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
		total += s
	}

	errs := 0
	for _, n := range t.ErrorStatus {
		errs += n
	}

	return Stats{
		Min:    min,
		Avg:    total / time.Duration(len(t.Samples)),
		Max:    max,
		Count:  len(t.Samples),
		Errors: errs,
	}
}

// Report formats a per-queue statistics line the way the benchmark's
// printStatistics prints its per-queue summary.
func Report(qid int, s Stats) string {
	return fmt.Sprintf("queue #%d: min=%s avg=%s max=%s n=%d errors=%d",
		qid, s.Min, s.Avg, s.Max, s.Count, s.Errors)
}
