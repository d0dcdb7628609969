// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// A reusable N-party barrier, grounded on the Barrier class
// benchmarks/latency/main.cc shares between worker threads so every
// queue starts its next repetition at the same time.
package bench

import "sync"

// Barrier blocks N goroutines until all N have called Wait, then
// releases them together and resets for the next round.
type Barrier struct {
	n       int
	mu      sync.Mutex
	cond    *sync.Cond
	waiting int
	gen     uint64
}

// NewBarrier returns a Barrier for exactly n parties.
func NewBarrier(n int) *Barrier {
	b := &Barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until n goroutines have called Wait in the current
// generation, then releases all of them and starts a new generation.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.gen
	b.waiting++

	if b.waiting == b.n {
		b.waiting = 0
		b.gen++
		b.cond.Broadcast()
		return
	}

	for gen == b.gen {
		b.cond.Wait()
	}
}
