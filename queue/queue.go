// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package queue implements the circular submission/completion queue
// rings (C3): phase-tag completion detection, head/tail wraparound, and
// doorbell idempotence, the way nvm_queue.h's nvm_sq_*/nvm_cq_* family
// does it. Ring access is lock-free, following the atomic-load/store
// idiom used for memory-mapped rings in ehrlich-b-go-iouring's ring.go.
package queue

import (
	"context"
	"sync/atomic"
	"time"
	"unsafe"
)

// CommandEntrySize and CompletionEntrySize are the fixed NVMe submission
// and completion entry sizes.
const (
	CommandEntrySize    = 64
	CompletionEntrySize = 16
)

// cidOffset is the byte offset of the command identifier within a
// submission entry (low 16 bits of dword0's upper half, i.e. bytes
// 2-3), per NVM_CMD_CID.
const cidOffset = 2

// Completion dword-2 and dword-3 field offsets, per NVM_CPL_* accessors
// in nvm_util.h.
const (
	cplSQHDOffset   = 8  // dword2, bytes 0-1: SQ head pointer
	cplSQIDOffset   = 10 // dword2, bytes 2-3: submission queue id
	cplCIDOffset    = 12 // dword3, bytes 0-1: command identifier
	cplStatusOffset = 14 // dword3, bytes 2-3: phase bit + status
)

// SQ is a submission queue ring. Its backing memory (Mem) must be
// zero-filled before first use (see Clear) and must remain valid for
// the ring's lifetime; callers own allocation and DMA mapping.
type SQ struct {
	Mem        []byte // MaxEntries * CommandEntrySize bytes
	MaxEntries uint32
	QID        uint16
	Doorbell   *uint32

	head  uint32
	tail  uint32
	phase uint32 // current phase bit value (0 or 1), flips each wrap
	last  uint32 // tail value as of the last doorbell write
}

// NewSQ wraps pre-allocated, zeroed memory as a submission queue ring.
func NewSQ(mem []byte, maxEntries uint32, qid uint16, doorbell *uint32) *SQ {
	return &SQ{Mem: mem, MaxEntries: maxEntries, QID: qid, Doorbell: doorbell, phase: 1}
}

// Clear resets ring state to empty and zeroes the backing memory,
// matching nvm_queue_clear.
func (q *SQ) Clear() {
	for i := range q.Mem {
		q.Mem[i] = 0
	}
	q.head, q.tail, q.last = 0, 0, 0
	q.phase = 1
}

func (q *SQ) slot(idx uint32) unsafe.Pointer {
	return unsafe.Pointer(&q.Mem[uintptr(idx)*CommandEntrySize])
}

// Full reports whether the ring has no free slots, using the same
// (tail-head) % max == max-1 test as nvm_sq_enqueue.
func (q *SQ) Full() bool {
	return (q.tail-q.head)%q.MaxEntries == q.MaxEntries-1
}

// Enqueue reserves the next slot and returns a pointer to its 64-byte
// command memory, the command identifier assigned to it, and whether a
// slot was available. The caller fills in the command opcode and
// operands via the returned pointer before calling Submit. Mirrors
// nvm_sq_enqueue, including CID assignment for entries that wrap to the
// next phase.
func (q *SQ) Enqueue() (cmd unsafe.Pointer, cid uint16, ok bool) {
	if q.Full() {
		return nil, 0, false
	}

	idx := q.tail % q.MaxEntries
	cmd = q.slot(idx)

	q.tail++
	if q.tail%q.MaxEntries == 0 {
		q.phase = 1 - q.phase
	}

	cid = uint16(q.tail-1) + boolToU16(q.phase == 0)*uint16(q.MaxEntries)
	*(*uint16)(unsafe.Add(cmd, cidOffset)) = cid

	return cmd, cid, true
}

func boolToU16(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

// Submit writes the SQ tail doorbell, but only if the tail has actually
// moved since the last write, matching nvm_sq_submit's idempotence.
func (q *SQ) Submit() {
	if q.last != q.tail {
		atomic.StoreUint32(q.Doorbell, q.tail%q.MaxEntries)
		q.last = q.tail
	}
}

// Update advances the ring's notion of head after the caller has
// processed a completion that freed a slot, matching nvm_sq_update.
func (q *SQ) Update() {
	q.head++
}

// CQ is a completion queue ring.
type CQ struct {
	Mem        []byte // MaxEntries * CompletionEntrySize bytes
	MaxEntries uint32
	QID        uint16
	Doorbell   *uint32

	head  uint32
	phase uint32
	last  uint32
}

// NewCQ wraps pre-allocated, zeroed memory as a completion queue ring.
func NewCQ(mem []byte, maxEntries uint32, qid uint16, doorbell *uint32) *CQ {
	return &CQ{Mem: mem, MaxEntries: maxEntries, QID: qid, Doorbell: doorbell, phase: 1}
}

// Clear resets ring state to empty and zeroes the backing memory.
func (q *CQ) Clear() {
	for i := range q.Mem {
		q.Mem[i] = 0
	}
	q.head, q.last = 0, 0
	q.phase = 1
}

func (q *CQ) slot(idx uint32) unsafe.Pointer {
	return unsafe.Pointer(&q.Mem[uintptr(idx)*CompletionEntrySize])
}

// statusWord reads the completion status field. sync/atomic has no
// 16-bit primitive, so visibility of the device-written phase bit is
// established by reading the containing 32-bit dword atomically and
// shifting out the half we want, the same trade nvm_util.h's _RB macro
// makes by treating the whole dword as the unit of volatility.
func statusWord(cpl unsafe.Pointer) uint16 {
	dword := atomic.LoadUint32((*uint32)(unsafe.Add(cpl, cplStatusOffset&^0x3)))
	shift := (cplStatusOffset & 0x3) * 8
	return uint16(dword >> shift)
}

// Poll checks the current head slot's phase bit without advancing the
// ring, matching nvm_cq_poll. ok is true only when the phase bit
// matches the ring's current expected phase, i.e. a new completion has
// landed.
func (q *CQ) Poll() (cpl unsafe.Pointer, ok bool) {
	cpl = q.slot(q.head % q.MaxEntries)
	phaseBit := statusWord(cpl) & 0x1
	if phaseBit != uint16(q.phase) {
		return cpl, false
	}
	return cpl, true
}

// Dequeue pops the next completion if one is ready, advancing head and
// flipping the expected phase on wrap, matching nvm_cq_dequeue.
func (q *CQ) Dequeue() (cpl unsafe.Pointer, ok bool) {
	cpl, ok = q.Poll()
	if !ok {
		return nil, false
	}

	q.head++
	if q.head%q.MaxEntries == 0 {
		q.phase = 1 - q.phase
	}

	return cpl, true
}

// pollInterval is the spin-poll granularity used by DequeueBlock,
// matching the yield-loop in benchmarks/latency/main.cc's measure().
const pollInterval = time.Microsecond

// DequeueBlock spins (yielding between attempts) until a completion is
// ready, ctx is cancelled, or timeout elapses, matching
// nvm_cq_dequeue_block's ETIME behavior.
func (q *CQ) DequeueBlock(ctx context.Context, timeout time.Duration) (unsafe.Pointer, error) {
	deadline := time.Now().Add(timeout)

	for {
		if cpl, ok := q.Dequeue(); ok {
			return cpl, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		time.Sleep(pollInterval)
	}
}

// Update writes the CQ head doorbell, but only if head has actually
// moved since the last write, matching nvm_cq_update's idempotence.
func (q *CQ) Update() {
	if q.last != q.head {
		atomic.StoreUint32(q.Doorbell, q.head%q.MaxEntries)
		q.last = q.head
	}
}

// CompletionCID extracts the command identifier from a completion slot
// returned by Poll/Dequeue.
func CompletionCID(cpl unsafe.Pointer) uint16 {
	return *(*uint16)(unsafe.Add(cpl, cplCIDOffset))
}

// CompletionSQHead extracts the reported submission queue head pointer.
func CompletionSQHead(cpl unsafe.Pointer) uint16 {
	return *(*uint16)(unsafe.Add(cpl, cplSQHDOffset))
}

// CompletionSQID extracts the reported submission queue id.
func CompletionSQID(cpl unsafe.Pointer) uint16 {
	return *(*uint16)(unsafe.Add(cpl, cplSQIDOffset))
}

// CompletionStatus extracts the raw status field (phase bit plus NVMe
// status code, status bit 0 excluded by callers via IsOK-style masking
// upstream in package nvmecore).
func CompletionStatus(cpl unsafe.Pointer) uint16 {
	return statusWord(cpl)
}
