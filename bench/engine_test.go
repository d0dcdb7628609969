// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package bench

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"

	"github.com/dswarbrick/nvmecore"
	"github.com/dswarbrick/nvmecore/queue"
)

// simulateEngineDevice plays the part of a controller servicing exactly
// one queue: it watches the SQ doorbell and, for each newly submitted
// command, writes a status-OK completion carrying that command's CID.
// The test driving this fixture must keep the total number of commands
// submitted over its lifetime under maxEntries, so the doorbell's
// modulo-wrapped value can be read directly as an absolute tail.
func simulateEngineDevice(t *testing.T, sq *queue.SQ, cq *queue.CQ, maxEntries uint32, stop <-chan struct{}) {
	t.Helper()

	go func() {
		var processed uint32
		var cqTail uint32
		cqPhase := uint32(1)

		for {
			select {
			case <-stop:
				return
			default:
			}

			db := sqDoorbellValue(sq)
			for processed != db {
				idx := processed % maxEntries
				slot := unsafe.Pointer(&sq.Mem[uintptr(idx)*queue.CommandEntrySize])
				cid := *(*uint16)(unsafe.Add(slot, 2))

				cplIdx := cqTail % cq.MaxEntries
				base := uintptr(cplIdx) * queue.CompletionEntrySize
				binary.LittleEndian.PutUint16(cq.Mem[base+12:base+14], cid)
				binary.LittleEndian.PutUint16(cq.Mem[base+14:base+16], uint16(cqPhase))

				cqTail++
				if cqTail%cq.MaxEntries == 0 {
					cqPhase = 1 - cqPhase
				}
				processed++
			}

			time.Sleep(100 * time.Microsecond)
		}
	}()
}

func sqDoorbellValue(sq *queue.SQ) uint32 {
	return atomic.LoadUint32(sq.Doorbell)
}

func newTestEngineQueue(t *testing.T, index int, maxEntries uint32, write bool) (*IOQueue, *queue.SQ, *queue.CQ) {
	t.Helper()

	sqMem := make([]byte, uint32(queue.CommandEntrySize)*maxEntries)
	cqMem := make([]byte, uint32(queue.CompletionEntrySize)*maxEntries)
	sqDB := new(uint32)
	cqDB := new(uint32)

	sq := queue.NewSQ(sqMem, maxEntries, uint16(index+1), sqDB)
	cq := queue.NewCQ(cqMem, maxEntries, uint16(index+1), cqDB)
	sq.Clear()
	cq.Clear()

	dma, err := nvmecore.NewManualDMA(nil, 4096, []uint64{0x1000})
	if err != nil {
		t.Fatalf("NewManualDMA() error = %v", err)
	}

	q := &IOQueue{
		Index:     index,
		SQ:        sq,
		CQ:        cq,
		DMA:       dma,
		BlockSize: 512,
		Write:     write,
		Plan: QueuePlan{
			QueueIndex: index,
			Pattern:    PatternSequential,
			Ranges:     []TransferRange{{StartBlock: 0, NBlocks: 1}},
		},
	}
	return q, sq, cq
}

func TestEngineRunSingleQueue(t *testing.T) {
	assert := assert.New(t)

	q, sq, cq := newTestEngineQueue(t, 0, 8, false)

	stop := make(chan struct{})
	defer close(stop)
	simulateEngineDevice(t, sq, cq, 8, stop)

	e := &Engine{Queues: []*IOQueue{q}, Repetitions: 2}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results, err := e.Run(ctx)
	assert.NoError(err)
	assert.Len(results, 1)
	assert.Len(results[0].Samples, 2)
	assert.Equal(uint32(7), results[0].QueueDepth) // MaxEntries-1
}

func TestEngineRunMultipleQueues(t *testing.T) {
	assert := assert.New(t)

	q0, sq0, cq0 := newTestEngineQueue(t, 0, 8, false)
	q1, sq1, cq1 := newTestEngineQueue(t, 1, 8, true)

	stop := make(chan struct{})
	defer close(stop)
	simulateEngineDevice(t, sq0, cq0, 8, stop)
	simulateEngineDevice(t, sq1, cq1, 8, stop)

	e := &Engine{Queues: []*IOQueue{q0, q1}, Repetitions: 2}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results, err := e.Run(ctx)
	assert.NoError(err)
	assert.Len(results, 2)
	for _, r := range results {
		assert.Len(r.Samples, 2)
	}
}
