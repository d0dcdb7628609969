// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package queue

import (
	"context"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func newTestSQ(maxEntries uint32) (*SQ, *uint32) {
	mem := make([]byte, uint32(CommandEntrySize)*maxEntries)
	db := new(uint32)
	return NewSQ(mem, maxEntries, 0, db), db
}

func newTestCQ(maxEntries uint32) (*CQ, *uint32) {
	mem := make([]byte, uint32(CompletionEntrySize)*maxEntries)
	db := new(uint32)
	return NewCQ(mem, maxEntries, 0, db), db
}

func TestSQEnqueueAssignsSequentialCID(t *testing.T) {
	assert := assert.New(t)

	sq, _ := newTestSQ(4)
	sq.Clear()

	_, cid0, ok := sq.Enqueue()
	assert.True(ok)
	assert.Equal(uint16(0), cid0)

	_, cid1, ok := sq.Enqueue()
	assert.True(ok)
	assert.Equal(uint16(1), cid1)
}

func TestSQFullDetection(t *testing.T) {
	assert := assert.New(t)

	sq, _ := newTestSQ(4)
	sq.Clear()

	// max_entries=4 means at most 3 outstanding commands before Full.
	for i := 0; i < 3; i++ {
		_, _, ok := sq.Enqueue()
		assert.True(ok, "enqueue %d should succeed", i)
	}

	assert.True(sq.Full())
	_, _, ok := sq.Enqueue()
	assert.False(ok)
}

func TestSQCIDWrapsPhase(t *testing.T) {
	assert := assert.New(t)

	sq, _ := newTestSQ(4)
	sq.Clear()

	var lastCID uint16
	for i := 0; i < 3; i++ {
		_, cid, ok := sq.Enqueue()
		assert.True(ok)
		lastCID = cid
	}
	assert.Equal(uint16(2), lastCID)

	// Free up a slot and wrap the ring; the assigned CID should reflect
	// the phase flip (cid = tail-1 + maxEntries when phase toggles to 0).
	sq.Update()
	_, cid, ok := sq.Enqueue()
	assert.True(ok)
	assert.Equal(uint16(3+4), cid)
}

func TestSQSubmitIdempotent(t *testing.T) {
	assert := assert.New(t)

	sq, db := newTestSQ(4)
	sq.Clear()

	sq.Enqueue()
	sq.Submit()
	assert.Equal(uint32(1), *db)

	*db = 0xff // simulate a stale write we should not repeat
	sq.Submit()
	assert.Equal(uint32(0xff), *db, "Submit must not rewrite the doorbell when tail is unchanged")
}

func TestCQPollAndDequeue(t *testing.T) {
	assert := assert.New(t)

	cq, _ := newTestCQ(4)
	cq.Clear()

	_, ok := cq.Poll()
	assert.False(ok, "empty ring should not report a ready completion")

	// Simulate the device writing a completion with phase bit 1 (the
	// ring's initial expected phase) into slot 0.
	slot := cq.slot(0)
	*(*uint32)(slot) = 0
	*(*uint32)(unsafe.Add(slot, 4)) = 0
	*(*uint32)(unsafe.Add(slot, 8)) = 0
	*(*uint32)(unsafe.Add(slot, 12)) = 0x00010000 // status word = phase bit 1, CID=0

	cpl, ok := cq.Poll()
	assert.True(ok)
	assert.Equal(uint16(0), CompletionCID(cpl))

	cpl, ok = cq.Dequeue()
	assert.True(ok)
	assert.Equal(uint16(0), CompletionCID(cpl))

	// Head has advanced to slot 1, which the device has not written
	// (its phase bit is still 0), so polling reports nothing ready.
	_, ok = cq.Poll()
	assert.False(ok)
}

func TestCQUpdateIdempotent(t *testing.T) {
	assert := assert.New(t)

	cq, db := newTestCQ(4)
	cq.Clear()

	cq.Update()
	assert.Equal(uint32(0), *db)

	slot := cq.slot(0)
	*(*uint32)(unsafe.Add(slot, 12)) = 0x00010000
	cq.Dequeue()
	cq.Update()
	assert.Equal(uint32(1), *db)

	*db = 0xff
	cq.Update()
	assert.Equal(uint32(0xff), *db, "Update must not rewrite the doorbell when head is unchanged")
}

func TestDequeueBlockTimesOut(t *testing.T) {
	cq, _ := newTestCQ(4)
	cq.Clear()

	_, err := cq.DequeueBlock(context.Background(), 10*time.Millisecond)
	if err != ErrTimeout {
		t.Errorf("DequeueBlock() error = %v, want ErrTimeout", err)
	}
}

func TestDequeueBlockRespectsContext(t *testing.T) {
	cq, _ := newTestCQ(4)
	cq.Clear()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cq.DequeueBlock(ctx, time.Second)
	if err != context.Canceled {
		t.Errorf("DequeueBlock() error = %v, want context.Canceled", err)
	}
}
