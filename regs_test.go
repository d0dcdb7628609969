// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvmecore

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func newTestRegs(t *testing.T) (regs, []byte) {
	t.Helper()
	mem := make([]byte, MinRegisterWindow)
	return newRegs(unsafe.Pointer(&mem[0]), MinRegisterWindow), mem
}

func TestReadCAP(t *testing.T) {
	assert := assert.New(t)
	r, _ := newTestRegs(t)

	// MQES=0x3f (64 entries 0's based), CQR=1, TO=0x14, DSTRD=0, MPSMIN=0, MPSMAX=4
	var capValue uint64
	capValue |= 0x3f                 // MQES bits 15:0
	capValue |= 1 << 16               // CQR
	capValue |= uint64(0x14) << 24    // TO
	capValue |= uint64(0) << 32       // DSTRD
	capValue |= uint64(0) << 48       // MPSMIN
	capValue |= uint64(4) << 52       // MPSMAX

	r.store64(regCAP, capValue)

	got := r.readCAP()
	assert.Equal(uint32(0x3f), got.MQES)
	assert.True(got.CQR)
	assert.Equal(uint8(0x14), got.TO)
	assert.Equal(uint8(0), got.DSTRD)
	assert.Equal(uint8(0), got.MPSMIN)
	assert.Equal(uint8(4), got.MPSMAX)
}

func TestCCEncodeRoundTrip(t *testing.T) {
	assert := assert.New(t)
	r, _ := newTestRegs(t)

	f := ccFields{EN: true, CSS: 0, MPS: 1, IOSQES: 6, IOCQES: 4}
	r.writeCC(f)

	raw := r.load32(regCC)
	assert.Equal(uint32(1), raw&0x1)
	assert.Equal(uint32(1), (raw>>7)&0xf)
	assert.Equal(uint32(6), (raw>>16)&0xf)
	assert.Equal(uint32(4), (raw>>20)&0xf)
}

func TestClearEnablePreservesOtherFields(t *testing.T) {
	assert := assert.New(t)
	r, _ := newTestRegs(t)

	r.writeCC(ccFields{EN: true, MPS: 2, IOSQES: 6, IOCQES: 4})
	r.clearEnable()

	raw := r.load32(regCC)
	assert.Equal(uint32(0), raw&0x1)
	assert.Equal(uint32(2), (raw>>7)&0xf)
}

func TestCSTSBits(t *testing.T) {
	assert := assert.New(t)
	r, _ := newTestRegs(t)

	r.store32(regCSTS, 0x1)
	assert.True(r.cstsRDY())
	assert.False(r.cstsCFS())

	r.store32(regCSTS, 0x3)
	assert.True(r.cstsRDY())
	assert.True(r.cstsCFS())
}

func TestDoorbellAddressing(t *testing.T) {
	assert := assert.New(t)
	r, _ := newTestRegs(t)

	// DSTRD=0 -> stride=4 bytes. Admin SQ tail at regDB+0, admin CQ head
	// at regDB+4, I/O queue 1's SQ tail at regDB+8, CQ head at regDB+12.
	sq0 := r.doorbell(0, false, 0)
	cq0 := r.doorbell(0, true, 0)
	sq1 := r.doorbell(1, false, 0)
	cq1 := r.doorbell(1, true, 0)

	base := r.base + regDB
	assert.Equal(base, uintptr(unsafe.Pointer(sq0)))
	assert.Equal(base+4, uintptr(unsafe.Pointer(cq0)))
	assert.Equal(base+8, uintptr(unsafe.Pointer(sq1)))
	assert.Equal(base+12, uintptr(unsafe.Pointer(cq1)))
}

func TestDoorbellStride(t *testing.T) {
	assert := assert.New(t)
	r, _ := newTestRegs(t)

	// DSTRD=1 -> stride = 4<<1 = 8 bytes.
	sq1 := r.doorbell(1, false, 1)
	base := r.base + regDB
	assert.Equal(base+16, uintptr(unsafe.Pointer(sq1)))
}

func TestBitsRoundTrip(t *testing.T) {
	assert := assert.New(t)

	v := setBits(0x1f, 20, 16)
	assert.Equal(uint64(0x1f)<<16, v)
	assert.Equal(uint64(0x1f), bits(v, 20, 16))
}
