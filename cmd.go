// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Command and completion slot builders (C4), grounded on nvm_cmd.h's
// nvm_cmd_header/nvm_cmd_data_ptr/nvm_cmd_rw_blks/nvm_prp_list_page.

package nvmecore

import "unsafe"

// AdminOpcode enumerates the admin command set opcodes this package
// issues, encoded (group<<7)|(subOpcode<<2)|genericOp the same way
// nvm_admin_command_set does.
type AdminOpcode uint8

const (
	OpDeleteSQ     AdminOpcode = 0x00
	OpCreateSQ     AdminOpcode = 0x01
	OpDeleteCQ     AdminOpcode = 0x04
	OpCreateCQ     AdminOpcode = 0x05
	OpIdentify     AdminOpcode = 0x06
	OpAbort        AdminOpcode = 0x08
	OpSetFeatures  AdminOpcode = 0x09
	OpGetFeatures  AdminOpcode = 0x0A
)

// IOOpcode enumerates the NVM command set opcodes.
type IOOpcode uint8

const (
	OpFlush       IOOpcode = 0x00
	OpWrite       IOOpcode = 0x01
	OpRead        IOOpcode = 0x02
	OpWriteZeroes IOOpcode = 0x08
)

// NSAll is the namespace id meaning "all namespaces", per NVM_CMD_NS_ALL.
const NSAll uint32 = 0xffffffff

// Command is a view over a 64-byte submission queue entry. The memory
// it points to is owned by a queue.SQ ring slot returned from Enqueue.
type Command struct {
	p unsafe.Pointer
}

func NewCommand(p unsafe.Pointer) Command { return Command{p: p} }

func (c Command) dword(i int) *uint32 {
	return (*uint32)(unsafe.Add(c.p, i*4))
}

// Ptr exposes the command's backing 64-byte slot, for transports (see
// package admin's remote stub) that need to frame the raw bytes rather
// than go through field accessors.
func (c Command) Ptr() unsafe.Pointer { return c.p }

// SetHeader clears dword0's lower 16 bits and sets the opcode there,
// preserving the CID the ring already assigned in the upper 16 bits,
// and writes the namespace id, matching nvm_cmd_header.
func (c Command) SetHeader(opcode uint8, nsid uint32) {
	d0 := *c.dword(0)
	*c.dword(0) = (d0 & 0xffff0000) | uint32(opcode)
	*c.dword(1) = nsid
}

// CID returns the command identifier the ring assigned to this slot.
func (c Command) CID() uint16 {
	return uint16(*c.dword(0) >> 16)
}

// SetDataPtr splits a data transfer's PRP entries into dword[6:10],
// matching nvm_cmd_data_ptr.
func (c Command) SetDataPtr(prp1, prp2 uint64) {
	*c.dword(6) = uint32(prp1)
	*c.dword(7) = uint32(prp1 >> 32)
	*c.dword(8) = uint32(prp2)
	*c.dword(9) = uint32(prp2 >> 32)
}

// SetMetadataPtr writes the metadata pointer field (dword[4:6]).
func (c Command) SetMetadataPtr(addr uint64) {
	*c.dword(4) = uint32(addr)
	*c.dword(5) = uint32(addr >> 32)
}

// SetRWBlocks writes a read/write command's logical block fields:
// dword10/11 hold the 64-bit starting LBA, dword12 holds nBlks-1 (the
// command's 0's-based block count), matching nvm_cmd_rw_blks.
func (c Command) SetRWBlocks(startLBA uint64, nBlks uint16) {
	*c.dword(10) = uint32(startLBA)
	*c.dword(11) = uint32(startLBA >> 32)
	*c.dword(12) = uint32(nBlks - 1)
}

// SetDword sets one of the command-specific dwords (10-15) directly,
// for admin commands whose operands don't fit the RW shape.
func (c Command) SetDword(i int, v uint32) {
	*c.dword(i) = v
}

// BuildDataPtr chooses PRP1/PRP2 for a transfer spanning len(ioaddrs)
// controller pages starting at ioaddrs[0]: a single page fits entirely
// in PRP1; two pages use PRP1+PRP2 directly; more than two pages put
// listPageAddr, the bus address of a PRP list page already populated
// via WritePRPList, in PRP2.
func BuildDataPtr(ioaddrs []uint64, listPageAddr uint64) (prp1, prp2 uint64) {
	prp1 = ioaddrs[0]
	switch {
	case len(ioaddrs) == 1:
		return prp1, 0
	case len(ioaddrs) == 2:
		return prp1, ioaddrs[1]
	default:
		return prp1, listPageAddr
	}
}

// WritePRPList fills a controller page (listPage) with up to
// pageSize/8 bus addresses (ioaddrs[1:]), matching nvm_prp_list_page,
// and returns how many entries it wrote.
func WritePRPList(listPage []byte, pageSize uint64, ioaddrs []uint64) int {
	entries := ioaddrs[1:]
	max := int(pageSize / 8)
	if len(entries) > max {
		entries = entries[:max]
	}

	for i, addr := range entries {
		*(*uint64)(unsafe.Pointer(&listPage[i*8])) = addr
	}

	return len(entries)
}

// Completion is a read-only view over a 16-byte completion queue entry.
type Completion struct {
	p unsafe.Pointer
}

func NewCompletion(p unsafe.Pointer) Completion { return Completion{p: p} }

func (c Completion) dword(i int) uint32 {
	return *(*uint32)(unsafe.Add(c.p, i*4))
}

// Result returns the command-specific result field (dword0).
func (c Completion) Result() uint32 { return c.dword(0) }

// SQHead returns the reported submission queue head pointer (dword2, low 16 bits).
func (c Completion) SQHead() uint16 { return uint16(c.dword(2)) }

// SQID returns the reported submission queue id (dword2, high 16 bits).
func (c Completion) SQID() uint16 { return uint16(c.dword(2) >> 16) }

// CID returns the command identifier this completion answers (dword3, low 16 bits).
func (c Completion) CID() uint16 { return uint16(c.dword(3)) }

// StatusWord returns the raw 16-bit status field (dword3, high 16 bits),
// whose bit 0 is the phase tag and whose bits [15:1] are the NVMe status.
func (c Completion) StatusWord() uint16 { return uint16(c.dword(3) >> 16) }

// Status packs StatusWord into this package's composite Status type.
// The phase bit (bit 0) carries no status information and is shifted
// out before packing, matching PackNVMeStatus's expectation.
func (c Completion) Status() Status {
	return PackNVMeStatus(c.StatusWord() >> 1)
}
