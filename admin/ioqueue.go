// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Create/Delete I/O CQ/SQ admin commands, grounded on admin.c's
// nvm_admin_cq_create/nvm_admin_sq_create bit layouts.
package admin

import (
	"context"

	"github.com/dswarbrick/nvmecore"
)

// CreateCQ issues a Create I/O Completion Queue command for a physically
// contiguous queue of maxEntries (0's-based size encoded automatically)
// backed by the page at queueAddr. Interrupts are left disabled; this
// core drives queues by polling, matching the benchmark engine's usage.
func (r *Reference) CreateCQ(ctx context.Context, qid uint16, maxEntries uint32, queueAddr uint64) error {
	_, err := r.Submit(ctx, func(cmd nvmecore.Command) {
		cmd.SetHeader(uint8(nvmecore.OpCreateCQ), nvmecore.NSAll)
		cmd.SetDataPtr(queueAddr, 0)
		cmd.SetDword(10, uint32(maxEntries-1)<<16|uint32(qid))
		cmd.SetDword(11, 0x1) // PC=1, IEN=0
	})
	return err
}

// CreateSQ issues a Create I/O Submission Queue command for a
// physically contiguous queue associated with completion queue cqid.
func (r *Reference) CreateSQ(ctx context.Context, qid uint16, maxEntries uint32, queueAddr uint64, cqid uint16) error {
	_, err := r.Submit(ctx, func(cmd nvmecore.Command) {
		cmd.SetHeader(uint8(nvmecore.OpCreateSQ), nvmecore.NSAll)
		cmd.SetDataPtr(queueAddr, 0)
		cmd.SetDword(10, uint32(maxEntries-1)<<16|uint32(qid))
		cmd.SetDword(11, uint32(cqid)<<16|0x1) // CQID, QPRIO=0 (urgent), PC=1
	})
	return err
}

// DeleteSQ issues a Delete I/O Submission Queue command. The associated
// submission queue must have no outstanding commands.
func (r *Reference) DeleteSQ(ctx context.Context, qid uint16) error {
	_, err := r.Submit(ctx, func(cmd nvmecore.Command) {
		cmd.SetHeader(uint8(nvmecore.OpDeleteSQ), nvmecore.NSAll)
		cmd.SetDword(10, uint32(qid))
	})
	return err
}

// DeleteCQ issues a Delete I/O Completion Queue command. All associated
// submission queues must already be deleted.
func (r *Reference) DeleteCQ(ctx context.Context, qid uint16) error {
	_, err := r.Submit(ctx, func(cmd nvmecore.Command) {
		cmd.SetHeader(uint8(nvmecore.OpDeleteCQ), nvmecore.NSAll)
		cmd.SetDword(10, uint32(qid))
	})
	return err
}
