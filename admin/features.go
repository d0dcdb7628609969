// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Set/Get/Request Number of Queues (FID 0x07), grounded on
// nvm_rpc_set_num_queues/nvm_rpc_get_num_queues/nvm_rpc_request_num_queues.
package admin

import (
	"context"

	"github.com/dswarbrick/nvmecore"
)

// fidNumberOfQueues is the Number of Queues feature identifier.
const fidNumberOfQueues = 0x07

// NumQueues holds the 0's-based submission/completion queue counts
// exchanged through the Number of Queues feature, in the format the
// completion's result field (or the Set Features command's dword11)
// packs them: NCQR in bits 31:16, NSQR in bits 15:0.
type NumQueues struct {
	NumSQ uint16
	NumCQ uint16
}

func (n NumQueues) encode() uint32 {
	return uint32(n.NumCQ)<<16 | uint32(n.NumSQ)
}

func decodeNumQueues(v uint32) NumQueues {
	return NumQueues{NumSQ: uint16(v), NumCQ: uint16(v >> 16)}
}

// SetNumQueues issues a Set Features command requesting the given
// 0's-based queue counts, and returns what the controller actually
// granted (from the completion's result field).
func (r *Reference) SetNumQueues(ctx context.Context, want NumQueues) (NumQueues, error) {
	cpl, err := r.Submit(ctx, func(cmd nvmecore.Command) {
		cmd.SetHeader(uint8(nvmecore.OpSetFeatures), nvmecore.NSAll)
		cmd.SetDword(10, fidNumberOfQueues)
		cmd.SetDword(11, want.encode())
	})
	if err != nil {
		return NumQueues{}, err
	}
	return decodeNumQueues(cpl.Result()), nil
}

// GetNumQueues issues a Get Features command for the current Number of
// Queues setting.
func (r *Reference) GetNumQueues(ctx context.Context) (NumQueues, error) {
	cpl, err := r.Submit(ctx, func(cmd nvmecore.Command) {
		cmd.SetHeader(uint8(nvmecore.OpGetFeatures), nvmecore.NSAll)
		cmd.SetDword(10, fidNumberOfQueues)
	})
	if err != nil {
		return NumQueues{}, err
	}
	return decodeNumQueues(cpl.Result()), nil
}

// RequestNumQueues is a convenience wrapper that issues SetNumQueues and
// then immediately re-reads the granted value via GetNumQueues, since
// some controllers only reflect the true grant on a subsequent Get,
// matching nvm_rpc_request_num_queues's two-step sequence.
func (r *Reference) RequestNumQueues(ctx context.Context, want NumQueues) (NumQueues, error) {
	if _, err := r.SetNumQueues(ctx, want); err != nil {
		return NumQueues{}, err
	}
	return r.GetNumQueues(ctx)
}
