// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package admin implements the admin command reference (C6) and the
// procedures built on top of it (C7): Identify, Create/Delete CQ/SQ,
// and the Number of Queues feature. Grounded on rpc.c's
// _nvm_local_admin/nvm_aq_create/nvm_rpc_bind and admin.c's procedure
// bodies.
package admin

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/dswarbrick/nvmecore"
	"github.com/dswarbrick/nvmecore/queue"
)

// Stub is the pluggable transport a Reference dispatches admin commands
// through once bound, mirroring rpc.c's ref->stub function pointer.
// Implementations submit the built command however they see fit (over
// a cluster interconnect, a simulator, ...) and return the resulting
// completion slot.
type Stub func(ctx context.Context, cmd nvmecore.Command) (nvmecore.Completion, error)

// Reference is a mutex-protected handle admin procedures submit
// commands through. A Reference is either local (it owns an admin SQ/CQ
// pair directly) or bound to a remote Stub; never both, matching
// nvm_rpc_bind's single-assignment rule.
type Reference struct {
	mu sync.Mutex

	sq      *queue.SQ
	cq      *queue.CQ
	timeout time.Duration

	stub  Stub
	bound bool
}

// NewLocalReference wraps an already-reset admin SQ/CQ pair. The pair
// must have been programmed into the controller via Controller.Reset
// before any command is submitted.
func NewLocalReference(sq *queue.SQ, cq *queue.CQ, timeout time.Duration) *Reference {
	return &Reference{sq: sq, cq: cq, timeout: timeout}
}

// NewRemoteReference returns a Reference with no local queue pair,
// ready to Bind to a Stub.
func NewRemoteReference(timeout time.Duration) *Reference {
	return &Reference{timeout: timeout}
}

// Bind attaches a remote transport stub. It may be called at most once
// per Reference, like nvm_rpc_bind; a second call returns an error
// wrapping nvmecore.ErrPermission.
func (r *Reference) Bind(stub Stub) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bound {
		return fmt.Errorf("nvmecore/admin: reference already bound: %w", nvmecore.ErrPermission)
	}
	r.stub = stub
	r.bound = true
	return nil
}

// Submit builds and dispatches one admin command, blocking until its
// completion arrives or ctx/the reference's timeout expires. build
// fills in the command-specific fields (opcode, nsid, data pointer,
// operand dwords); the CID and phase bookkeeping are handled by the
// ring itself and must not be touched by build.
//
// A bound Reference hands the built command to its Stub. Otherwise the
// local path runs, corresponding to _nvm_local_admin: enqueue, write
// the SQ tail doorbell, block for the next completion, then advance the
// SQ head and write the CQ head doorbell.
func (r *Reference) Submit(ctx context.Context, build func(nvmecore.Command)) (nvmecore.Completion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bound {
		return r.submitRemote(ctx, build)
	}
	return r.submitLocal(ctx, build)
}

func (r *Reference) submitLocal(ctx context.Context, build func(nvmecore.Command)) (nvmecore.Completion, error) {
	if r.sq == nil || r.cq == nil {
		return nvmecore.Completion{}, nvmecore.ErrNoTransport
	}

	slot, _, ok := r.sq.Enqueue()
	if !ok {
		return nvmecore.Completion{}, nvmecore.ErrQueueFull
	}

	build(nvmecore.NewCommand(slot))
	r.sq.Submit()

	cplPtr, err := r.cq.DequeueBlock(ctx, r.timeout)
	if err != nil {
		return nvmecore.Completion{}, translateQueueErr(err)
	}

	r.sq.Update()
	r.cq.Update()

	return nvmecore.NewCompletion(cplPtr), nil
}

func (r *Reference) submitRemote(ctx context.Context, build func(nvmecore.Command)) (nvmecore.Completion, error) {
	buf := make([]byte, queue.CommandEntrySize)
	cmd := nvmecore.NewCommand(unsafe.Pointer(&buf[0]))
	build(cmd)

	return r.stub(ctx, cmd)
}

func translateQueueErr(err error) error {
	if err == queue.ErrTimeout {
		return nvmecore.ErrTimeout
	}
	return err
}
