// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Remote admin transport (§6): wire-encodes a built command and decodes
// the resulting completion across a cluster interconnect link. Grounded
// on nvm_rpc.h's documented "zero=success, positive=errno,
// negative=NVM error" convention for nvm_raw_rpc, and on the SmartIO
// rpc_bind/rpc_unbind pairing. The wire format is the command's and
// completion's native 64- and 16-byte memory layouts, sent as-is: NVMe
// structures are already little-endian and fixed-width, so no separate
// marshaling library earns its keep here (see DESIGN.md).
package admin

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"unsafe"

	"github.com/dswarbrick/nvmecore"
	"github.com/dswarbrick/nvmecore/queue"
)

// Link is the minimal transport a remote Stub needs: a request/response
// round trip over whatever the cluster interconnect exposes (a raw
// socket, a SmartIO channel, a test pipe).
type Link interface {
	io.Writer
	io.Reader
}

// NewRemoteStub builds a Stub around a Link: it sends a command's raw
// 64-byte memory, then reads back the full reply frame — the 64-byte
// echoed command followed by the 16-byte completion — and packs the
// result into this package's composite error convention. A server that
// rejects the request echoes back an all-zero command rather than the
// command it received; that all-zero echo, not the completion status
// word, is the documented rejection signal and is mapped to
// nvmecore.ErrPermission before the completion is ever decoded.
func NewRemoteStub(link Link) Stub {
	return func(ctx context.Context, cmd nvmecore.Command) (nvmecore.Completion, error) {
		req := unsafe.Slice((*byte)(cmd.Ptr()), queue.CommandEntrySize)
		if _, err := link.Write(req); err != nil {
			return nvmecore.Completion{}, fmt.Errorf("nvmecore/admin: remote submit: %w", err)
		}

		resp := make([]byte, queue.CommandEntrySize+queue.CompletionEntrySize)
		if _, err := io.ReadFull(link, resp); err != nil {
			return nvmecore.Completion{}, fmt.Errorf("nvmecore/admin: remote completion: %w", err)
		}

		echo := resp[:queue.CommandEntrySize]
		if isZero(echo) {
			return nvmecore.Completion{}, fmt.Errorf("nvmecore/admin: remote command rejected: %w", nvmecore.ErrPermission)
		}

		cpl := resp[queue.CommandEntrySize:]
		status := binary.LittleEndian.Uint16(cpl[14:16])
		if !nvmecore.IsOK(status) {
			return nvmecore.Completion{}, nvmecore.PackNVMeStatus(status >> 1)
		}

		return nvmecore.NewCompletion(unsafe.Pointer(&cpl[0])), nil
	}
}

// isZero reports whether every byte in b is zero.
func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
