// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Composite error handling for the NVMe driver core. Three error kinds
// coexist: POSIX-style errno values for host-side failures, packed NVMe
// completion statuses, and plain Go sentinel errors for constructors and
// admin procedures that return error rather than a raw code.

package nvmecore

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by constructors, the reset sequence, and queue
// primitives.
var (
	ErrRange        = errors.New("nvmecore: value out of range")
	ErrTimeout      = errors.New("nvmecore: controller timeout exceeded")
	ErrQueueFull    = errors.New("nvmecore: queue full")
	ErrNoTransport  = errors.New("nvmecore: admin reference has no transport bound")
	ErrNotSupported = errors.New("nvmecore: operation not supported")
	ErrPermission   = errors.New("nvmecore: operation rejected by peer")
)

// Status is a composite admin-transport result: zero means success, a
// positive value is a POSIX errno, and a negative value packs an NVMe
// completion status code (bits 1-15 of the completion status DWORD).
//
// This mirrors nvm_raw_rpc()'s convention in the original driver: "If
// return value is zero, it indicates success. If return value is
// positive, it indicates an errno. If return value is negative, it
// indicates an NVM error."
type Status int32

// PackNVMeStatus converts a completion status code (DWORD3 bits 16-31 of
// a completion slot, shifted right by one so the phase bit is dropped)
// into a negative Status.
func PackNVMeStatus(statusCode uint16) Status {
	if statusCode == 0 {
		return 0
	}
	return Status(-int32(statusCode))
}

// IsOK reports whether a raw completion status word (phase bit included)
// indicates success: the phase-masked value must be zero.
func IsOK(statusWord uint16) bool {
	return statusWord&^1 == 0
}

// Ok reports whether the composite status indicates success.
func (s Status) Ok() bool {
	return s == 0
}

// Errno reports whether the status is a positive POSIX errno, returning
// it and true if so.
func (s Status) Errno() (int32, bool) {
	if s > 0 {
		return int32(s), true
	}
	return 0, false
}

// NVMeCode reports whether the status is a packed NVMe completion status,
// returning the unsigned status code and true if so.
func (s Status) NVMeCode() (uint16, bool) {
	if s < 0 {
		return uint16(-int32(s)), true
	}
	return 0, false
}

func (s Status) Error() string {
	switch {
	case s == 0:
		return "success"
	case s > 0:
		return fmt.Sprintf("errno %d", int32(s))
	default:
		return fmt.Sprintf("nvme status %#x", uint16(-int32(s)))
	}
}
