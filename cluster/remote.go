// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package cluster defines the collaborator interfaces a cluster
// interconnect (SmartIO) adapter must satisfy to back a remote
// Controller or DMA descriptor (§6). nvmecore itself never talks to a
// specific interconnect; it only depends on the function-pointer-shaped
// seams defined here, mirroring how nvm_dis_ctrl_init/nvm_dis_rpc_bind
// take an opaque `struct disnvme` handle.
package cluster

import (
	"fmt"
	"unsafe"

	"github.com/dswarbrick/nvmecore"
)

// Device identifies a borrowed remote NVMe controller on the cluster
// fabric.
type Device interface {
	ID() uint64
}

// Adapter is a cluster interconnect client able to borrow a remote
// device and map one of its memory regions (register BAR or a DMA
// window) into the local address space.
type Adapter interface {
	// BorrowDevice resolves deviceID into a live Device handle, failing
	// if the device is unknown or already exclusively borrowed.
	BorrowDevice(deviceID uint64) (Device, error)

	// ReleaseDevice returns a borrowed Device to the fabric.
	ReleaseDevice(dev Device) error

	// MapSegment maps size bytes of dev's memory starting at offset,
	// returning a local pointer and a teardown closure.
	MapSegment(dev Device, offset, size uintptr) (ptr unsafe.Pointer, free func(), err error)
}

// RegisterMapper adapts an Adapter into the nvmecore.RemoteMapper shape
// NewRemoteController expects: borrow the device, map its register BAR
// at offset 0, and fold the borrow's release into the returned free
// closure so Controller.Free releases both the mapping and the borrow.
func RegisterMapper(a Adapter) nvmecore.RemoteMapper {
	return func(deviceID uint64, _ uint32) (unsafe.Pointer, uintptr, func(), error) {
		dev, err := a.BorrowDevice(deviceID)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("nvmecore/cluster: borrow device %d: %w", deviceID, err)
		}

		ptr, free, err := a.MapSegment(dev, 0, nvmecore.MinRegisterWindow)
		if err != nil {
			a.ReleaseDevice(dev)
			return nil, 0, nil, fmt.Errorf("nvmecore/cluster: map register segment: %w", err)
		}

		return ptr, nvmecore.MinRegisterWindow, func() {
			free()
			a.ReleaseDevice(dev)
		}, nil
	}
}

// MapDMASegment maps a DMA-sized window of a borrowed device's memory,
// for building a remote-sourced nvmecore.DMA descriptor via
// NewManualDMA once the caller has the resulting bus addresses from the
// fabric's own address translation (out of scope for this interface;
// the fabric reports them alongside the mapping in its own handshake).
func MapDMASegment(a Adapter, dev Device, offset, size uintptr) (unsafe.Pointer, func(), error) {
	return a.MapSegment(dev, offset, size)
}
