// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// DMA descriptor (C2): re-expresses a host-page-granularity bus-address
// list at the controller's own page granularity, the way dma.c's
// initialize_handle() does.

package nvmecore

import (
	"fmt"
	"unsafe"
)

// DMASourceKind records how a DMA descriptor's underlying memory was
// obtained, mirroring dma.c's enum dma_type.
type DMASourceKind int

const (
	// DMASourceManual: the caller already has a bus-address list (e.g.
	// from a remote segment or its own allocator).
	DMASourceManual DMASourceKind = iota
	// DMASourceIoctlHost: pinned via the kernel module, host memory.
	DMASourceIoctlHost
	// DMASourceIoctlDevice: pinned via the kernel module, CUDA device memory.
	DMASourceIoctlDevice
)

// DMA is a DMA-able memory window described at the controller's page
// granularity, regardless of what granularity the underlying mapping
// was pinned at.
type DMA struct {
	Vaddr    unsafe.Pointer
	PageSize uint64 // controller page size this descriptor is expressed in
	NPages   uint64 // number of controller-sized pages

	// IOAddrs holds one bus address per controller page.
	IOAddrs []uint64

	source DMASourceKind
	km     *KernelModule // set only for ioctl-sourced descriptors
}

// nCtrlPages mirrors dma.c's n_ctrl_pages macro: how many controller
// pages of size ctrlPageSize are needed to cover nPages of hostPageSize.
func nCtrlPages(hostPageSize, ctrlPageSize, nPages uint64) uint64 {
	total := hostPageSize * nPages
	return (total + ctrlPageSize - 1) / ctrlPageSize
}

// reExpress builds the controller-page-granularity address list from a
// host-page-granularity source list, following the exact formula in
// dma.c: for each controller page i, find which host page it falls in
// and what its offset within that page is, then add that offset to the
// host page's bus address.
func reExpress(srcAddrs []uint64, hostPageSize, ctrlPageSize uint64, nCtrlP uint64) []uint64 {
	out := make([]uint64, nCtrlP)
	for i := uint64(0); i < nCtrlP; i++ {
		byteOffset := i * ctrlPageSize
		currentPage := byteOffset / hostPageSize
		offsetWithinPage := byteOffset % hostPageSize
		out[i] = srcAddrs[currentPage] + offsetWithinPage
	}
	return out
}

// NewManualDMA builds a DMA descriptor directly from a caller-supplied,
// already controller-page-granular bus-address list (e.g. handed to us
// by a remote segment mapping). No re-expression is performed.
func NewManualDMA(vaddr unsafe.Pointer, ctrlPageSize uint64, ioaddrs []uint64) (*DMA, error) {
	if len(ioaddrs) == 0 {
		return nil, fmt.Errorf("nvmecore: empty bus address list: %w", ErrRange)
	}
	return &DMA{
		Vaddr:    vaddr,
		PageSize: ctrlPageSize,
		NPages:   uint64(len(ioaddrs)),
		IOAddrs:  ioaddrs,
		source:   DMASourceManual,
	}, nil
}

// NewHostDMA pins nHostPages of host memory starting at vaddr through
// the kernel module, then re-expresses the resulting bus addresses at
// the controller's page size. hostPageSize*nHostPages must be a whole
// multiple of ctrlPageSize, matching dma.c's ERANGE check.
func NewHostDMA(km *KernelModule, vaddr uintptr, hostPageSize, ctrlPageSize, nHostPages uint64) (*DMA, error) {
	return newIoctlDMA(km, vaddr, hostPageSize, ctrlPageSize, nHostPages, false)
}

// NewDeviceDMA is the CUDA device-memory analog of NewHostDMA. With a
// kernel module built without CUDA support it returns the error from
// KernelModule.MapDeviceMemory's rejected ioctl.
func NewDeviceDMA(km *KernelModule, vaddr uintptr, hostPageSize, ctrlPageSize, nHostPages uint64) (*DMA, error) {
	return newIoctlDMA(km, vaddr, hostPageSize, ctrlPageSize, nHostPages, true)
}

func newIoctlDMA(km *KernelModule, vaddr uintptr, hostPageSize, ctrlPageSize, nHostPages uint64, device bool) (*DMA, error) {
	if (hostPageSize*nHostPages)%ctrlPageSize != 0 {
		return nil, fmt.Errorf("nvmecore: DMA window not a multiple of controller page size: %w", ErrRange)
	}

	var (
		srcAddrs []uint64
		err      error
		kind     DMASourceKind
	)
	if device {
		srcAddrs, err = km.MapDeviceMemory(vaddr, nHostPages)
		kind = DMASourceIoctlDevice
	} else {
		srcAddrs, err = km.MapHostMemory(vaddr, nHostPages)
		kind = DMASourceIoctlHost
	}
	if err != nil {
		return nil, err
	}

	nCtrlP := nCtrlPages(hostPageSize, ctrlPageSize, nHostPages)
	ioaddrs := reExpress(srcAddrs, hostPageSize, ctrlPageSize, nCtrlP)

	return &DMA{
		Vaddr:    unsafe.Pointer(vaddr),
		PageSize: ctrlPageSize,
		NPages:   nCtrlP,
		IOAddrs:  ioaddrs,
		source:   kind,
		km:       km,
	}, nil
}

// Free releases any kernel-module-pinned memory backing this descriptor.
// Manual descriptors are no-ops, since the caller owns that memory.
func (d *DMA) Free() error {
	if d.source == DMASourceManual || d.km == nil {
		return nil
	}
	return d.km.UnmapMemory(uintptr(d.Vaddr))
}

// prpListEntries returns how many PRP list entries are needed to describe
// a transfer of dataSize bytes at this descriptor's page size, matching
// nvm_prp_list_page: ceil(dataSize/PageSize), capped at PageSize/8
// entries (the most that fit in a single PRP list page).
func prpListEntries(dataSize, pageSize uint64) uint64 {
	n := (dataSize + pageSize - 1) / pageSize
	max := pageSize / 8
	if n > max {
		n = max
	}
	return n
}
