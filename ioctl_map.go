// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Kernel-module ioctl transport (§6 external collaborator). The disnvme
// kernel module pins host (or CUDA device) pages and returns their bus
// addresses; this file only encodes the wire request and issues the
// ioctl(2) calls, the same way ioctl.go and nvme.go issued
// NVME_IOCTL_ADMIN_CMD against /dev/nvmeX in the teacher.

package nvmecore

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Ioctl request numbers for the disnvme kernel module, type 'n'.
var (
	nvmMapHostMemory   = iowr('n', 1, unsafe.Sizeof(ioctlMapRequest{}))
	nvmMapDeviceMemory = iowr('n', 2, unsafe.Sizeof(ioctlMapRequest{}))
	nvmUnmapMemory     = iowr('n', 3, unsafe.Sizeof(uint64(0)))
)

// ioctlMapRequest mirrors struct nvm_ioctl_map from dma.c: a virtual
// address range in, a caller-owned bus-address array out.
type ioctlMapRequest struct {
	vaddrStart uint64
	nPages     uint64
	ioaddrs    uintptr // *uint64, filled in by the kernel module
}

// KernelModule is a handle to the disnvme kernel module's control device
// (e.g. /dev/disnvme0), used to pin host or device memory for DMA and to
// release it again.
type KernelModule struct {
	fd int
}

// OpenKernelModule opens the kernel module's control device.
func OpenKernelModule(path string) (*KernelModule, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("nvmecore: open kernel module device: %w", err)
	}
	return &KernelModule{fd: int(f.Fd())}, nil
}

// Close releases the control device. It does not unmap any memory still
// pinned through this handle; callers must call UnmapMemory first.
func (k *KernelModule) Close() error {
	return unix.Close(k.fd)
}

// MapHostMemory pins nPages of host memory starting at vaddr and returns
// one bus address per page.
func (k *KernelModule) MapHostMemory(vaddr uintptr, nPages uint64) ([]uint64, error) {
	return k.mapMemory(nvmMapHostMemory, vaddr, nPages)
}

// MapDeviceMemory pins nPages of CUDA device memory starting at vaddr.
// The request is always issued; a kernel module built without CUDA
// support rejects it, and that ioctl error is returned wrapped (no
// ErrNotSupported mapping is done here).
func (k *KernelModule) MapDeviceMemory(vaddr uintptr, nPages uint64) ([]uint64, error) {
	return k.mapMemory(nvmMapDeviceMemory, vaddr, nPages)
}

func (k *KernelModule) mapMemory(req uintptr, vaddr uintptr, nPages uint64) ([]uint64, error) {
	if nPages == 0 {
		return nil, ErrRange
	}

	ioaddrs := make([]uint64, nPages)

	r := ioctlMapRequest{
		vaddrStart: uint64(vaddr),
		nPages:     nPages,
		ioaddrs:    uintptr(unsafe.Pointer(&ioaddrs[0])),
	}

	if err := ioctl(uintptr(k.fd), req, uintptr(unsafe.Pointer(&r))); err != nil {
		return nil, fmt.Errorf("nvmecore: page mapping kernel request failed: %w", err)
	}

	return ioaddrs, nil
}

// UnmapMemory releases pages previously pinned by MapHostMemory or
// MapDeviceMemory.
func (k *KernelModule) UnmapMemory(vaddr uintptr) error {
	addr := uint64(vaddr)
	if err := ioctl(uintptr(k.fd), nvmUnmapMemory, uintptr(unsafe.Pointer(&addr))); err != nil {
		return fmt.Errorf("nvmecore: page unmapping kernel request failed: %w", err)
	}
	return nil
}
