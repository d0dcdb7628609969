// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Controller lifecycle (C5): the three constructors, the reset sequence,
// and the handle that callers use for everything else in this package.

package nvmecore

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/dswarbrick/nvmecore/utils"
)

// SourceKind identifies how a Controller's register window was obtained.
type SourceKind int

const (
	// SourceManual means the caller supplied an already-mapped pointer.
	SourceManual SourceKind = iota
	// SourceFile means the core opened and mmap'd a /dev/... path.
	SourceFile
	// SourceRemote means the register window was mapped through a
	// cluster-interconnect remote segment (see package cluster).
	SourceRemote
)

// Controller is an NVMe controller handle. It is immutable after
// initialization except via Reset. The design notes ask for ownership
// composition rather than pointer-arithmetic offset tricks: Controller
// carries only the stable fields a caller needs, and a private impl
// struct (never exposed) owns the device-kind-specific teardown state.
type Controller struct {
	PageSize       uint64
	DoorbellStride uint8
	TimeoutMS      uint64
	MaxEntries     uint32
	MPSMin         uint8
	MPSMax         uint8
	Contiguous     bool

	source SourceKind
	regs   regs
	impl   ctrlImpl
}

// ctrlImpl holds whatever a given source kind needs to free the mapping.
// Each constructor sets exactly one of these.
type ctrlImpl struct {
	file *os.File // SourceFile
	mm   []byte   // SourceFile: the mmap'd byte slice, needed for munmap
	free func()   // SourceRemote (and any other externally-owned mapping)
}

// NewManualController wraps an already-mapped volatile register pointer.
// size must be at least MinRegisterWindow.
func NewManualController(ptr unsafe.Pointer, size uintptr) (*Controller, error) {
	if size < MinRegisterWindow {
		return nil, fmt.Errorf("nvmecore: register window too small: %w", ErrRange)
	}
	return newController(SourceManual, newRegs(ptr, size), ctrlImpl{})
}

// NewFileController opens path (e.g. "/dev/nvme0") O_RDWR|O_NONBLOCK and
// mmaps MinRegisterWindow bytes of it as the register window. The core
// owns both the descriptor and the mapping until Free is called.
func NewFileController(path string) (*Controller, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nvmecore: could not open device resource file %s: %v\n", path, err)
		return nil, fmt.Errorf("nvmecore: open %s: %w", path, err)
	}

	mm, err := unix.Mmap(fd, 0, MinRegisterWindow, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		fmt.Fprintf(os.Stderr, "nvmecore: failed to map device memory: %v\n", err)
		return nil, fmt.Errorf("nvmecore: mmap %s: %w", path, err)
	}

	f := os.NewFile(uintptr(fd), path)
	r := newRegs(unsafe.Pointer(&mm[0]), MinRegisterWindow)

	ctrl, err := newController(SourceFile, r, ctrlImpl{file: f, mm: mm})
	if err != nil {
		unix.Munmap(mm)
		f.Close()
		return nil, err
	}
	return ctrl, nil
}

// RemoteMapper borrows a cluster device and maps its PCI BAR0 as a
// remote segment, returning the mapped pointer, size, and a teardown
// closure the core calls on Free. This is the seam the cluster package's
// SmartIO adapter plugs into; nvmecore only depends on the function
// signature.
type RemoteMapper func(deviceID uint64, adapter uint32) (ptr unsafe.Pointer, size uintptr, free func(), err error)

// NewRemoteController borrows deviceID on the given cluster adapter via
// mapper, and maps its register BAR.
func NewRemoteController(deviceID uint64, adapter uint32, mapper RemoteMapper) (*Controller, error) {
	ptr, size, free, err := mapper(deviceID, adapter)
	if err != nil {
		return nil, err
	}
	if size < MinRegisterWindow {
		free()
		return nil, fmt.Errorf("nvmecore: remote register window too small: %w", ErrRange)
	}

	ctrl, err := newController(SourceRemote, newRegs(ptr, size), ctrlImpl{free: free})
	if err != nil {
		free()
		return nil, err
	}
	return ctrl, nil
}

// hostPageSize returns the process's page size as reported by the OS.
func hostPageSize() uint64 {
	return uint64(os.Getpagesize())
}

func newController(kind SourceKind, r regs, impl ctrlImpl) (*Controller, error) {
	// The register map's unsafe-pointer casts assume little-endian
	// layout, as the NVMe register set itself always is; a big-endian
	// host would silently misread every multi-byte field.
	if utils.NativeEndian != binary.LittleEndian {
		return nil, fmt.Errorf("nvmecore: host is not little-endian: %w", ErrNotSupported)
	}

	capReg := r.readCAP()

	pageSize := hostPageSize()
	hostMPS := uint8(log2b(uint(pageSize / 4096)))

	if !(capReg.MPSMIN <= hostMPS && hostMPS <= capReg.MPSMAX) {
		fmt.Fprintln(os.Stderr, "nvmecore: system page size is incompatible with controller page size")
		return nil, fmt.Errorf("nvmecore: page size %d not in controller range [%d,%d]: %w",
			pageSize, capReg.MPSMIN, capReg.MPSMAX, ErrRange)
	}

	return &Controller{
		PageSize:       pageSize,
		DoorbellStride: capReg.DSTRD,
		TimeoutMS:      uint64(capReg.TO) * 500,
		MaxEntries:     capReg.MQES + 1,
		MPSMin:         capReg.MPSMIN,
		MPSMax:         capReg.MPSMAX,
		Contiguous:     capReg.CQR,
		source:         kind,
		regs:           r,
		impl:           impl,
	}, nil
}

// Version returns the controller's reported NVMe version (VS register).
func (c *Controller) Version() uint32 {
	return c.regs.readVS()
}

// Free releases the register mapping according to the controller's
// source kind.
func (c *Controller) Free() {
	switch c.source {
	case SourceFile:
		if c.impl.mm != nil {
			unix.Munmap(c.impl.mm)
		}
		if c.impl.file != nil {
			c.impl.file.Close()
		}
	case SourceRemote:
		if c.impl.free != nil {
			c.impl.free()
		}
	case SourceManual:
		// Caller owns the mapping; nothing to release.
	}
}

// Doorbell returns a pointer to the SQ-tail (cq=false) or CQ-head
// (cq=true) doorbell register for the given queue id.
func (c *Controller) Doorbell(qid uint16, cq bool) *uint32 {
	return c.regs.doorbell(qid, cq, c.DoorbellStride)
}

// resetTimeout returns the controller timeout (TimeoutMS) as a Duration.
func (c *Controller) resetTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

const resetPollInterval = 100 * time.Microsecond

// Reset performs the controller reset sequence described in §4.5:
// clear CC.EN, wait for CSTS.RDY to drop, program AQA/ASQ/ACQ, set CC.EN
// with the NVM command set and this controller's page size, then wait
// for CSTS.RDY to rise. acqAddr/asqAddr are the bus addresses of the
// admin CQ and SQ; both queues' memory must already be zero-filled by
// the caller (see queue.Clear).
func (c *Controller) Reset(acqAddr, asqAddr uint64) error {
	deadline := time.Now().Add(c.resetTimeout())

	c.regs.clearEnable()

	for c.regs.cstsRDY() {
		if time.Now().After(deadline) {
			fmt.Fprintln(os.Stderr, "nvmecore: timeout exceeded while waiting for controller reset")
			return ErrTimeout
		}
		time.Sleep(resetPollInterval)
	}

	cqMaxEntries := uint32(c.PageSize/16) - 1
	sqMaxEntries := uint32(c.PageSize/64) - 1
	c.regs.writeAQA(sqMaxEntries, cqMaxEntries)

	c.regs.writeACQ(acqAddr)
	c.regs.writeASQ(asqAddr)

	c.regs.writeCC(ccFields{
		EN:     true,
		CSS:    0, // NVM command set
		MPS:    uint8(log2b(uint(c.PageSize / 4096))),
		IOSQES: uint8(log2b(64)),
		IOCQES: uint8(log2b(16)),
	})

	deadline = time.Now().Add(c.resetTimeout())
	for !c.regs.cstsRDY() {
		if time.Now().After(deadline) {
			fmt.Fprintln(os.Stderr, "nvmecore: timeout exceeded while waiting for controller enable")
			return ErrTimeout
		}
		time.Sleep(resetPollInterval)
	}

	return nil
}
