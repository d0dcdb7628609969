// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Identify Controller / Identify Namespace (C7), grounded on admin.c's
// nvm_admin_identify_ctrl/nvm_admin_identify_ns and nvm_rpc_ctrl_info's
// field extraction from the returned data page.
package admin

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/dswarbrick/nvmecore"
)

const (
	cnsNamespace   = 0x00
	cnsController  = 0x01
	identifyDataSize = 4096
)

// ControllerInfo is the subset of the Identify Controller data structure
// (plus the CAP/VS-derived fields nvm_rpc_ctrl_info also reports) that
// nvmecore exposes to callers.
type ControllerInfo struct {
	NVMeVersion  uint32
	PageSize     uint64
	DBStride     uint32
	TimeoutMS    uint64
	Contiguous   bool
	MaxEntries   uint32
	PCIVendor    uint32
	SerialNo     string
	ModelNo      string
	Firmware     string
	MaxDataSize  uint64
	SQEntrySize  uint32
	CQEntrySize  uint32
	MaxOutCmds   uint16
	MaxNamespaces uint32
}

// NamespaceInfo is the subset of the Identify Namespace data structure
// nvmecore exposes.
type NamespaceInfo struct {
	Size             uint64 // NSZE, in logical blocks
	Capacity         uint64 // NCAP
	Utilization      uint64 // NUSE, in logical blocks
	NumLBAFormats    uint8  // NLBAF, count of supported LBA formats
	CurrentLBAFormat uint8  // FLBAS low nibble, index into the LBAF list
	LBADataSize      uint32 // 1 << LBAF[current].LBADS
	MetadataSize     uint16 // LBAF[current].MS
}

// IdentifyController issues an Identify Controller admin command and
// parses the returned 4096-byte data structure, combining it with the
// CAP/VS-derived fields from ctrl, matching nvm_rpc_ctrl_info's
// combination of register state and Identify data. dataBuf must be
// DMA-mapped memory at least identifyDataSize bytes long, and dataAddr
// its bus address.
func (r *Reference) IdentifyController(ctx context.Context, ctrl *nvmecore.Controller, dataBuf []byte, dataAddr uint64) (*ControllerInfo, error) {
	if len(dataBuf) < identifyDataSize {
		return nil, nvmecore.ErrRange
	}

	_, err := r.Submit(ctx, func(cmd nvmecore.Command) {
		cmd.SetHeader(uint8(nvmecore.OpIdentify), nvmecore.NSAll)
		cmd.SetDataPtr(dataAddr, 0)
		cmd.SetDword(10, cnsController)
	})
	if err != nil {
		return nil, err
	}

	d := dataBuf
	info := &ControllerInfo{
		NVMeVersion: ctrl.Version(),
		PageSize:    ctrl.PageSize,
		DBStride:    uint32(1) << ctrl.DoorbellStride,
		TimeoutMS:   ctrl.TimeoutMS,
		Contiguous:  ctrl.Contiguous,
		MaxEntries:  ctrl.MaxEntries,

		PCIVendor: uint32(binary.LittleEndian.Uint16(d[0:2])),
		SerialNo:  trimASCII(d[4:24]),
		ModelNo:   trimASCII(d[24:64]),
		Firmware:  trimASCII(d[64:72]),
	}

	mdts := d[77]
	if mdts == 0 {
		info.MaxDataSize = 0 // unbounded
	} else {
		info.MaxDataSize = (uint64(1) << mdts) * (uint64(1) << (12 + ctrl.MPSMin))
	}

	info.SQEntrySize = 1 << (d[512] & 0x0f)
	info.CQEntrySize = 1 << (d[513] & 0x0f)
	info.MaxOutCmds = binary.LittleEndian.Uint16(d[514:516])
	info.MaxNamespaces = binary.LittleEndian.Uint32(d[516:520])

	return info, nil
}

// IdentifyNamespace issues an Identify Namespace admin command for nsid
// and parses the returned data structure.
func (r *Reference) IdentifyNamespace(ctx context.Context, nsid uint32, dataBuf []byte, dataAddr uint64) (*NamespaceInfo, error) {
	if len(dataBuf) < identifyDataSize {
		return nil, nvmecore.ErrRange
	}

	_, err := r.Submit(ctx, func(cmd nvmecore.Command) {
		cmd.SetHeader(uint8(nvmecore.OpIdentify), nsid)
		cmd.SetDataPtr(dataAddr, 0)
		cmd.SetDword(10, cnsNamespace)
	})
	if err != nil {
		return nil, err
	}

	d := dataBuf
	size := binary.LittleEndian.Uint64(d[0:8])
	capacity := binary.LittleEndian.Uint64(d[8:16])
	utilization := binary.LittleEndian.Uint64(d[16:24])
	nlbaf := d[25]

	flbas := d[26] & 0x0f
	lbafOff := 128 + int(flbas)*4
	metadataSize := binary.LittleEndian.Uint16(d[lbafOff : lbafOff+2])
	lbaDataShift := d[lbafOff+2]

	return &NamespaceInfo{
		Size:             size,
		Capacity:         capacity,
		Utilization:      utilization,
		NumLBAFormats:    nlbaf,
		CurrentLBAFormat: flbas,
		LBADataSize:      1 << lbaDataShift,
		MetadataSize:     metadataSize,
	}, nil
}

// trimASCII trims trailing spaces and NULs from a fixed-width ASCII
// identify field, matching the teacher's string-cleanup convention for
// SMART identify fields.
func trimASCII(b []byte) string {
	return string(bytes.TrimRight(bytes.TrimRight(b, "\x00"), " "))
}
