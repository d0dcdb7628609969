// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Host-endianness detection and big.Int byte formatting. The
// uint64-sized byte formatter and the bit-scan helper moved to package
// nvmecore's bitops.go, since nvmecore is the only consumer and the
// duplication added nothing; this package keeps what callers outside
// nvmecore still need directly.

package utils

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"unsafe"
)

var (
	NativeEndian binary.ByteOrder
)

// Determine native endianness of system
func init() {
	i := uint32(1)
	b := (*[4]byte)(unsafe.Pointer(&i))
	if b[0] == 1 {
		NativeEndian = binary.LittleEndian
	} else {
		NativeEndian = binary.BigEndian
	}
}

// FormatBigBytes formats an arbitrary-precision byte count, such as an
// aggregate capacity across every namespace on a controller (a sum that
// can legitimately exceed a single uint64). Nothing in this module calls
// it.
func FormatBigBytes(v *big.Int) string {
	var i int

	suffixes := [...]string{"B", "KB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}
	d := big.NewInt(1)

	for i = 0; i < len(suffixes)-1; i++ {
		if v.Cmp(new(big.Int).Mul(d, big.NewInt(1000))) == 1 {
			d.Mul(d, big.NewInt(1000))
		} else {
			break
		}
	}

	if i == 0 {
		return fmt.Sprintf("%d %s", v, suffixes[i])
	} else {
		// TODO: Implement 3 significant digit printing as per FormatBytes()
		return fmt.Sprintf("%d %s", v.Div(v, d), suffixes[i])
	}
}
