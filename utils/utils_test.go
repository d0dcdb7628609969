// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package utils

import (
	"encoding/binary"
	"math/big"
	"testing"
)

func TestNativeEndianDetected(t *testing.T) {
	if NativeEndian != binary.LittleEndian && NativeEndian != binary.BigEndian {
		t.Fatalf("NativeEndian = %v, want LittleEndian or BigEndian", NativeEndian)
	}
}

func TestFormatBigBytes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{500, "500 B"},
		{1500, "1 KB"},
		{1_500_000_000, "1 GB"},
	}

	for _, c := range cases {
		if got := FormatBigBytes(big.NewInt(c.in)); got != c.want {
			t.Errorf("FormatBigBytes(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}
