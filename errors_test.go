// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvmecore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackNVMeStatus(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(Status(0), PackNVMeStatus(0))
	assert.True(PackNVMeStatus(0).Ok())

	s := PackNVMeStatus(0x0002) // Invalid Field in Command
	assert.False(s.Ok())
	code, ok := s.NVMeCode()
	assert.True(ok)
	assert.Equal(uint16(0x0002), code)

	_, ok = s.Errno()
	assert.False(ok)
}

func TestStatusErrno(t *testing.T) {
	assert := assert.New(t)

	s := Status(5) // EIO
	assert.False(s.Ok())
	errno, ok := s.Errno()
	assert.True(ok)
	assert.Equal(int32(5), errno)

	_, ok = s.NVMeCode()
	assert.False(ok)
}

func TestIsOK(t *testing.T) {
	tests := []struct {
		name       string
		statusWord uint16
		want       bool
	}{
		{"success, phase 0", 0x0000, true},
		{"success, phase 1", 0x0001, true},
		{"error, phase 0", 0x0004, false},
		{"error, phase 1", 0x0005, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOK(tt.statusWord); got != tt.want {
				t.Errorf("IsOK(%#x) = %v, want %v", tt.statusWord, got, tt.want)
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("success", Status(0).Error())
	assert.Contains(Status(5).Error(), "errno")
	assert.Contains(PackNVMeStatus(2).Error(), "nvme status")
}
