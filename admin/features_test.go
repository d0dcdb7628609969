// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package admin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumQueuesEncodeDecodeRoundTrip(t *testing.T) {
	assert := assert.New(t)

	want := NumQueues{NumSQ: 7, NumCQ: 3}
	got := decodeNumQueues(want.encode())

	assert.Equal(want, got)
}

func TestNumQueuesEncoding(t *testing.T) {
	assert := assert.New(t)

	// NCQR in bits 31:16, NSQR in bits 15:0.
	v := NumQueues{NumSQ: 0x1234, NumCQ: 0x5678}.encode()
	assert.Equal(uint32(0x56781234), v)
}
