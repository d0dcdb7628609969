// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package queue

import "errors"

// ErrTimeout is returned by DequeueBlock when no completion lands
// before the deadline, matching nvm_cq_dequeue_block's ETIME.
var ErrTimeout = errors.New("queue: timeout waiting for completion")
