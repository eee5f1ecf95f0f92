// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import "sync/atomic"

// Counter is a monotonically increasing u32 generator, used for both
// per-connection serial numbers and server-wide connection IDs (spec.md
// C8). It wraps at the max value back to 1, never 0, so 0 can be used as
// an "unset" sentinel.
type Counter struct {
	v atomic.Uint32
}

// Next returns the next value in the sequence.
func (c *Counter) Next() uint32 {
	for {
		old := c.v.Load()
		next := old + 1
		if next == 0 {
			next = 1
		}
		if c.v.CompareAndSwap(old, next) {
			return next
		}
	}
}
