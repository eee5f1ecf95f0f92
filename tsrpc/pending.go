// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import (
	"sync"
	"time"
)

// PendingCall is one outbound API call awaiting a response, correlated by
// SN (spec.md §3). Exactly one PendingCall exists per SN at a time;
// IsAborted only ever transitions false -> true.
type PendingCall struct {
	SN        uint32
	ApiName   string
	StartedAt time.Time

	mu        sync.Mutex
	isAborted bool
	onAbort   func()

	resultCh chan ApiReturn[any]
	timer    *time.Timer
}

// SetOnAbort installs the hook invoked when this call is aborted. It must
// be called at most once, before the call can be aborted concurrently.
func (p *PendingCall) SetOnAbort(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAbort = fn
}

// IsAborted reports whether Abort has already fired for this call.
func (p *PendingCall) IsAborted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isAborted
}

// PendingRegistry correlates outbound calls with inbound responses by SN
// (spec.md C4). It is owned exclusively by one Connection (spec.md §3).
type PendingRegistry struct {
	logger  Logger
	counter Counter

	mu      sync.Mutex
	pending map[uint32]*PendingCall
}

// NewPendingRegistry builds an empty registry.
func NewPendingRegistry(logger Logger) *PendingRegistry {
	return &PendingRegistry{logger: logger, pending: make(map[uint32]*PendingCall)}
}

// Register allocates a new SN and PendingCall, scheduling a timeout timer
// if timeout > 0. The returned channel receives exactly one ApiReturn when
// the call settles normally (spec.md §4.4); if the call is aborted instead,
// nothing is ever sent on the channel (spec.md §4.4, §9 Design Note, and
// the HTTP abort test S5).
func (r *PendingRegistry) Register(apiName string, timeout time.Duration) *PendingCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	sn := r.counter.Next()
	call := &PendingCall{
		SN:        sn,
		ApiName:   apiName,
		StartedAt: time.Now(),
		resultCh:  make(chan ApiReturn[any], 1),
	}
	r.pending[sn] = call

	if timeout > 0 {
		call.timer = time.AfterFunc(timeout, func() {
			r.settleTimeout(sn)
		})
	}
	return call
}

func (r *PendingRegistry) settleTimeout(sn uint32) {
	err := NewNetworkError("Request Timeout", CodeTimeout)
	r.Settle(sn, Fail[any](err))
}

// Settle delivers ret to the pending call registered under sn, if any.
// Settling an unknown SN is a no-op that logs a warning (spec.md §4.4(b)).
// Of two concurrent Settle calls for the same SN, the first wins and the
// second is a dropped no-op (spec.md §4.4(c)); a late Settle for an
// already-aborted SN is also dropped (spec.md §4.4, Algorithm).
func (r *PendingRegistry) Settle(sn uint32, ret ApiReturn[any]) {
	r.mu.Lock()
	call, ok := r.pending[sn]
	if !ok {
		r.mu.Unlock()
		if r.logger != nil {
			r.logger.Warn("settle: unknown sn", "sn", sn)
		}
		return
	}
	delete(r.pending, sn)
	r.mu.Unlock()

	call.mu.Lock()
	if call.isAborted {
		call.mu.Unlock()
		return
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	call.mu.Unlock()

	select {
	case call.resultCh <- ret:
	default:
		// Already settled by a concurrent Settle; first writer wins.
	}
}

// Abort marks sn as aborted: its onAbort hook (if set) fires, IsAborted
// becomes true, and the caller's channel is never written to again -
// the caller observes a permanent pending, per spec.md §4.4's tested
// semantics (see S5).
func (r *PendingRegistry) Abort(sn uint32) {
	r.mu.Lock()
	call, ok := r.pending[sn]
	if ok {
		delete(r.pending, sn)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	call.mu.Lock()
	if call.isAborted {
		call.mu.Unlock()
		return
	}
	call.isAborted = true
	onAbort := call.onAbort
	if call.timer != nil {
		call.timer.Stop()
	}
	call.mu.Unlock()

	if onAbort != nil {
		onAbort()
	}
}

// AbortBy aborts every pending call matching predicate, e.g. used to tear
// down all calls for a given apiName.
func (r *PendingRegistry) AbortBy(predicate func(*PendingCall) bool) {
	r.mu.Lock()
	var matched []uint32
	for sn, call := range r.pending {
		if predicate(call) {
			matched = append(matched, sn)
		}
	}
	r.mu.Unlock()
	for _, sn := range matched {
		r.Abort(sn)
	}
}

// Size reports the number of SNs registered but not yet settled or
// aborted (spec.md §4.4(a)).
func (r *PendingRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// DisconnectAll settles every pending call with a NetworkError
// "Connection disconnected", per spec.md §4.4: "On connection disconnect,
// all pending calls settle with NetworkError."
func (r *PendingRegistry) DisconnectAll() {
	r.mu.Lock()
	sns := make([]uint32, 0, len(r.pending))
	for sn := range r.pending {
		sns = append(sns, sn)
	}
	r.mu.Unlock()

	err := NewNetworkError("Connection disconnected", "")
	for _, sn := range sns {
		r.Settle(sn, Fail[any](err))
	}
}

// Wait returns, without blocking, the channel that receives the call's
// ApiReturn once it settles (via Settle, its timeout, or DisconnectAll).
// If the call was aborted, nothing is ever sent on the channel, so a
// receive on it blocks forever unless the caller also selects on
// something else, such as a context.
func (p *PendingCall) Wait() <-chan ApiReturn[any] {
	return p.resultCh
}
