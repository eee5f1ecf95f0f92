// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import "context"

// FlowResult tells a [Flow] whether to continue to the next node or abort
// the whole pipeline. Modeled as a two-branch result instead of the
// source's "return null to abort" convention, per spec.md Design Note 3,
// to keep the channel type-safe.
type FlowResult int

const (
	FlowContinue FlowResult = iota
	FlowAbort
)

// FlowNode is one step of a [Flow]. It may mutate and return a new T, or
// signal FlowAbort to halt the pipeline (spec.md §4.3).
type FlowNode[T any] func(ctx context.Context, x T) (T, FlowResult)

// Flow is an ordered, mutable interceptor pipeline (spec.md C3). Nodes run
// in registration order; the first node to return FlowAbort halts
// execution and no downstream operation runs.
type Flow[T any] struct {
	nodes  []FlowNode[T]
	logger Logger
}

// NewFlow builds an empty Flow. logger may be nil, in which case abort
// logging is skipped.
func NewFlow[T any](logger Logger) *Flow[T] {
	return &Flow[T]{logger: logger}
}

// Push appends a node to the end of the pipeline.
func (f *Flow[T]) Push(node FlowNode[T]) {
	f.nodes = append(f.nodes, node)
}

// Len reports how many nodes are registered.
func (f *Flow[T]) Len() int {
	return len(f.nodes)
}

// Exec runs the pipeline against x0, per spec.md §4.3's algorithm: each
// node's output feeds the next; any FlowAbort halts immediately and the
// second return value is false ("aborted sentinel"). A node panic is
// caught, logged, and treated as an abort — spec.md §4.3 step 3 describes
// this for a throwing node.
func (f *Flow[T]) Exec(ctx context.Context, x0 T) (result T, ok bool) {
	x := x0
	for _, node := range f.nodes {
		var res FlowResult
		func() {
			defer func() {
				if r := recover(); r != nil {
					if f.logger != nil {
						f.logger.Error("flow node panicked, treating as abort", "panic", r)
					}
					res = FlowAbort
				}
			}()
			x, res = node(ctx, x)
		}()
		if res == FlowAbort {
			if f.logger != nil {
				f.logger.Debug("flow aborted")
			}
			var zero T
			return zero, false
		}
	}
	return x, true
}
