// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import "testing"

type recordingLogger struct {
	debug, log, warn, error int
}

func (r *recordingLogger) Debug(args ...any) { r.debug++ }
func (r *recordingLogger) Log(args ...any)   { r.log++ }
func (r *recordingLogger) Warn(args ...any)  { r.warn++ }
func (r *recordingLogger) Error(args ...any) { r.error++ }

func TestSetLogLevelGatesBelowLevel(t *testing.T) {
	inner := &recordingLogger{}
	logger := SetLogLevel(inner, LogLevelWarn)

	logger.Debug("should be dropped")
	logger.Log("should be dropped")
	logger.Warn("should pass")
	logger.Error("should pass")

	if inner.debug != 0 || inner.log != 0 {
		t.Errorf("debug/log calls leaked through: debug=%d log=%d", inner.debug, inner.log)
	}
	if inner.warn != 1 || inner.error != 1 {
		t.Errorf("warn/error calls not delivered: warn=%d error=%d", inner.warn, inner.error)
	}
}

func TestSetLogLevelNoneDropsEverything(t *testing.T) {
	inner := &recordingLogger{}
	logger := SetLogLevel(inner, LogLevelNone)

	logger.Debug("x")
	logger.Log("x")
	logger.Warn("x")
	logger.Error("x")

	if inner.debug+inner.log+inner.warn+inner.error != 0 {
		t.Errorf("LogLevelNone let calls through: %+v", inner)
	}
}

func TestSetLogLevelDebugPassesEverything(t *testing.T) {
	inner := &recordingLogger{}
	logger := SetLogLevel(inner, LogLevelDebug)

	logger.Debug("x")
	logger.Log("x")
	logger.Warn("x")
	logger.Error("x")

	if inner.debug != 1 || inner.log != 1 || inner.warn != 1 || inner.error != 1 {
		t.Errorf("LogLevelDebug dropped a call: %+v", inner)
	}
}
