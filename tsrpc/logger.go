// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// LogLevel gates a [Logger]'s output, per spec.md C8.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelLog
	LogLevelWarn
	LogLevelError
	// LogLevelNone disables all logging.
	LogLevelNone
)

// Logger is the minimal logging facade the core talks to (spec.md §1
// treats the logging facade's backing implementation as an external
// collaborator; this interface is the narrow surface the core itself
// depends on).
type Logger interface {
	Debug(args ...any)
	Log(args ...any)
	Warn(args ...any)
	Error(args ...any)
}

// gatedLogger wraps a Logger so calls below logLevel are dropped, per
// spec.md's setLogLevel(logger, level).
type gatedLogger struct {
	inner Logger
	level LogLevel
}

// SetLogLevel wraps logger so that calls below level are dropped.
func SetLogLevel(logger Logger, level LogLevel) Logger {
	return &gatedLogger{inner: logger, level: level}
}

func (g *gatedLogger) Debug(args ...any) {
	if g.level <= LogLevelDebug {
		g.inner.Debug(args...)
	}
}

func (g *gatedLogger) Log(args ...any) {
	if g.level <= LogLevelLog {
		g.inner.Log(args...)
	}
}

func (g *gatedLogger) Warn(args ...any) {
	if g.level <= LogLevelWarn {
		g.inner.Warn(args...)
	}
}

func (g *gatedLogger) Error(args ...any) {
	if g.level <= LogLevelError {
		g.inner.Error(args...)
	}
}

// charmLogger adapts github.com/charmbracelet/log to the Logger
// interface. It is the default backing used when a caller supplies no
// logger, giving leveled, colorized terminal output.
type charmLogger struct {
	l *charmlog.Logger
}

// NewDefaultLogger returns the charmbracelet/log-backed default Logger,
// writing colorized, leveled output to stderr.
func NewDefaultLogger() Logger {
	return &charmLogger{l: charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          "tsrpc",
	})}
}

func (c *charmLogger) Debug(args ...any) { c.l.Debug(msgOf(args), args[min(1, len(args)):]...) }
func (c *charmLogger) Log(args ...any)   { c.l.Info(msgOf(args), args[min(1, len(args)):]...) }
func (c *charmLogger) Warn(args ...any)  { c.l.Warn(msgOf(args), args[min(1, len(args)):]...) }
func (c *charmLogger) Error(args ...any) { c.l.Error(msgOf(args), args[min(1, len(args)):]...) }

func msgOf(args []any) any {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
