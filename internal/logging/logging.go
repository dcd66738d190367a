// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured logger used across the daemon,
// the control endpoint, and the log pipeline. It wraps charmbracelet/log so
// every component logs key/value pairs the same way, whether the output ends
// up on a terminal during development or as JSON lines under a supervisor.
package logging

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
)

// Level mirrors charmbracelet/log's severity levels so callers never import
// that package directly.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) charm() charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Config controls how a Logger renders and where it writes.
type Config struct {
	Output io.Writer
	Level  Level
	JSON   bool
}

// DefaultConfig returns the configuration used when nothing else is specified:
// info level, human-readable, writing to stderr.
func DefaultConfig() Config {
	return Config{
		Output: os.Stderr,
		Level:  LevelInfo,
	}
}

// Logger is a structured, leveled logger that carries an optional component
// tag attached with WithComponent.
type Logger struct {
	inner *charmlog.Logger
	level *atomic.Int32
}

// New builds a Logger from the given Config.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := charmlog.Options{
		Level:           cfg.Level.charm(),
		ReportTimestamp: true,
	}
	if cfg.JSON {
		opts.Formatter = charmlog.JSONFormatter
	}

	l := &Logger{
		inner: charmlog.NewWithOptions(cfg.Output, opts),
		level: &atomic.Int32{},
	}
	l.level.Store(int32(cfg.Level))
	return l
}

// WithComponent returns a derived Logger that tags every record with
// component=name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		inner: l.inner.With("component", name),
		level: l.level,
	}
}

// With returns a derived Logger carrying the given key/value pairs on every
// subsequent record.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{
		inner: l.inner.With(kv...),
		level: l.level,
	}
}

// SetLevel adjusts the minimum level this Logger emits. Loggers already
// derived from it via With/WithComponent keep the level their underlying
// charm logger copied when they were derived.
func (l *Logger) SetLevel(lvl Level) {
	l.level.Store(int32(lvl))
	l.inner.SetLevel(lvl.charm())
}

func (l *Logger) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.inner.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.inner.Error(msg, kv...) }

var (
	defaultMu  sync.RWMutex
	defaultLog = New(DefaultConfig())
)

// Default returns the process-wide default Logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLog
}

// SetDefault replaces the process-wide default Logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLog = l
}

// WithComponent is a convenience wrapper around Default().WithComponent.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}
