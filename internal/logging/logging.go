// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured key/value logger shared by every
// netinstall component.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Level is a logging severity.
type Level = log.Level

const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
)

// Config controls how a Logger renders its output.
type Config struct {
	Level  Level
	Output io.Writer
	JSON   bool
	Prefix string
}

// DefaultConfig logs at info level to stderr in text form.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Logger wraps a charmbracelet logger with component scoping.
type Logger struct {
	l *log.Logger
}

// New creates a logger from cfg. A nil Output means stderr.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := log.Options{
		Level:           cfg.Level,
		Prefix:          cfg.Prefix,
		ReportTimestamp: true,
	}
	if cfg.JSON {
		opts.Formatter = log.JSONFormatter
	}
	return &Logger{l: log.NewWithOptions(out, opts)}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(DefaultConfig())
)

// Default returns the process-wide logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// ParseLevel maps a config string onto a Level. Unknown values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// WithComponent returns a child logger tagged with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// With returns a child logger that always includes the given key/value pairs.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{l: l.l.With(keyvals...)}
}

func (l *Logger) Debug(msg string, keyvals ...any) { l.l.Debug(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...any)  { l.l.Info(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...any)  { l.l.Warn(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...any) { l.l.Error(msg, keyvals...) }

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level Level) {
	l.l.SetLevel(level)
}

// Info logs through the default logger.
func Info(msg string, keyvals ...any) { Default().Info(msg, keyvals...) }

// Warn logs through the default logger.
func Warn(msg string, keyvals ...any) { Default().Warn(msg, keyvals...) }

// Error logs through the default logger.
func Error(msg string, keyvals ...any) { Default().Error(msg, keyvals...) }

// Debug logs through the default logger.
func Debug(msg string, keyvals ...any) { Default().Debug(msg, keyvals...) }
