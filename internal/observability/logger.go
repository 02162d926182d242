// Package observability defines shared logging and metrics primitives.
package observability

import (
	"fmt"
	"log"
	"strings"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

var defaultLogger Logger = noopLogger{}

// SetLogger overrides the global logger used by the system.
func SetLogger(logger Logger) {
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Warn(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// StdLogger adapts the standard library logger to the Logger interface.
type StdLogger struct {
	out   *log.Logger
	debug bool
}

// NewStdLogger wraps a *log.Logger. When debug is false, Debug calls are dropped.
func NewStdLogger(out *log.Logger, debug bool) *StdLogger {
	return &StdLogger{out: out, debug: debug}
}

// Debug logs at debug level when enabled.
func (l *StdLogger) Debug(msg string, fields ...Field) {
	if l == nil || l.out == nil || !l.debug {
		return
	}
	l.out.Print(formatLine("DEBUG", msg, fields))
}

// Info logs at info level.
func (l *StdLogger) Info(msg string, fields ...Field) {
	if l == nil || l.out == nil {
		return
	}
	l.out.Print(formatLine("INFO", msg, fields))
}

// Warn logs at warning level.
func (l *StdLogger) Warn(msg string, fields ...Field) {
	if l == nil || l.out == nil {
		return
	}
	l.out.Print(formatLine("WARN", msg, fields))
}

// Error logs at error level.
func (l *StdLogger) Error(msg string, fields ...Field) {
	if l == nil || l.out == nil {
		return
	}
	l.out.Print(formatLine("ERROR", msg, fields))
}

func formatLine(level, msg string, fields []Field) string {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for _, f := range fields {
		if strings.TrimSpace(f.Key) == "" {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}
