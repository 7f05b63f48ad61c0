// Package observability provides the logging, metrics, and tracing
// facade shared by every component of the gateway.
package observability

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"
)

// LogLevel defines log message severity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

// Logger is the structured logging interface used across the gateway.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Fatal(msg string, fields map[string]interface{})
	WithPrefix(prefix string) Logger
}

var levelRank = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
	LogLevelFatal: 4,
}

// StandardLogger writes timestamped key=value lines through the std log
// package.
type StandardLogger struct {
	prefix string
	level  LogLevel
}

// NewLogger creates a StandardLogger for the given component prefix.
// The minimum level comes from LOG_LEVEL (default INFO).
func NewLogger(prefix string) Logger {
	level := LogLevel(strings.ToUpper(os.Getenv("LOG_LEVEL")))
	if _, ok := levelRank[level]; !ok {
		level = LogLevelInfo
	}
	return &StandardLogger{prefix: prefix, level: level}
}

// WithLevel returns a copy of the logger at the given minimum level.
func (l *StandardLogger) WithLevel(level LogLevel) *StandardLogger {
	return &StandardLogger{prefix: l.prefix, level: level}
}

// WithPrefix returns a logger scoped to a sub-component.
func (l *StandardLogger) WithPrefix(prefix string) Logger {
	return &StandardLogger{prefix: prefix, level: l.level}
}

func (l *StandardLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(LogLevelDebug, msg, fields)
}

func (l *StandardLogger) Info(msg string, fields map[string]interface{}) {
	l.log(LogLevelInfo, msg, fields)
}

func (l *StandardLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(LogLevelWarn, msg, fields)
}

func (l *StandardLogger) Error(msg string, fields map[string]interface{}) {
	l.log(LogLevelError, msg, fields)
}

func (l *StandardLogger) Fatal(msg string, fields map[string]interface{}) {
	l.log(LogLevelFatal, msg, fields)
	os.Exit(1)
}

func (l *StandardLogger) log(level LogLevel, msg string, fields map[string]interface{}) {
	if levelRank[level] < levelRank[l.level] {
		return
	}
	timestamp := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	log.Printf("%s [%s] [%s] %s%s", timestamp, level, l.prefix, msg, formatFields(fields))
}

// formatFields renders fields as sorted key=value pairs so log lines
// are stable under test.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

// NoopLogger discards everything. Used in tests.
type NoopLogger struct{}

func (NoopLogger) Debug(msg string, fields map[string]interface{}) {}
func (NoopLogger) Info(msg string, fields map[string]interface{})  {}
func (NoopLogger) Warn(msg string, fields map[string]interface{})  {}
func (NoopLogger) Error(msg string, fields map[string]interface{}) {}
func (NoopLogger) Fatal(msg string, fields map[string]interface{}) {}
func (NoopLogger) WithPrefix(prefix string) Logger                 { return NoopLogger{} }

// NewNoopLogger returns a logger that does nothing.
func NewNoopLogger() Logger { return NoopLogger{} }
