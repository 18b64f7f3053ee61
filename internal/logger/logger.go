// Package logger is the leveled printf-style logger shared by the engine,
// the feeds and the replay tool.
package logger

import (
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Level represents logging level
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns string representation of Level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name such as "debug" or "WARN"
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, errors.Errorf("unknown log level %q", s)
}

// Logger is the interface for logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level Level)
}

// DefaultLogger writes through a stdlib log.Logger. Every line carries the
// level and, when set, a component tag: "[WARN] engine: ...".
type DefaultLogger struct {
	level     *atomic.Int32 // Shared with loggers derived by With
	component string
	logger    *log.Logger
}

// NewDefaultLogger creates a logger writing to stdout
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewWriterLogger(os.Stdout, level)
}

// NewWriterLogger creates a logger writing to w
func NewWriterLogger(w io.Writer, level Level) *DefaultLogger {
	l := &DefaultLogger{
		level:  &atomic.Int32{},
		logger: log.New(w, "", log.LstdFlags),
	}
	l.level.Store(int32(level))
	return l
}

// With returns a logger tagging its lines with component. The level is
// shared with the parent.
func (l *DefaultLogger) With(component string) *DefaultLogger {
	return &DefaultLogger{
		level:     l.level,
		component: component,
		logger:    l.logger,
	}
}

func (l *DefaultLogger) output(level Level, format string, args ...interface{}) {
	if Level(l.level.Load()) > level {
		return
	}
	prefix := "[" + level.String() + "] "
	if l.component != "" {
		prefix += l.component + ": "
	}
	l.logger.Printf(prefix+format, args...)
}

// Debug logs debug message
func (l *DefaultLogger) Debug(format string, args ...interface{}) {
	l.output(LevelDebug, format, args...)
}

// Info logs info message
func (l *DefaultLogger) Info(format string, args ...interface{}) {
	l.output(LevelInfo, format, args...)
}

// Warn logs warning message
func (l *DefaultLogger) Warn(format string, args ...interface{}) {
	l.output(LevelWarn, format, args...)
}

// Error logs error message
func (l *DefaultLogger) Error(format string, args ...interface{}) {
	l.output(LevelError, format, args...)
}

// SetLevel sets the logging level
func (l *DefaultLogger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// NoOpLogger discards everything
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that doesn't log
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(format string, args ...interface{}) {}
func (l *NoOpLogger) Info(format string, args ...interface{})  {}
func (l *NoOpLogger) Warn(format string, args ...interface{})  {}
func (l *NoOpLogger) Error(format string, args ...interface{}) {}
func (l *NoOpLogger) SetLevel(level Level)                     {}

var defaultLogger atomic.Pointer[Logger]

func init() {
	SetDefault(NewDefaultLogger(LevelInfo))
}

// SetDefault sets the default logger
func SetDefault(l Logger) {
	if l == nil {
		l = NewNoOpLogger()
	}
	defaultLogger.Store(&l)
}

// GetDefault returns the default logger
func GetDefault() Logger {
	return *defaultLogger.Load()
}

// Component returns a logger tagged with component. When the default logger
// is not a *DefaultLogger the default is returned unchanged.
func Component(component string) Logger {
	if dl, ok := GetDefault().(*DefaultLogger); ok {
		return dl.With(component)
	}
	return GetDefault()
}

// OrDefault returns l, or the default logger when l is nil
func OrDefault(l Logger) Logger {
	if l == nil {
		return GetDefault()
	}
	return l
}

// Debug logs debug message using default logger
func Debug(format string, args ...interface{}) {
	GetDefault().Debug(format, args...)
}

// Info logs info message using default logger
func Info(format string, args ...interface{}) {
	GetDefault().Info(format, args...)
}

// Warn logs warning message using default logger
func Warn(format string, args ...interface{}) {
	GetDefault().Warn(format, args...)
}

// Error logs error message using default logger
func Error(format string, args ...interface{}) {
	GetDefault().Error(format, args...)
}
