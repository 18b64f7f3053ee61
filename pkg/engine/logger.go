package engine

import "avaneesh/rlc-go/internal/logger"

// LogLevel represents logging level
type LogLevel int

const (
	// LevelDebug shows per-frame decisions
	LevelDebug LogLevel = iota
	// LevelInfo shows capture open/close and resets (default)
	LevelInfo
	// LevelWarn shows malformed frames and unresolved channels
	LevelWarn
	// LevelError shows only errors
	LevelError
)

// SetLogLevel replaces the global logger with a stdout logger at level
func SetLogLevel(level LogLevel) {
	logger.SetDefault(logger.NewDefaultLogger(logger.Level(level)))
}

// SetLogLevelName sets the global level from a configuration name
func SetLogLevelName(name string) error {
	level, err := logger.ParseLevel(name)
	if err != nil {
		return err
	}
	SetLogLevel(LogLevel(level))
	return nil
}
