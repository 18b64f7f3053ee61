package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelWarn)

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warn("shown %d", 3)
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "[WARN] shown 3")

	l.SetLevel(LevelDebug)
	l.Debug("now %s", "visible")
	require.Contains(t, buf.String(), "[DEBUG] now visible")
}

func TestWithSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriterLogger(&buf, LevelError)
	child := parent.With("engine")

	child.Warn("dropped")
	require.Empty(t, buf.String())

	parent.SetLevel(LevelInfo)
	child.Info("frame %d", 7)
	require.Contains(t, buf.String(), "[INFO] engine: frame 7")
}

func TestSetDefault(t *testing.T) {
	prev := GetDefault()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(NewWriterLogger(&buf, LevelInfo))
	Info("hello")
	Component("feed").Error("broken")
	require.Contains(t, buf.String(), "[INFO] hello")
	require.Contains(t, buf.String(), "[ERROR] feed: broken")

	SetDefault(nil)
	require.IsType(t, &NoOpLogger{}, GetDefault())
}
