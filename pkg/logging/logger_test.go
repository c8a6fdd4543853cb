package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"flightassure/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	tempDir := t.TempDir()
	serverLog := filepath.Join(tempDir, "server.log")
	requestLog := filepath.Join(tempDir, "requests.log")

	cfg := &config.LogConfig{
		Server: config.LogSettings{
			Path:      serverLog,
			Level:     "DEBUG",
			MaxSizeMB: 1,
		},
		Requests: config.LogSettings{
			Path:      requestLog,
			Level:     "INFO",
			MaxSizeMB: 1,
		},
	}

	prev := slog.Default()
	cleanup, err := Init(cfg)
	require.NoError(t, err)
	defer func() {
		cleanup()
		slog.SetDefault(prev)
	}()

	// lumberjack opens files on first write
	slog.Info("server started")
	RequestLogger.Info("GET /health")

	_, err = os.Stat(serverLog)
	assert.NoError(t, err, "server log file not created")
	_, err = os.Stat(requestLog)
	assert.NoError(t, err, "request log file not created")

	assert.Contains(t, GlobalLogCapture.GetLastLine(), "server started")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestLogCaptureWriter(t *testing.T) {
	w := &LogCaptureWriter{}
	assert.Empty(t, w.GetLastLine())
	assert.Empty(t, w.Recent(5))

	_, _ = w.Write([]byte("one\n"))
	_, _ = w.Write([]byte("two\n"))
	assert.Equal(t, "two", w.GetLastLine())
	assert.Equal(t, []string{"one", "two"}, w.Recent(0))
	assert.Equal(t, []string{"two"}, w.Recent(1))

	// Wrap around the ring
	for i := 0; i < captureSize+3; i++ {
		_, _ = fmt.Fprintf(w, "line %d\n", i)
	}
	recent := w.Recent(0)
	assert.Len(t, recent, captureSize)
	assert.Equal(t, fmt.Sprintf("line %d", captureSize+2), recent[len(recent)-1])
	assert.Equal(t, "line 3", recent[0])
}

func TestTraceToggle(t *testing.T) {
	defer SetTrace(false)
	assert.False(t, TraceEnabled())
	SetTrace(true)
	assert.True(t, TraceEnabled())
}
