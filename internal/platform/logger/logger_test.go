package logger_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/phrazzld/tasksync/internal/config"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		want  slog.Level
		known bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"Warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := logger.ParseLevel(tc.name)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.known, ok)
		})
	}
}

func TestSetup_SetsDefaultLogger(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	l, err := logger.Setup(config.ServerConfig{LogLevel: "warn"})
	require.NoError(t, err)
	require.NotNil(t, l)

	assert.Same(t, l, slog.Default())
	assert.False(t, l.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, l.Enabled(context.Background(), slog.LevelWarn))
}

func TestSetup_WithLogFile(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	path := t.TempDir() + "/tasksync.log"
	l, err := logger.Setup(config.ServerConfig{LogLevel: "info", LogFile: path})
	require.NoError(t, err)

	l.Info("written to file")
	assert.FileExists(t, path)
}

func TestContextLogger(t *testing.T) {
	l, buf := logger.NewTestLogger(t)
	fallback := slog.New(slog.NewJSONHandler(&logger.TestLogBuffer{}, nil))

	assert.Same(t, fallback, logger.FromContextOrDefault(context.Background(), fallback))

	ctx := logger.WithLogger(context.Background(), l.With("request_id", "abc"))
	logger.FromContext(ctx).Info("hello")

	logger.AssertLogContains(t, buf, `"request_id":"abc"`)
	entries, err := buf.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0]["msg"])
}
