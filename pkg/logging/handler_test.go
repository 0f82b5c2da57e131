package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(level slog.Level, msg string, attrs ...slog.Attr) slog.Record {
	r := slog.NewRecord(time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local), level, msg, 0)
	r.AddAttrs(attrs...)
	return r
}

func TestFileHandlerFormat(t *testing.T) {
	tests := []struct {
		name  string
		level slog.Level
		want  string
	}{
		{"info", slog.LevelInfo, "edge-installer - 2024-03-09 14:05:07 - stage_started\n"},
		{"warn", slog.LevelWarn, "edge-installer - 2024-03-09 14:05:07 - WARNING: stage_started\n"},
		{"error", slog.LevelError, "edge-installer - 2024-03-09 14:05:07 - ERROR: stage_started\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := NewFileHandler(&buf, "edge-installer", slog.LevelDebug)
			require.NoError(t, h.Handle(context.Background(), record(tt.level, "stage_started")))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestFileHandlerAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewFileHandler(&buf, "edge-resume", slog.LevelInfo).
		WithAttrs([]slog.Attr{slog.String("run_id", "r1")}).
		WithGroup("stage")

	require.NoError(t, h.Handle(context.Background(),
		record(slog.LevelInfo, "progress", slog.Int("percent", 50), slog.String("label", "Runtime installed"))))

	assert.Equal(t,
		"edge-resume - 2024-03-09 14:05:07 - progress run_id=r1 stage.percent=50 stage.label=\"Runtime installed\"\n",
		buf.String())
}

func TestFileHandlerLevel(t *testing.T) {
	h := NewFileHandler(&bytes.Buffer{}, "edge-installer", slog.LevelInfo)
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
}

func TestFanout(t *testing.T) {
	var a, b bytes.Buffer
	logger := slog.New(Fanout{
		NewFileHandler(&a, "one", slog.LevelInfo),
		NewFileHandler(&b, "two", slog.LevelError),
	})

	logger.Info("hello")
	logger.Error("failed")

	assert.Equal(t, 2, strings.Count(a.String(), "\n"))
	assert.Equal(t, 1, strings.Count(b.String(), "\n"))
	assert.Contains(t, b.String(), "ERROR: failed")
}

func TestSetupAppends(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "logs", "installation.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("edge-installer - 2024-01-01 00:00:00 - earlier\n"), 0644))

	closer, err := Setup(Options{Component: "edge-resume", LogFile: path, Console: &bytes.Buffer{}})
	require.NoError(t, err)
	slog.Warn("resumed")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.True(t, strings.HasSuffix(lines[0], "earlier"))
	assert.Contains(t, lines[len(lines)-1], "edge-resume - ")
	assert.Contains(t, lines[len(lines)-1], "WARNING: resumed")
}
