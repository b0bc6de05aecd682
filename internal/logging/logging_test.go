package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "ParseLevel(%q)", tt.input)
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "JSON", slog.LevelInfo)

	logger.Info("upload finished", "accepted", 3)

	var m map[string]any
	require.NoError(t, sonic.ConfigStd.Unmarshal(buf.Bytes(), &m), "output: %s", buf.String())
	assert.Equal(t, "upload finished", m["msg"])
	assert.Equal(t, float64(3), m["accepted"])
}

func TestNewTextFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "text", slog.LevelWarn)

	logger.Info("hidden")
	logger.Warn("shown", "collection", "clicks")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "collection=clicks")
}

func TestInitSetsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := Init("text", slog.LevelDebug)
	assert.Same(t, logger, slog.Default())
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
