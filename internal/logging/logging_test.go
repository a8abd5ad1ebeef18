package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	prev := Logger
	t.Cleanup(func() { InitWithHandler(prev.Handler()) })

	var buf bytes.Buffer
	InitWithHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level}))
	return &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func TestComponentFollowsInit(t *testing.T) {
	log := Component("rpc")

	buf := capture(t, slog.LevelWarn)
	log.Info("dropped")
	log.Warn("kept", "vantage", "10.0.0.1:6000")

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0]["msg"])
	assert.Equal(t, "rpc", got[0]["component"])
	assert.Equal(t, "10.0.0.1:6000", got[0]["vantage"])
}

func TestComponentGroups(t *testing.T) {
	buf := capture(t, slog.LevelDebug)
	Component("store").WithGroup("query").Debug("slow", "ms", 12)

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "store", got[0]["component"])
	assert.Equal(t, map[string]any{"ms": 12.0}, got[0]["query"])
}

func TestFromContext(t *testing.T) {
	buf := capture(t, slog.LevelInfo)

	ctx := ContextWithCycle(context.Background(), "run-1", 42)
	ctx = ContextWithVantage(ctx, "10.0.0.1:6000")
	FromContext(ctx, Component("scheduler")).Info("fetched")
	WithContext(context.Background()).Info("bare")

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.Equal(t, "run-1", got[0]["run_id"])
	assert.Equal(t, 42.0, got[0]["cycle_id"])
	assert.Equal(t, "10.0.0.1:6000", got[0]["vantage"])
	assert.NotContains(t, got[1], "run_id")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
