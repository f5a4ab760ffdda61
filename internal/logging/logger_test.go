package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLogger_JSONWithRunID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Format: "json", Output: &buf})

	logger.WithRunID("run-1").Info("fetched", slog.Int("rows", 3))
	logger.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "fetched", entry["msg"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, float64(3), entry["rows"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, FromContext(ctx).Logger)
	assert.Empty(t, GetRunID(ctx))

	logger := NewLogger(Config{Output: &bytes.Buffer{}})
	ctx = WithLogger(WithRunIDContext(ctx, "abc"), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.Equal(t, "abc", GetRunID(ctx))
}

func TestFanout(t *testing.T) {
	var debug, info bytes.Buffer
	h := fanout{
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}
	logger := slog.New(h).With(slog.String("k", "v")).WithGroup("g")

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	logger.Debug("only debug")
	logger.Info("both", slog.Int("n", 1))

	assert.Contains(t, debug.String(), "only debug")
	assert.NotContains(t, info.String(), "only debug")
	assert.Contains(t, info.String(), "k=v")
	assert.Contains(t, info.String(), "g.n=1")
}
