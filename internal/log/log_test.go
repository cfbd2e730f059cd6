package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	ctx := ContextAttrs(context.Background(), slog.String("cmd", "serve"))
	logger.With("component", "kernel").InfoContext(ctx, "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "serve", rec["cmd"])
	assert.Equal(t, "kernel", rec["component"])
}

func TestContextAttrs_DoesNotShareParent(t *testing.T) {
	parent := ContextAttrs(context.Background(), slog.String("a", "1"))
	left := ContextAttrs(parent, slog.String("b", "2"))
	right := ContextAttrs(parent, slog.String("c", "3"))

	assert.Len(t, left.Value(slogKey).([]slog.Attr), 2)
	assert.Equal(t, "c", right.Value(slogKey).([]slog.Attr)[1].Key)
	assert.Equal(t, "b", left.Value(slogKey).([]slog.Attr)[1].Key)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))

	var buf bytes.Buffer
	New(&buf, ParseLevel("warn")).Info("dropped")
	assert.Empty(t, buf.String())
}
