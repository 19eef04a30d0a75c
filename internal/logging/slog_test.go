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

func newTestLogger(t *testing.T) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestSlogLogger_Levels(t *testing.T) {
	log, buf := newTestLogger(t)
	ctx := context.Background()

	log.Debug(ctx, "substep", "state", "DOWNLOADING")
	log.Info(ctx, "file claimed", "worker", "w-1")
	log.Warn(ctx, "transition mismatch", "want", "AWAITING_UPLOAD")
	log.Error(ctx, "move failed", "target", "DURABLE")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "level=DEBUG")
	assert.Contains(t, lines[0], "state=DOWNLOADING")
	assert.Contains(t, lines[1], "level=INFO")
	assert.Contains(t, lines[1], "worker=w-1")
	assert.Contains(t, lines[2], "level=WARN")
	assert.Contains(t, lines[3], "level=ERROR")
	assert.Contains(t, lines[3], "target=DURABLE")
}

func TestSlogLogger_With(t *testing.T) {
	log, buf := newTestLogger(t)

	log.With("module", "file_processor").Info(context.Background(), "started", "workers", 4)

	out := buf.String()
	assert.Contains(t, out, "module=file_processor")
	assert.Contains(t, out, "workers=4")
}

func TestSlogLogger_ContextAttributes(t *testing.T) {
	log, buf := newTestLogger(t)

	ctx := ContextWith(context.Background(), "worker", "files-2")
	ctx = ContextWith(ctx, "file_id", "f1")
	log.With("module", "file_processor").Warn(ctx, "cancel requested", "boundary", "convert")

	out := buf.String()
	for _, want := range []string{"module=file_processor", "worker=files-2", "file_id=f1", "boundary=convert"} {
		assert.Contains(t, out, want)
	}
}

func TestContextWith_DoesNotLeakIntoParent(t *testing.T) {
	parent := ContextWith(context.Background(), "worker", "w-1")
	_ = ContextWith(parent, "file_id", "f1")

	assert.Equal(t, []any{"worker", "w-1"}, fromContext(parent))
	assert.Empty(t, fromContext(context.Background()))
}

func TestSlogLogger_NilContext(t *testing.T) {
	log, buf := newTestLogger(t)

	log.Info(nil, "no context")
	assert.Contains(t, buf.String(), "msg=\"no context\"")
}

func TestNewJSONLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSONLogger(&buf, "warn")
	ctx := ContextWith(context.Background(), "worker", "w-1")

	log.Info(ctx, "hidden")
	log.Warn(ctx, "shown", "file_id", "f1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "f1", rec["file_id"])
	assert.Equal(t, "w-1", rec["worker"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestNop_DiscardsAndChains(t *testing.T) {
	l := Nop().With("a", 1)
	assert.NotPanics(t, func() {
		l.Debug(context.Background(), "x")
		l.Info(context.Background(), "x")
		l.Warn(context.Background(), "x")
		l.Error(context.Background(), "x")
	})
}
