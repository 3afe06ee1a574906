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

	"github.com/telhawk-systems/eventsink/common/middleware"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestNewWriter_Formats(t *testing.T) {
	var jsonBuf, textBuf bytes.Buffer

	NewWriter(&jsonBuf, slog.LevelInfo, "json").Info("record created", RecordID("dev-1"))
	NewWriter(&textBuf, slog.LevelInfo, "text").Info("record created", RecordID("dev-1"))

	entries := decodeLines(t, &jsonBuf)
	require.Len(t, entries, 1)
	assert.Equal(t, "record created", entries[0]["msg"])
	assert.Equal(t, "dev-1", entries[0][FieldRecordID])

	assert.Contains(t, textBuf.String(), "record_id=dev-1")
}

func TestNewWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, slog.LevelWarn, "json")

	logger.Info("message processed")
	logger.Warn("message skipped", Reason("malformed"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "malformed", entries[0][FieldReason])
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard().Error("dropped", Error(assert.AnError))
	})
}

func TestDefault(t *testing.T) {
	require.NotNil(t, Default().Logger)
}

func TestContextMethods_AddRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, slog.LevelDebug, "json")
	ctx := middleware.WithRequestID(context.Background(), "req-42")

	logger.DebugContext(ctx, "store attempt", Op("create"))
	logger.InfoContext(ctx, "record created")
	logger.WarnContext(ctx, "message skipped")
	logger.ErrorContext(ctx, "message failed")
	logger.InfoContext(context.Background(), "no request")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 5)
	for _, e := range entries[:4] {
		assert.Equal(t, "req-42", e[FieldRequestID], e["msg"])
	}
	assert.NotContains(t, entries[4], FieldRequestID)
	assert.Equal(t, "create", entries[0][FieldOp])
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, slog.LevelInfo, "json").With(Service("eventsink"))

	logger.Info("started")
	logger.With("backend", "redis").Info("store ready")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "eventsink", entries[0][FieldService])
	assert.Equal(t, "eventsink", entries[1][FieldService])
	assert.Equal(t, "redis", entries[1]["backend"])
	assert.NotContains(t, entries[0], "backend")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestSetDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetDefault(NewWriter(&buf, slog.LevelInfo, "json"))
	slog.Info("via default")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "via default", entries[0]["msg"])
}
