package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(NewTraceHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{})))
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "failed to parse JSON log output")

	return entry
}

// TestTraceHandler_NoCorrelation verifies that plain contexts add no correlation fields.
func TestTraceHandler_NoCorrelation(t *testing.T) {
	var buf bytes.Buffer

	newJSONLogger(&buf).InfoContext(context.Background(), "test message", "key", "value")

	entry := decodeEntry(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.NotContains(t, entry, "request_id")
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

type mockSpan struct {
	trace.Span
	spanContext trace.SpanContext
}

func (m *mockSpan) SpanContext() trace.SpanContext {
	return m.spanContext
}

func (m *mockSpan) End(...trace.SpanEndOption) {}

func contextWithValidSpan(t *testing.T) context.Context {
	t.Helper()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	span := &mockSpan{spanContext: trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})}

	return trace.ContextWithSpan(context.Background(), span)
}

// TestTraceHandler_WithValidSpan verifies trace_id and span_id injection.
func TestTraceHandler_WithValidSpan(t *testing.T) {
	var buf bytes.Buffer

	newJSONLogger(&buf).InfoContext(contextWithValidSpan(t), "test message")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

// TestTraceHandler_WithRequestID verifies request_id injection.
func TestTraceHandler_WithRequestID(t *testing.T) {
	var buf bytes.Buffer

	ctx := WithRequestID(context.Background(), "req-123")
	newJSONLogger(&buf).WarnContext(ctx, "slow request")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "WARN", entry["level"])
}

// TestTraceHandler_Enabled verifies that Enabled delegates to inner handler.
func TestTraceHandler_Enabled(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx := context.Background()
	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelWarn))
	assert.True(t, h.Enabled(ctx, slog.LevelError))
}

// TestTraceHandler_WithAttrsAndGroup verifies the wrapper survives derivation.
func TestTraceHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer

	h := NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{}))

	withAttrs := h.WithAttrs([]slog.Attr{slog.String("component", "scheduler")})
	_, ok := withAttrs.(*TraceHandler)
	require.True(t, ok, "WithAttrs should return *TraceHandler, got %T", withAttrs)

	withGroup := withAttrs.WithGroup("transfer")
	_, ok = withGroup.(*TraceHandler)
	require.True(t, ok, "WithGroup should return *TraceHandler, got %T", withGroup)

	slog.New(withGroup).InfoContext(WithRequestID(context.Background(), "req-9"), "dispatched", "source_id", "abc")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "scheduler", entry["component"])
	assert.Contains(t, entry, "transfer")
}

// TestTraceHandler_NilHandler verifies that NewTraceHandler panics with nil handler.
func TestTraceHandler_NilHandler(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer

	ctx := WithLogger(context.Background(), newJSONLogger(&buf))
	ctx, logger := With(ctx, "source_id", "abc")

	logger.Info("first")
	assert.Contains(t, buf.String(), `"source_id":"abc"`)

	buf.Reset()
	LoggerFromContext(ctx).Info("second")
	assert.Contains(t, buf.String(), `"source_id":"abc"`)
}

func TestLoggerFromContext_Default(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}
