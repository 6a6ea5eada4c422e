package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glekoz/chipdash/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

func TestHandler_AddsContextData(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, nil)

	ctx := logger.WithRequestID(context.Background(), "req-1")
	ctx = logger.WithRecord(ctx, "chip-1", 1000)
	ctx = logger.WithDetails(ctx, "attempt", 1)
	log.InfoContext(ctx, "hello")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "req-1", lines[0]["request_id"])
	assert.Equal(t, "chip-1", lines[0]["chip_id"])
	assert.Equal(t, float64(1000), lines[0]["timestamp"])
	assert.Equal(t, map[string]any{"attempt": float64(1)}, lines[0]["details"])
}

func TestHandler_WithKeepsWrapper(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, nil).With("component", "test")

	log.InfoContext(logger.WithChip(context.Background(), "chip-9"), "hello")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "chip-9", lines[0]["chip_id"])
	assert.Equal(t, "test", lines[0]["component"])
}

func TestWithDetails_DoesNotLeakBetweenSiblings(t *testing.T) {
	parent := logger.WithDetails(context.Background(), "a", 1)
	left := logger.WithDetails(parent, "b", 2)
	_ = logger.WithDetails(parent, "c", 3)

	assert.Len(t, logger.FromContext(parent).Details, 1)
	assert.Len(t, logger.FromContext(left).Details, 2)
	assert.NotContains(t, logger.FromContext(left).Details, "c")
}

func TestMiddleware_RequestID(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, nil)

	var seen string
	h := logger.Middleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.FromContext(r.Context()).RequestID
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get(logger.RequestIDHeader))
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, float64(http.StatusTeapot), lines[0]["status"])
	assert.Equal(t, "/health", lines[0]["path"])
}

func TestMiddleware_KeepsIncomingRequestID(t *testing.T) {
	log := logger.New(&bytes.Buffer{}, nil)
	h := logger.Middleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(logger.RequestIDHeader, "upstream-id")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "upstream-id", rr.Header().Get(logger.RequestIDHeader))
}
