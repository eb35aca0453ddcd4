package server

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIsValidRequestID(t *testing.T) {
	assert.True(t, isValidRequestID("abc-123"))
	assert.False(t, isValidRequestID(""))
	assert.False(t, isValidRequestID(strings.Repeat("a", 129)))
	assert.False(t, isValidRequestID("bad\nheader"))
}

func TestRequestIDMiddleware_GeneratesWhenMissing(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)

	requestIDMiddleware(next).ServeHTTP(rec, req)

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddleware_HonorsValidClientHeader(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")

	requestIDMiddleware(next).ServeHTTP(rec, req)

	assert.Equal(t, "caller-supplied-id", seen)
}

func TestRoutePattern_FallsBackToMethodAndFirstSegment(t *testing.T) {
	req := httptest.NewRequest("GET", "/traces/abc-123", nil)
	assert.Equal(t, "GET /traces", routePattern(req))
}

func TestQueryHelpers(t *testing.T) {
	req := httptest.NewRequest("GET", "/traces?page=3&start_from=2026-01-01T00:00:00Z&status=ok", nil)

	assert.Equal(t, 3, queryInt(req, "page", 1))
	assert.Equal(t, 1, queryInt(req, "missing", 1))
	assert.Equal(t, 1, queryInt(req, "status", 1), "non-numeric value falls back to default")

	st := queryTime(req, "start_from")
	require.NotNil(t, st)
	assert.Equal(t, 2026, st.Year())

	assert.Nil(t, queryTime(req, "missing"))

	s := queryStr(req, "status")
	require.NotNil(t, s)
	assert.Equal(t, "ok", *s)
	assert.Nil(t, queryStr(req, "missing"))
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest("POST", "/policies", bytes.NewBufferString(`{"name":"x","surprise":true}`))

	var out payload
	err := decodeJSON(req, &out, 1<<20)
	assert.Error(t, err)
}

func TestDecodeJSON_RejectsOversizedBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest("POST", "/policies", bytes.NewBufferString(`{"name":"`+strings.Repeat("x", 100)+`"}`))

	var out payload
	err := decodeJSON(req, &out, 10)
	assert.Error(t, err)
}

func TestRecoveryMiddleware_CatchesPanic(t *testing.T) {
	logger := discardLogger()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/traces", nil)

	recoveryMiddleware(logger, next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORSMiddleware_AllowsConfiguredOrigin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := corsMiddleware([]string{"https://app.example.com"}, next)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/traces", nil)
	req.Header.Set("Origin", "https://app.example.com")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_RejectsUnlistedOrigin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := corsMiddleware([]string{"https://app.example.com"}, next)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/traces", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_PreflightShortCircuits(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	handler := corsMiddleware([]string{"*"}, next)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/traces", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called)
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/traces", nil)

	securityHeadersMiddleware(next).ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

