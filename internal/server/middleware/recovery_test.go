package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoveryMiddleware_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("something broke")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/list/push", nil)
	w := httptest.NewRecorder()

	require.NotPanics(t, func() {
		RecoveryMiddleware(logger)(next).ServeHTTP(w, req)
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	// Panic details stay in the log, not in the response
	assert.NotContains(t, w.Body.String(), "something broke")
	assert.Contains(t, buf.String(), "something broke")
	assert.Contains(t, buf.String(), "panic recovered")
}

func TestRecoveryMiddleware_PassThrough(t *testing.T) {
	logger := testLogger()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	RecoveryMiddleware(logger)(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusCreated, w.Code)
}
