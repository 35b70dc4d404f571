package auth

import (
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedCarrierRequest(t *testing.T, secret string, at time.Time, nonce, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/shipping/status", strings.NewReader(body))
	timestamp := strconv.FormatInt(at.Unix(), 10)
	sig := SignRequest([]byte(secret), http.MethodPost, "/webhooks/shipping/status", timestamp, nonce, []byte(body))
	req.Header.Set(defaultSignatureHeader, hex.EncodeToString(sig))
	req.Header.Set(defaultTimestampHeader, timestamp)
	req.Header.Set(defaultNonceHeader, nonce)
	return req
}

func TestRequireHMAC(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	validator := NewHMACValidator(StaticSecrets{"shipping": "s3cret"}, NewInMemoryNonceStore(), WithHMACClock(func() time.Time { return now }))

	var received string
	handler := validator.RequireHMAC("shipping")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		w.WriteHeader(http.StatusNoContent)
	}))

	body := `{"orderId":"ord_1","status":"delivered"}`
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, signedCarrierRequest(t, "s3cret", now, "n-1", body))
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, body, received, "body is restored for the handler")

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"replayed nonce", signedCarrierRequest(t, "s3cret", now, "n-1", body), http.StatusUnauthorized},
		{"wrong secret", signedCarrierRequest(t, "other", now, "n-2", body), http.StatusUnauthorized},
		{"stale timestamp", signedCarrierRequest(t, "s3cret", now.Add(-10*time.Minute), "n-3", body), http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, tc.req)
			assert.Equal(t, tc.status, rr.Code)
		})
	}

	t.Run("tampered body", func(t *testing.T) {
		req := signedCarrierRequest(t, "s3cret", now, "n-4", body)
		req.Body = io.NopCloser(strings.NewReader(`{"orderId":"ord_2"}`))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("missing headers", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/shipping/status", strings.NewReader(body)))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestRequireHMACUnknownSecretIsUnavailable(t *testing.T) {
	validator := NewHMACValidator(StaticSecrets{}, NewInMemoryNonceStore())
	rr := httptest.NewRecorder()
	validator.RequireHMAC("shipping")(http.NotFoundHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestInMemoryNonceStoreExpires(t *testing.T) {
	store := NewInMemoryNonceStore()
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }

	ok, err := store.UseNonce(t.Context(), "shipping", "n", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = store.UseNonce(t.Context(), "shipping", "n", now.Add(time.Minute))
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = store.UseNonce(t.Context(), "shipping", "n", now.Add(time.Minute))
	assert.True(t, ok, "expired nonce may be reused")
}

func TestParseSignatureTimestamp(t *testing.T) {
	ts, ok := parseSignatureTimestamp("2026-05-01T10:00:00Z")
	require.True(t, ok)
	assert.Equal(t, 2026, ts.Year())
	_, ok = parseSignatureTimestamp("yesterday")
	assert.False(t, ok)
}
