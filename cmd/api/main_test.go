package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/orderflow/internal/platform/config"
	"github.com/hanko-field/orderflow/internal/platform/idempotency"
)

func TestRequiredSecretNames(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want []string
	}{
		{
			name: "wallet default",
			env:  map[string]string{},
			want: []string{"Payment.SecretKey"},
		},
		{
			name: "stripe with hmac secrets",
			env: map[string]string{
				"API_PAYMENT_PROVIDER":      "Stripe",
				"API_SECURITY_HMAC_SECRETS": "Shipping=secret://hmac/shipping,ops=plain",
			},
			want: []string{
				"Payment.StripeAPIKey",
				"Payment.StripeWebhookSecret",
				"Security.HMAC.Secrets[ops]",
				"Security.HMAC.Secrets[shipping]",
			},
		},
		{
			name: "evidence signer key",
			env: map[string]string{
				"API_STORAGE_RETURNS_BUCKET": "returns",
				"API_STORAGE_SIGNER_KEY":     "secret://storage/signer",
			},
			want: []string{"Payment.SecretKey", "Storage.SignerKey"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, requiredSecretNames(tc.env))
		})
	}
}

func TestParseKeyValueList(t *testing.T) {
	got := parseKeyValueList(" prod = orderflow-prod ,broken, =x,stg=orderflow-stg,empty=")

	assert.Equal(t, map[string]string{"prod": "orderflow-prod", "stg": "orderflow-stg"}, got)
}

func TestBuildCarrierHMACMiddleware(t *testing.T) {
	cfg := config.Config{
		Security: config.SecurityConfig{HMAC: config.HMACConfig{
			SignatureHeader: "X-Signature",
			TimestampHeader: "X-Signature-Timestamp",
			NonceHeader:     "X-Signature-Nonce",
			ClockSkew:       5 * time.Minute,
			NonceTTL:        10 * time.Minute,
		}},
	}
	assert.Nil(t, buildCarrierHMACMiddleware(nil, cfg), "no secret means no middleware")

	cfg.Carrier.WebhookSecret = "carrier-secret"
	mw := buildCarrierHMACMiddleware(nil, cfg)
	require.NotNil(t, mw)

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/shipping/status", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, called)
}

func TestNewIdempotencyStore(t *testing.T) {
	store, rdb, err := newIdempotencyStore(config.Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, rdb)
	assert.IsType(t, &idempotency.MemoryStore{}, store)

	_, _, err = newIdempotencyStore(config.Config{Idempotency: config.IdempotencyConfig{Backend: "redis"}}, nil)
	assert.Error(t, err)

	_, _, err = newIdempotencyStore(config.Config{Idempotency: config.IdempotencyConfig{Backend: "firestore"}}, nil)
	assert.Error(t, err)

	store, rdb, err = newIdempotencyStore(config.Config{Idempotency: config.IdempotencyConfig{Backend: "redis", RedisAddr: "127.0.0.1:6379"}}, nil)
	require.NoError(t, err)
	require.NotNil(t, rdb)
	assert.IsType(t, &idempotency.RedisStore{}, store)
	_ = rdb.Close()
}
