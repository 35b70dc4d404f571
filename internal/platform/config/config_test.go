package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "of-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, StoreBackendFirestore, cfg.Store.Backend)
	assert.Equal(t, "of-dev", cfg.Firestore.ProjectID, "firestore project defaults to firebase project")
	assert.Equal(t, "of-dev", cfg.PubSub.ProjectID)
	assert.Equal(t, "wallet", cfg.Payment.Provider)
	assert.Equal(t, 7*24*time.Hour, cfg.Orders.ReturnWindow)
	assert.Equal(t, "VND", cfg.Orders.Currency)
	assert.Equal(t, 500, cfg.Shipping.DefaultWeightGrams)
	assert.Equal(t, defaultEvidenceTTL, cfg.Storage.EvidenceTTL)
	assert.Equal(t, "local", cfg.Security.Environment)
	assert.Equal(t, defaultOIDCJWKSURL, cfg.Security.OIDC.JWKSURL)
	assert.Len(t, cfg.Security.OIDC.Issuers, 2)
	assert.Equal(t, defaultHMACSignatureHeader, cfg.Security.HMAC.SignatureHeader)
	assert.Equal(t, defaultIdempotencyHeader, cfg.Idempotency.Header)
	assert.Equal(t, defaultIdempotencyTTL, cfg.Idempotency.TTL)
	assert.Equal(t, defaultIdempotencyBatch, cfg.Idempotency.CleanupBatchSize)
	assert.Equal(t, "firestore", cfg.Idempotency.Backend)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                   "9090",
		"API_SERVER_IDLE_TIMEOUT":           "2m",
		"API_STORE_BACKEND":                 "memory",
		"API_PUBSUB_ORDER_EVENTS_TOPIC":     "order-events",
		"API_STORAGE_RETURNS_BUCKET":        "returns-prod",
		"API_PAYMENT_PROVIDER":              "Stripe",
		"API_PAYMENT_SECRET_KEY":            "secret://payment/secret",
		"API_PAYMENT_ACCESS_KEY":            "access",
		"API_STRIPE_SECRET_KEY":             "sm://stripe/api",
		"API_CARRIER_TOKEN":                 "secret://carrier/token",
		"API_CARRIER_TIMEOUT":               "3s",
		"API_SHIPPING_DEFAULT_WEIGHT_GRAMS": "1200",
		"API_RETURN_WINDOW":                 "336h",
		"API_ORDER_CURRENCY":                "usd",
		"API_SECURITY_ENVIRONMENT":          "prod",
		"API_OIDC_AUDIENCES":                "prod=https://orders.example.com,dev=https://dev.example.com",
		"API_SECURITY_HMAC_SECRETS":         "shipping=secret://hmac/shipping,payments=plain",
		"API_SECURITY_HMAC_CLOCK_SKEW":      "3m",
		"API_IDEMPOTENCY_BACKEND":           "redis",
		"API_IDEMPOTENCY_REDIS_ADDR":        "localhost:6379",
		"API_IDEMPOTENCY_TTL":               "48h",
		"LOG_LEVEL":                         "DEBUG",
	}
	secrets := map[string]string{
		"secret://payment/secret": "pay-secret",
		"secret://stripe/api":     "sk_test",
		"secret://carrier/token":  "carrier-token",
		"secret://hmac/shipping":  "ship-hmac",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errSecretResolverNotConfigured
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Server.IdleTimeout)
	assert.Equal(t, StoreBackendMemory, cfg.Store.Backend)
	assert.Equal(t, "order-events", cfg.PubSub.OrderEventsTopic)
	assert.Equal(t, "returns-prod", cfg.Storage.ReturnsBucket)
	assert.Equal(t, "stripe", cfg.Payment.Provider)
	assert.Equal(t, "pay-secret", cfg.Payment.SecretKey)
	assert.Equal(t, "access", cfg.Payment.AccessKey)
	assert.Equal(t, "sk_test", cfg.Payment.StripeAPIKey, "legacy sm:// scheme resolves")
	assert.Equal(t, "carrier-token", cfg.Carrier.Token)
	assert.Equal(t, 3*time.Second, cfg.Carrier.Timeout)
	assert.Equal(t, 1200, cfg.Shipping.DefaultWeightGrams)
	assert.Equal(t, 14*24*time.Hour, cfg.Orders.ReturnWindow)
	assert.Equal(t, "USD", cfg.Orders.Currency)
	assert.Equal(t, "https://orders.example.com", cfg.Security.OIDC.Audience)
	assert.Equal(t, "ship-hmac", cfg.Security.HMAC.Secrets["shipping"])
	assert.Equal(t, "plain", cfg.Security.HMAC.Secrets["payments"])
	assert.Equal(t, 3*time.Minute, cfg.Security.HMAC.ClockSkew)
	assert.Equal(t, "redis", cfg.Idempotency.Backend)
	assert.Equal(t, 48*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "# local overrides\nAPI_SERVER_PORT=7070\nexport API_FIREBASE_PROJECT_ID=\"of-dot\"\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o644))

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "of-dot", cfg.Firebase.ProjectID)

	// Explicit values win over the dotenv file.
	cfg, err = Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv(), WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}))
	require.NoError(t, err)
	assert.Equal(t, "6060", cfg.Server.Port)
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	env := map[string]string{"API_STORE_BACKEND": "memory"}
	_, err := Load(context.Background(), WithEnvFile(filepath.Join(t.TempDir(), "absent.env")), WithoutSystemEnv(), WithEnvMap(env))
	require.NoError(t, err)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{name: "firestore without project", env: map[string]string{}, field: "Firestore.ProjectID"},
		{name: "unknown backend", env: map[string]string{"API_STORE_BACKEND": "postgres"}, field: "Store.Backend"},
		{name: "unknown payment provider", env: map[string]string{"API_STORE_BACKEND": "memory", "API_PAYMENT_PROVIDER": "cash"}, field: "Payment.Provider"},
		{name: "redis without addr", env: map[string]string{"API_STORE_BACKEND": "memory", "API_IDEMPOTENCY_BACKEND": "redis"}, field: "Idempotency.RedisAddr"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(context.Background(), WithEnvMap(tc.env), WithoutSystemEnv(), WithEnvFile(""))
			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Contains(t, validation.Fields(), tc.field)
		})
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_STORE_BACKEND":      "memory",
		"API_PAYMENT_SECRET_KEY": "secret://payment/secret",
	}
	boom := errors.New("boom")
	resolver := SecretResolverFunc(func(context.Context, string) (string, error) { return "", boom })

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	var secretErr *SecretError
	require.ErrorAs(t, err, &secretErr)
	assert.Equal(t, "secret://payment/secret", secretErr.Ref)
	assert.ErrorIs(t, err, boom)
}

func TestLoadWithoutResolverRejectsReferences(t *testing.T) {
	env := map[string]string{
		"API_STORE_BACKEND": "memory",
		"API_CARRIER_TOKEN": "secret://carrier/token",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	assert.ErrorIs(t, err, errSecretResolverNotConfigured)
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("A=dot\nB=dot\n"), 0o644))
	t.Setenv("B", "os")
	t.Setenv("C", "os")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{"C": "map"}))
	require.NoError(t, err)
	assert.Equal(t, "dot", values["A"])
	assert.Equal(t, "os", values["B"])
	assert.Equal(t, "map", values["C"])
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_STORE_BACKEND":      "memory",
		"API_PAYMENT_ACCESS_KEY": "present",
	}
	_, err := Load(context.Background(),
		WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("Payment.AccessKey", "Payment.SecretKey", "Payment.SecretKey", "Carrier.Token"),
	)
	var missing *MissingSecretsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"Carrier.Token", "Payment.SecretKey"}, missing.Names())
	assert.Len(t, missing.RedactedNames(), 2)
	assert.NotContains(t, missing.Error(), "Payment.SecretKey")
}
