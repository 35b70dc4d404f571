package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultStoreBackend        = StoreBackendFirestore
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultSecurityIAPIssuer   = "https://cloud.google.com/iap"
	defaultHMACSignatureHeader = "X-Signature"
	defaultHMACTimestampHeader = "X-Signature-Timestamp"
	defaultHMACNonceHeader     = "X-Signature-Nonce"
	defaultHMACClockSkew       = 5 * time.Minute
	defaultHMACNonceTTL        = 5 * time.Minute
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
	defaultIdempotencyBackend  = "firestore"
	defaultPaymentProvider     = "wallet"
	defaultPaymentTimeout      = 10 * time.Second
	defaultCarrierTimeout      = 10 * time.Second
	defaultReturnWindow        = 7 * 24 * time.Hour
	defaultEvidenceTTL         = 15 * time.Minute
	defaultCurrency            = "VND"
	defaultWeightGrams         = 500
	defaultLengthCM            = 20
	defaultWidthCM             = 15
	defaultHeightCM            = 10
)

// Store backends selectable via API_STORE_BACKEND.
const (
	StoreBackendFirestore = "firestore"
	StoreBackendMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	Payment     PaymentConfig
	Carrier     CarrierConfig
	Shipping    ShippingConfig
	Orders      OrderConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	LogLevel    string
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StoreConfig selects the repository backend.
type StoreConfig struct {
	Backend string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topic receiving order lifecycle events. Empty disables publishing.
type PubSubConfig struct {
	ProjectID         string
	OrderEventsTopic  string
	PublishTimeoutSec int
}

// StorageConfig configures the bucket holding return evidence uploads.
type StorageConfig struct {
	ReturnsBucket string
	SignerKey     string
	EvidenceTTL   time.Duration
}

// PaymentConfig selects and configures the online payment provider.
type PaymentConfig struct {
	Provider     string
	Endpoint     string
	PartnerCode  string
	AccessKey    string
	SecretKey    string
	IPNURL       string
	Timeout      time.Duration
	StripeAPIKey string
	// StripeWebhookSecret verifies Stripe-Signature headers when the stripe provider is active.
	StripeWebhookSecret string
}

// CarrierConfig configures the shipping carrier client.
type CarrierConfig struct {
	Endpoint      string
	Token         string
	ShopID        string
	Timeout       time.Duration
	WebhookSecret string
}

// ShippingConfig holds the pickup origin and fallback package dimensions.
type ShippingConfig struct {
	OriginRecipient    string
	OriginPhone        string
	OriginLine1        string
	OriginDistrict     string
	OriginProvince     string
	OriginDistrictCode string
	OriginWardCode     string
	DefaultWeightGrams int
	DefaultLengthCM    int
	DefaultWidthCM     int
	DefaultHeightCM    int
}

// OrderConfig carries order policy knobs.
type OrderConfig struct {
	Currency     string
	ReturnWindow time.Duration
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
	HMAC        HMACConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// HMACConfig captures webhook signing expectations.
type HMACConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
	// Backend is one of memory, firestore or redis.
	Backend   string
	RedisAddr string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed identifiers that are safe to log.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.names...)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects an explicit key/value map that takes precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks config fields (e.g. "Payment.SecretKey") that must resolve non-empty.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// EnvironmentValues returns the merged environment (dotenv < OS env < explicit map) so callers
// can initialise dependencies, such as the secret fetcher, before Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the configuration from defaults, .env overrides, environment variables and
// Secret Manager references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(stringWithDefault(lookup, "API_STORE_BACKEND", defaultStoreBackend)),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Storage: StorageConfig{
			ReturnsBucket: stringWithDefault(lookup, "API_STORAGE_RETURNS_BUCKET", ""),
			SignerKey:     stringWithDefault(lookup, "API_STORAGE_SIGNER_KEY", ""),
			EvidenceTTL:   durationWithDefault(lookup, "API_STORAGE_EVIDENCE_TTL", defaultEvidenceTTL),
		},
		Payment: PaymentConfig{
			Provider:            strings.ToLower(stringWithDefault(lookup, "API_PAYMENT_PROVIDER", defaultPaymentProvider)),
			Endpoint:            stringWithDefault(lookup, "API_PAYMENT_ENDPOINT", ""),
			PartnerCode:         stringWithDefault(lookup, "API_PAYMENT_PARTNER_CODE", ""),
			AccessKey:           stringWithDefault(lookup, "API_PAYMENT_ACCESS_KEY", ""),
			SecretKey:           stringWithDefault(lookup, "API_PAYMENT_SECRET_KEY", ""),
			IPNURL:              stringWithDefault(lookup, "API_PAYMENT_IPN_URL", ""),
			Timeout:             durationWithDefault(lookup, "API_PAYMENT_TIMEOUT", defaultPaymentTimeout),
			StripeAPIKey:        stringWithDefault(lookup, "API_STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_STRIPE_WEBHOOK_SECRET", ""),
		},
		Carrier: CarrierConfig{
			Endpoint:      stringWithDefault(lookup, "API_CARRIER_ENDPOINT", ""),
			Token:         stringWithDefault(lookup, "API_CARRIER_TOKEN", ""),
			ShopID:        stringWithDefault(lookup, "API_CARRIER_SHOP_ID", ""),
			Timeout:       durationWithDefault(lookup, "API_CARRIER_TIMEOUT", defaultCarrierTimeout),
			WebhookSecret: stringWithDefault(lookup, "API_CARRIER_WEBHOOK_SECRET", ""),
		},
		Shipping: ShippingConfig{
			OriginRecipient:    stringWithDefault(lookup, "API_SHIPPING_ORIGIN_RECIPIENT", ""),
			OriginPhone:        stringWithDefault(lookup, "API_SHIPPING_ORIGIN_PHONE", ""),
			OriginLine1:        stringWithDefault(lookup, "API_SHIPPING_ORIGIN_LINE1", ""),
			OriginDistrict:     stringWithDefault(lookup, "API_SHIPPING_ORIGIN_DISTRICT", ""),
			OriginProvince:     stringWithDefault(lookup, "API_SHIPPING_ORIGIN_PROVINCE", ""),
			OriginDistrictCode: stringWithDefault(lookup, "API_SHIPPING_ORIGIN_DISTRICT_CODE", ""),
			OriginWardCode:     stringWithDefault(lookup, "API_SHIPPING_ORIGIN_WARD_CODE", ""),
			DefaultWeightGrams: intWithDefault(lookup, "API_SHIPPING_DEFAULT_WEIGHT_GRAMS", defaultWeightGrams),
			DefaultLengthCM:    intWithDefault(lookup, "API_SHIPPING_DEFAULT_LENGTH_CM", defaultLengthCM),
			DefaultWidthCM:     intWithDefault(lookup, "API_SHIPPING_DEFAULT_WIDTH_CM", defaultWidthCM),
			DefaultHeightCM:    intWithDefault(lookup, "API_SHIPPING_DEFAULT_HEIGHT_CM", defaultHeightCM),
		},
		Orders: OrderConfig{
			Currency:     strings.ToUpper(stringWithDefault(lookup, "API_ORDER_CURRENCY", defaultCurrency)),
			ReturnWindow: durationWithDefault(lookup, "API_RETURN_WINDOW", defaultReturnWindow),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   stringWithDefault(lookup, "API_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  stringWithDefault(lookup, "API_OIDC_AUDIENCE", ""),
				Audiences: mapWithDefault(lookup, "API_OIDC_AUDIENCES"),
				Issuers:   csvWithDefault(lookup, "API_OIDC_ISSUERS"),
			},
			HMAC: HMACConfig{
				Secrets:         mapWithDefault(lookup, "API_SECURITY_HMAC_SECRETS"),
				SignatureHeader: stringWithDefault(lookup, "API_SECURITY_HMAC_HEADER_SIGNATURE", defaultHMACSignatureHeader),
				TimestampHeader: stringWithDefault(lookup, "API_SECURITY_HMAC_HEADER_TIMESTAMP", defaultHMACTimestampHeader),
				NonceHeader:     stringWithDefault(lookup, "API_SECURITY_HMAC_HEADER_NONCE", defaultHMACNonceHeader),
				ClockSkew:       durationWithDefault(lookup, "API_SECURITY_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
				NonceTTL:        durationWithDefault(lookup, "API_SECURITY_HMAC_NONCE_TTL", defaultHMACNonceTTL),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
			Backend:          strings.ToLower(stringWithDefault(lookup, "API_IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
			RedisAddr:        stringWithDefault(lookup, "API_IDEMPOTENCY_REDIS_ADDR", ""),
		},
		LogLevel: strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", "info")),
	}

	// Firestore and Pub/Sub default to the Firebase project.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolver := options.secret
	if resolver == nil {
		resolver = SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		})
	}
	resolved := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		secret, err := resolveSecret(ctx, value, resolver)
		if err != nil {
			return Config{}, err
		}
		cfg.Security.HMAC.Secrets[key] = secret
		resolved[fmt.Sprintf("Security.HMAC.Secrets[%s]", key)] = secret
	}
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Payment.AccessKey", &cfg.Payment.AccessKey},
		{"Payment.SecretKey", &cfg.Payment.SecretKey},
		{"Payment.StripeAPIKey", &cfg.Payment.StripeAPIKey},
		{"Payment.StripeWebhookSecret", &cfg.Payment.StripeWebhookSecret},
		{"Carrier.Token", &cfg.Carrier.Token},
		{"Carrier.WebhookSecret", &cfg.Carrier.WebhookSecret},
		{"Storage.SignerKey", &cfg.Storage.SignerKey},
	}
	for _, target := range secretFields {
		secret, err := resolveSecret(ctx, *target.field, resolver)
		if err != nil {
			return Config{}, err
		}
		*target.field = secret
		resolved[target.name] = secret
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return strings.TrimSpace(value), nil
	}
	ref := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validateConfig(cfg Config) error {
	var missing []string
	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	default:
		missing = append(missing, "Store.Backend")
	}
	switch cfg.Payment.Provider {
	case "wallet", "stripe":
	default:
		missing = append(missing, "Payment.Provider")
	}
	switch cfg.Idempotency.Backend {
	case "memory", "firestore":
	case "redis":
		if cfg.Idempotency.RedisAddr == "" {
			missing = append(missing, "Idempotency.RedisAddr")
		}
	default:
		missing = append(missing, "Idempotency.Backend")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}
	if cfg.Orders.ReturnWindow <= 0 {
		missing = append(missing, "Orders.ReturnWindow")
	}
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return &MissingSecretsError{names: names}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// loadDotEnv reads path with godotenv. A missing file is not an error.
func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, _ := lookup(key)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, _ := lookup(key)
	for _, entry := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			values[name] = value
		}
	}
	return values
}
