package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/orderflow/internal/di"
	"github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/handlers"
	"github.com/hanko-field/orderflow/internal/payments"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/config"
	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/platform/idempotency"
	"github.com/hanko-field/orderflow/internal/platform/jobs"
	"github.com/hanko-field/orderflow/internal/platform/observability"
	"github.com/hanko-field/orderflow/internal/platform/secrets"
	platformstorage "github.com/hanko-field/orderflow/internal/platform/storage"
	"github.com/hanko-field/orderflow/internal/repositories"
	firestoreRepo "github.com/hanko-field/orderflow/internal/repositories/firestore"
	"github.com/hanko-field/orderflow/internal/repositories/memory"
	"github.com/hanko-field/orderflow/internal/services"
	"github.com/hanko-field/orderflow/internal/shipping"
)

const (
	meterScope             = "github.com/hanko-field/orderflow"
	idempotencyCollection  = "idempotencyKeys"
	idempotencyRedisPrefix = "idem:"
	carrierSecretName      = "shipping"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("orderflow")

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	meter := otel.GetMeterProvider().Meter(meterScope)
	checks := make([]handlers.ReadinessCheck, 0, 4)

	var (
		registry          repositories.Registry
		firestoreProvider *pfirestore.Provider
		firestoreClient   *firestore.Client
	)
	switch cfg.Store.Backend {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		registry = memory.NewStore()
	default:
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		firestoreClient, err = firestoreProvider.Client(ctx)
		if err != nil {
			logger.Fatal("failed to initialise firestore client", zap.Error(err))
		}
		reg, err := firestoreRepo.NewRegistry(firestoreProvider)
		if err != nil {
			logger.Fatal("failed to initialise firestore repositories", zap.Error(err))
		}
		registry = reg
		checks = append(checks, firestoreCheck(firestoreClient))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	carrier, err := newCarrier(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise shipping carrier", zap.Error(err))
	}

	provider, verifier, stripeParser, err := newPaymentProvider(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise payment provider", zap.Error(err))
	}

	var events services.OrderEventPublisher
	if topicID := strings.TrimSpace(cfg.PubSub.OrderEventsTopic); topicID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicID)
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic, time.Duration(cfg.PubSub.PublishTimeoutSec)*time.Second)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		defer publisher.Stop()
		events = publisher
		checks = append(checks, handlers.ReadinessCheck{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topicID)
				}
				return nil
			},
		})
	} else {
		logger.Warn("order events topic not configured; lifecycle events are not published")
	}

	var evidence services.EvidenceURLSigner
	if bucket := strings.TrimSpace(cfg.Storage.ReturnsBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		var opts []platformstorage.EvidenceOption
		if key := strings.TrimSpace(cfg.Storage.SignerKey); key != "" {
			signer, err := platformstorage.NewKeySigner([]byte(key))
			if err != nil {
				logger.Fatal("failed to parse storage signer key", zap.Error(err))
			}
			opts = append(opts, platformstorage.WithSigner(signer))
		}
		signer, err := platformstorage.NewEvidenceSigner(storageClient, bucket, opts...)
		if err != nil {
			logger.Fatal("failed to initialise evidence signer", zap.Error(err))
		}
		evidence = signer
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Integrations{
		Carrier:  carrier,
		Payments: provider,
		Verifier: verifier,
		Events:   events,
		Evidence: evidence,
		Logger:   logger,
		Meter:    meter,
	})
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	svc := container.Services

	idempotencyStore, redisClient, err := newIdempotencyStore(cfg, firestoreClient)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		checks = append(checks, handlers.ReadinessCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	checks = append(checks, secretManagerCheck(fetcher))

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)
	carrierAuth := buildCarrierHMACMiddleware(logger.Named("auth"), cfg)

	webhookOpts := []handlers.WebhookOption{}
	if stripeParser != nil {
		webhookOpts = append(webhookOpts, handlers.WithStripeWebhooks(stripeParser))
	}
	if carrierAuth != nil {
		webhookOpts = append(webhookOpts, handlers.WithCarrierAuth(carrierAuth))
	} else {
		logger.Warn("carrier webhook secret not configured; delivery status route disabled")
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithReadinessChecks(checks...),
	)
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, svc.Returns)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, svc.Orders, svc.Returns, svc.Audit)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Payments, svc.Orders, webhookOpts...)
	internalHandlers := handlers.NewInternalHandlers(svc.Sweeper, time.Now)

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithCheckoutMiddlewares(idempotencyMiddleware),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("orderflow api listening",
			zap.String("store", cfg.Store.Backend),
			zap.String("payments", provider.Name()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newCarrier(cfg config.Config, logger *zap.Logger) (*shipping.HTTPCarrier, error) {
	return shipping.NewHTTPCarrier(shipping.HTTPCarrierConfig{
		Endpoint: cfg.Carrier.Endpoint,
		Token:    cfg.Carrier.Token,
		ShopID:   cfg.Carrier.ShopID,
		Origin:   di.ShippingOrigin(cfg.Shipping),
		DefaultDimensions: domain.Dimensions{
			WeightGrams: cfg.Shipping.DefaultWeightGrams,
			LengthCM:    cfg.Shipping.DefaultLengthCM,
			WidthCM:     cfg.Shipping.DefaultWidthCM,
			HeightCM:    cfg.Shipping.DefaultHeightCM,
		},
		Timeout: cfg.Carrier.Timeout,
		Logger:  shipping.Logger(observability.ServiceLogger(logger.Named("shipping"))),
	})
}

// newPaymentProvider returns the provider used at checkout together with the verifier for
// wallet IPNs and, for Stripe, the webhook parser.
func newPaymentProvider(cfg config.Config, logger *zap.Logger) (services.PaymentProvider, services.NotificationVerifier, handlers.StripeWebhookParser, error) {
	paymentLogger := observability.ServiceLogger(logger.Named("payments"))
	switch cfg.Payment.Provider {
	case "stripe":
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:        cfg.Payment.StripeAPIKey,
			Currency:      cfg.Orders.Currency,
			WebhookSecret: cfg.Payment.StripeWebhookSecret,
			Timeout:       cfg.Payment.Timeout,
			Logger:        payments.StripeLogger(paymentLogger),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return stripe, nil, stripe, nil
	default:
		signer, err := payments.NewSigner(cfg.Payment.SecretKey)
		if err != nil {
			return nil, nil, nil, err
		}
		wallet, err := payments.NewWalletProvider(payments.WalletProviderConfig{
			Endpoint:    cfg.Payment.Endpoint,
			PartnerCode: cfg.Payment.PartnerCode,
			AccessKey:   cfg.Payment.AccessKey,
			Signer:      signer,
			IPNURL:      cfg.Payment.IPNURL,
			Timeout:     cfg.Payment.Timeout,
			Logger:      payments.WalletLogger(paymentLogger),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return wallet, signer, nil, nil
	}
}

func newIdempotencyStore(cfg config.Config, client *firestore.Client) (idempotency.Store, *redis.Client, error) {
	switch cfg.Idempotency.Backend {
	case "redis":
		addr := strings.TrimSpace(cfg.Idempotency.RedisAddr)
		if addr == "" {
			return nil, nil, errors.New("idempotency: redis address is required")
		}
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		return idempotency.NewRedisStore(rdb, idempotencyRedisPrefix), rdb, nil
	case "firestore":
		if client == nil {
			return nil, nil, errors.New("idempotency: firestore backend requires the firestore store")
		}
		return idempotency.NewFirestoreStore(client, idempotencyCollection), nil, nil
	default:
		return idempotency.NewMemoryStore(), nil, nil
	}
}

func firestoreCheck(client *firestore.Client) handlers.ReadinessCheck {
	return handlers.ReadinessCheck{
		Name: "firestore",
		Check: func(ctx context.Context) error {
			iter := client.Collections(ctx)
			_, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		},
	}
}

func secretManagerCheck(fetcher *secrets.Fetcher) handlers.ReadinessCheck {
	const secretHealthReference = "secret://system/healthz?version=latest"
	return handlers.ReadinessCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache, logger)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

// buildCarrierHMACMiddleware guards the carrier callback. The carrier webhook secret fills the
// "shipping" slot when the HMAC secret map does not name one.
func buildCarrierHMACMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	secrets := auth.StaticSecrets{}
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) == "" {
			continue
		}
		secrets[strings.ToLower(key)] = value
	}
	if cfg.Carrier.WebhookSecret != "" {
		if _, ok := secrets[carrierSecretName]; !ok {
			secrets[carrierSecretName] = cfg.Carrier.WebhookSecret
		}
	}
	if _, ok := secrets[carrierSecretName]; !ok {
		return nil
	}

	validator := auth.NewHMACValidator(secrets, auth.NewInMemoryNonceStore(),
		auth.WithHMACLogger(logger),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithHMACWindow(cfg.Security.HMAC.ClockSkew, cfg.Security.HMAC.NonceTTL),
	)
	return validator.RequireHMAC(carrierSecretName)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the selected payment provider cannot run without, plus
// every HMAC secret named in the environment.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	switch strings.ToLower(strings.TrimSpace(env["API_PAYMENT_PROVIDER"])) {
	case "stripe":
		required = append(required, "Payment.StripeAPIKey", "Payment.StripeWebhookSecret")
	default:
		required = append(required, "Payment.SecretKey")
	}
	if strings.TrimSpace(env["API_STORAGE_RETURNS_BUCKET"]) != "" && strings.TrimSpace(env["API_STORAGE_SIGNER_KEY"]) != "" {
		required = append(required, "Storage.SignerKey")
	}
	for _, key := range parseHMACSecretKeys(env["API_SECURITY_HMAC_SECRETS"]) {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	return uniqueStrings(required)
}

func parseHMACSecretKeys(raw string) []string {
	values := parseKeyValueList(raw)
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, strings.ToLower(key))
	}
	sort.Strings(keys)
	return keys
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
