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

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/lumenmart/api/internal/carrier"
	"github.com/lumenmart/api/internal/channels"
	"github.com/lumenmart/api/internal/di"
	"github.com/lumenmart/api/internal/handlers"
	"github.com/lumenmart/api/internal/platform/auth"
	"github.com/lumenmart/api/internal/platform/config"
	pfirestore "github.com/lumenmart/api/internal/platform/firestore"
	"github.com/lumenmart/api/internal/platform/idempotency"
	"github.com/lumenmart/api/internal/platform/jobs"
	"github.com/lumenmart/api/internal/platform/observability"
	"github.com/lumenmart/api/internal/platform/requestctx"
	"github.com/lumenmart/api/internal/platform/secrets"
	"github.com/lumenmart/api/internal/platform/sqldb"
	"github.com/lumenmart/api/internal/repositories"
	firestoreRepo "github.com/lumenmart/api/internal/repositories/firestore"
	"github.com/lumenmart/api/internal/repositories/memory"
	"github.com/lumenmart/api/internal/repositories/sqlstore"
	"github.com/lumenmart/api/internal/services"
)

const (
	channelHTTPTimeout  = 20 * time.Second
	authVerifyTimeout   = 5 * time.Second
	cleanupRunTimeout   = time.Minute
	shutdownGracePeriod = 10 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)

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
		config.WithSecretResolver(fetcher),
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

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	db, err := sqldb.Open(cfg.Database, logger)
	switch {
	case errors.Is(err, sqldb.ErrDisabled):
		logger.Info("relational order mirror disabled")
	case err != nil:
		logger.Fatal("failed to open relational store", zap.Error(err))
	default:
		defer func() {
			if err := sqldb.Close(db); err != nil {
				logger.Warn("relational store close error", zap.Error(err))
			}
		}()
	}

	var records repositories.OrderRecordRepository
	if db != nil {
		recordRepo := sqlstore.NewOrderRecordRepository(db)
		if err := recordRepo.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate relational store", zap.Error(err))
		}
		records = recordRepo
	}

	extraChecks := dependencyChecks(fetcher, redisClient, db)

	var firestoreProvider *pfirestore.Provider
	var registry repositories.Registry
	var healthRepo repositories.HealthRepository
	switch cfg.Store.Backend {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		registry = memory.NewRegistry()
		healthRepo, err = repositories.NewDependencyHealthRepository(append([]repositories.DependencyCheck{{
			Name:  "memory",
			Check: func(context.Context) error { return nil },
		}}, extraChecks...))
		if err != nil {
			logger.Fatal("failed to initialise health checks", zap.Error(err))
		}
	default:
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		fsRegistry, err := firestoreRepo.NewRegistry(firestoreProvider, extraChecks...)
		if err != nil {
			logger.Fatal("failed to initialise firestore repositories", zap.Error(err))
		}
		registry = fsRegistry
		healthRepo = fsRegistry.Health()
	}

	idempotencyStore, err := newIdempotencyStore(ctx, cfg, redisClient, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithWait(cfg.Idempotency.WaitTimeout, 100*time.Millisecond),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	var gateway carrier.Gateway
	if strings.TrimSpace(cfg.Carrier.BaseURL) != "" {
		client, err := carrier.NewHTTPClient(cfg.Carrier)
		if err != nil {
			logger.Fatal("failed to initialise carrier client", zap.Error(err))
		}
		gateway = carrier.NewIdempotentGateway(client, idempotencyStore)
	} else {
		logger.Warn("carrier base url not configured; waybills will not be requested")
	}

	channelAdapters, err := channels.NewAdapters(cfg.Channels, &http.Client{Timeout: channelHTTPTimeout}, time.Now)
	if err != nil {
		logger.Fatal("failed to initialise channel adapters", zap.Error(err))
	}

	container, err := di.NewContainer(cfg, registry, di.Collaborators{
		Records:  records,
		Carrier:  gateway,
		Channels: channelAdapters,
		Health:   healthRepo,
		Build:    buildInfo,
		Logger:   logger,
		Clock:    time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	publisher, closePublisher, err := newEventPublisher(ctx, cfg, logger.Named("outbox"))
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}
	defer closePublisher()

	dispatcher, err := jobs.NewOutboxDispatcher(registry.Outbox(), publisher,
		jobs.WithOutboxBatch(cfg.Outbox.BatchSize),
		jobs.WithOutboxMaxAttempts(cfg.Outbox.MaxAttempts),
		jobs.WithOutboxLogger(logger.Named("outbox")),
	)
	if err != nil {
		logger.Fatal("failed to initialise outbox dispatcher", zap.Error(err))
	}

	jobsCtx, jobsCancel := context.WithCancel(context.Background())
	jobsCtx = requestctx.WithLogger(jobsCtx, logger.Named("jobs"))
	var jobsWG sync.WaitGroup
	jobsWG.Add(1)
	go func() {
		defer jobsWG.Done()
		dispatcher.Run(jobsCtx, cfg.Outbox.Interval)
	}()
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupLogger := logger.Named("idempotency")
		jobsWG.Add(1)
		go func() {
			defer jobsWG.Done()
			jobs.RunEvery(jobsCtx, cfg.Idempotency.CleanupInterval, cleanupLogger, func(ctx context.Context) error {
				runCtx, cancel := context.WithTimeout(ctx, cleanupRunTimeout)
				defer cancel()
				removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
				if err != nil {
					return err
				}
				if removed > 0 {
					cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
				return nil
			})
		}()
	}

	authenticator := newAuthenticator(ctx, logger.Named("auth"), cfg)
	channelSigned := newChannelSignatureMiddleware(logger.Named("auth"), cfg, redisClient)

	orderHandlers := handlers.NewOrderHandlers(svc.Orders,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
		handlers.WithCheckoutRateLimit(cfg.Checkout.RateLimit, cfg.Checkout.RateWindow, time.Now),
	)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, svc.Orders)
	webhookHandlers := handlers.NewCarrierWebhookHandlers(svc.Reconciler,
		handlers.WithCarrierWebhookToken(cfg.Carrier.WebhookToken),
	)
	channelHandlers := handlers.NewChannelHandlers(svc.Importer, channelSigned, time.Now)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(channelHandlers.Routes),
	)
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
		serverLogger.Info("lumenmart api listening",
			zap.String("store", cfg.Store.Backend),
			zap.String("idempotency", cfg.Idempotency.Backend),
			zap.String("version", buildInfo.Version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	jobsCancel()
	jobsWG.Wait()
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
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
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// dependencyChecks lists the readiness checks for optional backing services.
func dependencyChecks(fetcher *secrets.Fetcher, redisClient *redis.Client, db *gorm.DB) []repositories.DependencyCheck {
	var checks []repositories.DependencyCheck
	if redisClient != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}
	if db != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "database",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:     "secretManager",
			Timeout:  time.Second,
			Optional: true,
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
		})
	}
	return checks
}

func newIdempotencyStore(ctx context.Context, cfg config.Config, redisClient *redis.Client, provider *pfirestore.Provider) (idempotency.Store, error) {
	switch cfg.Idempotency.Backend {
	case "memory":
		return idempotency.NewMemoryStore(), nil
	case "redis":
		if redisClient == nil {
			return nil, errors.New("idempotency: redis backend selected but API_REDIS_ADDR is empty")
		}
		return idempotency.NewRedisStore(redisClient, "idem:"), nil
	case "firestore":
		if provider == nil {
			return nil, errors.New("idempotency: firestore backend requires the firestore store")
		}
		client, err := provider.Client(ctx)
		if err != nil {
			return nil, err
		}
		return idempotency.NewFirestoreStore(client), nil
	}
	return nil, fmt.Errorf("idempotency: unsupported backend %q", cfg.Idempotency.Backend)
}

// newEventPublisher publishes to Pub/Sub when a project is known and falls back to the log
// otherwise. The returned func releases the client.
func newEventPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (jobs.EventPublisher, func(), error) {
	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	if cfg.Store.Backend == "memory" || projectID == "" || strings.TrimSpace(cfg.Outbox.Topic) == "" {
		logger.Info("outbox events are logged; pubsub not configured")
		return jobs.NewLogEventPublisher(logger), func() {}, nil
	}

	var opts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub: create client: %w", err)
	}
	topic := client.Topic(cfg.Outbox.Topic)
	publisher, err := jobs.NewPubSubEventPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}, nil
}

func newAuthenticator(ctx context.Context, logger *zap.Logger, cfg config.Config) *auth.Authenticator {
	if strings.TrimSpace(cfg.Firebase.ProjectID) == "" {
		if cfg.Security.Environment != "local" {
			logger.Fatal("firebase project id is required outside local runs")
		}
		logger.Warn("auth: firebase not configured; admin routes are unauthenticated")
		return nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, authVerifyTimeout)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	return auth.NewAuthenticator(verifier, auth.WithVerificationTimeout(authVerifyTimeout))
}

func newChannelSignatureMiddleware(logger *zap.Logger, cfg config.Config, redisClient *redis.Client) func(http.Handler) http.Handler {
	secrets := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) == "" {
			continue
		}
		secrets[strings.ToLower(key)] = value
	}
	if len(secrets) == 0 {
		logger.Warn("auth: no channel hmac secrets configured; channel pushes will be rejected")
	}

	var nonces auth.NonceStore = auth.NewInMemoryNonceStore()
	if redisClient != nil {
		store, err := auth.NewRedisNonceStore(redisClient, "nonce:")
		if err != nil {
			logger.Fatal("failed to initialise redis nonce store", zap.Error(err))
		}
		nonces = store
	}

	validator := auth.NewHMACValidator(staticSecretProvider{secrets: secrets}, nonces,
		auth.WithHMACLogger(logger),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
	)
	return validator.RequireHMACResolver(handlers.ChannelSecretName)
}

type staticSecretProvider struct {
	secrets map[string]string
}

func (p staticSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	if len(p.secrets) == 0 {
		return "", errors.New("auth: hmac secrets not configured")
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", errors.New("auth: secret name required")
	}
	if secret, ok := p.secrets[key]; ok && secret != "" {
		return secret, nil
	}
	return "", errors.New("auth: secret not found")
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.TrimSpace(env["API_CARRIER_BASE_URL"]) != "" {
		required = append(required, "Carrier.Token")
	}
	if strings.TrimSpace(env["API_SHOPEE_PARTNER_ID"]) != "" {
		required = append(required, "Channels.Shopee.PartnerKey")
	}
	if strings.TrimSpace(env["API_LAZADA_APP_KEY"]) != "" {
		required = append(required, "Channels.Lazada.AppSecret")
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
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
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
