package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/finitefield/pos-api/internal/di"
	"github.com/finitefield/pos-api/internal/handlers"
	"github.com/finitefield/pos-api/internal/platform/auth"
	"github.com/finitefield/pos-api/internal/platform/config"
	"github.com/finitefield/pos-api/internal/platform/idempotency"
	"github.com/finitefield/pos-api/internal/platform/observability"
	"github.com/finitefield/pos-api/internal/platform/secrets"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pos-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	startedAt := time.Now().UTC()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment values: %w", err)
	}

	resolver, err := newSecretResolver(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("initialise secret resolver: %w", err)
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(resolver),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	reg, err := di.OpenRegistry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open repositories: %w", err)
	}
	container, err := di.NewContainer(ctx, cfg, reg,
		di.WithLogger(baseLogger),
		di.WithMeter(otel.Meter("github.com/finitefield/pos-api")),
	)
	if err != nil {
		_ = reg.Close(context.Background())
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	staffMiddleware, err := buildStaffMiddleware(ctx, cfg, logger)
	if err != nil {
		return err
	}

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware(projectID),
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithHealthReadiness(container.Readiness),
	)

	orderOpts := []handlers.OrderHandlerOption{
		handlers.WithMutationRateLimit(120, time.Minute),
	}
	if !cfg.Features.EnablePromotions {
		orderOpts = append(orderOpts, handlers.WithPromotionsDisabled())
	}
	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders, orderOpts...)

	idempotencyLogger := idempotency.Logger(observability.EventLogger(logger.Named("idempotency")))
	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithStaffMiddlewares(
			staffMiddleware,
			observability.CaptureStaffMiddleware,
			idempotency.Middleware(container.Idempotency,
				idempotency.WithHeader(cfg.Idempotency.Header),
				idempotency.WithTTL(cfg.Idempotency.TTL),
				idempotency.WithLogger(idempotencyLogger),
			),
		),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithTableRoutes(orderHandlers.TableRoutes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("storage", cfg.Storage.Driver))
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		serverLogger.Info("pos api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return idempotency.RunCleanup(groupCtx, container.Idempotency, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, idempotencyLogger)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// buildStaffMiddleware verifies Firebase ID tokens, or trusts X-Staff-ID when auth is switched off.
func buildStaffMiddleware(ctx context.Context, cfg config.Config, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	if !cfg.Auth.Enabled {
		logger.Warn("authentication disabled; trusting staff header", zap.String("header", auth.StaffHeader))
		return auth.TrustedHeader(), nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase verifier: %w", err)
	}
	return auth.NewAuthenticator(verifier).RequireStaff(), nil
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["POS_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["POS_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("POS_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("POS_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("POS_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter("github.com/finitefield/pos-api/secrets")),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if pins := parseKeyValueList(lookup("POS_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if file := lookup("POS_FIREBASE_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewResolver(ctx, opts...)
}

// requiredSecretNames lists the secret-backed fields that must resolve. Adapters left unconfigured are not required.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if isSecretReference(env["POS_STRIPE_API_KEY"]) {
		required = append(required, "Payments.StripeAPIKey")
	}
	if isSecretReference(env["POS_RABBITMQ_URL"]) {
		required = append(required, "Kitchen.URL")
	}
	if isSecretReference(env["POS_REPORTING_DATABASE_URL"]) {
		required = append(required, "Reporting.DatabaseURL")
	}
	return required
}

func isSecretReference(value string) bool {
	value = strings.TrimSpace(value)
	return strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://")
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
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
