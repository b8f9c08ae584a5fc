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

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/plate-market/api/internal/di"
	"github.com/plate-market/api/internal/handlers"
	"github.com/plate-market/api/internal/platform/auth"
	"github.com/plate-market/api/internal/platform/config"
	"github.com/plate-market/api/internal/platform/observability"
	"github.com/plate-market/api/internal/platform/secrets"
	"github.com/plate-market/api/internal/services"
)

const (
	drainTimeout = 10 * time.Second
	closeTimeout = 5 * time.Second
	jwksTimeout  = 10 * time.Second
)

func main() {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	logger := baseLogger.Named("api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(observability.WithLogger(ctx, logger), logger)
	stop()
	_ = baseLogger.Sync()
	if err != nil {
		logger.Error("plate render api exited", zap.Error(err))
		os.Exit(1)
	}
}

// run serves until ctx is cancelled by a shutdown signal, then drains in-flight
// requests before releasing dependencies.
func run(ctx context.Context, logger *zap.Logger) error {
	startedAt := time.Now().UTC()

	env, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, env)
	if err != nil {
		return fmt.Errorf("secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(env)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	build := buildInfoFromEnv(env, cfg, startedAt)
	container, err := di.NewContainer(ctx, cfg, di.WithLogger(logger), di.WithBuildInfo(build))
	if err != nil {
		return fmt.Errorf("wire dependencies: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()

	// /readyz reports the fonts check as failing until this settles.
	go func() {
		fontLogger := logger.Named("fonts")
		if err := container.WarmFonts(ctx); err != nil {
			fontLogger.Error("font warm-up did not complete", zap.Error(err))
			return
		}
		fontLogger.Info("fonts loaded", zap.Int("usable", container.Pipeline.Fonts.Usable()))
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(cfg, container, build, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("plate render api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received; draining requests")
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func newRouter(cfg config.Config, container *di.Container, build services.BuildInfo, logger *zap.Logger) http.Handler {
	httpLogger := logger.Named("http")
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithRenderTimeout(cfg.Server.WriteTimeout),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(build),
			handlers.WithHealthSystemService(container.Services.System),
		)),
		handlers.WithPlateRoutes(handlers.NewPlateHandlers(
			handlers.WithPlateRenderService(container.Services.Render),
		).Routes),
		handlers.WithInternalRoutes(handlers.NewInternalPlateHandlers(
			handlers.WithInternalMigrationService(container.Services.Migration),
		).Routes),
	}
	if guard := buildOIDCMiddleware(logger.Named("auth"), cfg, container.Metrics); guard != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(guard))
	}
	return handlers.NewRouter(opts...)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	info := services.BuildInfo{
		Version:     firstSet(env["PLATES_BUILD_VERSION"], "dev"),
		CommitSHA:   firstSet(env["PLATES_BUILD_COMMIT_SHA"], "unknown"),
		Environment: firstSet(cfg.Security.Environment, "local"),
		StartedAt:   started,
	}
	return info
}

// buildOIDCMiddleware guards /internal with Google-signed service tokens. It
// returns nil when no JWKS endpoint is configured.
func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, metrics auth.MetricsRecorder) func(http.Handler) http.Handler {
	oidc := cfg.Security.OIDC
	if strings.TrimSpace(oidc.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	printf := observability.NewPrintfAdapter(logger)
	opts := []auth.OIDCOption{auth.WithOIDCLogger(printf)}
	if metrics != nil {
		opts = append(opts, auth.WithOIDCMetrics(metrics))
	}
	if len(oidc.AllowedEmails) > 0 {
		opts = append(opts, auth.WithAllowedEmails(oidc.AllowedEmails...))
	}
	keys := auth.NewJWKSCache(oidc.JWKSURL,
		auth.WithJWKSLogger(printf),
		auth.WithJWKSValidity(oidc.JWKSValidity),
		auth.WithJWKSHTTPClient(&http.Client{Timeout: jwksTimeout}),
	)
	validator := auth.NewOIDCValidator(keys, opts...)

	audience := strings.TrimSpace(oidc.Audience)
	if audience == "" || len(oidc.Issuers) == 0 {
		logger.Warn("auth: OIDC audience or issuers missing; internal routes will reject every request",
			zap.Bool("audience_set", audience != ""),
			zap.Int("issuers", len(oidc.Issuers)),
		)
	}
	return validator.RequireOIDC(audience, oidc.Issuers)
}

func traceProjectID(cfg config.Config) string {
	return firstSet(cfg.Firestore.ProjectID, cfg.Events.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	ttl, err := secretCacheTTL(env)
	if err != nil {
		return nil, err
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(firstSet(env["PLATES_SECRET_FALLBACK_FILE"], ".secrets.local")),
		secrets.WithCacheTTL(ttl),
	}
	if project := firstSet(env["PLATES_SECRET_DEFAULT_PROJECT_ID"], env["PLATES_FIRESTORE_PROJECT_ID"]); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if credentials := strings.TrimSpace(env["PLATES_SECRET_CREDENTIALS_FILE"]); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// secretCacheTTL reads PLATES_SECRET_CACHE_TTL. Unset keeps resolved secrets for
// the life of the process.
func secretCacheTTL(env map[string]string) (time.Duration, error) {
	raw := strings.TrimSpace(env["PLATES_SECRET_CACHE_TTL"])
	if raw == "" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl < 0 {
		return 0, fmt.Errorf("PLATES_SECRET_CACHE_TTL: invalid duration %q", raw)
	}
	return ttl, nil
}

// requiredSecretNames lists config fields that must resolve when they are configured
// as secret references.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.EqualFold(strings.TrimSpace(env["PLATES_CACHE_BACKEND"]), di.CacheBackendRedis) {
		required = append(required, "Cache.RedisURL")
	}
	if strings.TrimSpace(env["PLATES_STORAGE_CREDENTIALS_JSON"]) != "" {
		required = append(required, "Storage.CredentialsJSON")
	}
	return required
}

func firstSet(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
