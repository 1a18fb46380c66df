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

	"github.com/customwear/api/internal/di"
	"github.com/customwear/api/internal/platform/config"
	"github.com/customwear/api/internal/platform/observability"
	"github.com/customwear/api/internal/platform/secrets"
	"github.com/customwear/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(lookupEnv("API_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.ResolveSecret)),
		config.WithRequiredSecrets(requiredSecretNames()...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, logger, di.WithBuildInfo(buildInfoFromEnv(startedAt)))
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()

	stopBackground := container.StartBackground(context.Background())

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      container.Handler(traceProjectID(cfg)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("storage", cfg.Storage.Backend))
	go func() {
		serverLogger.Info("customwear api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// lookupEnv reads a raw setting through the same sources as config.Load.
func lookupEnv(key string) string {
	value, err := config.Lookup(key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func buildInfoFromEnv(started time.Time) services.BuildInfo {
	version := lookupEnv("API_BUILD_VERSION")
	if version == "" {
		version = "dev"
	}
	commit := lookupEnv("API_BUILD_COMMIT_SHA")
	if commit == "" {
		commit = "unknown"
	}
	environment := lookupEnv("API_ENVIRONMENT")
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

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firestore.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Events.PubSubProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	project := lookupEnv("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = lookupEnv("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookupEnv("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithProject(project),
	}
	if credentialsFile := lookupEnv("API_GCP_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists config fields that must resolve to a value. The signing key
// is optional only when header identities are enabled for local development.
func requiredSecretNames() []string {
	var required []string
	if !strings.EqualFold(lookupEnv("API_AUTH_ALLOW_HEADER_ACTOR"), "true") {
		required = append(required, "Auth.SigningKey")
	}
	if strings.EqualFold(lookupEnv("API_STORAGE_BACKEND"), "postgres") {
		required = append(required, "Postgres.DSN")
	}
	return required
}
