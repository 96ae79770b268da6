// Package main is the entry point for the ShutterDesk auth API server.
//
// It loads configuration (resolving secrets from SSM in deployed
// environments), connects to Postgres, assembles the auth and traffic
// services, builds the HTTP server with the core chassis (middleware,
// routing, health checks), and starts listening for requests.
//
// In local mode (APP_ENV=local), it runs as a standard HTTP server on the
// configured port. In Lambda mode, it bridges API Gateway events to the chi
// router via the chi adapter.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"github.com/go-chi/chi/v5"

	"shutterdesk/internal/api/handlers"
	"shutterdesk/internal/auth"
	"shutterdesk/internal/config"
	"shutterdesk/internal/core"
	"shutterdesk/internal/db"
	"shutterdesk/internal/external"
	"shutterdesk/internal/observability"
	"shutterdesk/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("shutterdesk API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		pool.Close()
		return fmt.Errorf("loading AWS SDK config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	// Repositories share the pool; login and refresh flows that need
	// multi-row consistency go through the transaction manager.
	sessionRepo := db.NewSessionRepository(pool)
	refreshRepo := db.NewRefreshTokenRepository(pool)
	userRepo := db.NewUserRepository(pool)
	attemptRepo := db.NewLoginAttemptRepository(pool)
	reputationRepo := db.NewReputationRepository(pool)
	settingsRepo := db.NewSettingsRepository(pool)
	txManager := db.NewAuthTxManager(pool)

	codec := auth.NewTokenCodec(cfg.Auth.TokenSecret.Unmask(), nil)
	settingsSvc := auth.NewSettingsService(settingsRepo, logger)

	sessionSvc := auth.NewSessionService(auth.SessionServiceConfig{
		Sessions:  sessionRepo,
		Users:     userRepo,
		Codec:     codec,
		Settings:  settingsSvc,
		TxManager: txManager,
		Logger:    logger,
	})
	refreshSvc := auth.NewRefreshService(auth.RefreshServiceConfig{
		Tokens:         refreshRepo,
		Sessions:       sessionRepo,
		Users:          userRepo,
		SessionService: sessionSvc,
		Codec:          codec,
		Settings:       settingsSvc,
		Logger:         logger,
	})
	attemptGuard := auth.NewAttemptGuard(attemptRepo, settingsSvc, nil, logger)
	authSvc := auth.NewAuthService(auth.AuthServiceConfig{
		Users:          userRepo,
		SessionService: sessionSvc,
		RefreshService: refreshSvc,
		Attempts:       attemptGuard,
		Settings:       settingsSvc,
		TxManager:      txManager,
		Logger:         logger,
	})

	alerts := queue.NewAlertPublisher(sqsClient, cfg.AWS, logger)
	reputationGuard := auth.NewReputationGuard(auth.ReputationGuardConfig{
		Repo:     reputationRepo,
		Settings: settingsSvc,
		Alerts:   alerts,
		Logger:   logger,
	})

	// Build the server.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.RegisterShutdown(func(context.Context) error {
		pool.Close()
		return nil
	})

	srv.Authenticator = sessionSvc
	srv.Traffic = reputationGuard
	srv.HealthProbes = []core.HealthProbe{db.NewPoolProbe(pool)}
	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg)
		srv.Metrics = observability.NewCloudWatchMetrics(cwClient, cfg.Observability.MetricNamespace, logger)
	}

	// OAuth providers. Local mode registers stubs so the callback flow can be
	// exercised without upstream credentials.
	registry := external.NewClientRegistry(cfg, logger)

	authHandler := handlers.NewAuthHandler(authSvc, sessionSvc, refreshSvc, logger, srv.Validator)
	sessionHandler := handlers.NewSessionHandler(sessionSvc, logger, srv.Validator)
	securityHandler := handlers.NewSecurityHandler(attemptGuard, reputationGuard, logger, srv.Validator)
	oauthHandler := handlers.NewOAuthHandler(registry.OAuth, authSvc, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { authHandler.RegisterRoutes(r, srv.RequireAuth) },
		func(r chi.Router) { sessionHandler.RegisterRoutes(r, srv.RequireAuth) },
		func(r chi.Router) { securityHandler.RegisterRoutes(r) },
		func(r chi.Router) { oauthHandler.RegisterRoutes(r) },
	)

	// Mount all routes (middleware chain + versioned endpoints + health).
	srv.MountRoutes()

	if isLambdaEnvironment() {
		return runLambda(srv, logger)
	}

	return runHTTPServer(srv, cfg, logger)
}

// secretProvider returns the SSM-backed SecretProvider for deployed
// environments. Local development reads secrets straight from the
// environment, so no provider is needed there.
func secretProvider() config.SecretProvider {
	env := os.Getenv("APP_ENV")
	if env == "" || env == "local" {
		return nil
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return config.NewSSMProvider(region)
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runLambda starts the server in AWS Lambda mode using the chi adapter.
func runLambda(srv *core.Server, logger *slog.Logger) error {
	logger.Info("starting in Lambda mode")
	adapter := chiadapter.New(srv.Router())
	lambda.Start(adapter.ProxyWithContext)
	return nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with a 10-second deadline.
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Release server resources (DB pool, registered hooks).
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
