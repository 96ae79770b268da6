// Package main is the entrypoint for the maintenance Lambda function.
//
// The function acts as a maintenance multiplexer. EventBridge rules send JSON
// payloads naming a TaskType, and the handler routes execution to the
// matching cleanup task: sweeping expired sessions, purging old login
// attempts, dropping stale rate limit buckets, and deleting defunct refresh
// tokens. Consolidating the low-frequency cleanup work into a single Lambda
// keeps cold starts and infrastructure sprawl down.
//
// Outside Lambda the binary runs one task (or all of them) and exits, which
// covers local development and ad hoc backfills.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"shutterdesk/internal/config"
	"shutterdesk/internal/db"
	"shutterdesk/internal/scheduler"
)

// runTimeout bounds a one-shot CLI run. Lambda invocations are bounded by the
// function timeout instead.
const runTimeout = 5 * time.Minute

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := run(logger); err != nil {
		logger.Error("maintenance run failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	svc := scheduler.NewMaintenanceService(
		db.NewSessionRepository(pool),
		db.NewLoginAttemptRepository(pool),
		db.NewReputationRepository(pool),
		db.NewRefreshTokenRepository(pool),
		logger,
	)

	if isLambdaEnvironment() {
		logger.Info("maintenance Lambda initialized", "environment", cfg.Environment)
		lambda.Start(func(ctx context.Context, payload scheduler.MaintenancePayload) (*scheduler.MaintenanceReport, error) {
			return svc.Run(ctx, payload)
		})
		return nil
	}

	return runOnce(ctx, svc, logger)
}

// runOnce executes a single maintenance pass from the command line and prints
// the report to stdout.
func runOnce(ctx context.Context, svc *scheduler.MaintenanceService, logger *slog.Logger) error {
	task := flag.String("task", string(scheduler.TaskAll), "maintenance task to run (sweep_sessions, purge_attempts, purge_rate_buckets, purge_refresh_tokens, all)")
	refStr := flag.String("reference-time", "", "RFC3339 reference time for cutoffs (default: now)")
	flag.Parse()

	payload := scheduler.MaintenancePayload{Task: scheduler.TaskType(*task)}
	if *refStr != "" {
		ref, err := time.Parse(time.RFC3339, *refStr)
		if err != nil {
			return fmt.Errorf("parsing -reference-time: %w", err)
		}
		payload.ReferenceTime = &ref
	}

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	report, err := svc.Run(ctx, payload)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	fmt.Println(string(out))

	logger.Info("maintenance run finished", "task", *task)
	return nil
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
