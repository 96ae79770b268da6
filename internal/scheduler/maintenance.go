package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Retention windows for the cleanup tasks. Rows older than the window are
// hard-deleted; expired sessions are only marked invalid, never removed
// within their retention period.
const (
	// AttemptRetention bounds the login_attempts table. Lockout math only
	// ever looks minutes back; 90 days keeps an audit trail.
	AttemptRetention = 90 * 24 * time.Hour

	// BucketRetention bounds the rate_limits table. Buckets are per-minute
	// windows, so anything older than a day is dead weight.
	BucketRetention = 24 * time.Hour

	// RefreshRetention keeps expired and revoked refresh tokens around long
	// enough for incident review before they are hard-deleted.
	RefreshRetention = 30 * 24 * time.Hour
)

// SessionSweeper marks expired-but-still-valid sessions invalid.
type SessionSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// AttemptPurger hard-deletes login attempts older than the cutoff.
type AttemptPurger interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// BucketPurger hard-deletes rate limit buckets whose window started before
// the cutoff.
type BucketPurger interface {
	DeleteBucketsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// RefreshPurger hard-deletes refresh tokens that expired or were revoked
// before the cutoff.
type RefreshPurger interface {
	DeleteDefunctBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// MaintenanceReport summarizes one maintenance run.
type MaintenanceReport struct {
	SessionsSwept        int `json:"sessions_swept"`
	AttemptsPurged       int `json:"attempts_purged"`
	BucketsPurged        int `json:"buckets_purged"`
	RefreshTokensDropped int `json:"refresh_tokens_dropped"`
}

// MaintenanceService runs the scheduled cleanups that bound table growth.
type MaintenanceService struct {
	sessions SessionSweeper
	attempts AttemptPurger
	buckets  BucketPurger
	refresh  RefreshPurger
	logger   *slog.Logger
}

// NewMaintenanceService creates a MaintenanceService.
func NewMaintenanceService(sessions SessionSweeper, attempts AttemptPurger, buckets BucketPurger, refresh RefreshPurger, logger *slog.Logger) *MaintenanceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MaintenanceService{
		sessions: sessions,
		attempts: attempts,
		buckets:  buckets,
		refresh:  refresh,
		logger:   logger,
	}
}

// Run executes the task named in the payload. An empty task or TaskAll runs
// every cleanup. The payload's ReferenceTime, when set, replaces the wall
// clock so reruns and backfills are deterministic.
func (s *MaintenanceService) Run(ctx context.Context, payload MaintenancePayload) (*MaintenanceReport, error) {
	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	report := &MaintenanceReport{}

	switch payload.Task {
	case TaskSweepSessions:
		return report, s.sweepSessions(ctx, now, report)
	case TaskPurgeAttempts:
		return report, s.purgeAttempts(ctx, now, report)
	case TaskPurgeRateBuckets:
		return report, s.purgeBuckets(ctx, now, report)
	case TaskPurgeRefreshTokens:
		return report, s.purgeRefreshTokens(ctx, now, report)
	case TaskAll, "":
		return report, s.runAll(ctx, now, report)
	default:
		return nil, fmt.Errorf("unknown maintenance task: %q", payload.Task)
	}
}

// runAll executes every cleanup concurrently. The tasks touch disjoint
// tables, so they share nothing but the pool. A single failure fails the
// run; completed tasks keep their effect since each is idempotent.
func (s *MaintenanceService) runAll(ctx context.Context, now time.Time, report *MaintenanceReport) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.sweepSessions(ctx, now, report) })
	g.Go(func() error { return s.purgeAttempts(ctx, now, report) })
	g.Go(func() error { return s.purgeBuckets(ctx, now, report) })
	g.Go(func() error { return s.purgeRefreshTokens(ctx, now, report) })

	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "maintenance run complete",
		"sessions_swept", report.SessionsSwept,
		"attempts_purged", report.AttemptsPurged,
		"buckets_purged", report.BucketsPurged,
		"refresh_tokens_dropped", report.RefreshTokensDropped,
	)
	return nil
}

func (s *MaintenanceService) sweepSessions(ctx context.Context, now time.Time, report *MaintenanceReport) error {
	swept, err := s.sessions.SweepExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("sweeping expired sessions: %w", err)
	}
	report.SessionsSwept = swept

	if swept > 0 {
		s.logger.InfoContext(ctx, "swept expired sessions", "count", swept)
	}
	return nil
}

func (s *MaintenanceService) purgeAttempts(ctx context.Context, now time.Time, report *MaintenanceReport) error {
	cutoff := now.Add(-AttemptRetention)

	purged, err := s.attempts.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purging login attempts: %w", err)
	}
	report.AttemptsPurged = purged

	if purged > 0 {
		s.logger.InfoContext(ctx, "purged stale login attempts",
			"count", purged,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return nil
}

func (s *MaintenanceService) purgeBuckets(ctx context.Context, now time.Time, report *MaintenanceReport) error {
	cutoff := now.Add(-BucketRetention)

	purged, err := s.buckets.DeleteBucketsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purging rate limit buckets: %w", err)
	}
	report.BucketsPurged = purged

	if purged > 0 {
		s.logger.InfoContext(ctx, "purged stale rate limit buckets",
			"count", purged,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return nil
}

func (s *MaintenanceService) purgeRefreshTokens(ctx context.Context, now time.Time, report *MaintenanceReport) error {
	cutoff := now.Add(-RefreshRetention)

	dropped, err := s.refresh.DeleteDefunctBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purging defunct refresh tokens: %w", err)
	}
	report.RefreshTokensDropped = dropped

	if dropped > 0 {
		s.logger.InfoContext(ctx, "purged defunct refresh tokens",
			"count", dropped,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return nil
}
