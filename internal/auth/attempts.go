package auth

import (
	"context"
	"log/slog"
	"time"

	"shutterdesk/internal/types"
)

// AttemptRepo defines the data access methods needed by the AttemptGuard.
type AttemptRepo interface {
	Insert(ctx context.Context, attempt *types.LoginAttempt) error
	CountRecentByEmail(ctx context.Context, email string, since time.Time) (int, error)
	LatestBlock(ctx context.Context, email string, now time.Time) (*time.Time, error)
	BlockEmail(ctx context.Context, email string, since, until time.Time) (int, error)
	ClearBlocks(ctx context.Context, email string) (int, error)
}

// AttemptGuard throttles login attempts per email over a rolling window.
// Crossing the threshold stamps a block marker; the block is discovered and
// honored lazily at check time, there is no background enforcement.
type AttemptGuard struct {
	repo     AttemptRepo
	settings *SettingsService
	clock    types.Clock
	logger   *slog.Logger
}

// NewAttemptGuard creates a new AttemptGuard.
// If clock is nil, RealClock is used. If logger is nil, slog.Default() is used.
func NewAttemptGuard(repo AttemptRepo, settings *SettingsService, clock types.Clock, logger *slog.Logger) *AttemptGuard {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AttemptGuard{repo: repo, settings: settings, clock: clock, logger: logger}
}

// Check reports whether login attempts for an email are currently blocked.
// The recent attempt count is taken first so the status always carries the
// real number. An existing future block marker is honored as-is; otherwise
// the count is compared to the threshold, and crossing it stamps a new block
// covering the lockout duration.
func (g *AttemptGuard) Check(ctx context.Context, email string) (*types.AttemptStatus, error) {
	email = CanonicalizeEmail(email)
	policy := g.settings.Policy(ctx)
	now := g.clock.Now()

	since := now.Add(-policy.LockoutDuration)
	count, err := g.repo.CountRecentByEmail(ctx, email, since)
	if err != nil {
		return nil, err
	}

	until, err := g.repo.LatestBlock(ctx, email, now)
	if err != nil {
		return nil, err
	}
	if until != nil {
		return g.blockedStatus(policy, now, *until, count), nil
	}

	if count >= policy.MaxLoginAttempts {
		blockedUntil := now.Add(policy.LockoutDuration)
		if _, err := g.repo.BlockEmail(ctx, email, since, blockedUntil); err != nil {
			return nil, err
		}
		g.logger.Warn("login attempts blocked",
			"email", email,
			"attempts", count,
			"blocked_until", blockedUntil,
		)
		return g.blockedStatus(policy, now, blockedUntil, count), nil
	}

	return &types.AttemptStatus{
		Blocked:   false,
		Attempts:  count,
		Remaining: policy.MaxLoginAttempts - count,
	}, nil
}

func (g *AttemptGuard) blockedStatus(policy SecurityPolicy, now time.Time, until time.Time, attempts int) *types.AttemptStatus {
	minutesLeft := int(until.Sub(now).Minutes())
	if minutesLeft < 1 {
		minutesLeft = 1
	}
	return &types.AttemptStatus{
		Blocked:      true,
		Attempts:     attempts,
		Remaining:    0,
		BlockedUntil: &until,
		MinutesLeft:  minutesLeft,
	}
}

// Record logs the outcome of an authentication attempt. A success clears any
// block markers for the email and stamps the prior attempts as cleared, so a
// later Check starts from a zero count; the rows themselves are retained. A
// failure appends a row that counts toward the threshold.
func (g *AttemptGuard) Record(ctx context.Context, email, ip, userAgent, attemptType string, success bool) error {
	email = CanonicalizeEmail(email)
	if success {
		if _, err := g.repo.ClearBlocks(ctx, email); err != nil {
			return err
		}
		return nil
	}

	return g.repo.Insert(ctx, &types.LoginAttempt{
		Email:       email,
		IPAddress:   ip,
		UserAgent:   userAgent,
		AttemptType: attemptType,
		AttemptedAt: g.clock.Now(),
	})
}

// Clear removes block markers for an email, for operator-driven unlock.
func (g *AttemptGuard) Clear(ctx context.Context, email string) error {
	_, err := g.repo.ClearBlocks(ctx, CanonicalizeEmail(email))
	return err
}
