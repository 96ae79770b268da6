package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"shutterdesk/internal/types"
)

// ReputationRepo defines the data access methods needed by the
// ReputationGuard.
type ReputationRepo interface {
	GetBlacklistEntry(ctx context.Context, ip string) (*types.IPBlacklistEntry, error)
	UpsertBlacklistEntry(ctx context.Context, entry *types.IPBlacklistEntry) error
	SumRequests(ctx context.Context, ip, endpoint string, since time.Time) (int, error)
	RecordRequest(ctx context.Context, ip, endpoint string, bucket, now time.Time) error
	InsertSecurityLog(ctx context.Context, log *types.SecurityLog) error
}

// AlertPublisher dispatches security alerts to the operations pipeline.
type AlertPublisher interface {
	PublishSecurityAlert(ctx context.Context, alert types.SecurityAlert) error
}

// rateLimitBucket is the granularity of rate_limits rows.
const rateLimitBucket = time.Minute

// ReputationGuard enforces IP-level abuse protection: the blacklist, the
// per-(ip, endpoint) rate limit, and blacklist escalation when an IP keeps
// hammering past the block threshold.
type ReputationGuard struct {
	repo     ReputationRepo
	settings *SettingsService
	alerts   AlertPublisher
	clock    types.Clock
	logger   *slog.Logger
}

// ReputationGuardConfig holds the dependencies for creating a ReputationGuard.
// Alerts may be nil; escalations are then only logged and audited.
type ReputationGuardConfig struct {
	Repo     ReputationRepo
	Settings *SettingsService
	Alerts   AlertPublisher
	Clock    types.Clock
	Logger   *slog.Logger
}

// NewReputationGuard creates a new ReputationGuard.
// If Clock is nil, RealClock is used. If Logger is nil, slog.Default() is used.
func NewReputationGuard(cfg ReputationGuardConfig) *ReputationGuard {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ReputationGuard{
		repo:     cfg.Repo,
		settings: cfg.Settings,
		alerts:   cfg.Alerts,
		clock:    clock,
		logger:   logger,
	}
}

// CheckBlacklist reports whether an IP is currently blocked. An entry is in
// force when it is permanent or its block window has not lapsed; a lapsed
// entry stays in the table as history but no longer blocks.
func (g *ReputationGuard) CheckBlacklist(ctx context.Context, ip string) (bool, *types.IPBlacklistEntry, error) {
	entry, err := g.repo.GetBlacklistEntry(ctx, ip)
	if err != nil {
		return false, nil, err
	}
	if entry == nil {
		return false, nil, nil
	}
	if entry.IsPermanent {
		return true, entry, nil
	}
	if entry.BlockedUntil != nil && entry.BlockedUntil.After(g.clock.Now()) {
		return true, entry, nil
	}
	return false, nil, nil
}

// CheckRateLimit evaluates the request budget for an (ip, endpoint) pair
// over the rolling window. Exceeding the limit denies the request and writes
// an audit row; exceeding the much larger block threshold additionally
// escalates the IP onto the blacklist.
func (g *ReputationGuard) CheckRateLimit(ctx context.Context, ip, endpoint string) (*types.RateLimitStatus, error) {
	policy := g.settings.Policy(ctx)
	now := g.clock.Now()

	total, err := g.repo.SumRequests(ctx, ip, endpoint, now.Add(-policy.RateLimitWindow))
	if err != nil {
		return nil, err
	}

	status := &types.RateLimitStatus{
		Allowed:   total < policy.RateLimitRequests,
		Limit:     policy.RateLimitRequests,
		Current:   total,
		Remaining: policy.RateLimitRequests - total,
		ResetAt:   now.Add(policy.RateLimitWindow),
	}
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	if status.Allowed {
		return status, nil
	}

	g.auditEvent(ctx, "rate_limit_exceeded", "warning", ip, endpoint, map[string]any{
		"requests": total,
		"limit":    policy.RateLimitRequests,
	})

	if total >= policy.IPBlockThreshold {
		reason := fmt.Sprintf("rate limit escalation: %d requests to %s", total, endpoint)
		if err := g.AddToBlacklist(ctx, ip, endpoint, reason, policy.IPBlockDuration); err != nil {
			g.logger.Error("failed to escalate ip to blacklist",
				"ip", ip,
				"endpoint", endpoint,
				"error", err,
			)
		}
	}

	return status, nil
}

// RecordRequest counts one request against the current minute bucket for an
// (ip, endpoint) pair. Checking and recording are separate steps; the small
// race between them is accepted for this coarse abuse mitigation.
func (g *ReputationGuard) RecordRequest(ctx context.Context, ip, endpoint string) error {
	now := g.clock.Now()
	return g.repo.RecordRequest(ctx, ip, endpoint, now.Truncate(rateLimitBucket), now)
}

// AddToBlacklist blocks an IP for the given duration, records the audit row,
// and publishes a security alert. The alert is fire-and-forget; a publish
// failure never unwinds the block.
func (g *ReputationGuard) AddToBlacklist(ctx context.Context, ip, endpoint, reason string, duration time.Duration) error {
	now := g.clock.Now()
	blockedUntil := now.Add(duration)
	entry := &types.IPBlacklistEntry{
		IPAddress:      ip,
		Reason:         reason,
		BlockedUntil:   &blockedUntil,
		FailedAttempts: 1,
	}
	if err := g.repo.UpsertBlacklistEntry(ctx, entry); err != nil {
		return err
	}

	g.logger.Warn("ip blacklisted",
		"ip", ip,
		"reason", reason,
		"blocked_until", blockedUntil,
	)
	g.auditEvent(ctx, "ip_blacklisted", "critical", ip, endpoint, map[string]any{
		"reason":        reason,
		"blocked_until": blockedUntil,
	})

	if g.alerts != nil {
		alert := types.SecurityAlert{
			EventType:    "ip_blacklisted",
			Severity:     "critical",
			IPAddress:    ip,
			Endpoint:     endpoint,
			Reason:       reason,
			BlockedUntil: &blockedUntil,
			OccurredAt:   now,
		}
		if err := g.alerts.PublishSecurityAlert(ctx, alert); err != nil {
			g.logger.Error("failed to publish security alert",
				"ip", ip,
				"error", err,
			)
		}
	}
	return nil
}

// auditEvent writes a security_logs row. Audit failures are logged and
// swallowed; the enforcement decision stands either way.
func (g *ReputationGuard) auditEvent(ctx context.Context, eventType, severity, ip, endpoint string, details map[string]any) {
	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte(`{}`)
	}
	log := &types.SecurityLog{
		EventType: eventType,
		Severity:  severity,
		IPAddress: ip,
		Endpoint:  endpoint,
		Details:   payload,
		CreatedAt: g.clock.Now(),
	}
	if err := g.repo.InsertSecurityLog(ctx, log); err != nil {
		g.logger.Error("failed to write security log",
			"event_type", eventType,
			"ip", ip,
			"error", err,
		)
	}
}
