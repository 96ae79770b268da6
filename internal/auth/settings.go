package auth

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Setting keys in security_settings. Operators tune thresholds by writing
// these rows; a missing row means the compiled-in default applies.
const (
	SettingMaxLoginAttempts   = "max_login_attempts"
	SettingLockoutMinutes     = "lockout_duration_minutes"
	SettingAccessTokenMinutes = "jwt_expiration_minutes"
	SettingRefreshTokenDays   = "refresh_token_expiration_days"
	SettingRateLimitRequests  = "rate_limit_requests"
	SettingRateLimitWindowSec = "rate_limit_window_seconds"
	SettingIPBlockThreshold   = "ip_block_threshold"
	SettingIPBlockHours       = "ip_block_duration_hours"
)

// SecurityPolicy is the resolved set of abuse-protection thresholds.
type SecurityPolicy struct {
	MaxLoginAttempts  int
	LockoutDuration   time.Duration
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	RateLimitRequests int
	RateLimitWindow   time.Duration
	IPBlockThreshold  int
	IPBlockDuration   time.Duration
}

// DefaultSecurityPolicy returns the compiled-in thresholds used when the
// settings table is missing rows or unreachable.
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		MaxLoginAttempts:  5,
		LockoutDuration:   30 * time.Minute,
		AccessTokenTTL:    60 * time.Minute,
		RefreshTokenTTL:   30 * 24 * time.Hour,
		RateLimitRequests: 100,
		RateLimitWindow:   60 * time.Second,
		IPBlockThreshold:  200,
		IPBlockDuration:   24 * time.Hour,
	}
}

// SettingsRepo defines the data access methods needed by the SettingsService.
type SettingsRepo interface {
	GetValues(ctx context.Context, keys []string) (map[string]string, error)
}

// SettingsService resolves the current SecurityPolicy from the database.
// Values are re-read on every call so operator changes take effect without a
// restart; there is deliberately no cache.
type SettingsService struct {
	repo   SettingsRepo
	logger *slog.Logger
}

// NewSettingsService creates a new SettingsService.
// If logger is nil, slog.Default() is used.
func NewSettingsService(repo SettingsRepo, logger *slog.Logger) *SettingsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsService{repo: repo, logger: logger}
}

// Policy returns the current security policy. A store error fails open to
// the defaults: throttling thresholds must never take the platform down.
func (s *SettingsService) Policy(ctx context.Context) SecurityPolicy {
	policy := DefaultSecurityPolicy()

	values, err := s.repo.GetValues(ctx, []string{
		SettingMaxLoginAttempts,
		SettingLockoutMinutes,
		SettingAccessTokenMinutes,
		SettingRefreshTokenDays,
		SettingRateLimitRequests,
		SettingRateLimitWindowSec,
		SettingIPBlockThreshold,
		SettingIPBlockHours,
	})
	if err != nil {
		s.logger.Error("failed to load security settings, using defaults", "error", err)
		return policy
	}

	s.applyInt(values, SettingMaxLoginAttempts, &policy.MaxLoginAttempts)
	s.applyDuration(values, SettingLockoutMinutes, time.Minute, &policy.LockoutDuration)
	s.applyDuration(values, SettingAccessTokenMinutes, time.Minute, &policy.AccessTokenTTL)
	s.applyDuration(values, SettingRefreshTokenDays, 24*time.Hour, &policy.RefreshTokenTTL)
	s.applyInt(values, SettingRateLimitRequests, &policy.RateLimitRequests)
	s.applyDuration(values, SettingRateLimitWindowSec, time.Second, &policy.RateLimitWindow)
	s.applyInt(values, SettingIPBlockThreshold, &policy.IPBlockThreshold)
	s.applyDuration(values, SettingIPBlockHours, time.Hour, &policy.IPBlockDuration)

	return policy
}

func (s *SettingsService) applyInt(values map[string]string, key string, dst *int) {
	raw, ok := values[key]
	if !ok {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		s.logger.Warn("ignoring invalid security setting", "key", key, "value", raw)
		return
	}
	*dst = n
}

func (s *SettingsService) applyDuration(values map[string]string, key string, unit time.Duration, dst *time.Duration) {
	raw, ok := values[key]
	if !ok {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		s.logger.Warn("ignoring invalid security setting", "key", key, "value", raw)
		return
	}
	*dst = time.Duration(n) * unit
}
