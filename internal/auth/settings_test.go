package auth

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockSettingsRepo struct {
	mock.Mock
}

func (m *mockSettingsRepo) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	args := m.Called(ctx, keys)
	if v := args.Get(0); v != nil {
		return v.(map[string]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// stubSettings returns a SettingsService that always resolves the given
// values. Used by the other service tests.
func stubSettings(values map[string]string) *SettingsService {
	repo := new(mockSettingsRepo)
	repo.On("GetValues", mock.Anything, mock.Anything).Return(values, nil)
	return NewSettingsService(repo, slog.Default())
}

func TestSettingsService_Policy_Defaults(t *testing.T) {
	svc := stubSettings(map[string]string{})

	policy := svc.Policy(context.Background())
	assert.Equal(t, 5, policy.MaxLoginAttempts)
	assert.Equal(t, 30*time.Minute, policy.LockoutDuration)
	assert.Equal(t, 60*time.Minute, policy.AccessTokenTTL)
	assert.Equal(t, 30*24*time.Hour, policy.RefreshTokenTTL)
	assert.Equal(t, 100, policy.RateLimitRequests)
	assert.Equal(t, 60*time.Second, policy.RateLimitWindow)
	assert.Equal(t, 200, policy.IPBlockThreshold)
	assert.Equal(t, 24*time.Hour, policy.IPBlockDuration)
}

func TestSettingsService_Policy_Overrides(t *testing.T) {
	svc := stubSettings(map[string]string{
		SettingMaxLoginAttempts:   "3",
		SettingLockoutMinutes:     "60",
		SettingAccessTokenMinutes: "15",
		SettingRefreshTokenDays:   "7",
		SettingRateLimitRequests:  "50",
		SettingRateLimitWindowSec: "30",
		SettingIPBlockThreshold:   "500",
		SettingIPBlockHours:       "48",
	})

	policy := svc.Policy(context.Background())
	assert.Equal(t, 3, policy.MaxLoginAttempts)
	assert.Equal(t, time.Hour, policy.LockoutDuration)
	assert.Equal(t, 15*time.Minute, policy.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, policy.RefreshTokenTTL)
	assert.Equal(t, 50, policy.RateLimitRequests)
	assert.Equal(t, 30*time.Second, policy.RateLimitWindow)
	assert.Equal(t, 500, policy.IPBlockThreshold)
	assert.Equal(t, 48*time.Hour, policy.IPBlockDuration)
}

func TestSettingsService_Policy_PartialOverride(t *testing.T) {
	svc := stubSettings(map[string]string{
		SettingMaxLoginAttempts: "10",
	})

	policy := svc.Policy(context.Background())
	assert.Equal(t, 10, policy.MaxLoginAttempts)
	assert.Equal(t, 30*time.Minute, policy.LockoutDuration)
}

func TestSettingsService_Policy_InvalidValuesIgnored(t *testing.T) {
	svc := stubSettings(map[string]string{
		SettingMaxLoginAttempts:  "not-a-number",
		SettingRateLimitRequests: "-5",
		SettingLockoutMinutes:    "0",
	})

	policy := svc.Policy(context.Background())
	assert.Equal(t, 5, policy.MaxLoginAttempts)
	assert.Equal(t, 100, policy.RateLimitRequests)
	assert.Equal(t, 30*time.Minute, policy.LockoutDuration)
}

func TestSettingsService_Policy_FailsOpenOnStoreError(t *testing.T) {
	repo := new(mockSettingsRepo)
	repo.On("GetValues", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	svc := NewSettingsService(repo, slog.Default())

	policy := svc.Policy(context.Background())
	assert.Equal(t, DefaultSecurityPolicy(), policy)
}
