package core

import (
	"context"
	"sync"

	"shutterdesk/internal/types"
)

// MockAuthenticator implements the Authenticator interface for testing.
// It allows injecting a predefined Identity, or returning a fixed error to
// simulate validation failures.
type MockAuthenticator struct {
	// Identity is returned on successful validation. If nil and Err is also
	// nil, Validate returns (nil, nil).
	Identity *types.Identity

	// Err is the error returned by Validate. When set, Identity is ignored.
	Err error

	// ValidateFunc optionally overrides the default behavior for tests that
	// need per-token responses.
	ValidateFunc func(ctx context.Context, token string) (*types.Identity, error)

	mu sync.Mutex

	// Calls records every token passed to Validate for assertion purposes.
	Calls []string
}

// Validate implements the Authenticator interface.
func (m *MockAuthenticator) Validate(ctx context.Context, token string) (*types.Identity, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Identity, nil
}

// MockTrafficGuard implements the TrafficGuard interface for testing the
// IP blacklist and rate-limit middleware.
type MockTrafficGuard struct {
	// BlockedIPs maps IP addresses to blacklist entries. An IP present in
	// the map is reported blocked.
	BlockedIPs map[string]*types.IPBlacklistEntry

	// BlacklistErr is returned by CheckBlacklist when set.
	BlacklistErr error

	// RateLimitStatus is returned by CheckRateLimit. Nil defaults to an
	// allowed response with a generous budget.
	RateLimitStatus *types.RateLimitStatus

	// RateLimitErr is returned by CheckRateLimit when set.
	RateLimitErr error

	// RecordErr is returned by RecordRequest when set.
	RecordErr error

	mu sync.Mutex

	// Recorded stores every (ip, endpoint) passed to RecordRequest.
	Recorded []TrafficCall
}

// TrafficCall records the arguments of one RecordRequest invocation.
type TrafficCall struct {
	IP       string
	Endpoint string
}

// CheckBlacklist implements the TrafficGuard interface.
func (m *MockTrafficGuard) CheckBlacklist(_ context.Context, ip string) (bool, *types.IPBlacklistEntry, error) {
	if m.BlacklistErr != nil {
		return false, nil, m.BlacklistErr
	}
	entry, ok := m.BlockedIPs[ip]
	return ok, entry, nil
}

// CheckRateLimit implements the TrafficGuard interface.
func (m *MockTrafficGuard) CheckRateLimit(_ context.Context, ip, endpoint string) (*types.RateLimitStatus, error) {
	if m.RateLimitErr != nil {
		return nil, m.RateLimitErr
	}
	if m.RateLimitStatus != nil {
		return m.RateLimitStatus, nil
	}
	return &types.RateLimitStatus{Allowed: true, Limit: 100, Remaining: 99}, nil
}

// RecordRequest implements the TrafficGuard interface.
func (m *MockTrafficGuard) RecordRequest(_ context.Context, ip, endpoint string) error {
	m.mu.Lock()
	m.Recorded = append(m.Recorded, TrafficCall{IP: ip, Endpoint: endpoint})
	m.mu.Unlock()
	return m.RecordErr
}

// Compile-time interface assertions.
var (
	_ Authenticator = (*MockAuthenticator)(nil)
	_ TrafficGuard  = (*MockTrafficGuard)(nil)
)
