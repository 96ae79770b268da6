package core

import (
	"context"

	"shutterdesk/internal/types"
)

// Authenticator decouples the HTTP layer from the session validation logic,
// allowing for easy mocking in tests. Production wires the auth session
// service here.
type Authenticator interface {
	// Validate verifies a bearer access token and resolves it to the
	// authenticated Identity. Implementations return a typed AppError with
	// one of the auth_* codes on failure so the middleware can map it to
	// the right status.
	Validate(ctx context.Context, token string) (*types.Identity, error)
}

// TrafficGuard abstracts pre-auth abuse protection: IP blacklist lookups and
// per-(ip, endpoint) rate limiting. Production wires the reputation guard.
type TrafficGuard interface {
	// CheckBlacklist reports whether the IP is currently blocked. A lapsed
	// temporary block reports false.
	CheckBlacklist(ctx context.Context, ip string) (bool, *types.IPBlacklistEntry, error)

	// CheckRateLimit evaluates the request budget for the (ip, endpoint)
	// pair without consuming from it.
	CheckRateLimit(ctx context.Context, ip, endpoint string) (*types.RateLimitStatus, error)

	// RecordRequest counts one request against the (ip, endpoint) pair.
	RecordRequest(ctx context.Context, ip, endpoint string) error
}
