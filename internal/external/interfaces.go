package external

import (
	"context"

	"shutterdesk/internal/types"
)

// OAuthProvider abstracts a single OAuth identity provider (e.g., Google, VK).
type OAuthProvider interface {
	// Name returns the provider identifier (e.g., "google", "vk").
	Name() string

	// GetLoginURL generates the OAuth authorization URL with the given state parameter.
	GetLoginURL(state string) string

	// Exchange trades an authorization code for a normalized user profile.
	// Does NOT return the provider's access/refresh tokens; scope is
	// authentication only.
	Exchange(ctx context.Context, code string) (*types.OAuthProfile, error)
}

// OAuthManager provides access to registered OAuth providers by name.
type OAuthManager interface {
	// GetProvider returns the OAuthProvider registered under the given name.
	// Returns an error if no provider is registered with that name.
	GetProvider(name string) (OAuthProvider, error)
}
