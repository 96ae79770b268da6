package external

import (
	"context"
	"fmt"
	"log/slog"

	"shutterdesk/internal/types"
)

// ---------------------------------------------------------------------------
// Stub Implementations
//
// Stub implementations allow the application to boot in local mode without
// real identity provider credentials. They log all actions and return
// predictable, safe default values.
// ---------------------------------------------------------------------------

// StubOAuthProvider implements OAuthProvider by returning a fixed test profile.
// Used when APP_ENV=local.
type StubOAuthProvider struct {
	name   string
	logger *slog.Logger
}

// NewStubOAuthProvider creates a new StubOAuthProvider with the given provider name.
func NewStubOAuthProvider(name string, logger *slog.Logger) *StubOAuthProvider {
	return &StubOAuthProvider{name: name, logger: logger}
}

func (s *StubOAuthProvider) Name() string {
	return s.name
}

func (s *StubOAuthProvider) GetLoginURL(state string) string {
	s.logger.Info("stub: GetLoginURL called",
		"provider", s.name,
		"state", state,
	)
	return fmt.Sprintf("https://stub.local/oauth/%s?state=%s", s.name, state)
}

func (s *StubOAuthProvider) Exchange(ctx context.Context, code string) (*types.OAuthProfile, error) {
	s.logger.InfoContext(ctx, "stub: Exchange called",
		"provider", s.name,
		"code", code,
	)
	return &types.OAuthProfile{
		Provider:      s.name,
		ProviderID:    "stub_user_12345",
		Email:         "stub@example.com",
		Name:          "Stub User",
		AvatarURL:     "https://stub.local/avatar.png",
		EmailVerified: true,
	}, nil
}

// StubOAuthManager implements OAuthManager using stub providers.
// Used when APP_ENV=local.
type StubOAuthManager struct {
	providers map[string]OAuthProvider
}

// NewStubOAuthManager creates a new StubOAuthManager with stub providers
// for the given provider names.
func NewStubOAuthManager(logger *slog.Logger, providerNames ...string) *StubOAuthManager {
	m := &StubOAuthManager{
		providers: make(map[string]OAuthProvider, len(providerNames)),
	}
	for _, name := range providerNames {
		m.providers[name] = NewStubOAuthProvider(name, logger)
	}
	return m
}

func (m *StubOAuthManager) GetProvider(name string) (OAuthProvider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidField,
			fmt.Sprintf("unknown OAuth provider: %s", name),
			nil,
		)
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Interface Compliance
// ---------------------------------------------------------------------------

var _ OAuthProvider = (*StubOAuthProvider)(nil)
var _ OAuthManager = (*StubOAuthManager)(nil)
