package external

import (
	"log/slog"
	"net/http"
	"time"

	"shutterdesk/internal/config"
)

// ---------------------------------------------------------------------------
// Client Registry
//
// Central factory that instantiates the identity provider clients based on
// configuration. In local mode, returns stub implementations that log
// actions without requiring real credentials. Otherwise, returns real
// client implementations with strict timeouts.
// ---------------------------------------------------------------------------

// ClientRegistry is the single point of access for the rest of the
// application to interact with third-party identity providers.
type ClientRegistry struct {
	OAuth OAuthManager
}

// NewClientRegistry initializes the external identity clients.
// When cfg.Environment is "local", the registry is populated with stub
// implementations so the application can boot without provider credentials.
// Otherwise, real provider clients are initialized with a 10 second HTTP
// timeout, and only the providers whose credentials are configured are
// registered.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Environment == "local" {
		logger.Info("initializing external clients in STUB mode",
			"environment", cfg.Environment,
		)
		return &ClientRegistry{
			OAuth: NewStubOAuthManager(logger.With("mode", "stub"), "google", "vk"),
		}
	}

	logger.Info("initializing external clients in PRODUCTION mode",
		"environment", cfg.Environment,
	)

	oauthHTTPClient := &http.Client{Timeout: 10 * time.Second}
	var providers []OAuthProvider

	if cfg.Auth.GoogleClientID != "" {
		providers = append(providers, NewGoogleProvider(oauthHTTPClient, GoogleProviderConfig{
			ClientID:     cfg.Auth.GoogleClientID,
			ClientSecret: cfg.Auth.GoogleClientSecret.Unmask(),
			RedirectURL:  redirectURL(cfg, "google"),
			Logger:       logger.With("client", "google-oauth"),
		}))
	}

	if cfg.Auth.VKClientID != "" {
		providers = append(providers, NewVKProvider(oauthHTTPClient, VKProviderConfig{
			ClientID:     cfg.Auth.VKClientID,
			ClientSecret: cfg.Auth.VKClientSecret.Unmask(),
			RedirectURL:  redirectURL(cfg, "vk"),
			Logger:       logger.With("client", "vk-oauth"),
		}))
	}

	return &ClientRegistry{OAuth: NewOAuthManager(providers...)}
}

// redirectURL resolves the callback URL for a provider. An explicit
// OAUTH_REDIRECT_URL wins; otherwise the URL is derived from the public
// API address.
func redirectURL(cfg *config.Config, provider string) string {
	if cfg.Auth.OAuthRedirectURL != "" {
		return cfg.Auth.OAuthRedirectURL
	}
	return cfg.Server.APIExternalURL + "/v1/auth/oauth/" + provider + "/callback"
}
