package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shutterdesk/internal/auth"
	"shutterdesk/internal/core"
	"shutterdesk/internal/external"
	"shutterdesk/internal/types"
)

// oauthStateCookie is the short-lived cookie that carries the CSRF state
// between the login redirect and the provider callback.
const oauthStateCookie = "oauth_state"

// oauthStateMaxAge bounds how long a login redirect stays valid.
const oauthStateMaxAge = 600

// OAuthLoginService is the slice of the auth service the OAuth handler needs.
type OAuthLoginService interface {
	LoginWithOAuth(ctx context.Context, profile *types.OAuthProfile, ip, userAgent string) (*auth.LoginResult, error)
}

// OAuthHandler implements the provider login redirect and callback endpoints.
type OAuthHandler struct {
	providers external.OAuthManager
	login     OAuthLoginService
	logger    *slog.Logger
}

// NewOAuthHandler creates an OAuthHandler.
func NewOAuthHandler(providers external.OAuthManager, login OAuthLoginService, l *slog.Logger) *OAuthHandler {
	logger := l
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuthHandler{
		providers: providers,
		login:     login,
		logger:    logger,
	}
}

// RegisterRoutes registers the OAuth routes. Both endpoints are public: the
// caller is in the middle of acquiring a session.
func (h *OAuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/auth/oauth/{provider}", func(r chi.Router) {
		r.Get("/login", h.HandleLogin)
		r.Get("/callback", h.HandleCallback)
	})
}

// HandleLogin processes GET /auth/oauth/{provider}/login requests.
//
//  1. Generate a random state token.
//  2. Set a short-lived oauth_state cookie with the state value.
//  3. Redirect the user to the provider's login URL.
func (h *OAuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	provider, err := h.provider(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	state, err := newOAuthState()
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to generate OAuth state",
			err,
		))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		MaxAge:   oauthStateMaxAge,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, provider.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback processes GET /auth/oauth/{provider}/callback requests.
//
//  1. Validate the state parameter against the oauth_state cookie.
//  2. Exchange the authorization code for a provider profile.
//  3. Open a session via LoginWithOAuth and return the same response shape
//     as the password login.
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	provider, err := h.provider(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	stateParam := r.URL.Query().Get("state")
	stateCookie, cookieErr := r.Cookie(oauthStateCookie)
	if cookieErr != nil || stateCookie.Value == "" || stateParam == "" || stateParam != stateCookie.Value {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidField,
			"invalid OAuth state parameter",
			nil,
		))
		return
	}

	// The state is single use; drop the cookie once it has been checked.
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		MaxAge:   -1,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"authorization code is required",
			nil,
		))
		return
	}

	profile, err := provider.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("OAuth code exchange failed",
			"provider", provider.Name(),
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	result, err := h.login.LoginWithOAuth(r.Context(), profile, clientIP(r), r.UserAgent())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, LoginResponse{
		User:             result.User,
		SessionID:        result.Session.SessionID,
		AccessToken:      result.AccessToken,
		AccessExpiresAt:  result.AccessExpiresAt,
		RefreshToken:     result.RefreshToken,
		RefreshExpiresAt: result.RefreshExpiresAt,
	})
}

// provider resolves the {provider} URL parameter against the registered
// OAuth providers.
func (h *OAuthHandler) provider(r *http.Request) (external.OAuthProvider, error) {
	name := chi.URLParam(r, "provider")
	if name == "" {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"provider is required",
			nil,
		)
	}
	if h.providers == nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"OAuth is not configured",
			nil,
		)
	}
	return h.providers.GetProvider(name)
}

// newOAuthState produces a 32-hex-character random state token.
func newOAuthState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
