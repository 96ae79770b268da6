// Package handlers contains the HTTP handler implementations for the ShutterDesk auth API.
//
// Each handler is responsible for:
//   - Decoding and validating HTTP requests
//   - Delegating to service-layer logic
//   - Encoding responses and managing HTTP-specific concerns (headers, status codes)
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"shutterdesk/internal/auth"
	"shutterdesk/internal/core"
	"shutterdesk/internal/types"
)

// --- DTOs ---

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries both tokens plus the authenticated user. The refresh
// token appears only here and in RefreshResponse; it is never persisted raw.
type LoginResponse struct {
	User             *types.User `json:"user"`
	SessionID        string      `json:"session_id"`
	AccessToken      string      `json:"access_token"`
	AccessExpiresAt  time.Time   `json:"access_expires_at"`
	RefreshToken     string      `json:"refresh_token"`
	RefreshExpiresAt time.Time   `json:"refresh_expires_at"`
}

// RefreshRequest is the request body for POST /auth/refresh and
// POST /auth/refresh/revoke.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// RefreshResponse is the result of exchanging a refresh token.
type RefreshResponse struct {
	AccessToken string       `json:"access_token"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        identityUser `json:"user"`
}

// ValidateResponse mirrors what every downstream ShutterDesk handler consumes
// when it authenticates a request.
type ValidateResponse struct {
	Valid   bool            `json:"valid"`
	User    identityUser    `json:"user"`
	Session identitySession `json:"session"`
}

type identityUser struct {
	UserID      string         `json:"user_id"`
	Email       string         `json:"email"`
	DisplayName string         `json:"display_name,omitempty"`
	Role        types.UserRole `json:"role"`
}

type identitySession struct {
	SessionID    string    `json:"session_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
}

// MessageResponse is the generic acknowledgement body.
type MessageResponse struct {
	Message string `json:"message"`
}

// --- Service Interfaces ---
//
// These interfaces allow the handler to depend on abstractions rather than
// concrete service implementations, enabling testability via mocks.

// AuthService orchestrates the credential login flow.
type AuthService interface {
	// Login verifies credentials and returns the session plus both tokens.
	Login(ctx context.Context, email, password, ip, userAgent string) (*auth.LoginResult, error)
}

// SessionLifecycle invalidates sessions on logout.
type SessionLifecycle interface {
	// Invalidate soft-revokes the session. Idempotent.
	Invalidate(ctx context.Context, sessionID string) error
}

// RefreshService exchanges and revokes refresh tokens.
type RefreshService interface {
	Refresh(ctx context.Context, raw string) (*auth.RefreshResult, error)
	// Revoke returns false when no matching active token exists. That is a
	// normal outcome, not an error.
	Revoke(ctx context.Context, raw string) (bool, error)
}

// --- Handler ---

// AuthHandler maps HTTP requests to the auth service layer.
type AuthHandler struct {
	login     AuthService
	sessions  SessionLifecycle
	refresh   RefreshService
	logger    *slog.Logger
	validator *core.Validator
}

// NewAuthHandler creates a new AuthHandler with the provided dependencies.
func NewAuthHandler(
	authSvc AuthService,
	sessions SessionLifecycle,
	refresh RefreshService,
	l *slog.Logger,
	v *core.Validator,
) *AuthHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AuthHandler{
		login:     authSvc,
		sessions:  sessions,
		refresh:   refresh,
		logger:    l,
		validator: v,
	}
}

// RegisterRoutes mounts the auth routes onto the v1 router.
//
// Public routes (no bearer token required):
//   - POST /auth/login          - Credential login
//   - POST /auth/refresh        - Exchange a refresh token for an access token
//   - POST /auth/refresh/revoke - Revoke a refresh token
//
// Protected routes (valid bearer token required):
//   - GET  /auth/validate - Validate the presented access token
//   - POST /auth/logout   - Invalidate the current session
func (h *AuthHandler) RegisterRoutes(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Post("/login", h.HandleLogin)
			r.Post("/refresh", h.HandleRefresh)
			r.Post("/refresh/revoke", h.HandleRevokeRefresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/validate", h.HandleValidate)
			r.Post("/logout", h.HandleLogout)
		})
	})
}

// --- Handler Methods ---

// HandleLogin processes POST /auth/login requests.
//
// The attempt guard, credential verification, and session/refresh issuance all
// live in the auth service; the handler only shapes the request and response.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	email := auth.CanonicalizeEmail(req.Email)
	ip := clientIP(r)
	userAgent := r.UserAgent()

	result, err := h.login.Login(r.Context(), email, req.Password, ip, userAgent)
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

// HandleValidate processes GET /auth/validate requests.
//
// The RequireAuth middleware has already validated the bearer token and put
// the identity in the request context, so the handler only echoes it back in
// the shape other services consume.
func (h *AuthHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSessionInvalid,
			"no authenticated identity",
			nil,
		))
		return
	}

	core.JSON(w, r, http.StatusOK, ValidateResponse{
		Valid: true,
		User: identityUser{
			UserID:      identity.UserID,
			Email:       identity.Email,
			DisplayName: identity.DisplayName,
			Role:        identity.Role,
		},
		Session: identitySession{
			SessionID:    identity.SessionID,
			ExpiresAt:    identity.ExpiresAt,
			LastActivity: identity.LastActivity,
		},
	})
}

// HandleLogout processes POST /auth/logout requests. The session to
// invalidate is the one the bearer token proves, never a client-supplied ID.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSessionInvalid,
			"no authenticated identity",
			nil,
		))
		return
	}

	if err := h.sessions.Invalidate(r.Context(), identity.SessionID); err != nil {
		h.logger.Error("failed to invalidate session during logout",
			"session_id", identity.SessionID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, MessageResponse{Message: "Session invalidated"})
}

// HandleRefresh processes POST /auth/refresh requests.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.refresh.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, RefreshResponse{
		AccessToken: result.AccessToken,
		ExpiresAt:   result.ExpiresAt,
		User: identityUser{
			UserID: result.Identity.UserID,
			Email:  result.Identity.Email,
			Role:   result.Identity.Role,
		},
	})
}

// HandleRevokeRefresh processes POST /auth/refresh/revoke requests.
// Revoking an unknown or already revoked token still returns 200.
func (h *AuthHandler) HandleRevokeRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	revoked, err := h.refresh.Revoke(r.Context(), req.RefreshToken)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	msg := "Refresh token revoked"
	if !revoked {
		msg = "Refresh token was not active"
	}
	core.JSON(w, r, http.StatusOK, MessageResponse{Message: msg})
}

// --- Utility ---

// clientIP resolves the caller's IP. The blacklist middleware stores the
// resolved IP in the context for every request that passed through it; the
// header walk is the fallback for handlers exercised outside the full chain.
func clientIP(r *http.Request) string {
	if ip := types.GetClientIP(r.Context()); ip != "" {
		return ip
	}

	// X-Forwarded-For may contain multiple IPs: client, proxy1, proxy2.
	// The first entry is the original client IP.
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	// RemoteAddr may include a port ("ip:port").
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
