package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shutterdesk/internal/core"
	"shutterdesk/internal/types"
)

// --- DTOs ---

// SessionListResponse is the body for GET /sessions.
type SessionListResponse struct {
	Sessions []types.SessionSummary `json:"sessions"`
	Total    int                    `json:"total"`
}

// RevokeSessionResponse is the body for DELETE /sessions/{sessionID}.
type RevokeSessionResponse struct {
	Revoked bool `json:"revoked"`
}

// RevokeAllRequest is the request body for POST /sessions/revoke-all.
type RevokeAllRequest struct {
	ExceptCurrent bool `json:"except_current"`
}

// RevokeAllResponse is the body for POST /sessions/revoke-all.
type RevokeAllResponse struct {
	RevokedCount int `json:"revoked_count"`
}

// --- Service Interfaces ---

// SessionManager exposes the per-user session inventory operations.
type SessionManager interface {
	// ListSessions returns the caller's live sessions, newest activity first,
	// with the entry matching currentSessionID flagged as current.
	ListSessions(ctx context.Context, userID, currentSessionID string) ([]types.SessionSummary, error)

	// Revoke soft-revokes one session. A session that does not exist or
	// belongs to another user yields ErrCodeNotFoundSession.
	Revoke(ctx context.Context, sessionID, userID string) error

	// RevokeAll soft-revokes every live session for the user, optionally
	// sparing exceptSessionID, and returns how many rows it touched.
	RevokeAll(ctx context.Context, userID, exceptSessionID string) (int, error)
}

// --- Handler ---

// SessionHandler serves the authenticated user's session inventory. Every
// route requires a bearer token; the user ID always comes from the validated
// identity, never from the request.
type SessionHandler struct {
	sessions  SessionManager
	logger    *slog.Logger
	validator *core.Validator
}

// NewSessionHandler creates a new SessionHandler with the provided dependencies.
func NewSessionHandler(sessions SessionManager, l *slog.Logger, v *core.Validator) *SessionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SessionHandler{
		sessions:  sessions,
		logger:    l,
		validator: v,
	}
}

// RegisterRoutes mounts the session routes onto the v1 router.
//
//   - GET    /sessions             - List the caller's active sessions
//   - DELETE /sessions/{sessionID} - Revoke one session
//   - POST   /sessions/revoke-all  - Revoke all sessions, optionally sparing the current one
func (h *SessionHandler) RegisterRoutes(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Route("/sessions", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/", h.HandleList)
		r.Delete("/{sessionID}", h.HandleRevoke)
		r.Post("/revoke-all", h.HandleRevokeAll)
	})
}

// --- Handler Methods ---

// HandleList processes GET /sessions requests.
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSessionInvalid, "no authenticated identity", nil))
		return
	}

	sessions, err := h.sessions.ListSessions(r.Context(), identity.UserID, identity.SessionID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, SessionListResponse{
		Sessions: sessions,
		Total:    len(sessions),
	})
}

// HandleRevoke processes DELETE /sessions/{sessionID} requests.
//
// A session ID that does not exist or belongs to another user comes back as
// revoked=false with 200, never a 403. The response must not reveal whether
// someone else's session ID is live.
func (h *SessionHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSessionInvalid, "no authenticated identity", nil))
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "session ID is required", nil))
		return
	}

	if err := h.sessions.Revoke(r.Context(), sessionID, identity.UserID); err != nil {
		if appErr, ok := err.(*types.AppError); ok && appErr.Code == types.ErrCodeNotFoundSession {
			core.JSON(w, r, http.StatusOK, RevokeSessionResponse{Revoked: false})
			return
		}
		core.Error(w, r, err)
		return
	}

	h.logger.Info("session revoked",
		"user_id", identity.UserID,
		"session_id", sessionID,
	)
	core.JSON(w, r, http.StatusOK, RevokeSessionResponse{Revoked: true})
}

// HandleRevokeAll processes POST /sessions/revoke-all requests. An empty body
// is accepted and treated as except_current=false.
func (h *SessionHandler) HandleRevokeAll(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSessionInvalid, "no authenticated identity", nil))
		return
	}

	var req RevokeAllRequest
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	exceptSessionID := ""
	if req.ExceptCurrent {
		exceptSessionID = identity.SessionID
	}

	count, err := h.sessions.RevokeAll(r.Context(), identity.UserID, exceptSessionID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("sessions revoked in bulk",
		"user_id", identity.UserID,
		"revoked_count", count,
		"except_current", req.ExceptCurrent,
	)
	core.JSON(w, r, http.StatusOK, RevokeAllResponse{RevokedCount: count})
}
