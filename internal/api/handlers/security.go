package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"shutterdesk/internal/auth"
	"shutterdesk/internal/core"
	"shutterdesk/internal/types"
)

// --- DTOs ---

// AttemptCheckRequest is the request body for POST /security/login-attempts/check.
type AttemptCheckRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// RecordAttemptRequest is the request body for POST /security/login-attempts.
// The client IP and user agent are taken from the request itself.
type RecordAttemptRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Success     bool   `json:"success"`
	AttemptType string `json:"attempt_type" validate:"omitempty,oneof=password oauth refresh"`
}

// RecordRateLimitRequest is the request body for POST /security/rate-limit.
type RecordRateLimitRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

// --- Service Interfaces ---

// AttemptChecker guards the login flow against brute force by email.
type AttemptChecker interface {
	// Check reports whether the email is currently locked out. The lockout
	// threshold is evaluated here, not in Record.
	Check(ctx context.Context, email string) (*types.AttemptStatus, error)

	// Record logs an attempt outcome. A success clears any lockout markers
	// for the email.
	Record(ctx context.Context, email, ip, userAgent, attemptType string, success bool) error
}

// RateLimiter tracks per-(ip, endpoint) request volume.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, ip, endpoint string) (*types.RateLimitStatus, error)
	RecordRequest(ctx context.Context, ip, endpoint string) error
}

// --- Handler ---

// SecurityHandler exposes the attempt guard and rate limiter to callers that
// run their own authentication flows, such as the OAuth callback service.
// These routes are public: the caller may not have a session yet.
type SecurityHandler struct {
	attempts  AttemptChecker
	limiter   RateLimiter
	logger    *slog.Logger
	validator *core.Validator
}

// NewSecurityHandler creates a new SecurityHandler with the provided dependencies.
func NewSecurityHandler(attempts AttemptChecker, limiter RateLimiter, l *slog.Logger, v *core.Validator) *SecurityHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SecurityHandler{
		attempts:  attempts,
		limiter:   limiter,
		logger:    l,
		validator: v,
	}
}

// RegisterRoutes mounts the security routes onto the v1 router.
//
//   - POST /security/login-attempts/check - Lockout status for an email
//   - POST /security/login-attempts       - Record an attempt outcome
//   - GET  /security/rate-limit           - Rate-limit status for an endpoint
//   - POST /security/rate-limit           - Count a request against the window
func (h *SecurityHandler) RegisterRoutes(r chi.Router) {
	r.Route("/security", func(r chi.Router) {
		r.Post("/login-attempts/check", h.HandleCheckAttempts)
		r.Post("/login-attempts", h.HandleRecordAttempt)
		r.Get("/rate-limit", h.HandleCheckRateLimit)
		r.Post("/rate-limit", h.HandleRecordRateLimit)
	})
}

// --- Handler Methods ---

// HandleCheckAttempts processes POST /security/login-attempts/check requests.
// A blocked email answers 429; the body carries the status either way so the
// caller can show remaining attempts or lockout duration.
func (h *SecurityHandler) HandleCheckAttempts(w http.ResponseWriter, r *http.Request) {
	var req AttemptCheckRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	status, err := h.attempts.Check(r.Context(), auth.CanonicalizeEmail(req.Email))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	code := http.StatusOK
	if status.Blocked {
		code = http.StatusTooManyRequests
	}
	core.JSON(w, r, code, status)
}

// HandleRecordAttempt processes POST /security/login-attempts requests.
func (h *SecurityHandler) HandleRecordAttempt(w http.ResponseWriter, r *http.Request) {
	var req RecordAttemptRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	attemptType := req.AttemptType
	if attemptType == "" {
		attemptType = "password"
	}

	email := auth.CanonicalizeEmail(req.Email)
	err := h.attempts.Record(r.Context(), email, clientIP(r), r.UserAgent(), attemptType, req.Success)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, MessageResponse{Message: "Login attempt recorded"})
}

// HandleCheckRateLimit processes GET /security/rate-limit requests. The
// endpoint being asked about comes from the query string; the IP is always
// the caller's own.
func (h *SecurityHandler) HandleCheckRateLimit(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "endpoint query parameter is required", nil))
		return
	}

	status, err := h.limiter.CheckRateLimit(r.Context(), clientIP(r), endpoint)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	writeRateLimitHeaders(w, status)

	code := http.StatusOK
	if !status.Allowed {
		code = http.StatusTooManyRequests
	}
	core.JSON(w, r, code, status)
}

// HandleRecordRateLimit processes POST /security/rate-limit requests.
func (h *SecurityHandler) HandleRecordRateLimit(w http.ResponseWriter, r *http.Request) {
	var req RecordRateLimitRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.limiter.RecordRequest(r.Context(), clientIP(r), req.Endpoint); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, MessageResponse{Message: "Request recorded"})
}

// writeRateLimitHeaders mirrors the headers the global rate-limit middleware
// sets, so explicit status checks are self-describing too.
func writeRateLimitHeaders(w http.ResponseWriter, status *types.RateLimitStatus) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(status.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(status.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(status.ResetAt.Unix(), 10))
	if !status.Allowed {
		retryAfter := int(time.Until(status.ResetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
}
