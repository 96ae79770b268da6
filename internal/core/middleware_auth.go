package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"shutterdesk/internal/types"
)

// RequireAuth wraps handlers requiring a valid bearer access token.
//
//  1. Extracts the Bearer token from the Authorization header.
//  2. Calls Authenticator.Validate to resolve the token to an Identity.
//  3. Injects the Identity into the request context via types.WithIdentity.
//  4. Returns 401 Unauthorized on failure with distinct error codes:
//     - auth_token_missing: No Authorization header or empty Bearer token.
//     - auth_bad_signature: Token signature does not verify.
//     - auth_token_expired: Token signature verifies but the token expired.
//     - auth_session_invalid: No live session backs the token.
//     - auth_user_inactive: The session's owner is deactivated.
//     A structurally malformed token yields 400 validation_malformed_token.
//
// If the Authenticator field on Server is nil (e.g., during tests that don't
// inject one), the middleware passes through without authentication.
func (s *Server) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header is required")
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		identity, err := s.Authenticator.Validate(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}

		if identity == nil {
			s.writeAuthError(w, r, types.ErrCodeAuthSessionInvalid, "Invalid authentication token")
			return
		}

		ctx := types.WithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken parses the Authorization header value and returns
// the token string. It expects the format "Bearer <token>" (case-insensitive
// scheme per RFC 7235). Returns empty string if the format is invalid.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

// handleAuthError inspects the error from Authenticator.Validate and writes
// the response with the matching error code. Typed AppErrors carry their own
// status mapping; anything else is logged and masked as a generic 401 so
// internal failures do not leak token diagnostics.
func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenExpired,
			types.ErrCodeAuthBadSignature,
			types.ErrCodeAuthSessionInvalid,
			types.ErrCodeAuthSessionRevoked,
			types.ErrCodeAuthUserInactive,
			types.ErrCodeValidationMalformedToken:
			s.Logger.Warn("authentication failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("error_code", string(appErr.Code)),
			)
			Error(w, r, appErr)
			return
		}
	}

	s.Logger.Error("authentication failed: unexpected error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	s.writeAuthError(w, r, types.ErrCodeAuthSessionInvalid, "Authentication failed")
}

// writeAuthError writes a 401 Unauthorized JSON response with the given error code.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	requestID := types.GetRequestID(r.Context())
	resp := APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: requestID,
		},
	}
	JSON(w, r, http.StatusUnauthorized, resp)
}
