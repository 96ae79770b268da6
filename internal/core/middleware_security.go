package core

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"shutterdesk/internal/types"
)

// trafficExemptPaths lists URL paths that skip IP blacklist and rate-limit
// checks. The health endpoint is probed by load balancers at a cadence that
// would otherwise consume the per-IP budget.
var trafficExemptPaths = map[string]bool{
	"/health": true,
}

// IPBlacklistMiddleware provides proactive IP-based blocking before
// authentication. It rejects known-bad IPs without performing expensive
// checks (DB credential lookups, bcrypt).
//
// Logic:
//  1. Extract client IP from X-Forwarded-For (first entry) or RemoteAddr and
//     store it in context for downstream middleware and handlers.
//  2. Call TrafficGuard.CheckBlacklist.
//  3. If blocked: return 403 Forbidden with code "ip_blocked".
//  4. On store errors: fail open, log, and continue. A reputation store
//     outage must not take the whole API down.
//
// If the Traffic field on Server is nil (e.g., during tests that don't
// inject it), the middleware still stores the client IP and passes through.
func (s *Server) IPBlacklistMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractClientIP(r)
		ctx := types.WithClientIP(r.Context(), ip)
		r = r.WithContext(ctx)

		if s.Traffic == nil || trafficExemptPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		blocked, entry, err := s.Traffic.CheckBlacklist(ctx, ip)
		if err != nil {
			s.Logger.Error("ip blacklist check failed",
				slog.String("ip", ip),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		if blocked {
			attrs := []any{
				slog.String("ip", ip),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			}
			if entry != nil && entry.BlockedUntil != nil {
				attrs = append(attrs, slog.Time("blocked_until", *entry.BlockedUntil))
			}
			s.Logger.Warn("blocked request from blacklisted ip", attrs...)

			requestID := types.GetRequestID(ctx)
			resp := APIErrorResponse{
				Error: ErrorDetail{
					Code:      string(types.ErrCodeIPBlocked),
					Message:   "Access denied",
					RequestID: requestID,
				},
			}
			JSON(w, r, http.StatusForbidden, resp)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractClientIP extracts the client's IP address from the request.
// It first checks the X-Forwarded-For header (using the first entry, which
// is the original client IP when behind a proxy/load balancer). If that
// header is not present, it falls back to RemoteAddr.
//
// The returned IP is always stripped of the port number if present.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs: "client, proxy1, proxy2".
		parts := strings.SplitN(xff, ",", 2)
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr may not have a port (e.g., in tests).
		return r.RemoteAddr
	}
	return ip
}
