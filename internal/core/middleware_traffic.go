package core

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"shutterdesk/internal/types"
)

// RateLimitMiddleware enforces the per-(ip, endpoint) request budget.
//
// The middleware reads the client IP from context (set by
// IPBlacklistMiddleware) and calls TrafficGuard.CheckRateLimit for the
// request path. Allowed requests are counted via RecordRequest before the
// handler runs; denied requests are not counted again since the guard
// already audited the denial.
//
// On every evaluated request (allowed or not), the middleware sets standard
// rate limit response headers:
//   - X-RateLimit-Limit: The maximum number of requests in the window.
//   - X-RateLimit-Remaining: The number of requests remaining.
//   - X-RateLimit-Reset: Unix timestamp when the window resets.
//
// When rate limited, the middleware also sets:
//   - Retry-After: Seconds until the rate limit window resets.
//
// On store errors the middleware fails open: the request proceeds and the
// error is logged. A rate limit store outage must not block all API traffic.
//
// If the Traffic field on Server is nil (e.g., during tests that don't
// inject it), the middleware passes through without rate limiting.
func (s *Server) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Traffic == nil || trafficExemptPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		ip := types.GetClientIP(r.Context())
		if ip == "" {
			ip = extractClientIP(r)
		}
		endpoint := r.URL.Path

		status, err := s.Traffic.CheckRateLimit(r.Context(), ip, endpoint)
		if err != nil {
			s.Logger.Error("rate limit check failed",
				slog.String("ip", ip),
				slog.String("endpoint", endpoint),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, status)

		if !status.Allowed {
			s.Logger.Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("endpoint", endpoint),
				slog.Int("current", status.Current),
				slog.Int("limit", status.Limit),
			)

			retryAfter := int(time.Until(status.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			requestID := types.GetRequestID(r.Context())
			resp := APIErrorResponse{
				Error: ErrorDetail{
					Code:      string(types.ErrCodeRateLimit),
					Message:   "Rate limit exceeded. Please retry after the reset time.",
					RequestID: requestID,
				},
			}
			JSON(w, r, http.StatusTooManyRequests, resp)
			return
		}

		// Best-effort count. A failed write only loosens the window.
		if err := s.Traffic.RecordRequest(r.Context(), ip, endpoint); err != nil {
			s.Logger.Warn("rate limit record failed",
				slog.String("ip", ip),
				slog.String("endpoint", endpoint),
				slog.String("error", err.Error()),
			)
		}

		next.ServeHTTP(w, r)
	})
}

// setRateLimitHeaders writes the standard X-RateLimit-* headers to the response.
func setRateLimitHeaders(w http.ResponseWriter, status *types.RateLimitStatus) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(status.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(status.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(status.ResetAt.Unix(), 10))
}
