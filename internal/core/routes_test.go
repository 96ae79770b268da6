package core

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"shutterdesk/internal/types"
)

// newMountedServer builds a Server with the full middleware chain mounted and
// a probe route under /v1 that records whether it was reached.
func newMountedServer(t *testing.T, routeReached *bool) *Server {
	t.Helper()
	srv := newTestServer(t)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/probe", func(w http.ResponseWriter, req *http.Request) {
			if routeReached != nil {
				*routeReached = true
			}
			w.WriteHeader(http.StatusOK)
		})
	})
	srv.MountRoutes()
	return srv
}

func TestMountRoutes_HealthEndpoint(t *testing.T) {
	srv := newMountedServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}
}

func TestMountRoutes_V1RegistrarsMounted(t *testing.T) {
	reached := false
	srv := newMountedServer(t, &reached)

	req := httptest.NewRequest(http.MethodGet, "/v1/probe", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if !reached {
		t.Error("registered v1 route should be reachable")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMountRoutes_SecurityHeadersApplied(t *testing.T) {
	srv := newMountedServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/probe", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestMountRoutes_RequestIDGenerated(t *testing.T) {
	srv := newMountedServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/probe", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	id := rec.Header().Get("X-Request-Id")
	if id == "" {
		t.Fatal("X-Request-Id header should be set")
	}
	if matched, _ := regexp.MatchString(`^[0-9a-f]{32}$`, id); !matched {
		t.Errorf("generated request ID should be 32 hex chars, got %q", id)
	}
}

func TestMountRoutes_RequestIDPropagated(t *testing.T) {
	srv := newMountedServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/probe", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	req.Header.Set("X-Request-Id", "client-supplied-id")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "client-supplied-id" {
		t.Errorf("client request ID should be propagated, got %q", got)
	}
}

func TestMountRoutes_RecovererCatchesPanic(t *testing.T) {
	srv := newTestServer(t)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/panic", func(w http.ResponseWriter, req *http.Request) {
			panic("handler exploded")
		})
	})
	srv.MountRoutes()

	req := httptest.NewRequest(http.MethodGet, "/v1/panic", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	resp := decodeErrorBody(t, rec)
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %s", resp.Error.Code)
	}
}

func TestMountRoutes_BlacklistedIPRejectedBeforeHandler(t *testing.T) {
	reached := false
	srv := newTestServer(t)
	until := time.Now().Add(time.Hour)
	srv.Traffic = &MockTrafficGuard{
		BlockedIPs: map[string]*types.IPBlacklistEntry{
			"192.168.1.100": {IPAddress: "192.168.1.100", BlockedUntil: &until},
		},
	}
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/probe", func(w http.ResponseWriter, req *http.Request) {
			reached = true
			w.WriteHeader(http.StatusOK)
		})
	})
	srv.MountRoutes()

	req := httptest.NewRequest(http.MethodGet, "/v1/probe", nil)
	req.RemoteAddr = "192.168.1.100:54321"
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if reached {
		t.Error("blacklisted IP must not reach handlers")
	}
}

func TestMountRoutes_RateLimitHeadersOnV1(t *testing.T) {
	srv := newTestServer(t)
	srv.Traffic = &MockTrafficGuard{
		RateLimitStatus: &types.RateLimitStatus{
			Allowed:   true,
			Limit:     100,
			Remaining: 73,
			ResetAt:   time.Now().Add(time.Minute),
		},
	}
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/probe", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	srv.MountRoutes()

	req := httptest.NewRequest(http.MethodGet, "/v1/probe", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "73" {
		t.Errorf("X-RateLimit-Remaining = %q, want 73", got)
	}
}

func TestMountRoutes_HealthNotRateLimited(t *testing.T) {
	srv := newTestServer(t)
	guard := &MockTrafficGuard{
		RateLimitStatus: &types.RateLimitStatus{Allowed: false, Limit: 1},
	}
	srv.Traffic = guard
	srv.MountRoutes()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("health must bypass rate limiting, got %d", rec.Code)
	}
	if len(guard.Recorded) != 0 {
		t.Error("health requests must not consume the budget")
	}
}

func TestMountRoutes_MetricsRecorded(t *testing.T) {
	srv := newTestServer(t)
	collector := &mockMetricsCollector{}
	srv.Metrics = collector
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/probe", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	srv.MountRoutes()

	req := httptest.NewRequest(http.MethodGet, "/v1/probe", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if len(collector.calls) != 1 {
		t.Fatalf("expected one metrics call, got %d", len(collector.calls))
	}
	if collector.calls[0].status != "200" {
		t.Errorf("metrics status = %q", collector.calls[0].status)
	}
}

func TestContextTimeoutMiddleware_SetsDeadline(t *testing.T) {
	mw := ContextTimeoutMiddleware(10 * time.Second)

	var hadDeadline bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadDeadline = r.Context().Deadline()
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !hadDeadline {
		t.Error("request context should carry a deadline")
	}
}

func TestGenerateRequestID_Unique(t *testing.T) {
	a := generateRequestID()
	b := generateRequestID()

	if a == b {
		t.Error("consecutive request IDs should differ")
	}
	if len(a) != 32 {
		t.Errorf("request ID length = %d, want 32", len(a))
	}
}
