package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"shutterdesk/internal/config"
)

// mockMetricsCollector implements MetricsCollector for testing.
type mockMetricsCollector struct {
	calls []metricsCall
}

type metricsCall struct {
	method, endpoint, status string
	duration                 time.Duration
}

func (m *mockMetricsCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.calls = append(m.calls, metricsCall{method, endpoint, status, duration})
}

// testLogger returns a logger that discards output so test runs stay quiet.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer builds a Server with a minimal config and silent logger.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{Environment: "local"}
	srv, err := NewServer(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewServer returned unexpected error: %v", err)
	}
	return srv
}

func TestNewServer_Success(t *testing.T) {
	cfg := &config.Config{Environment: "local"}
	logger := testLogger()

	srv, err := NewServer(cfg, logger)
	if err != nil {
		t.Fatalf("NewServer returned unexpected error: %v", err)
	}
	if srv.Config != cfg {
		t.Error("Config field not set correctly")
	}
	if srv.Logger != logger {
		t.Error("Logger field not set correctly")
	}
	if srv.Validator == nil {
		t.Error("Validator should be initialized by constructor")
	}
	if srv.router == nil {
		t.Error("internal router should be initialized by constructor")
	}
}

func TestNewServer_NilConfig(t *testing.T) {
	srv, err := NewServer(nil, testLogger())
	if err == nil {
		t.Fatal("expected error for nil config")
	}
	if srv != nil {
		t.Error("server should be nil on error")
	}
}

func TestNewServer_NilLogger(t *testing.T) {
	srv, err := NewServer(&config.Config{Environment: "local"}, nil)
	if err == nil {
		t.Fatal("expected error for nil logger")
	}
	if srv != nil {
		t.Error("server should be nil on error")
	}
}

func TestServer_Handler(t *testing.T) {
	srv := newTestServer(t)

	var h http.Handler = srv.Handler()
	if h == nil {
		t.Fatal("Handler returned nil")
	}
	if h != http.Handler(srv.router) {
		t.Error("Handler should return the internal router")
	}
}

func TestServer_Router(t *testing.T) {
	srv := newTestServer(t)
	if srv.Router() != srv.router {
		t.Error("Router should return the internal chi mux")
	}
}

func TestServer_Shutdown_RunsHooksInOrder(t *testing.T) {
	srv := newTestServer(t)

	var order []string
	srv.RegisterShutdown(func(context.Context) error {
		order = append(order, "pool")
		return nil
	})
	srv.RegisterShutdown(func(context.Context) error {
		order = append(order, "queue")
		return nil
	})

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "pool" || order[1] != "queue" {
		t.Errorf("hooks ran out of order: %v", order)
	}
}

func TestServer_Shutdown_ReturnsFirstErrorButRunsAll(t *testing.T) {
	srv := newTestServer(t)

	hookErr := errors.New("pool close failed")
	secondRan := false
	srv.RegisterShutdown(func(context.Context) error { return hookErr })
	srv.RegisterShutdown(func(context.Context) error {
		secondRan = true
		return nil
	})

	err := srv.Shutdown(context.Background())
	if err == nil {
		t.Fatal("expected error from failing hook")
	}
	if !errors.Is(err, hookErr) {
		t.Errorf("expected wrapped hook error, got %v", err)
	}
	if !secondRan {
		t.Error("remaining hooks should still run after a failure")
	}
}
