package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shutterdesk/internal/core"
	"shutterdesk/internal/types"
)

// =============================================================================
// Mock Implementations
// =============================================================================

// mockAttemptChecker implements the AttemptChecker interface for testing.
type mockAttemptChecker struct {
	checkFn  func(ctx context.Context, email string) (*types.AttemptStatus, error)
	recordFn func(ctx context.Context, email, ip, userAgent, attemptType string, success bool) error
}

func (m *mockAttemptChecker) Check(ctx context.Context, email string) (*types.AttemptStatus, error) {
	if m.checkFn != nil {
		return m.checkFn(ctx, email)
	}
	return nil, errors.New("Check not mocked")
}

func (m *mockAttemptChecker) Record(ctx context.Context, email, ip, userAgent, attemptType string, success bool) error {
	if m.recordFn != nil {
		return m.recordFn(ctx, email, ip, userAgent, attemptType, success)
	}
	return errors.New("Record not mocked")
}

// mockRateLimiter implements the RateLimiter interface for testing.
type mockRateLimiter struct {
	checkFn  func(ctx context.Context, ip, endpoint string) (*types.RateLimitStatus, error)
	recordFn func(ctx context.Context, ip, endpoint string) error
}

func (m *mockRateLimiter) CheckRateLimit(ctx context.Context, ip, endpoint string) (*types.RateLimitStatus, error) {
	if m.checkFn != nil {
		return m.checkFn(ctx, ip, endpoint)
	}
	return nil, errors.New("CheckRateLimit not mocked")
}

func (m *mockRateLimiter) RecordRequest(ctx context.Context, ip, endpoint string) error {
	if m.recordFn != nil {
		return m.recordFn(ctx, ip, endpoint)
	}
	return errors.New("RecordRequest not mocked")
}

// =============================================================================
// Test Helpers
// =============================================================================

func newSecurityTestHandler(attempts *mockAttemptChecker, limiter *mockRateLimiter) *SecurityHandler {
	return NewSecurityHandler(attempts, limiter, nil, core.NewValidator(nil))
}

// =============================================================================
// HandleCheckAttempts Tests
// =============================================================================

func TestHandleCheckAttempts_NotBlocked(t *testing.T) {
	attempts := &mockAttemptChecker{
		checkFn: func(_ context.Context, email string) (*types.AttemptStatus, error) {
			if email != "test@example.com" {
				t.Errorf("expected canonicalized email 'test@example.com', got %q", email)
			}
			return &types.AttemptStatus{Blocked: false, Attempts: 2, Remaining: 3}, nil
		},
	}
	handler := newSecurityTestHandler(attempts, &mockRateLimiter{})

	body := `{"email":"Test@Example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/security/login-attempts/check", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.HandleCheckAttempts(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", w.Code, w.Body.String())
	}

	var status types.AttemptStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.Blocked {
		t.Error("expected blocked=false")
	}
	if status.Remaining != 3 {
		t.Errorf("expected 3 remaining attempts, got %d", status.Remaining)
	}
}

func TestHandleCheckAttempts_BlockedAnswers429(t *testing.T) {
	until := time.Date(2026, 8, 1, 12, 45, 0, 0, time.UTC)
	attempts := &mockAttemptChecker{
		checkFn: func(_ context.Context, _ string) (*types.AttemptStatus, error) {
			return &types.AttemptStatus{Blocked: true, Attempts: 5, BlockedUntil: &until, MinutesLeft: 15}, nil
		},
	}
	handler := newSecurityTestHandler(attempts, &mockRateLimiter{})

	body := `{"email":"locked@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/security/login-attempts/check", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.HandleCheckAttempts(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d; body: %s", w.Code, w.Body.String())
	}

	var status types.AttemptStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !status.Blocked {
		t.Error("expected blocked=true")
	}
	if status.BlockedUntil == nil || !status.BlockedUntil.Equal(until) {
		t.Errorf("expected blocked_until %v, got %v", until, status.BlockedUntil)
	}
}

func TestHandleCheckAttempts_InvalidEmail(t *testing.T) {
	handler := newSecurityTestHandler(&mockAttemptChecker{}, &mockRateLimiter{})

	body := `{"email":"not-an-email"}`
	req := httptest.NewRequest(http.MethodPost, "/security/login-attempts/check", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.HandleCheckAttempts(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d; body: %s", w.Code, w.Body.String())
	}
}

// =============================================================================
// HandleRecordAttempt Tests
// =============================================================================

func TestHandleRecordAttempt_Failure(t *testing.T) {
	var gotType string
	var gotSuccess bool
	var gotIP string
	attempts := &mockAttemptChecker{
		recordFn: func(_ context.Context, email, ip, userAgent, attemptType string, success bool) error {
			if email != "test@example.com" {
				t.Errorf("expected email 'test@example.com', got %q", email)
			}
			gotType = attemptType
			gotSuccess = success
			gotIP = ip
			return nil
		},
	}
	handler := newSecurityTestHandler(attempts, &mockRateLimiter{})

	body := `{"email":"test@example.com","success":false,"attempt_type":"oauth"}`
	req := httptest.NewRequest(http.MethodPost, "/security/login-attempts", strings.NewReader(body))
	req.RemoteAddr = "198.51.100.3:4242"
	w := httptest.NewRecorder()

	handler.HandleRecordAttempt(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", w.Code, w.Body.String())
	}
	if gotType != "oauth" {
		t.Errorf("expected attempt type 'oauth', got %q", gotType)
	}
	if gotSuccess {
		t.Error("expected success=false")
	}
	if gotIP != "198.51.100.3" {
		t.Errorf("expected ip from request, got %q", gotIP)
	}
}

func TestHandleRecordAttempt_DefaultsToPassword(t *testing.T) {
	var gotType string
	attempts := &mockAttemptChecker{
		recordFn: func(_ context.Context, _, _, _, attemptType string, _ bool) error {
			gotType = attemptType
			return nil
		},
	}
	handler := newSecurityTestHandler(attempts, &mockRateLimiter{})

	body := `{"email":"test@example.com","success":true}`
	req := httptest.NewRequest(http.MethodPost, "/security/login-attempts", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.HandleRecordAttempt(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", w.Code, w.Body.String())
	}
	if gotType != "password" {
		t.Errorf("expected default attempt type 'password', got %q", gotType)
	}
}

func TestHandleRecordAttempt_UnknownType(t *testing.T) {
	handler := newSecurityTestHandler(&mockAttemptChecker{}, &mockRateLimiter{})

	body := `{"email":"test@example.com","success":false,"attempt_type":"carrier-pigeon"}`
	req := httptest.NewRequest(http.MethodPost, "/security/login-attempts", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.HandleRecordAttempt(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d; body: %s", w.Code, w.Body.String())
	}
}

// =============================================================================
// HandleCheckRateLimit Tests
// =============================================================================

func TestHandleCheckRateLimit_Allowed(t *testing.T) {
	reset := time.Now().Add(45 * time.Second)
	limiter := &mockRateLimiter{
		checkFn: func(_ context.Context, ip, endpoint string) (*types.RateLimitStatus, error) {
			if endpoint != "/v1/auth/login" {
				t.Errorf("expected endpoint '/v1/auth/login', got %q", endpoint)
			}
			if ip != "203.0.113.9" {
				t.Errorf("expected ip '203.0.113.9', got %q", ip)
			}
			return &types.RateLimitStatus{Allowed: true, Limit: 100, Current: 40, Remaining: 60, ResetAt: reset}, nil
		},
	}
	handler := newSecurityTestHandler(&mockAttemptChecker{}, limiter)

	req := httptest.NewRequest(http.MethodGet, "/security/rate-limit?endpoint=/v1/auth/login", nil)
	req.RemoteAddr = "203.0.113.9:51234"
	w := httptest.NewRecorder()

	handler.HandleCheckRateLimit(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Errorf("expected X-RateLimit-Limit 100, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "60" {
		t.Errorf("expected X-RateLimit-Remaining 60, got %q", got)
	}
	if w.Header().Get("Retry-After") != "" {
		t.Error("expected no Retry-After on an allowed check")
	}

	var status types.RateLimitStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !status.Allowed || status.Current != 40 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestHandleCheckRateLimit_ExceededAnswers429(t *testing.T) {
	limiter := &mockRateLimiter{
		checkFn: func(_ context.Context, _, _ string) (*types.RateLimitStatus, error) {
			return &types.RateLimitStatus{
				Allowed:   false,
				Limit:     100,
				Current:   100,
				Remaining: 0,
				ResetAt:   time.Now().Add(30 * time.Second),
			}, nil
		},
	}
	handler := newSecurityTestHandler(&mockAttemptChecker{}, limiter)

	req := httptest.NewRequest(http.MethodGet, "/security/rate-limit?endpoint=/v1/auth/login", nil)
	w := httptest.NewRecorder()

	handler.HandleCheckRateLimit(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d; body: %s", w.Code, w.Body.String())
	}
	retryAfter := w.Header().Get("Retry-After")
	if retryAfter == "" {
		t.Fatal("expected Retry-After header")
	}
	if retryAfter == "0" {
		t.Error("Retry-After must be at least 1")
	}
}

func TestHandleCheckRateLimit_MissingEndpoint(t *testing.T) {
	handler := newSecurityTestHandler(&mockAttemptChecker{}, &mockRateLimiter{})

	req := httptest.NewRequest(http.MethodGet, "/security/rate-limit", nil)
	w := httptest.NewRecorder()

	handler.HandleCheckRateLimit(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d; body: %s", w.Code, w.Body.String())
	}
}

// =============================================================================
// HandleRecordRateLimit Tests
// =============================================================================

func TestHandleRecordRateLimit_Success(t *testing.T) {
	var gotIP, gotEndpoint string
	limiter := &mockRateLimiter{
		recordFn: func(_ context.Context, ip, endpoint string) error {
			gotIP = ip
			gotEndpoint = endpoint
			return nil
		},
	}
	handler := newSecurityTestHandler(&mockAttemptChecker{}, limiter)

	body := `{"endpoint":"/v1/clients"}`
	req := httptest.NewRequest(http.MethodPost, "/security/rate-limit", strings.NewReader(body))
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	w := httptest.NewRecorder()

	handler.HandleRecordRateLimit(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", w.Code, w.Body.String())
	}
	if gotEndpoint != "/v1/clients" {
		t.Errorf("expected endpoint '/v1/clients', got %q", gotEndpoint)
	}
	if gotIP != "198.51.100.7" {
		t.Errorf("expected forwarded client ip, got %q", gotIP)
	}
}

func TestHandleRecordRateLimit_StoreError(t *testing.T) {
	limiter := &mockRateLimiter{
		recordFn: func(_ context.Context, _, _ string) error {
			return types.NewAppError(types.ErrCodeInternalDB, "database unavailable", nil)
		},
	}
	handler := newSecurityTestHandler(&mockAttemptChecker{}, limiter)

	body := `{"endpoint":"/v1/clients"}`
	req := httptest.NewRequest(http.MethodPost, "/security/rate-limit", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.HandleRecordRateLimit(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d; body: %s", w.Code, w.Body.String())
	}
}
