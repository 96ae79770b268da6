package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"shutterdesk/internal/types"
)

// newOAuthBase creates a BaseClient for provider tests with no retries and
// no real sleeps so failure paths complete fast.
func newOAuthBase(t *testing.T, name string) *BaseClient {
	t.Helper()
	return NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		name,
		RetryPolicy{MaxRetries: 0, MinWait: 1 * time.Millisecond, MaxWait: 1 * time.Millisecond},
		"ShutterDesk-Test/1.0",
		WithSleepFunc(noopSleep),
	)
}

func assertAppErrCode(t *testing.T, err error, want types.ErrorCode) {
	t.Helper()

	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != want {
		t.Errorf("expected error code %s, got %s", want, appErr.Code)
	}
}

// ===== Google Provider =====

func newTestGoogleProvider(t *testing.T, tokenURL, userInfoURL string) *GoogleProvider {
	t.Helper()
	return NewGoogleProviderWithBase(newOAuthBase(t, "google-oauth-test"), GoogleProviderConfig{
		ClientID:     "google-client-id",
		ClientSecret: "google-client-secret",
		RedirectURL:  "https://api.shutterdesk.test/v1/auth/oauth/google/callback",
		TokenURL:     tokenURL,
		UserInfoURL:  userInfoURL,
	})
}

func TestGoogleProvider_GetLoginURL(t *testing.T) {
	p := newTestGoogleProvider(t, "", "")

	loginURL := p.GetLoginURL("state-xyz")

	parsed, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("login URL does not parse: %v", err)
	}

	if !strings.HasPrefix(loginURL, "https://accounts.google.com/o/oauth2/v2/auth?") {
		t.Errorf("unexpected auth base URL: %s", loginURL)
	}

	q := parsed.Query()
	if q.Get("client_id") != "google-client-id" {
		t.Errorf("expected client_id in login URL, got %q", q.Get("client_id"))
	}
	if q.Get("response_type") != "code" {
		t.Errorf("expected response_type=code, got %q", q.Get("response_type"))
	}
	if q.Get("state") != "state-xyz" {
		t.Errorf("expected state to round-trip, got %q", q.Get("state"))
	}
	if !strings.Contains(q.Get("scope"), "userinfo.email") {
		t.Errorf("expected email scope, got %q", q.Get("scope"))
	}
}

func TestGoogleProvider_Exchange_Success(t *testing.T) {
	var tokenForm url.Values
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST to token endpoint, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse token form: %v", err)
		}
		tokenForm = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"ya29.test-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	var authHeader string
	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"g-10042","email":"anna@example.com","verified_email":true,"name":"Anna Petrova","picture":"https://lh3.example/photo.jpg"}`))
	}))
	defer userInfoServer.Close()

	p := newTestGoogleProvider(t, tokenServer.URL, userInfoServer.URL)

	profile, err := p.Exchange(context.Background(), "auth-code-123")
	if err != nil {
		t.Fatalf("expected successful exchange, got: %v", err)
	}

	if tokenForm.Get("code") != "auth-code-123" {
		t.Errorf("expected code in token request, got %q", tokenForm.Get("code"))
	}
	if tokenForm.Get("grant_type") != "authorization_code" {
		t.Errorf("expected grant_type=authorization_code, got %q", tokenForm.Get("grant_type"))
	}
	if authHeader != "Bearer ya29.test-token" {
		t.Errorf("expected bearer auth on userinfo request, got %q", authHeader)
	}

	if profile.Provider != "google" {
		t.Errorf("expected provider 'google', got %q", profile.Provider)
	}
	if profile.ProviderID != "g-10042" {
		t.Errorf("expected provider ID 'g-10042', got %q", profile.ProviderID)
	}
	if profile.Email != "anna@example.com" {
		t.Errorf("expected email 'anna@example.com', got %q", profile.Email)
	}
	if !profile.EmailVerified {
		t.Error("expected EmailVerified true")
	}
	if profile.Name != "Anna Petrova" {
		t.Errorf("expected name 'Anna Petrova', got %q", profile.Name)
	}
	if profile.AvatarURL != "https://lh3.example/photo.jpg" {
		t.Errorf("unexpected avatar URL: %q", profile.AvatarURL)
	}
}

func TestGoogleProvider_Exchange_TokenEndpointRejects(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenServer.Close()

	p := newTestGoogleProvider(t, tokenServer.URL, "")

	_, err := p.Exchange(context.Background(), "expired-code")
	assertAppErrCode(t, err, types.ErrCodeUpstreamOAuth)
}

func TestGoogleProvider_Exchange_EmptyAccessToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token_type":"Bearer"}`))
	}))
	defer tokenServer.Close()

	p := newTestGoogleProvider(t, tokenServer.URL, "")

	_, err := p.Exchange(context.Background(), "auth-code-123")
	assertAppErrCode(t, err, types.ErrCodeUpstreamOAuth)
}

func TestGoogleProvider_Exchange_UserInfoTokenRejected(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"ya29.test-token"}`))
	}))
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":401}}`))
	}))
	defer userInfoServer.Close()

	p := newTestGoogleProvider(t, tokenServer.URL, userInfoServer.URL)

	_, err := p.Exchange(context.Background(), "auth-code-123")
	assertAppErrCode(t, err, types.ErrCodeUpstreamOAuth)
}

// ===== VK Provider =====

func newTestVKProvider(t *testing.T, tokenURL, usersGetURL string) *VKProvider {
	t.Helper()
	return NewVKProviderWithBase(newOAuthBase(t, "vk-oauth-test"), VKProviderConfig{
		ClientID:     "vk-client-id",
		ClientSecret: "vk-client-secret",
		RedirectURL:  "https://api.shutterdesk.test/v1/auth/oauth/vk/callback",
		TokenURL:     tokenURL,
		UsersGetURL:  usersGetURL,
	})
}

func TestVKProvider_GetLoginURL(t *testing.T) {
	p := newTestVKProvider(t, "", "")

	loginURL := p.GetLoginURL("state-vk")

	parsed, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("login URL does not parse: %v", err)
	}

	if !strings.HasPrefix(loginURL, "https://oauth.vk.com/authorize?") {
		t.Errorf("unexpected auth base URL: %s", loginURL)
	}

	q := parsed.Query()
	if q.Get("scope") != "email" {
		t.Errorf("expected scope=email, got %q", q.Get("scope"))
	}
	if q.Get("v") != "5.131" {
		t.Errorf("expected pinned API version, got %q", q.Get("v"))
	}
	if q.Get("state") != "state-vk" {
		t.Errorf("expected state to round-trip, got %q", q.Get("state"))
	}
}

func TestVKProvider_Exchange_Success(t *testing.T) {
	var tokenQuery url.Values
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET to VK token endpoint, got %s", r.Method)
		}
		tokenQuery = r.URL.Query()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"vk1.a.test-token","expires_in":86400,"user_id":99001,"email":"boris@example.com"}`))
	}))
	defer tokenServer.Close()

	var usersGetQuery url.Values
	usersGetServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		usersGetQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":[{"id":99001,"first_name":"Boris","last_name":"Ivanov","photo_200":"https://sun.example/p200.jpg"}]}`))
	}))
	defer usersGetServer.Close()

	p := newTestVKProvider(t, tokenServer.URL, usersGetServer.URL)

	profile, err := p.Exchange(context.Background(), "vk-code-777")
	if err != nil {
		t.Fatalf("expected successful exchange, got: %v", err)
	}

	if tokenQuery.Get("code") != "vk-code-777" {
		t.Errorf("expected code in token query, got %q", tokenQuery.Get("code"))
	}
	if tokenQuery.Get("client_id") != "vk-client-id" {
		t.Errorf("expected client_id in token query, got %q", tokenQuery.Get("client_id"))
	}
	if usersGetQuery.Get("access_token") != "vk1.a.test-token" {
		t.Errorf("expected access token in users.get query, got %q", usersGetQuery.Get("access_token"))
	}
	if usersGetQuery.Get("fields") != "photo_200" {
		t.Errorf("expected fields=photo_200, got %q", usersGetQuery.Get("fields"))
	}
	if usersGetQuery.Get("v") != "5.131" {
		t.Errorf("expected pinned API version on users.get, got %q", usersGetQuery.Get("v"))
	}

	if profile.Provider != "vk" {
		t.Errorf("expected provider 'vk', got %q", profile.Provider)
	}
	if profile.ProviderID != "99001" {
		t.Errorf("expected provider ID '99001', got %q", profile.ProviderID)
	}
	if profile.Email != "boris@example.com" {
		t.Errorf("expected email from token response, got %q", profile.Email)
	}
	if !profile.EmailVerified {
		t.Error("expected email delivered via token response to count as verified")
	}
	if profile.Name != "Boris Ivanov" {
		t.Errorf("expected name 'Boris Ivanov', got %q", profile.Name)
	}
	if profile.AvatarURL != "https://sun.example/p200.jpg" {
		t.Errorf("unexpected avatar URL: %q", profile.AvatarURL)
	}
}

func TestVKProvider_Exchange_NoEmailScope(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"vk1.a.test-token","user_id":99001}`))
	}))
	defer tokenServer.Close()

	usersGetServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":[{"id":99001,"first_name":"Boris","last_name":"Ivanov"}]}`))
	}))
	defer usersGetServer.Close()

	p := newTestVKProvider(t, tokenServer.URL, usersGetServer.URL)

	profile, err := p.Exchange(context.Background(), "vk-code-777")
	if err != nil {
		t.Fatalf("expected successful exchange, got: %v", err)
	}

	if profile.Email != "" {
		t.Errorf("expected empty email, got %q", profile.Email)
	}
	if profile.EmailVerified {
		t.Error("expected EmailVerified false without an email")
	}
}

func TestVKProvider_Exchange_InBodyTokenError(t *testing.T) {
	// VK reports token errors in a 200 body.
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Code is expired"}`))
	}))
	defer tokenServer.Close()

	p := newTestVKProvider(t, tokenServer.URL, "")

	_, err := p.Exchange(context.Background(), "expired-code")
	assertAppErrCode(t, err, types.ErrCodeUpstreamOAuth)

	var appErr *types.AppError
	errors.As(err, &appErr)
	if !strings.Contains(appErr.Message, "invalid_grant") {
		t.Errorf("expected message to carry the VK error, got: %s", appErr.Message)
	}
}

func TestVKProvider_Exchange_UsersGetInBodyError(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"vk1.a.test-token","user_id":99001}`))
	}))
	defer tokenServer.Close()

	usersGetServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"error_code":5,"error_msg":"User authorization failed"}}`))
	}))
	defer usersGetServer.Close()

	p := newTestVKProvider(t, tokenServer.URL, usersGetServer.URL)

	_, err := p.Exchange(context.Background(), "vk-code-777")
	assertAppErrCode(t, err, types.ErrCodeUpstreamOAuth)
}

func TestVKProvider_Exchange_UsersGetEmptyResponse(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"vk1.a.test-token","user_id":99001}`))
	}))
	defer tokenServer.Close()

	usersGetServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":[]}`))
	}))
	defer usersGetServer.Close()

	p := newTestVKProvider(t, tokenServer.URL, usersGetServer.URL)

	_, err := p.Exchange(context.Background(), "vk-code-777")
	assertAppErrCode(t, err, types.ErrCodeUpstreamOAuth)
}

// ===== OAuth Manager =====

func TestOAuthManager_GetProvider(t *testing.T) {
	google := newTestGoogleProvider(t, "", "")
	vk := newTestVKProvider(t, "", "")
	m := NewOAuthManager(google, vk)

	p, err := m.GetProvider("vk")
	if err != nil {
		t.Fatalf("expected registered provider, got error: %v", err)
	}
	if p.Name() != "vk" {
		t.Errorf("expected provider 'vk', got %q", p.Name())
	}
}

func TestOAuthManager_GetProvider_Unknown(t *testing.T) {
	m := NewOAuthManager(newTestGoogleProvider(t, "", ""))

	_, err := m.GetProvider("myspace")
	assertAppErrCode(t, err, types.ErrCodeValidationInvalidField)
}
