package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shutterdesk/internal/types"
)

// ---------------------------------------------------------------------------
// OAuth API Base URLs (overridable for testing)
// ---------------------------------------------------------------------------

const (
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	googleAuthBaseURL = "https://accounts.google.com/o/oauth2/v2/auth"

	vkTokenURL    = "https://oauth.vk.com/access_token"
	vkUsersGetURL = "https://api.vk.com/method/users.get"
	vkAuthBaseURL = "https://oauth.vk.com/authorize"

	// vkAPIVersion pins the VK API contract; users.get response shapes vary
	// between versions.
	vkAPIVersion = "5.131"
)

// oauthRetryPolicy is shared by both providers. Code exchange sits on the
// interactive login path, so retries are kept short.
func oauthRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 1,
		MinWait:    500 * time.Millisecond,
		MaxWait:    3 * time.Second,
	}
}

const oauthUserAgent = "ShutterDesk/1.0"

// ---------------------------------------------------------------------------
// Google Provider
// ---------------------------------------------------------------------------

// GoogleProviderConfig holds the configuration for the Google OAuth provider.
type GoogleProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Logger       *slog.Logger

	// Override URLs for testing
	TokenURL    string
	UserInfoURL string
	AuthBaseURL string
}

// GoogleProvider implements OAuthProvider for Google OAuth 2.0.
// It performs two sequential HTTP calls during Exchange:
//  1. Token exchange (authorization code -> access token)
//  2. UserInfo retrieval (access token -> user profile)
//
// The profile is normalized into types.OAuthProfile with Google-specific
// field mapping (e.g., verified_email -> EmailVerified).
type GoogleProvider struct {
	base         *BaseClient
	clientID     string
	clientSecret string
	redirectURL  string
	tokenURL     string
	userInfoURL  string
	authBaseURL  string
	logger       *slog.Logger
}

// NewGoogleProvider creates a new GoogleProvider with the given HTTP client and config.
func NewGoogleProvider(httpClient *http.Client, cfg GoogleProviderConfig) *GoogleProvider {
	base := NewBaseClient(httpClient, "google-oauth", oauthRetryPolicy(), oauthUserAgent)
	return NewGoogleProviderWithBase(base, cfg)
}

// NewGoogleProviderWithBase creates a GoogleProvider with a pre-configured BaseClient.
// This is useful for testing when you want to control the BaseClient configuration.
func NewGoogleProviderWithBase(base *BaseClient, cfg GoogleProviderConfig) *GoogleProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = googleTokenURL
	}

	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = googleUserInfoURL
	}

	authBaseURL := cfg.AuthBaseURL
	if authBaseURL == "" {
		authBaseURL = googleAuthBaseURL
	}

	return &GoogleProvider{
		base:         base,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		tokenURL:     tokenURL,
		userInfoURL:  userInfoURL,
		authBaseURL:  authBaseURL,
		logger:       logger,
	}
}

// Name returns "google".
func (p *GoogleProvider) Name() string {
	return "google"
}

// GetLoginURL generates the Google OAuth authorization URL with the given state parameter.
// Scopes: userinfo.email, userinfo.profile
func (p *GoogleProvider) GetLoginURL(state string) string {
	params := url.Values{}
	params.Set("client_id", p.clientID)
	params.Set("redirect_uri", p.redirectURL)
	params.Set("response_type", "code")
	params.Set("scope", "https://www.googleapis.com/auth/userinfo.email https://www.googleapis.com/auth/userinfo.profile")
	params.Set("state", state)
	params.Set("access_type", "online")

	return p.authBaseURL + "?" + params.Encode()
}

// Exchange trades an authorization code for a normalized OAuthProfile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*types.OAuthProfile, error) {
	accessToken, err := p.exchangeCodeForToken(ctx, code)
	if err != nil {
		return nil, err
	}
	return p.fetchUserInfo(ctx, accessToken)
}

// exchangeCodeForToken performs the OAuth token exchange.
func (p *GoogleProvider) exchangeCodeForToken(ctx context.Context, code string) (string, error) {
	params := url.Values{}
	params.Set("client_id", p.clientID)
	params.Set("client_secret", p.clientSecret)
	params.Set("code", code)
	params.Set("grant_type", "authorization_code")
	params.Set("redirect_uri", p.redirectURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create Google token exchange request",
			err,
		)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.base.Do(req)
	if err != nil {
		return "", wrapOAuthError("google", "token exchange", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", handleOAuthTokenError("google", resp)
	}

	var tokenResp googleTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Google token response",
			err,
		)
	}

	if tokenResp.AccessToken == "" {
		return "", types.NewAppError(
			types.ErrCodeUpstreamOAuth,
			"Google returned empty access token",
			nil,
		)
	}

	return tokenResp.AccessToken, nil
}

// fetchUserInfo retrieves the user profile from the Google UserInfo endpoint.
func (p *GoogleProvider) fetchUserInfo(ctx context.Context, accessToken string) (*types.OAuthProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create Google userinfo request",
			err,
		)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.base.Do(req)
	if err != nil {
		return nil, wrapOAuthError("google", "userinfo", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, handleOAuthAPIError("google", "userinfo", resp)
	}

	var userInfo googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Google userinfo response",
			err,
		)
	}

	return &types.OAuthProfile{
		Provider:      "google",
		ProviderID:    userInfo.ID,
		Email:         userInfo.Email,
		Name:          userInfo.Name,
		AvatarURL:     userInfo.Picture,
		EmailVerified: userInfo.VerifiedEmail,
	}, nil
}

// Google-specific response types for JSON deserialization.

type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// ---------------------------------------------------------------------------
// VK Provider
// ---------------------------------------------------------------------------

// VKProviderConfig holds the configuration for the VK OAuth provider.
type VKProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Logger       *slog.Logger

	// Override URLs for testing
	TokenURL    string
	UsersGetURL string
	AuthBaseURL string
}

// VKProvider implements OAuthProvider for VK (VKontakte) OAuth.
// It performs two sequential HTTP calls during Exchange:
//  1. Token exchange (authorization code -> access token + user_id + email)
//  2. users.get retrieval (access token -> name and avatar)
//
// VK returns the email in the token response body when the "email" scope was
// granted; an email delivered this way is treated as verified.
type VKProvider struct {
	base         *BaseClient
	clientID     string
	clientSecret string
	redirectURL  string
	tokenURL     string
	usersGetURL  string
	authBaseURL  string
	logger       *slog.Logger
}

// NewVKProvider creates a new VKProvider with the given HTTP client and config.
func NewVKProvider(httpClient *http.Client, cfg VKProviderConfig) *VKProvider {
	base := NewBaseClient(httpClient, "vk-oauth", oauthRetryPolicy(), oauthUserAgent)
	return NewVKProviderWithBase(base, cfg)
}

// NewVKProviderWithBase creates a VKProvider with a pre-configured BaseClient.
func NewVKProviderWithBase(base *BaseClient, cfg VKProviderConfig) *VKProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = vkTokenURL
	}

	usersGetURL := cfg.UsersGetURL
	if usersGetURL == "" {
		usersGetURL = vkUsersGetURL
	}

	authBaseURL := cfg.AuthBaseURL
	if authBaseURL == "" {
		authBaseURL = vkAuthBaseURL
	}

	return &VKProvider{
		base:         base,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		tokenURL:     tokenURL,
		usersGetURL:  usersGetURL,
		authBaseURL:  authBaseURL,
		logger:       logger,
	}
}

// Name returns "vk".
func (p *VKProvider) Name() string {
	return "vk"
}

// GetLoginURL generates the VK OAuth authorization URL with the given state parameter.
// Scope: email
func (p *VKProvider) GetLoginURL(state string) string {
	params := url.Values{}
	params.Set("client_id", p.clientID)
	params.Set("redirect_uri", p.redirectURL)
	params.Set("response_type", "code")
	params.Set("scope", "email")
	params.Set("state", state)
	params.Set("v", vkAPIVersion)

	return p.authBaseURL + "?" + params.Encode()
}

// Exchange trades an authorization code for a normalized OAuthProfile.
func (p *VKProvider) Exchange(ctx context.Context, code string) (*types.OAuthProfile, error) {
	token, err := p.exchangeCodeForToken(ctx, code)
	if err != nil {
		return nil, err
	}

	profile, err := p.fetchUser(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	profile.ProviderID = fmt.Sprintf("%d", token.UserID)
	profile.Email = token.Email
	profile.EmailVerified = token.Email != ""
	return profile, nil
}

// exchangeCodeForToken performs the OAuth token exchange with VK. The token
// endpoint is a GET with query parameters rather than a form POST.
func (p *VKProvider) exchangeCodeForToken(ctx context.Context, code string) (*vkTokenResponse, error) {
	params := url.Values{}
	params.Set("client_id", p.clientID)
	params.Set("client_secret", p.clientSecret)
	params.Set("redirect_uri", p.redirectURL)
	params.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.tokenURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create VK token exchange request",
			err,
		)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.base.Do(req)
	if err != nil {
		return nil, wrapOAuthError("vk", "token exchange", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, handleOAuthTokenError("vk", resp)
	}

	var tokenResp vkTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode VK token response",
			err,
		)
	}

	// VK reports errors in the body even with a 200 status.
	if tokenResp.Error != "" {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamOAuth,
			fmt.Sprintf("VK token exchange failed: %s - %s", tokenResp.Error, tokenResp.ErrorDescription),
			nil,
		)
	}

	if tokenResp.AccessToken == "" {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamOAuth,
			"VK returned empty access token",
			nil,
		)
	}

	return &tokenResp, nil
}

// fetchUser retrieves the display name and avatar via the users.get method.
func (p *VKProvider) fetchUser(ctx context.Context, accessToken string) (*types.OAuthProfile, error) {
	params := url.Values{}
	params.Set("fields", "photo_200")
	params.Set("access_token", accessToken)
	params.Set("v", vkAPIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.usersGetURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create VK users.get request",
			err,
		)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.base.Do(req)
	if err != nil {
		return nil, wrapOAuthError("vk", "users.get", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, handleOAuthAPIError("vk", "users.get", resp)
	}

	var usersResp vkUsersGetResponse
	if err := json.NewDecoder(resp.Body).Decode(&usersResp); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode VK users.get response",
			err,
		)
	}

	if usersResp.Error != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamOAuth,
			fmt.Sprintf("VK users.get failed (%d): %s", usersResp.Error.Code, usersResp.Error.Message),
			nil,
		)
	}

	if len(usersResp.Response) == 0 {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamOAuth,
			"VK users.get returned no users",
			nil,
		)
	}

	user := usersResp.Response[0]
	return &types.OAuthProfile{
		Provider:  "vk",
		Name:      strings.TrimSpace(user.FirstName + " " + user.LastName),
		AvatarURL: user.Photo200,
	}, nil
}

// VK-specific response types for JSON deserialization.

type vkTokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	UserID           int64  `json:"user_id"`
	Email            string `json:"email"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type vkUsersGetResponse struct {
	Response []vkUser `json:"response"`
	Error    *vkError `json:"error"`
}

type vkUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Photo200  string `json:"photo_200"`
}

type vkError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

// ---------------------------------------------------------------------------
// OAuthManager Implementation
// ---------------------------------------------------------------------------

// OAuthManagerImpl implements OAuthManager by maintaining a map of registered providers.
type OAuthManagerImpl struct {
	providers map[string]OAuthProvider
}

// NewOAuthManager creates an OAuthManager with the given providers.
// Providers are registered by their Name() return value.
func NewOAuthManager(providers ...OAuthProvider) *OAuthManagerImpl {
	m := &OAuthManagerImpl{
		providers: make(map[string]OAuthProvider, len(providers)),
	}
	for _, p := range providers {
		m.providers[p.Name()] = p
	}
	return m
}

// GetProvider returns the OAuthProvider registered under the given name.
// Returns an error if no provider is registered with that name.
func (m *OAuthManagerImpl) GetProvider(name string) (OAuthProvider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidField,
			fmt.Sprintf("unknown OAuth provider: %s", name),
			nil,
		)
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Shared Error Helpers
// ---------------------------------------------------------------------------

// wrapOAuthError wraps a BaseClient transport error with OAuth context.
func wrapOAuthError(provider, operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamOAuth,
		fmt.Sprintf("OAuth %s %s request failed: %v", provider, operation, err),
		err,
	)
}

// handleOAuthTokenError handles non-200 responses from the token endpoint.
func handleOAuthTokenError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return types.NewAppError(
		types.ErrCodeUpstreamOAuth,
		fmt.Sprintf("OAuth %s token exchange failed (%d): %s", provider, resp.StatusCode, truncateBody(body)),
		nil,
	)
}

// handleOAuthAPIError handles non-200 responses from API endpoints (userinfo, users.get).
func handleOAuthAPIError(provider, endpoint string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.NewAppError(
			types.ErrCodeUpstreamOAuth,
			fmt.Sprintf("OAuth %s %s: access token rejected (%d): %s", provider, endpoint, resp.StatusCode, truncateBody(body)),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("OAuth %s %s: server error (%d): %s", provider, endpoint, resp.StatusCode, truncateBody(body)),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamOAuth,
			fmt.Sprintf("OAuth %s %s: unexpected response (%d): %s", provider, endpoint, resp.StatusCode, truncateBody(body)),
			nil,
		)
	}
}

// truncateBody returns a string representation of the body, truncated to a reasonable length.
func truncateBody(body []byte) string {
	const maxLen = 200
	s := string(body)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

// ---------------------------------------------------------------------------
// Interface Compliance
// ---------------------------------------------------------------------------

// Compile-time assertions that concrete types satisfy their interfaces.
var _ OAuthProvider = (*GoogleProvider)(nil)
var _ OAuthProvider = (*VKProvider)(nil)
var _ OAuthManager = (*OAuthManagerImpl)(nil)
