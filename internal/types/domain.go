package types

import (
	"encoding/json"
	"time"
)

// UserRole describes a user's authorization level within the platform.
type UserRole string

const (
	RoleAdmin        UserRole = "admin"
	RolePhotographer UserRole = "photographer"
	RoleAssistant    UserRole = "assistant"
)

// User represents a platform account able to authenticate.
type User struct {
	ID           string     `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	DisplayName  string     `json:"display_name,omitempty" db:"display_name"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Role         UserRole   `json:"role" db:"role"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	AuthProvider string     `json:"auth_provider,omitempty" db:"auth_provider"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
}

// Session is a row in active_sessions. TokenHash holds the SHA-256 digest of
// the most recently issued access token; the raw token is never stored.
type Session struct {
	SessionID    string    `json:"session_id" db:"session_id"`
	UserID       string    `json:"user_id" db:"user_id"`
	TokenHash    string    `json:"-" db:"token_hash"`
	IPAddress    string    `json:"ip_address" db:"ip_address"`
	UserAgent    string    `json:"user_agent" db:"user_agent"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	LastActivity time.Time `json:"last_activity" db:"last_activity"`
	IsValid      bool      `json:"is_valid" db:"is_valid"`
}

// SessionSummary is the list-view DTO for a user's active sessions.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
	IsCurrent    bool      `json:"is_current"`
}

// RefreshToken is a row in refresh_tokens. Like sessions, only the SHA-256
// digest of the raw token is persisted.
type RefreshToken struct {
	TokenID   string     `json:"token_id" db:"token_id"`
	UserID    string     `json:"user_id" db:"user_id"`
	SessionID string     `json:"session_id" db:"session_id"`
	TokenHash string     `json:"-" db:"token_hash"`
	IPAddress string     `json:"ip_address" db:"ip_address"`
	UserAgent string     `json:"user_agent" db:"user_agent"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty" db:"used_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	IsValid   bool       `json:"is_valid" db:"is_valid"`
}

// LoginAttempt records one authentication attempt for throttling decisions.
// A successful login stamps ClearedAt on the email's prior rows; cleared rows
// stay for auditing but no longer count toward the lockout threshold.
type LoginAttempt struct {
	ID           int64      `db:"id"`
	Email        string     `db:"email"`
	IPAddress    string     `db:"ip_address"`
	UserAgent    string     `db:"user_agent"`
	AttemptType  string     `db:"attempt_type"`
	AttemptedAt  time.Time  `db:"attempted_at"`
	IsBlocked    bool       `db:"is_blocked"`
	BlockedUntil *time.Time `db:"blocked_until"`
	ClearedAt    *time.Time `db:"cleared_at"`
}

// AttemptStatus is the outcome of a login-attempt throttle check.
type AttemptStatus struct {
	Blocked      bool       `json:"blocked"`
	Attempts     int        `json:"attempts"`
	Remaining    int        `json:"remaining_attempts"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	MinutesLeft  int        `json:"minutes_left,omitempty"`
}

// IPBlacklistEntry is a row in ip_blacklist. A nil BlockedUntil with
// IsPermanent set means the block never lapses.
type IPBlacklistEntry struct {
	IPAddress      string     `json:"ip_address" db:"ip_address"`
	Reason         string     `json:"reason" db:"reason"`
	BlockedUntil   *time.Time `json:"blocked_until,omitempty" db:"blocked_until"`
	IsPermanent    bool       `json:"is_permanent" db:"is_permanent"`
	FailedAttempts int        `json:"failed_attempts" db:"failed_attempts"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	LastAttempt    time.Time  `json:"last_attempt" db:"last_attempt"`
}

// RateLimitWindow is a per-(ip, endpoint) minute bucket in rate_limits.
type RateLimitWindow struct {
	IPAddress    string    `db:"ip_address"`
	Endpoint     string    `db:"endpoint"`
	RequestCount int       `db:"request_count"`
	WindowStart  time.Time `db:"window_start"`
	LastRequest  time.Time `db:"last_request"`
}

// RateLimitStatus is the outcome of a rate-limit check for one (ip, endpoint).
type RateLimitStatus struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Current   int       `json:"current"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// SecuritySetting is a row in security_settings.
type SecuritySetting struct {
	Key         string    `json:"key" db:"setting_key"`
	Value       string    `json:"value" db:"setting_value"`
	Description string    `json:"description,omitempty" db:"description"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// SecurityLog is an audit record of a notable security event.
type SecurityLog struct {
	ID        int64           `db:"id"`
	EventType string          `db:"event_type"`
	Severity  string          `db:"severity"`
	IPAddress string          `db:"ip_address"`
	Endpoint  string          `db:"endpoint"`
	Details   json.RawMessage `db:"details"`
	CreatedAt time.Time       `db:"created_at"`
}

// Identity is the authenticated principal attached to a request after a
// successful access-token validation.
type Identity struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	Role         UserRole  `json:"role"`
	SessionID    string    `json:"session_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
}

// RefreshIdentity is the principal proven by a valid refresh token.
type RefreshIdentity struct {
	UserID    string   `json:"user_id"`
	SessionID string   `json:"session_id"`
	TokenID   string   `json:"token_id"`
	Email     string   `json:"email"`
	Role      UserRole `json:"role"`
}

// OAuthProfile is the normalized user data from an external provider.
type OAuthProfile struct {
	Provider      string
	ProviderID    string
	Email         string
	Name          string
	AvatarURL     string
	EmailVerified bool
}

// SecurityAlert is the message published to the security alert queue when
// abuse protection escalates, e.g. an IP gets blacklisted.
type SecurityAlert struct {
	AlertID      string     `json:"alert_id"`
	EventType    string     `json:"event_type"`
	Severity     string     `json:"severity"`
	IPAddress    string     `json:"ip_address"`
	Endpoint     string     `json:"endpoint,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}
