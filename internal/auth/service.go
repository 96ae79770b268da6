// Package auth implements token issuance and validation, session management,
// and abuse protection for the ShutterDesk platform.
package auth

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"shutterdesk/internal/types"
)

// bcryptCost is the bcrypt cost factor used for password hashing.
const bcryptCost = 12

// UserRepo defines the data access methods needed by the auth services for
// user operations.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
	GetByEmail(ctx context.Context, email string) (*types.User, error)
	UpdateLastLogin(ctx context.Context, userID string) error
}

// AuthTxManager abstracts transactional execution for the auth services.
// The callback receives transaction-scoped repositories so all writes within
// it participate in the same database transaction.
type AuthTxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, txSessionRepo SessionRepo, txRefreshRepo RefreshRepo, txUserRepo UserRepo) error) error
}

// PasswordHasher abstracts bcrypt operations for testability.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
	GenerateFromPassword(password string) (string, error)
}

// bcryptHasher is the production implementation of PasswordHasher.
type bcryptHasher struct{}

func (b *bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func (b *bcryptHasher) GenerateFromPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// LoginResult bundles everything a successful login produces: the session
// and both raw tokens. The raw tokens exist only in this result; the stores
// hold digests.
type LoginResult struct {
	User             *types.User
	Session          *types.Session
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// authService implements the credential login flow on top of the session and
// refresh services, with the attempt guard enforcing lockouts.
type authService struct {
	users      UserRepo
	sessionSvc *sessionService
	refreshSvc *refreshService
	attempts   *AttemptGuard
	settings   *SettingsService
	txManager  AuthTxManager
	hasher     PasswordHasher
	clock      types.Clock
	logger     *slog.Logger
}

// AuthServiceConfig holds the dependencies for creating an AuthService.
type AuthServiceConfig struct {
	Users          UserRepo
	SessionService *sessionService
	RefreshService *refreshService
	Attempts       *AttemptGuard
	Settings       *SettingsService
	TxManager      AuthTxManager
	Hasher         PasswordHasher
	Clock          types.Clock
	Logger         *slog.Logger
}

// NewAuthService creates a new AuthService implementation.
// If Hasher is nil, the production bcryptHasher is used.
// If Clock is nil, RealClock is used. If Logger is nil, slog.Default() is used.
func NewAuthService(cfg AuthServiceConfig) *authService {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = &bcryptHasher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &authService{
		users:      cfg.Users,
		sessionSvc: cfg.SessionService,
		refreshSvc: cfg.RefreshService,
		attempts:   cfg.Attempts,
		settings:   cfg.Settings,
		txManager:  cfg.TxManager,
		hasher:     hasher,
		clock:      clock,
		logger:     logger,
	}
}

// Login verifies credentials and creates a session plus refresh token within
// a transaction.
//
//  1. Check the attempt guard; a locked email is rejected before any
//     credential work.
//  2. Fetch the user by email. A missing user is masked as invalid
//     credentials so the endpoint cannot be used to enumerate accounts.
//  3. Verify the bcrypt hash, then the account's active flag.
//  4. In one transaction: update last_login_at, create the session with its
//     first access token, and issue the refresh token.
//  5. Record the attempt outcome either way; a success clears lockout
//     markers.
func (s *authService) Login(ctx context.Context, email, password, ip, userAgent string) (*LoginResult, error) {
	email = CanonicalizeEmail(email)

	status, err := s.attempts.Check(ctx, email)
	if err != nil {
		return nil, err
	}
	if status.Blocked {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeAuthLocked, "too many failed attempts, try again later", nil,
			map[string]interface{}{
				"blocked_until": status.BlockedUntil,
				"minutes_left":  status.MinutesLeft,
			})
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		// Mask user-not-found as invalid creds for enumeration protection.
		if appErr, ok := err.(*types.AppError); ok && appErr.Code == types.ErrCodeNotFoundUser {
			s.recordAttempt(ctx, email, ip, userAgent, false)
			return nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
		}
		return nil, err
	}

	if err := s.hasher.CompareHashAndPassword(user.PasswordHash, password); err != nil {
		s.recordAttempt(ctx, email, ip, userAgent, false)
		return nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
	}

	if !user.IsActive {
		s.recordAttempt(ctx, email, ip, userAgent, false)
		return nil, types.NewAppError(types.ErrCodeAuthUserInactive, "account is deactivated", nil)
	}

	result, err := s.openSession(ctx, user, ip, userAgent)
	if err != nil {
		return nil, err
	}

	s.recordAttempt(ctx, email, ip, userAgent, true)

	s.logger.Info("user logged in",
		"user_id", user.ID,
		"session_id", result.Session.SessionID,
	)
	return result, nil
}

// LoginWithOAuth creates a session for a user identified by an OAuth provider
// profile. The credential check already happened at the provider; this flow
// still runs the attempt guard and the active-account check, and records
// attempts under the "oauth" type so provider-driven abuse trips the same
// lockouts as password guessing.
//
// Only verified provider emails are accepted. An unknown email is masked as
// invalid credentials for the same enumeration protection as Login.
func (s *authService) LoginWithOAuth(ctx context.Context, profile *types.OAuthProfile, ip, userAgent string) (*LoginResult, error) {
	if profile.Email == "" || !profile.EmailVerified {
		return nil, types.NewAppError(types.ErrCodeAuthInvalidCreds,
			"OAuth provider did not supply a verified email", nil)
	}
	email := CanonicalizeEmail(profile.Email)

	status, err := s.attempts.Check(ctx, email)
	if err != nil {
		return nil, err
	}
	if status.Blocked {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeAuthLocked, "too many failed attempts, try again later", nil,
			map[string]interface{}{
				"blocked_until": status.BlockedUntil,
				"minutes_left":  status.MinutesLeft,
			})
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if appErr, ok := err.(*types.AppError); ok && appErr.Code == types.ErrCodeNotFoundUser {
			s.recordOAuthAttempt(ctx, email, ip, userAgent, false)
			return nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
		}
		return nil, err
	}

	if !user.IsActive {
		s.recordOAuthAttempt(ctx, email, ip, userAgent, false)
		return nil, types.NewAppError(types.ErrCodeAuthUserInactive, "account is deactivated", nil)
	}

	result, err := s.openSession(ctx, user, ip, userAgent)
	if err != nil {
		return nil, err
	}

	s.recordOAuthAttempt(ctx, email, ip, userAgent, true)

	s.logger.Info("user logged in via oauth",
		"user_id", user.ID,
		"provider", profile.Provider,
		"session_id", result.Session.SessionID,
	)
	return result, nil
}

// openSession performs the transactional part of a login: update
// last_login_at, create the session with its first access token, and issue
// the refresh token. All three writes commit or roll back together.
func (s *authService) openSession(ctx context.Context, user *types.User, ip, userAgent string) (*LoginResult, error) {
	policy := s.settings.Policy(ctx)
	result := &LoginResult{User: user}
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context, txSessions SessionRepo, txRefresh RefreshRepo, txUsers UserRepo) error {
		if updateErr := txUsers.UpdateLastLogin(txCtx, user.ID); updateErr != nil {
			return updateErr
		}

		txSessionSvc := s.sessionSvc.withRepo(txSessions)
		session, accessToken, createErr := txSessionSvc.CreateSession(txCtx, user, ip, userAgent, policy)
		if createErr != nil {
			return createErr
		}
		result.Session = session
		result.AccessToken = accessToken
		result.AccessExpiresAt = session.ExpiresAt

		txRefreshSvc := s.refreshSvc.withRepo(txRefresh)
		refreshToken, refreshRow, issueErr := txRefreshSvc.Issue(txCtx, user, session.SessionID, ip, userAgent, policy)
		if issueErr != nil {
			return issueErr
		}
		result.RefreshToken = refreshToken
		result.RefreshExpiresAt = refreshRow.ExpiresAt

		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// recordAttempt logs an attempt outcome without failing the login flow.
func (s *authService) recordAttempt(ctx context.Context, email, ip, userAgent string, success bool) {
	if err := s.attempts.Record(ctx, email, ip, userAgent, "password", success); err != nil {
		s.logger.Error("failed to record login attempt",
			"email", email,
			"ip", ip,
			"error", err,
		)
	}
}

// recordOAuthAttempt is recordAttempt for provider-driven logins.
func (s *authService) recordOAuthAttempt(ctx context.Context, email, ip, userAgent string, success bool) {
	if err := s.attempts.Record(ctx, email, ip, userAgent, "oauth", success); err != nil {
		s.logger.Error("failed to record oauth login attempt",
			"email", email,
			"ip", ip,
			"error", err,
		)
	}
}
