package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"shutterdesk/internal/types"
)

// RefreshRepo defines the data access methods needed by the RefreshService.
type RefreshRepo interface {
	Create(ctx context.Context, token *types.RefreshToken) error
	GetActiveByHash(ctx context.Context, tokenHash string, now time.Time) (*types.RefreshToken, error)
	MarkUsed(ctx context.Context, tokenID string, now time.Time) error
	RevokeByHash(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	RevokeBySession(ctx context.Context, sessionID string, now time.Time) (int, error)
	RevokeByUser(ctx context.Context, userID, exceptSessionID string, now time.Time) (int, error)
}

// RefreshResult is the outcome of exchanging a refresh token for a new
// access token.
type RefreshResult struct {
	AccessToken string
	ExpiresAt   time.Time
	Identity    types.RefreshIdentity
}

// refreshService issues and validates long-lived refresh tokens. Tokens are
// reusable until they expire or are revoked; used_at records the most recent
// exchange for auditability.
type refreshService struct {
	tokens     RefreshRepo
	sessions   SessionRepo
	users      UserRepo
	sessionSvc *sessionService
	codec      *TokenCodec
	settings   *SettingsService
	clock      types.Clock
	logger     *slog.Logger
}

// RefreshServiceConfig holds the dependencies for creating a RefreshService.
type RefreshServiceConfig struct {
	Tokens         RefreshRepo
	Sessions       SessionRepo
	Users          UserRepo
	SessionService *sessionService
	Codec          *TokenCodec
	Settings       *SettingsService
	Clock          types.Clock
	Logger         *slog.Logger
}

// NewRefreshService creates a new refresh token service.
// If Clock is nil, RealClock is used. If Logger is nil, slog.Default() is used.
func NewRefreshService(cfg RefreshServiceConfig) *refreshService {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &refreshService{
		tokens:     cfg.Tokens,
		sessions:   cfg.Sessions,
		users:      cfg.Users,
		sessionSvc: cfg.SessionService,
		codec:      cfg.Codec,
		settings:   cfg.Settings,
		clock:      clock,
		logger:     logger,
	}
}

// Issue creates a refresh token tied to a session. The raw token is returned
// once; only its digest is stored.
func (s *refreshService) Issue(ctx context.Context, user *types.User, sessionID, ip, userAgent string, policy SecurityPolicy) (string, *types.RefreshToken, error) {
	tokenID := uuid.NewString()
	now := s.clock.Now()
	expiresAt := now.Add(policy.RefreshTokenTTL)
	raw := s.codec.EncodeRefresh(user.ID, tokenID, now, expiresAt)

	token := &types.RefreshToken{
		TokenID:   tokenID,
		UserID:    user.ID,
		SessionID: sessionID,
		TokenHash: HashToken(raw),
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		IsValid:   true,
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return "", nil, err
	}
	return raw, token, nil
}

// Validate verifies a refresh token end to end: signature and expiry, the
// stored row by digest, the owning session, and the account. The owning
// session must still be valid; a refresh token does not outlive a revoked
// session.
func (s *refreshService) Validate(ctx context.Context, raw string) (*types.RefreshIdentity, error) {
	if _, err := s.codec.Decode(raw); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	token, err := s.tokens.GetActiveByHash(ctx, HashToken(raw), now)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.GetByID(ctx, token.SessionID)
	if err != nil {
		if appErr, ok := err.(*types.AppError); ok && appErr.Code == types.ErrCodeNotFoundSession {
			return nil, types.NewAppError(types.ErrCodeAuthRefreshInvalid, "refresh token not found, expired, or revoked", nil)
		}
		return nil, err
	}
	if !session.IsValid {
		return nil, types.NewAppError(types.ErrCodeAuthRefreshInvalid, "refresh token not found, expired, or revoked", nil)
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if appErr, ok := err.(*types.AppError); ok && appErr.Code == types.ErrCodeNotFoundUser {
			return nil, types.NewAppError(types.ErrCodeAuthRefreshInvalid, "refresh token not found, expired, or revoked", nil)
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, types.NewAppError(types.ErrCodeAuthUserInactive, "account is deactivated", nil)
	}

	// Best effort: the exchange proceeds even if the audit stamp fails.
	if err := s.tokens.MarkUsed(ctx, token.TokenID, now); err != nil {
		s.logger.Warn("failed to mark refresh token used",
			"token_id", token.TokenID,
			"error", err,
		)
	}

	return &types.RefreshIdentity{
		UserID:    user.ID,
		SessionID: token.SessionID,
		TokenID:   token.TokenID,
		Email:     user.Email,
		Role:      user.Role,
	}, nil
}

// Refresh exchanges a valid refresh token for a fresh access token on the
// same session.
func (s *refreshService) Refresh(ctx context.Context, raw string) (*RefreshResult, error) {
	identity, err := s.Validate(ctx, raw)
	if err != nil {
		return nil, err
	}

	accessToken, expiresAt, err := s.sessionSvc.IssueAccessToken(ctx, identity.UserID, identity.SessionID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("access token refreshed",
		"user_id", identity.UserID,
		"session_id", identity.SessionID,
	)
	return &RefreshResult{
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
		Identity:    *identity,
	}, nil
}

// Revoke invalidates a refresh token by its raw value. Returns false when no
// live token matched; revoking an unknown or already-revoked token is a
// normal outcome, not an error.
func (s *refreshService) Revoke(ctx context.Context, raw string) (bool, error) {
	return s.tokens.RevokeByHash(ctx, HashToken(raw), s.clock.Now())
}

// withRepo returns a copy of the refreshService that uses the given
// RefreshRepo, for transaction-scoped writes during login.
func (s *refreshService) withRepo(tokens RefreshRepo) *refreshService {
	clone := *s
	clone.tokens = tokens
	return &clone
}
