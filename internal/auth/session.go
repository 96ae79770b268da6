package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"shutterdesk/internal/types"
)

// SessionRepo defines the data access methods needed by the SessionService.
type SessionRepo interface {
	Create(ctx context.Context, session *types.Session) error
	GetByID(ctx context.Context, sessionID string) (*types.Session, error)
	GetForValidation(ctx context.Context, sessionID, userID, tokenHash string, now time.Time) (*types.Session, error)
	UpdateAccessToken(ctx context.Context, sessionID, tokenHash string, expiresAt time.Time) error
	TouchActivity(ctx context.Context, sessionID string, now time.Time) error
	Invalidate(ctx context.Context, sessionID string) error
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]types.Session, error)
	Revoke(ctx context.Context, sessionID, userID string) (bool, error)
	RevokeAllByUser(ctx context.Context, userID, exceptSessionID string) (int, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// SessionIDGenerator abstracts entropy for session identifiers, for
// testability.
type SessionIDGenerator interface {
	GenerateSessionID() (string, error)
}

// CryptoSessionIDGenerator is the production SessionIDGenerator using
// crypto/rand. IDs are "sess_" followed by 32 random hex bytes.
type CryptoSessionIDGenerator struct{}

func (g CryptoSessionIDGenerator) GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session ID: %w", err)
	}
	return "sess_" + hex.EncodeToString(b), nil
}

// sessionService manages the lifecycle of authenticated sessions: creation,
// access-token issuance and validation, enumeration, and revocation.
type sessionService struct {
	sessions SessionRepo
	users    UserRepo
	codec    *TokenCodec
	settings *SettingsService
	idGen    SessionIDGenerator
	txMgr    AuthTxManager
	clock    types.Clock
	logger   *slog.Logger
}

// SessionServiceConfig holds the dependencies for creating a SessionService.
type SessionServiceConfig struct {
	Sessions  SessionRepo
	Users     UserRepo
	Codec     *TokenCodec
	Settings  *SettingsService
	IDGen     SessionIDGenerator
	TxManager AuthTxManager
	Clock     types.Clock
	Logger    *slog.Logger
}

// NewSessionService creates a new session service.
// If IDGen is nil, the crypto/rand generator is used.
// If Clock is nil, RealClock is used. If Logger is nil, slog.Default() is used.
func NewSessionService(cfg SessionServiceConfig) *sessionService {
	idGen := cfg.IDGen
	if idGen == nil {
		idGen = CryptoSessionIDGenerator{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &sessionService{
		sessions: cfg.Sessions,
		users:    cfg.Users,
		codec:    cfg.Codec,
		settings: cfg.Settings,
		idGen:    idGen,
		txMgr:    cfg.TxManager,
		clock:    clock,
		logger:   logger,
	}
}

// CreateSession creates a session for the user and issues its first access
// token. The session row stores only the token digest; the raw token is
// returned once and never persisted.
func (s *sessionService) CreateSession(ctx context.Context, user *types.User, ip, userAgent string, policy SecurityPolicy) (*types.Session, string, error) {
	sessionID, err := s.idGen.GenerateSessionID()
	if err != nil {
		return nil, "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate session ID", err)
	}

	now := s.clock.Now()
	expiresAt := now.Add(policy.AccessTokenTTL)
	token := s.codec.EncodeAccess(user.ID, sessionID, now, expiresAt)

	session := &types.Session{
		SessionID:    sessionID,
		UserID:       user.ID,
		TokenHash:    HashToken(token),
		IPAddress:    ip,
		UserAgent:    userAgent,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		LastActivity: now,
		IsValid:      true,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", err
	}

	s.logger.Info("session created",
		"session_id", sessionID,
		"user_id", user.ID,
	)
	return session, token, nil
}

// IssueAccessToken issues a fresh access token for an existing session and
// stores its digest on the session row. The previously issued token stops
// validating the moment the digest is overwritten.
func (s *sessionService) IssueAccessToken(ctx context.Context, userID, sessionID string) (string, time.Time, error) {
	policy := s.settings.Policy(ctx)
	now := s.clock.Now()
	expiresAt := now.Add(policy.AccessTokenTTL)
	token := s.codec.EncodeAccess(userID, sessionID, now, expiresAt)

	if err := s.sessions.UpdateAccessToken(ctx, sessionID, HashToken(token), expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate checks an access token end to end: signature and expiry, then the
// session row bound to its digest, then the account. A valid token whose
// session was revoked, expired, or re-issued is rejected identically.
func (s *sessionService) Validate(ctx context.Context, token string) (*types.Identity, error) {
	claims, err := s.codec.Decode(token)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session, err := s.sessions.GetForValidation(ctx, claims.ID, claims.Subject, HashToken(token), now)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if appErr, ok := err.(*types.AppError); ok && appErr.Code == types.ErrCodeNotFoundUser {
			return nil, types.NewAppError(types.ErrCodeAuthSessionInvalid, "session not found or expired", nil)
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, types.NewAppError(types.ErrCodeAuthUserInactive, "account is deactivated", nil)
	}

	// Best effort: a failed touch never rejects a valid token. The identity
	// carries the row's prior last_activity when the touch did not land.
	lastActivity := session.LastActivity
	if err := s.sessions.TouchActivity(ctx, session.SessionID, now); err != nil {
		s.logger.Warn("failed to touch session activity",
			"session_id", session.SessionID,
			"error", err,
		)
	} else {
		lastActivity = now
	}

	return &types.Identity{
		UserID:       user.ID,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		Role:         user.Role,
		SessionID:    session.SessionID,
		ExpiresAt:    session.ExpiresAt,
		LastActivity: lastActivity,
	}, nil
}

// Invalidate marks a session invalid on logout. Idempotent.
func (s *sessionService) Invalidate(ctx context.Context, sessionID string) error {
	if err := s.sessions.Invalidate(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info("session invalidated", "session_id", sessionID)
	return nil
}

// ListSessions returns the user's active sessions ordered by recency, with
// the caller's own session flagged.
func (s *sessionService) ListSessions(ctx context.Context, userID, currentSessionID string) ([]types.SessionSummary, error) {
	sessions, err := s.sessions.ListActiveByUser(ctx, userID, s.clock.Now())
	if err != nil {
		return nil, err
	}

	summaries := make([]types.SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, types.SessionSummary{
			SessionID:    sess.SessionID,
			IPAddress:    sess.IPAddress,
			UserAgent:    sess.UserAgent,
			CreatedAt:    sess.CreatedAt,
			ExpiresAt:    sess.ExpiresAt,
			LastActivity: sess.LastActivity,
			IsCurrent:    sess.SessionID == currentSessionID,
		})
	}
	return summaries, nil
}

// Revoke invalidates one of the user's sessions and every refresh token tied
// to it, atomically. A session that does not exist or belongs to another user
// is reported as not found; ownership is never disclosed.
func (s *sessionService) Revoke(ctx context.Context, sessionID, userID string) error {
	now := s.clock.Now()
	err := s.txMgr.RunInTx(ctx, func(txCtx context.Context, txSessions SessionRepo, txRefresh RefreshRepo, _ UserRepo) error {
		revoked, revokeErr := txSessions.Revoke(txCtx, sessionID, userID)
		if revokeErr != nil {
			return revokeErr
		}
		if !revoked {
			return types.NewAppError(types.ErrCodeNotFoundSession, "session not found", nil)
		}
		if _, revokeErr = txRefresh.RevokeBySession(txCtx, sessionID, now); revokeErr != nil {
			return revokeErr
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("session revoked",
		"session_id", sessionID,
		"user_id", userID,
	)
	return nil
}

// RevokeAll invalidates all of a user's sessions and refresh tokens in one
// transaction, optionally sparing the caller's current session. Returns the
// number of sessions revoked.
func (s *sessionService) RevokeAll(ctx context.Context, userID, exceptSessionID string) (int, error) {
	now := s.clock.Now()
	var revoked int
	err := s.txMgr.RunInTx(ctx, func(txCtx context.Context, txSessions SessionRepo, txRefresh RefreshRepo, _ UserRepo) error {
		n, revokeErr := txSessions.RevokeAllByUser(txCtx, userID, exceptSessionID)
		if revokeErr != nil {
			return revokeErr
		}
		revoked = n
		_, revokeErr = txRefresh.RevokeByUser(txCtx, userID, exceptSessionID, now)
		return revokeErr
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("all sessions revoked for user",
		"user_id", userID,
		"count", revoked,
		"kept_current", exceptSessionID != "",
	)
	return revoked, nil
}

// SweepExpired marks every expired-but-valid session invalid. Called by the
// scheduled maintenance job.
func (s *sessionService) SweepExpired(ctx context.Context) (int, error) {
	return s.sessions.SweepExpired(ctx, s.clock.Now())
}

// withRepo returns a copy of the sessionService that uses the given
// SessionRepo. Enables transaction-scoped session writes while reusing the
// same codec, settings, and clock.
func (s *sessionService) withRepo(sessions SessionRepo) *sessionService {
	clone := *s
	clone.sessions = sessions
	return &clone
}
