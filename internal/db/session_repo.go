package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"shutterdesk/internal/types"
)

// SessionRepository provides data access for the active_sessions table.
// A session row tracks one authenticated device; its token_hash column always
// holds the digest of the most recently issued access token, so re-issuing a
// token invalidates the previous one.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository backed by the given
// database connection (pool or transaction).
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// sessionColumns defines the standard set of columns selected for session
// queries. Used consistently across all query methods to avoid column drift.
const sessionColumns = `session_id, user_id, token_hash, ip_address, user_agent,
	created_at, expires_at, last_activity, is_valid`

// scanSession scans a single session row into a types.Session struct.
// The columns must match the order defined in sessionColumns.
func scanSession(row pgx.Row) (*types.Session, error) {
	var s types.Session
	var (
		ipAddress *string
		userAgent *string
	)
	err := row.Scan(
		&s.SessionID,
		&s.UserID,
		&s.TokenHash,
		&ipAddress,
		&userAgent,
		&s.CreatedAt,
		&s.ExpiresAt,
		&s.LastActivity,
		&s.IsValid,
	)
	if err != nil {
		return nil, err
	}
	if ipAddress != nil {
		s.IPAddress = *ipAddress
	}
	if userAgent != nil {
		s.UserAgent = *userAgent
	}
	return &s, nil
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, session *types.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO active_sessions (session_id, user_id, token_hash, ip_address, user_agent,
		 created_at, expires_at, last_activity, is_valid)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), $7, COALESCE($8, NOW()), $9)`,
		session.SessionID,
		session.UserID,
		session.TokenHash,
		nilIfEmpty(session.IPAddress),
		nilIfEmpty(session.UserAgent),
		nilIfZeroTime(session.CreatedAt),
		session.ExpiresAt,
		nilIfZeroTime(session.LastActivity),
		session.IsValid,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "session id collision", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create session", err)
	}
	return nil
}

// GetByID retrieves a session row by its identifier regardless of validity.
// Returns ErrCodeNotFoundSession if no row exists.
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*types.Session, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM active_sessions WHERE session_id = $1`,
		sessionID,
	)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSession, "session not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve session", err)
	}
	return s, nil
}

// GetForValidation retrieves the session matching an access token's claims and
// digest. The row must be valid, unexpired, and carry the exact token hash;
// anything else is indistinguishable from a missing session by design, so a
// single ErrCodeAuthSessionInvalid covers all miss cases.
func (r *SessionRepository) GetForValidation(ctx context.Context, sessionID, userID, tokenHash string, now time.Time) (*types.Session, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM active_sessions
		 WHERE session_id = $1 AND user_id = $2 AND token_hash = $3
		   AND is_valid = true AND expires_at > $4`,
		sessionID,
		userID,
		tokenHash,
		now,
	)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthSessionInvalid, "session not found or expired", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to validate session", err)
	}
	return s, nil
}

// UpdateAccessToken stores the digest and expiry of a freshly issued access
// token on the session row. Overwriting token_hash invalidates any previously
// issued access token for this session.
func (r *SessionRepository) UpdateAccessToken(ctx context.Context, sessionID, tokenHash string, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE active_sessions
		 SET token_hash = $1, expires_at = $2, last_activity = NOW()
		 WHERE session_id = $3 AND is_valid = true`,
		tokenHash,
		expiresAt,
		sessionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update session token", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSession, "session not found or revoked", nil)
	}
	return nil
}

// TouchActivity updates the session's last_activity timestamp.
func (r *SessionRepository) TouchActivity(ctx context.Context, sessionID string, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE active_sessions SET last_activity = $1 WHERE session_id = $2`,
		now,
		sessionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to touch session activity", err)
	}
	return nil
}

// Invalidate marks a session invalid. Idempotent: invalidating a missing or
// already-invalid session is not an error.
func (r *SessionRepository) Invalidate(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE active_sessions SET is_valid = false WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to invalidate session", err)
	}
	return nil
}

// ListActiveByUser returns all valid, unexpired sessions for a user ordered by
// most recent activity.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]types.Session, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM active_sessions
		 WHERE user_id = $1 AND is_valid = true AND expires_at > $2
		 ORDER BY last_activity DESC`,
		userID,
		now,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list sessions", err)
	}
	defer rows.Close()

	var sessions []types.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan session row", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate session rows", err)
	}
	return sessions, nil
}

// Revoke marks one session invalid, scoped to its owning user. Returns true
// if a valid session was revoked, false if no matching valid session existed.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID, userID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE active_sessions SET is_valid = false
		 WHERE session_id = $1 AND user_id = $2 AND is_valid = true`,
		sessionID,
		userID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to revoke session", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeAllByUser marks all of a user's valid sessions invalid, optionally
// sparing one (the caller's current session). Returns the number revoked.
func (r *SessionRepository) RevokeAllByUser(ctx context.Context, userID, exceptSessionID string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE active_sessions SET is_valid = false
		 WHERE user_id = $1 AND is_valid = true AND ($2 = '' OR session_id <> $2)`,
		userID,
		exceptSessionID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to revoke user sessions", err)
	}
	return int(tag.RowsAffected()), nil
}

// SweepExpired marks all expired-but-still-valid sessions invalid. Returns the
// number of rows swept. Run by the scheduled maintenance job.
func (r *SessionRepository) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE active_sessions SET is_valid = false
		 WHERE is_valid = true AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to sweep expired sessions", err)
	}
	return int(tag.RowsAffected()), nil
}
