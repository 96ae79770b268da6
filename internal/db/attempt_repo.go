package db

import (
	"context"
	"time"

	"shutterdesk/internal/types"
)

// LoginAttemptRepository provides data access for the login_attempts table.
// Each row is one authentication attempt; throttling decisions are computed
// from counts and block markers over a sliding window.
type LoginAttemptRepository struct {
	db DBTX
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository backed by the
// given database connection (pool or transaction).
func NewLoginAttemptRepository(db DBTX) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Insert records a single login attempt.
func (r *LoginAttemptRepository) Insert(ctx context.Context, attempt *types.LoginAttempt) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO login_attempts (email, ip_address, user_agent, attempt_type, attempted_at, is_blocked, blocked_until)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()), $6, $7)`,
		attempt.Email,
		attempt.IPAddress,
		nilIfEmpty(attempt.UserAgent),
		attempt.AttemptType,
		nilIfZeroTime(attempt.AttemptedAt),
		attempt.IsBlocked,
		attempt.BlockedUntil,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record login attempt", err)
	}
	return nil
}

// CountRecentByEmail returns the number of failed attempts for an email since
// the given instant. Attempts cleared by a successful login are excluded, so
// the count restarts from zero after the user gets back in.
func (r *LoginAttemptRepository) CountRecentByEmail(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM login_attempts
		 WHERE email = $1 AND attempted_at > $2 AND cleared_at IS NULL`,
		email,
		since,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count login attempts", err)
	}
	return count, nil
}

// LatestBlock returns the furthest-future blocked_until marker for an email,
// or nil if no block is currently in force.
func (r *LoginAttemptRepository) LatestBlock(ctx context.Context, email string, now time.Time) (*time.Time, error) {
	var until *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT MAX(blocked_until) FROM login_attempts
		 WHERE email = $1 AND is_blocked = true AND blocked_until > $2`,
		email,
		now,
	).Scan(&until)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to check login block", err)
	}
	return until, nil
}

// BlockEmail marks all recent attempts for an email as blocked until the given
// instant. Returns the number of rows marked.
func (r *LoginAttemptRepository) BlockEmail(ctx context.Context, email string, since, until time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE login_attempts SET is_blocked = true, blocked_until = $1
		 WHERE email = $2 AND attempted_at > $3 AND cleared_at IS NULL`,
		until,
		email,
		since,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to block login attempts", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClearBlocks removes block markers for an email after a successful
// authentication and stamps the prior attempts as cleared so they stop
// counting toward the lockout threshold. The rows themselves are retained
// for auditing.
func (r *LoginAttemptRepository) ClearBlocks(ctx context.Context, email string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE login_attempts SET is_blocked = false, blocked_until = NULL, cleared_at = NOW()
		 WHERE email = $1 AND cleared_at IS NULL`,
		email,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to clear login blocks", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteBefore hard-deletes attempts older than the cutoff. Run by the
// scheduled maintenance job to bound table growth.
func (r *LoginAttemptRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM login_attempts WHERE attempted_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge login attempts", err)
	}
	return int(tag.RowsAffected()), nil
}
