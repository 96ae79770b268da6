package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"shutterdesk/internal/types"
)

// RefreshTokenRepository provides data access for the refresh_tokens table.
// Rows store only the SHA-256 digest of the raw token; lookups always go
// through the digest.
type RefreshTokenRepository struct {
	db DBTX
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository backed by the
// given database connection (pool or transaction).
func NewRefreshTokenRepository(db DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

const refreshColumns = `token_id, user_id, session_id, token_hash, ip_address, user_agent,
	created_at, expires_at, used_at, revoked_at, is_valid`

func scanRefreshToken(row pgx.Row) (*types.RefreshToken, error) {
	var t types.RefreshToken
	var (
		ipAddress *string
		userAgent *string
	)
	err := row.Scan(
		&t.TokenID,
		&t.UserID,
		&t.SessionID,
		&t.TokenHash,
		&ipAddress,
		&userAgent,
		&t.CreatedAt,
		&t.ExpiresAt,
		&t.UsedAt,
		&t.RevokedAt,
		&t.IsValid,
	)
	if err != nil {
		return nil, err
	}
	if ipAddress != nil {
		t.IPAddress = *ipAddress
	}
	if userAgent != nil {
		t.UserAgent = *userAgent
	}
	return &t, nil
}

// Create inserts a new refresh token row.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *types.RefreshToken) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO refresh_tokens (token_id, user_id, session_id, token_hash, ip_address,
		 user_agent, created_at, expires_at, is_valid)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), $8, $9)`,
		token.TokenID,
		token.UserID,
		token.SessionID,
		token.TokenHash,
		nilIfEmpty(token.IPAddress),
		nilIfEmpty(token.UserAgent),
		nilIfZeroTime(token.CreatedAt),
		token.ExpiresAt,
		token.IsValid,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "refresh token id collision", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create refresh token", err)
	}
	return nil
}

// GetActiveByHash retrieves a refresh token by its digest. The row must be
// valid, not revoked, and unexpired. Returns ErrCodeAuthRefreshInvalid when
// no such row exists; the caller cannot tell a wrong token from a revoked or
// expired one, which is intentional.
func (r *RefreshTokenRepository) GetActiveByHash(ctx context.Context, tokenHash string, now time.Time) (*types.RefreshToken, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+refreshColumns+`
		 FROM refresh_tokens
		 WHERE token_hash = $1 AND is_valid = true AND revoked_at IS NULL AND expires_at > $2`,
		tokenHash,
		now,
	)

	t, err := scanRefreshToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthRefreshInvalid, "refresh token not found, expired, or revoked", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve refresh token", err)
	}
	return t, nil
}

// MarkUsed stamps used_at on a refresh token. Tokens are not single-use, so
// used_at records the most recent use for auditability.
func (r *RefreshTokenRepository) MarkUsed(ctx context.Context, tokenID string, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE refresh_tokens SET used_at = $1 WHERE token_id = $2`,
		now,
		tokenID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark refresh token used", err)
	}
	return nil
}

// RevokeByHash revokes a refresh token by its digest. Returns true if a live
// token was revoked, false if the token was already revoked or never existed.
func (r *RefreshTokenRepository) RevokeByHash(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE refresh_tokens SET is_valid = false, revoked_at = $1
		 WHERE token_hash = $2 AND is_valid = true AND revoked_at IS NULL`,
		now,
		tokenHash,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to revoke refresh token", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeBySession revokes all live refresh tokens belonging to a session.
// Called when a session is revoked so its refresh tokens die with it.
func (r *RefreshTokenRepository) RevokeBySession(ctx context.Context, sessionID string, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE refresh_tokens SET is_valid = false, revoked_at = $1
		 WHERE session_id = $2 AND is_valid = true AND revoked_at IS NULL`,
		now,
		sessionID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to revoke session refresh tokens", err)
	}
	return int(tag.RowsAffected()), nil
}

// RevokeByUser revokes all live refresh tokens for a user, optionally sparing
// the tokens tied to one session. Returns the number revoked.
func (r *RefreshTokenRepository) RevokeByUser(ctx context.Context, userID, exceptSessionID string, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE refresh_tokens SET is_valid = false, revoked_at = $1
		 WHERE user_id = $2 AND is_valid = true AND revoked_at IS NULL
		   AND ($3 = '' OR session_id <> $3)`,
		now,
		userID,
		exceptSessionID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to revoke user refresh tokens", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteDefunctBefore hard-deletes refresh tokens that expired or were revoked
// before the cutoff. Run by the scheduled maintenance job.
func (r *RefreshTokenRepository) DeleteDefunctBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM refresh_tokens
		 WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge refresh tokens", err)
	}
	return int(tag.RowsAffected()), nil
}
