package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"shutterdesk/internal/types"
)

// ReputationRepository provides data access for the ip_blacklist, rate_limits,
// and security_logs tables. These three tables together form the IP-level
// abuse protection state.
type ReputationRepository struct {
	db DBTX
}

// NewReputationRepository creates a new ReputationRepository backed by the
// given database connection (pool or transaction).
func NewReputationRepository(db DBTX) *ReputationRepository {
	return &ReputationRepository{db: db}
}

// GetBlacklistEntry retrieves the blacklist row for an IP, or nil if the IP
// has never been blacklisted. Callers decide whether the entry is currently
// in force (permanent or blocked_until in the future).
func (r *ReputationRepository) GetBlacklistEntry(ctx context.Context, ip string) (*types.IPBlacklistEntry, error) {
	row := r.db.QueryRow(ctx,
		`SELECT ip_address, reason, blocked_until, is_permanent, failed_attempts, created_at, last_attempt
		 FROM ip_blacklist WHERE ip_address = $1`,
		ip,
	)

	var e types.IPBlacklistEntry
	var reason *string
	err := row.Scan(
		&e.IPAddress,
		&reason,
		&e.BlockedUntil,
		&e.IsPermanent,
		&e.FailedAttempts,
		&e.CreatedAt,
		&e.LastAttempt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to check ip blacklist", err)
	}
	if reason != nil {
		e.Reason = *reason
	}
	return &e, nil
}

// UpsertBlacklistEntry inserts or extends a blacklist row. On conflict the
// block window, reason, and attempt counter are refreshed; a permanent flag
// is never downgraded.
func (r *ReputationRepository) UpsertBlacklistEntry(ctx context.Context, entry *types.IPBlacklistEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO ip_blacklist (ip_address, reason, blocked_until, is_permanent, failed_attempts, created_at, last_attempt)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (ip_address) DO UPDATE SET
		   reason = EXCLUDED.reason,
		   blocked_until = EXCLUDED.blocked_until,
		   is_permanent = ip_blacklist.is_permanent OR EXCLUDED.is_permanent,
		   failed_attempts = ip_blacklist.failed_attempts + 1,
		   last_attempt = NOW()`,
		entry.IPAddress,
		nilIfEmpty(entry.Reason),
		entry.BlockedUntil,
		entry.IsPermanent,
		entry.FailedAttempts,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert blacklist entry", err)
	}
	return nil
}

// SumRequests returns the total request count for an (ip, endpoint) pair
// across all buckets whose window started after the given instant.
func (r *ReputationRepository) SumRequests(ctx context.Context, ip, endpoint string, since time.Time) (int, error) {
	var total int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(request_count), 0) FROM rate_limits
		 WHERE ip_address = $1 AND endpoint = $2 AND window_start > $3`,
		ip,
		endpoint,
		since,
	).Scan(&total)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to sum rate limit buckets", err)
	}
	return total, nil
}

// RecordRequest increments the minute bucket for an (ip, endpoint) pair,
// creating it if absent. bucket must already be truncated to the window
// granularity.
func (r *ReputationRepository) RecordRequest(ctx context.Context, ip, endpoint string, bucket, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO rate_limits (ip_address, endpoint, request_count, window_start, last_request)
		 VALUES ($1, $2, 1, $3, $4)
		 ON CONFLICT (ip_address, endpoint, window_start) DO UPDATE SET
		   request_count = rate_limits.request_count + 1,
		   last_request = EXCLUDED.last_request`,
		ip,
		endpoint,
		bucket,
		now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record request", err)
	}
	return nil
}

// DeleteBucketsBefore hard-deletes rate limit buckets whose window started
// before the cutoff. Run by the scheduled maintenance job.
func (r *ReputationRepository) DeleteBucketsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM rate_limits WHERE window_start < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge rate limit buckets", err)
	}
	return int(tag.RowsAffected()), nil
}

// InsertSecurityLog writes an audit record of a notable security event.
func (r *ReputationRepository) InsertSecurityLog(ctx context.Context, log *types.SecurityLog) error {
	details := log.Details
	if details == nil {
		details = json.RawMessage(`{}`)
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO security_logs (event_type, severity, ip_address, endpoint, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		log.EventType,
		log.Severity,
		nilIfEmpty(log.IPAddress),
		nilIfEmpty(log.Endpoint),
		details,
		nilIfZeroTime(log.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert security log", err)
	}
	return nil
}
