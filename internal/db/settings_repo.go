package db

import (
	"context"

	"shutterdesk/internal/types"
)

// SettingsRepository provides read access to the security_settings table, the
// operator-tunable key/value store behind all abuse-protection thresholds.
type SettingsRepository struct {
	db DBTX
}

// NewSettingsRepository creates a new SettingsRepository backed by the given
// database connection (pool or transaction).
func NewSettingsRepository(db DBTX) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetValues retrieves the values for the requested setting keys. Keys absent
// from the table are simply omitted from the result; callers fall back to
// their compiled-in defaults for those.
func (r *SettingsRepository) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT setting_key, setting_value FROM security_settings
		 WHERE setting_key = ANY($1)`,
		keys,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query security settings", err)
	}
	defer rows.Close()

	values := make(map[string]string, len(keys))
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan security setting", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate security settings", err)
	}
	return values, nil
}

// Upsert writes one setting value, creating the row if absent.
func (r *SettingsRepository) Upsert(ctx context.Context, key, value, description string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO security_settings (setting_key, setting_value, description, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (setting_key) DO UPDATE SET
		   setting_value = EXCLUDED.setting_value,
		   description = COALESCE(NULLIF(EXCLUDED.description, ''), security_settings.description),
		   updated_at = NOW()`,
		key,
		value,
		description,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert security setting", err)
	}
	return nil
}
