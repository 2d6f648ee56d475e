package database

import (
	"context"
	"time"
)

// ============================================================================
// SYSTEM SETTINGS
// ============================================================================

// GetSystemSetting retrieves a single system setting by key
func (r *Repository) GetSystemSetting(ctx context.Context, key string) (*SystemSetting, error) {
	var setting SystemSetting
	err := r.db.Pool.QueryRow(ctx,
		`SELECT key, value, value_type, description, updated_at, updated_by
		 FROM system_settings WHERE key = $1`, key).Scan(
		&setting.Key, &setting.Value, &setting.ValueType,
		&setting.Description, &setting.UpdatedAt, &setting.UpdatedBy)
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

// GetAllSystemSettings retrieves all system settings
func (r *Repository) GetAllSystemSettings(ctx context.Context) ([]SystemSetting, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT key, value, value_type, description, updated_at, updated_by
		 FROM system_settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []SystemSetting
	for rows.Next() {
		var s SystemSetting
		if err := rows.Scan(&s.Key, &s.Value, &s.ValueType, &s.Description, &s.UpdatedAt, &s.UpdatedBy); err != nil {
			return nil, err
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

// UpsertSystemSetting creates or updates a system setting. Reserved for
// admin tooling; the pipeline itself only reads settings.
func (r *Repository) UpsertSystemSetting(ctx context.Context, setting *SystemSetting) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO system_settings (key, value, value_type, description, updated_at, updated_by)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			value_type = EXCLUDED.value_type,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`,
		setting.Key, setting.Value, setting.ValueType, setting.Description, time.Now(), setting.UpdatedBy)
	return err
}
