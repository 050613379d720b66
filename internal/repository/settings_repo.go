package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"screentime/internal/database"
	"screentime/internal/models"
)

// SettingsRepository stores per-family key/value settings
type SettingsRepository struct {
	db *database.DB
}

func NewSettingsRepository(db *database.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// FetchFamilySettings returns the family's settings. A family with no stored
// settings yields an empty record, never nil.
func (r *SettingsRepository) FetchFamilySettings(ctx context.Context, familyID string) (*models.FamilySettings, error) {
	query := `SELECT setting_key, setting_value, updated_at, updated_by FROM family_settings WHERE family_id = ?`
	rows, err := r.db.QueryContext(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	settings := &models.FamilySettings{FamilyID: familyID, Values: make(map[string]string)}
	for rows.Next() {
		var key, value, updatedBy string
		var updatedAt time.Time
		if err := rows.Scan(&key, &value, &updatedAt, &updatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings.Values[key] = value
		if updatedAt.After(settings.UpdatedAt) {
			settings.UpdatedAt = updatedAt
			settings.UpdatedBy = updatedBy
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settings: %w", err)
	}
	return settings, nil
}

// UpdateFamilySettings upserts the given keys in one transaction. Keys not
// present in values are left unchanged.
func (r *SettingsRepository) UpdateFamilySettings(ctx context.Context, familyID string, values map[string]string, updatedBy string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		query := tx.GetDialect().UpsertFamilySettingQuery()
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, query, familyID, k, values[k], at.UTC(), updatedBy); err != nil {
				return fmt.Errorf("failed to save setting %s: %w", k, err)
			}
		}
		return nil
	})
}
