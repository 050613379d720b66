package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"screentime/internal/database"
	"screentime/internal/models"
)

const appColumns = "id, family_id, child_id, bundle_id, display_name, category, points_per_hour, created_at, updated_at, updated_by"

// AppCategorizationRepository handles database operations for app categorizations
type AppCategorizationRepository struct {
	db *database.DB
}

// NewAppCategorizationRepository creates a new app categorization repository
func NewAppCategorizationRepository(db *database.DB) *AppCategorizationRepository {
	return &AppCategorizationRepository{db: db}
}

// SaveAppCategorization updates the categorization by ID, inserting it when
// it does not exist yet.
func (r *AppCategorizationRepository) SaveAppCategorization(ctx context.Context, app *models.AppCategorization) error {
	now := time.Now().UTC()
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.UpdatedAt.IsZero() {
		app.UpdatedAt = now
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}

	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		query := `
			UPDATE app_categorizations
			SET display_name = ?, category = ?, points_per_hour = ?, updated_at = ?, updated_by = ?
			WHERE id = ?
		`
		result, err := tx.ExecContext(ctx, query, app.DisplayName, string(app.Category), app.PointsPerHour,
			app.UpdatedAt.UTC(), app.UpdatedBy, app.ID)
		if err != nil {
			return fmt.Errorf("failed to update app categorization: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			return nil
		}

		query = "INSERT INTO app_categorizations (" + appColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		_, err = tx.ExecContext(ctx, query, app.ID, app.FamilyID, app.ChildID, app.BundleID, app.DisplayName,
			string(app.Category), app.PointsPerHour, app.CreatedAt.UTC(), app.UpdatedAt.UTC(), app.UpdatedBy)
		if err != nil {
			return fmt.Errorf("failed to create app categorization: %w", err)
		}
		return nil
	})
}

// FetchAppCategorization retrieves a categorization by ID, or nil when missing
func (r *AppCategorizationRepository) FetchAppCategorization(ctx context.Context, id string) (*models.AppCategorization, error) {
	query := "SELECT " + appColumns + " FROM app_categorizations WHERE id = ?"
	app, err := scanApp(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app categorization: %w", err)
	}
	return app, nil
}

// FetchAppCategorizations lists a family's categorizations, optionally
// filtered to one child. A limit of zero or less returns every row.
func (r *AppCategorizationRepository) FetchAppCategorizations(ctx context.Context, familyID, childID string, limit int) ([]models.AppCategorization, error) {
	query := "SELECT " + appColumns + " FROM app_categorizations WHERE family_id = ?"
	args := []interface{}{familyID}
	if childID != "" {
		query += " AND child_id = ?"
		args = append(args, childID)
	}
	query += " ORDER BY display_name ASC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query app categorizations: %w", err)
	}
	defer rows.Close()

	var apps []models.AppCategorization
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan app categorization: %w", err)
		}
		apps = append(apps, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate app categorizations: %w", err)
	}
	return apps, nil
}

// DeleteAppCategorization deletes a categorization
func (r *AppCategorizationRepository) DeleteAppCategorization(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM app_categorizations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete app categorization: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanApp(row rowScanner) (*models.AppCategorization, error) {
	app := &models.AppCategorization{}
	var category string
	err := row.Scan(
		&app.ID,
		&app.FamilyID,
		&app.ChildID,
		&app.BundleID,
		&app.DisplayName,
		&category,
		&app.PointsPerHour,
		&app.CreatedAt,
		&app.UpdatedAt,
		&app.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	app.Category = models.AppCategory(category)
	return app, nil
}
