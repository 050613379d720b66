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

const childColumns = "id, family_id, name, avatar_color, points_per_hour, point_balance, created_at, updated_at, updated_by"

// ChildRepository handles database operations for child profiles
type ChildRepository struct {
	db *database.DB
}

// NewChildRepository creates a new child repository
func NewChildRepository(db *database.DB) *ChildRepository {
	return &ChildRepository{db: db}
}

// CreateChild creates a new child profile
func (r *ChildRepository) CreateChild(ctx context.Context, child *models.ChildProfile) error {
	if child.ID == "" {
		child.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if child.CreatedAt.IsZero() {
		child.CreatedAt = now
	}
	if child.UpdatedAt.IsZero() {
		child.UpdatedAt = now
	}

	query := "INSERT INTO children (" + childColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := r.db.ExecContext(ctx, query, child.ID, child.FamilyID, child.Name, child.AvatarColor,
		child.PointsPerHour, child.PointBalance, child.CreatedAt.UTC(), child.UpdatedAt.UTC(), child.UpdatedBy)
	if err != nil {
		return fmt.Errorf("failed to create child: %w", err)
	}
	return nil
}

// FetchChild retrieves a child by ID, or nil when it does not exist
func (r *ChildRepository) FetchChild(ctx context.Context, childID string) (*models.ChildProfile, error) {
	query := "SELECT " + childColumns + " FROM children WHERE id = ?"
	child, err := scanChild(r.db.QueryRowContext(ctx, query, childID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get child: %w", err)
	}
	return child, nil
}

// FetchChildren retrieves the children in a family. A limit of zero or less
// returns every child.
func (r *ChildRepository) FetchChildren(ctx context.Context, familyID string, limit int) ([]models.ChildProfile, error) {
	query := "SELECT " + childColumns + " FROM children WHERE family_id = ? ORDER BY created_at ASC, id ASC"
	args := []interface{}{familyID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	var children []models.ChildProfile
	for rows.Next() {
		child, err := scanChild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan child: %w", err)
		}
		children = append(children, *child)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate children: %w", err)
	}
	return children, nil
}

// UpdateChild writes every mutable field of the profile
func (r *ChildRepository) UpdateChild(ctx context.Context, child *models.ChildProfile) error {
	if child.UpdatedAt.IsZero() {
		child.UpdatedAt = time.Now().UTC()
	}
	query := `
		UPDATE children
		SET name = ?, avatar_color = ?, points_per_hour = ?, point_balance = ?, updated_at = ?, updated_by = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, child.Name, child.AvatarColor, child.PointsPerHour,
		child.PointBalance, child.UpdatedAt.UTC(), child.UpdatedBy, child.ID)
	if err != nil {
		return fmt.Errorf("failed to update child: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChild deletes a child profile and its app categorizations
func (r *ChildRepository) DeleteChild(ctx context.Context, childID string) error {
	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM app_categorizations WHERE child_id = ?", childID); err != nil {
			return fmt.Errorf("failed to delete child apps: %w", err)
		}
		result, err := tx.ExecContext(ctx, "DELETE FROM children WHERE id = ?", childID)
		if err != nil {
			return fmt.Errorf("failed to delete child: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChild(row rowScanner) (*models.ChildProfile, error) {
	child := &models.ChildProfile{}
	err := row.Scan(
		&child.ID,
		&child.FamilyID,
		&child.Name,
		&child.AvatarColor,
		&child.PointsPerHour,
		&child.PointBalance,
		&child.CreatedAt,
		&child.UpdatedAt,
		&child.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	return child, nil
}
