package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"screentime/internal/database"
	"screentime/internal/models"
)

// UserRepository handles database operations for parent accounts
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// SaveUser inserts the user or refreshes its contact details
func (r *UserRepository) SaveUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		result, err := tx.ExecContext(ctx, "UPDATE users SET email = ?, name = ?, updated_at = ? WHERE id = ?",
			user.Email, user.Name, user.UpdatedAt, user.ID)
		if err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, "INSERT INTO users (id, email, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			user.ID, user.Email, user.Name, user.CreatedAt.UTC(), user.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
}

// GetUserByID retrieves a user by ID, or nil when unknown
func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := "SELECT id, email, name, created_at, updated_at FROM users WHERE id = ?"
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUsersByIDs returns the known users among ids; unknown ids are skipped
func (r *UserRepository) GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		user, err := r.GetUserByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if user != nil {
			users = append(users, *user)
		}
	}
	return users, nil
}
