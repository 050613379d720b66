package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"screentime/internal/conflict"
	"screentime/internal/database"
	"screentime/internal/models"
)

const conflictColumns = "id, family_id, record_type, record_id, changes, resolution_strategy, metadata, detected_at, updated_at"

// ConflictRepository stores open conflicts, at most one per record
type ConflictRepository struct {
	db *database.DB
}

// NewConflictRepository creates a new conflict repository
func NewConflictRepository(db *database.DB) *ConflictRepository {
	return &ConflictRepository{db: db}
}

// SaveConflict updates the conflict by ID or inserts it. Inserting a second
// open conflict for the same record fails with conflict.ErrOpenConflictExists.
func (r *ConflictRepository) SaveConflict(ctx context.Context, metadata *models.ConflictMetadata) error {
	now := time.Now().UTC()
	if metadata.ID == "" {
		metadata.ID = uuid.NewString()
	}
	if metadata.DetectedAt.IsZero() {
		metadata.DetectedAt = now
	}
	metadata.UpdatedAt = now

	changes, err := json.Marshal(metadata.Changes)
	if err != nil {
		return fmt.Errorf("failed to encode conflict changes: %w", err)
	}
	extra := metadata.Metadata
	if extra == nil {
		extra = map[string]string{}
	}
	meta, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("failed to encode conflict metadata: %w", err)
	}

	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		query := "UPDATE conflicts SET changes = ?, resolution_strategy = ?, metadata = ?, updated_at = ? WHERE id = ?"
		result, err := tx.ExecContext(ctx, query, string(changes), string(metadata.ResolutionStrategy), string(meta),
			metadata.UpdatedAt, metadata.ID)
		if err != nil {
			return fmt.Errorf("failed to update conflict: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			return nil
		}

		query = "INSERT INTO conflicts (" + conflictColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
		_, err = tx.ExecContext(ctx, query, metadata.ID, metadata.FamilyID, metadata.RecordType, metadata.RecordID,
			string(changes), string(metadata.ResolutionStrategy), string(meta), metadata.DetectedAt.UTC(), metadata.UpdatedAt)
		if r.db.Dialect.IsUniqueViolation(err) {
			return fmt.Errorf("failed to create conflict for %s: %w", metadata.Key(), conflict.ErrOpenConflictExists)
		}
		if err != nil {
			return fmt.Errorf("failed to create conflict: %w", err)
		}
		return nil
	})
}

// FetchOpenConflict returns the open conflict for a record, or nil
func (r *ConflictRepository) FetchOpenConflict(ctx context.Context, key models.RecordKey) (*models.ConflictMetadata, error) {
	query := "SELECT " + conflictColumns + " FROM conflicts WHERE family_id = ? AND record_type = ? AND record_id = ?"
	c, err := scanConflict(r.db.QueryRowContext(ctx, query, key.FamilyID, key.RecordType, key.RecordID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return c, nil
}

// FetchConflict returns a conflict by ID, or nil
func (r *ConflictRepository) FetchConflict(ctx context.Context, id string) (*models.ConflictMetadata, error) {
	query := "SELECT " + conflictColumns + " FROM conflicts WHERE id = ?"
	c, err := scanConflict(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return c, nil
}

// ListOpenConflicts returns a family's open conflicts, oldest first
func (r *ConflictRepository) ListOpenConflicts(ctx context.Context, familyID string) ([]models.ConflictMetadata, error) {
	query := "SELECT " + conflictColumns + " FROM conflicts WHERE family_id = ? ORDER BY detected_at ASC, id ASC"
	rows, err := r.db.QueryContext(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []models.ConflictMetadata
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conflicts: %w", err)
	}
	return conflicts, nil
}

// DeleteConflict removes a resolved conflict
func (r *ConflictRepository) DeleteConflict(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM conflicts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conflict: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConflict(row rowScanner) (*models.ConflictMetadata, error) {
	c := &models.ConflictMetadata{}
	var changes, strategy, meta string
	if err := row.Scan(&c.ID, &c.FamilyID, &c.RecordType, &c.RecordID, &changes, &strategy, &meta,
		&c.DetectedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ResolutionStrategy = models.ResolutionStrategy(strategy)
	if err := json.Unmarshal([]byte(changes), &c.Changes); err != nil {
		return nil, fmt.Errorf("failed to decode conflict changes: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode conflict metadata: %w", err)
	}
	return c, nil
}
