package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"screentime/internal/database"
	"screentime/internal/models"
)

// ErrNotFound is returned by updates and deletes that match no row.
var ErrNotFound = errors.New("record not found")

// FamilyRepository handles database operations for families
type FamilyRepository struct {
	db *database.DB
}

// NewFamilyRepository creates a new family repository
func NewFamilyRepository(db *database.DB) *FamilyRepository {
	return &FamilyRepository{db: db}
}

// CreateFamily inserts the family and its non-owner members. ID and
// timestamps are filled in when empty.
func (r *FamilyRepository) CreateFamily(ctx context.Context, family *models.Family) error {
	if family.ID == "" {
		family.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if family.CreatedAt.IsZero() {
		family.CreatedAt = now
	}
	family.UpdatedAt = now

	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		query := "INSERT INTO families (id, name, owner_user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)"
		if _, err := tx.ExecContext(ctx, query, family.ID, family.Name, family.OwnerUserID,
			family.CreatedAt.UTC(), family.UpdatedAt); err != nil {
			return fmt.Errorf("failed to create family: %w", err)
		}

		for userID, role := range family.UserRoles {
			if userID == family.OwnerUserID {
				continue
			}
			query = "INSERT INTO family_members (family_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)"
			if _, err := tx.ExecContext(ctx, query, family.ID, userID, string(role), now); err != nil {
				return fmt.Errorf("failed to add family member: %w", err)
			}
		}
		return nil
	})
}

// FetchFamily retrieves a family with its role map and child ids.
// It returns nil, nil when the family does not exist.
func (r *FamilyRepository) FetchFamily(ctx context.Context, familyID string) (*models.Family, error) {
	query := "SELECT id, name, owner_user_id, created_at, updated_at FROM families WHERE id = ?"
	family := &models.Family{}
	err := r.db.QueryRowContext(ctx, query, familyID).Scan(
		&family.ID,
		&family.Name,
		&family.OwnerUserID,
		&family.CreatedAt,
		&family.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get family: %w", err)
	}

	members, err := r.FetchMembers(ctx, familyID)
	if err != nil {
		return nil, err
	}
	family.UserRoles = make(map[string]models.Role, len(members))
	for _, m := range members {
		family.UserRoles[m.UserID] = m.Role
		family.SharedWith = append(family.SharedWith, m.UserID)
	}

	rows, err := r.db.QueryContext(ctx, "SELECT id FROM children WHERE family_id = ? ORDER BY created_at ASC, id ASC", familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query child ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan child id: %w", err)
		}
		family.ChildProfileIDs = append(family.ChildProfileIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate child ids: %w", err)
	}

	return family, nil
}

// FetchFamiliesForUser retrieves every family the user owns or belongs to
func (r *FamilyRepository) FetchFamiliesForUser(ctx context.Context, userID string) ([]models.Family, error) {
	query := `
		SELECT id FROM families WHERE owner_user_id = ?
		UNION
		SELECT family_id FROM family_members WHERE user_id = ?
	`
	rows, err := r.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query families: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan family id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate families: %w", err)
	}

	families := make([]models.Family, 0, len(ids))
	for _, id := range ids {
		family, err := r.FetchFamily(ctx, id)
		if err != nil {
			return nil, err
		}
		if family != nil {
			families = append(families, *family)
		}
	}
	return families, nil
}

// FetchMembers lists the non-owner members of a family in join order
func (r *FamilyRepository) FetchMembers(ctx context.Context, familyID string) ([]models.FamilyMember, error) {
	query := `
		SELECT family_id, user_id, role, joined_at
		FROM family_members
		WHERE family_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query family members: %w", err)
	}
	defer rows.Close()

	var members []models.FamilyMember
	for rows.Next() {
		var m models.FamilyMember
		var role string
		if err := rows.Scan(&m.FamilyID, &m.UserID, &role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan family member: %w", err)
		}
		m.Role = models.Role(role)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate family members: %w", err)
	}
	return members, nil
}

// SetMemberRole adds a member or changes an existing member's role
func (r *FamilyRepository) SetMemberRole(ctx context.Context, familyID, userID string, role models.Role) error {
	now := time.Now().UTC()
	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		result, err := tx.ExecContext(ctx, "UPDATE family_members SET role = ? WHERE family_id = ? AND user_id = ?",
			string(role), familyID, userID)
		if err != nil {
			return fmt.Errorf("failed to update member role: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			_, err = tx.ExecContext(ctx, "INSERT INTO family_members (family_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)",
				familyID, userID, string(role), now)
			if err != nil {
				return fmt.Errorf("failed to add family member: %w", err)
			}
		}
		return touchFamily(ctx, tx, familyID, now)
	})
}

// RemoveMember removes a user from a family
func (r *FamilyRepository) RemoveMember(ctx context.Context, familyID, userID string) error {
	now := time.Now().UTC()
	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM family_members WHERE family_id = ? AND user_id = ?", familyID, userID)
		if err != nil {
			return fmt.Errorf("failed to remove family member: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return touchFamily(ctx, tx, familyID, now)
	})
}

// DeleteFamily deletes a family and all associated shared records.
// Activity history is left to retention cleanup.
func (r *FamilyRepository) DeleteFamily(ctx context.Context, familyID string) error {
	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		for _, query := range []string{
			"DELETE FROM app_categorizations WHERE family_id = ?",
			"DELETE FROM children WHERE family_id = ?",
			"DELETE FROM family_settings WHERE family_id = ?",
			"DELETE FROM family_members WHERE family_id = ?",
			"DELETE FROM conflicts WHERE family_id = ?",
		} {
			if _, err := tx.ExecContext(ctx, query, familyID); err != nil {
				return fmt.Errorf("failed to delete family data: %w", err)
			}
		}
		result, err := tx.ExecContext(ctx, "DELETE FROM families WHERE id = ?", familyID)
		if err != nil {
			return fmt.Errorf("failed to delete family: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func touchFamily(ctx context.Context, tx database.DBTX, familyID string, at time.Time) error {
	if _, err := tx.ExecContext(ctx, "UPDATE families SET updated_at = ? WHERE id = ?", at, familyID); err != nil {
		return fmt.Errorf("failed to update family: %w", err)
	}
	return nil
}

// ListFamilyIDs returns the ID of every family, oldest first
func (r *FamilyRepository) ListFamilyIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM families ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list families: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan family id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate families: %w", err)
	}
	return ids, nil
}
