package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"screentime/internal/database"
	"screentime/internal/models"
)

const activityColumns = "id, family_id, triggering_user_id, activity_type, target_entity, target_entity_id, changes, occurred_at, device_id"

// ActivityQuery filters parent activities. Zero values disable a filter.
// Start is inclusive, End and After are exclusive.
type ActivityQuery struct {
	FamilyID string
	Start    time.Time
	End      time.Time
	After    time.Time
	Limit    int
}

// ActivityRepository persists the parent activity log
type ActivityRepository struct {
	db *database.DB
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(db *database.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// CreateActivity appends an activity. Activities are never updated.
func (r *ActivityRepository) CreateActivity(ctx context.Context, activity *models.ParentActivity) error {
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now()
	}
	changes, err := json.Marshal(activity.Changes)
	if err != nil {
		return fmt.Errorf("failed to encode activity changes: %w", err)
	}

	query := "INSERT INTO parent_activities (" + activityColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err = r.db.ExecContext(ctx, query, activity.ID, activity.FamilyID, activity.TriggeringUserID,
		string(activity.ActivityType), activity.TargetEntity, activity.TargetEntityID, string(changes),
		activity.Timestamp.UTC(), activity.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

// FetchActivities returns matching activities, newest first
func (r *ActivityRepository) FetchActivities(ctx context.Context, q ActivityQuery) ([]models.ParentActivity, error) {
	query := "SELECT " + activityColumns + " FROM parent_activities WHERE family_id = ?"
	args := []interface{}{q.FamilyID}
	if !q.Start.IsZero() {
		query += " AND occurred_at >= ?"
		args = append(args, q.Start.UTC())
	}
	if !q.End.IsZero() {
		query += " AND occurred_at < ?"
		args = append(args, q.End.UTC())
	}
	if !q.After.IsZero() {
		query += " AND occurred_at > ?"
		args = append(args, q.After.UTC())
	}
	query += " ORDER BY occurred_at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	return r.queryActivities(ctx, query, args...)
}

// FetchActivitiesBefore returns every activity, across families, strictly
// older than cutoff, oldest first.
func (r *ActivityRepository) FetchActivitiesBefore(ctx context.Context, cutoff time.Time) ([]models.ParentActivity, error) {
	query := "SELECT " + activityColumns + " FROM parent_activities WHERE occurred_at < ? ORDER BY occurred_at ASC, id ASC"
	return r.queryActivities(ctx, query, cutoff.UTC())
}

// DeleteActivitiesBefore removes activities strictly older than cutoff and
// returns how many were removed.
func (r *ActivityRepository) DeleteActivitiesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM parent_activities WHERE occurred_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old activities: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted activities: %w", err)
	}
	return n, nil
}

func (r *ActivityRepository) queryActivities(ctx context.Context, query string, args ...interface{}) ([]models.ParentActivity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var activities []models.ParentActivity
	for rows.Next() {
		var a models.ParentActivity
		var activityType, changes string
		if err := rows.Scan(&a.ID, &a.FamilyID, &a.TriggeringUserID, &activityType, &a.TargetEntity,
			&a.TargetEntityID, &changes, &a.Timestamp, &a.DeviceID); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.ActivityType = models.ActivityType(activityType)
		if err := json.Unmarshal([]byte(changes), &a.Changes); err != nil {
			return nil, fmt.Errorf("failed to decode activity changes: %w", err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}
	return activities, nil
}
