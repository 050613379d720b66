package activity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"screentime/internal/archive"
	"screentime/internal/changefeed"
	"screentime/internal/models"
	"screentime/internal/repository"
)

// ErrNoFeed is returned when a subscription is requested without a change feed.
var ErrNoFeed = errors.New("no change feed configured")

// LoadActivities reads the newest activities for a family into the cache.
// A limit of zero or less loads everything.
func (l *Log) LoadActivities(ctx context.Context, familyID string, limit int) ([]models.ParentActivity, error) {
	activities, err := l.store.FetchActivities(ctx, repository.ActivityQuery{FamilyID: familyID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to load activities: %w", err)
	}
	l.replace(familyID, activities)
	l.snapshots.Publish(familyID, l.Cached(familyID))
	return activities, nil
}

// LoadRecentActivities loads the last day of activity for a family.
func (l *Log) LoadRecentActivities(ctx context.Context, familyID string) ([]models.ParentActivity, error) {
	activities, err := l.store.FetchActivities(ctx, repository.ActivityQuery{
		FamilyID: familyID,
		Start:    l.now().Add(-RecentWindow),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load recent activities: %w", err)
	}
	l.replace(familyID, activities)
	l.snapshots.Publish(familyID, l.Cached(familyID))
	return activities, nil
}

// FetchActivities reads the activities inside r, newest first, without
// touching the cache.
func (l *Log) FetchActivities(ctx context.Context, familyID string, r models.DateRange) ([]models.ParentActivity, error) {
	activities, err := l.store.FetchActivities(ctx, repository.ActivityQuery{FamilyID: familyID, Start: r.Start, End: r.End})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch activities: %w", err)
	}
	return activities, nil
}

// ActivitiesOfType filters the cached activities by type.
func (l *Log) ActivitiesOfType(familyID string, activityType models.ActivityType) []models.ParentActivity {
	var out []models.ParentActivity
	for _, a := range l.Cached(familyID) {
		if a.ActivityType == activityType {
			out = append(out, a)
		}
	}
	return out
}

// ActivitiesIn filters the cached activities by time range.
func (l *Log) ActivitiesIn(familyID string, r models.DateRange) []models.ParentActivity {
	var out []models.ParentActivity
	for _, a := range l.Cached(familyID) {
		if r.Contains(a.Timestamp) {
			out = append(out, a)
		}
	}
	return out
}

// HandleBackgroundFetch pulls activities written since the newest remote one
// this log has seen, merges them into the cache and publishes them. The first
// fetch for a family covers the recent window. New activities are returned
// oldest first.
func (l *Log) HandleBackgroundFetch(ctx context.Context, familyID string) ([]models.ParentActivity, error) {
	l.mu.RLock()
	last, ok := l.lastSeen[familyID]
	l.mu.RUnlock()

	q := repository.ActivityQuery{FamilyID: familyID}
	if ok {
		q.After = last.Add(-fetchOverlap)
	} else {
		q.Start = l.now().Add(-RecentWindow)
	}

	fetched, err := l.store.FetchActivities(ctx, q)
	l.metrics.RecordBackgroundFetch(err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch new activities: %w", err)
	}

	added := l.merge(familyID, fetched, true)
	if len(added) == 0 {
		return nil, nil
	}
	// fetched is newest first; publish in chronological order
	for i, j := 0, len(added)-1; i < j; i, j = i+1, j-1 {
		added[i], added[j] = added[j], added[i]
	}
	for _, a := range added {
		l.added.Publish(familyID, a)
	}
	l.snapshots.Publish(familyID, l.Cached(familyID))

	l.logger.Debug("background fetch merged activities",
		zap.String("family_id", familyID), zap.Int("count", len(added)))
	return added, nil
}

// CreateActivitySubscription listens for activity notifications on the
// change feed, ignoring those written by excludingUserID, and delivers the
// remote activities each one brings in.
func (l *Log) CreateActivitySubscription(ctx context.Context, familyID, excludingUserID string) (<-chan models.ParentActivity, error) {
	if l.feed == nil {
		return nil, ErrNoFeed
	}
	notes, err := l.feed.Subscribe(ctx, familyID, changefeed.Origin{UserID: excludingUserID})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to activity changes: %w", err)
	}

	out := make(chan models.ParentActivity, cap(notes))
	go func() {
		defer close(out)
		for n := range notes {
			if n.RecordType != models.RecordTypeParentActivity {
				continue
			}
			activities, err := l.HandleBackgroundFetch(ctx, familyID)
			if err != nil {
				l.logger.Warn("activity fetch after notification failed",
					zap.String("family_id", familyID), zap.Error(err))
				continue
			}
			for _, a := range activities {
				if a.TriggeringUserID == excludingUserID {
					continue
				}
				select {
				case out <- a:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// CleanupOldActivities deletes activities strictly older than the retention
// period. With an archive configured the expired activities are copied out
// first, one document per family, and nothing is deleted if that copy fails.
func (l *Log) CleanupOldActivities(ctx context.Context) (int64, error) {
	now := l.now()
	cutoff := now.Add(-l.retention)

	if l.archive != nil {
		expired, err := l.store.FetchActivitiesBefore(ctx, cutoff)
		if err != nil {
			return 0, fmt.Errorf("failed to read expired activities: %w", err)
		}
		byFamily := make(map[string][]models.ParentActivity)
		for _, a := range expired {
			byFamily[a.FamilyID] = append(byFamily[a.FamilyID], a)
		}
		for familyID, activities := range byFamily {
			if err := l.archive.PutJSON(ctx, archive.ActivityKey(familyID, now), activities); err != nil {
				return 0, fmt.Errorf("failed to archive activities: %w", err)
			}
		}
	}

	removed, err := l.store.DeleteActivitiesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up activities: %w", err)
	}

	l.mu.Lock()
	for familyID, cached := range l.cache {
		kept := make([]models.ParentActivity, 0, len(cached))
		for _, a := range cached {
			if !a.Timestamp.Before(cutoff) {
				kept = append(kept, a)
			}
		}
		l.cache[familyID] = kept
	}
	l.mu.Unlock()

	if removed > 0 {
		l.logger.Info("removed expired activities", zap.Int64("count", removed), zap.Time("cutoff", cutoff))
	}
	return removed, nil
}
