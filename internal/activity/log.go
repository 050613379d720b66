// Package activity is the family-visible audit trail. Every permitted
// mutation is recorded once, cached per family, and fanned out to local
// subscribers and, through the change feed, to other parent devices.
package activity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"screentime/internal/archive"
	"screentime/internal/changefeed"
	"screentime/internal/metrics"
	"screentime/internal/models"
	"screentime/internal/pubsub"
	"screentime/internal/repository"
)

const (
	// DefaultRetention is how long activities are kept.
	DefaultRetention = 30 * 24 * time.Hour
	// RecentWindow bounds LoadRecentActivities and the first background fetch.
	RecentWindow = 24 * time.Hour

	cacheLimit = 500
	// fetchOverlap re-reads this far before the last seen timestamp. Other
	// devices stamp activities with their own clocks, so a write that lands
	// later can carry an earlier time. Duplicates are dropped by ID.
	fetchOverlap = time.Minute
)

// Store persists activities.
type Store interface {
	CreateActivity(ctx context.Context, activity *models.ParentActivity) error
	FetchActivities(ctx context.Context, q repository.ActivityQuery) ([]models.ParentActivity, error)
	FetchActivitiesBefore(ctx context.Context, cutoff time.Time) ([]models.ParentActivity, error)
	DeleteActivitiesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options configures a Log. Zero values are valid.
type Options struct {
	DeviceID  string
	Retention time.Duration
	Feed      changefeed.Feed
	Archive   archive.Store
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Buffer    int
}

// Log records and distributes parent activities.
type Log struct {
	store     Store
	feed      changefeed.Feed
	archive   archive.Store
	deviceID  string
	retention time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	snapshots *pubsub.Publisher[[]models.ParentActivity]
	added     *pubsub.Publisher[models.ParentActivity]

	mu       sync.RWMutex
	cache    map[string][]models.ParentActivity // newest first
	lastSeen map[string]time.Time

	pendingMu sync.Mutex
	pending   []models.ParentActivity
}

// NewLog creates an activity log over store.
func NewLog(store Store, opts Options) *Log {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	l := &Log{
		store:     store,
		feed:      opts.Feed,
		archive:   opts.Archive,
		deviceID:  opts.DeviceID,
		retention: retention,
		metrics:   opts.Metrics,
		logger:    logger.Named("activity"),
		now:       time.Now,
		cache:     make(map[string][]models.ParentActivity),
		lastSeen:  make(map[string]time.Time),
	}
	onDrop := func(familyID string) {
		l.metrics.RecordActivityDropped()
		l.logger.Warn("activity subscriber too slow, event dropped", zap.String("family_id", familyID))
	}
	l.snapshots = pubsub.NewPublisher[[]models.ParentActivity](opts.Buffer, onDrop)
	l.added = pubsub.NewPublisher[models.ParentActivity](opts.Buffer, onDrop)
	return l
}

// Close ends every local subscription.
func (l *Log) Close() {
	l.snapshots.Close()
	l.added.Close()
}

// LogActivity persists a new activity and then publishes it. The returned
// activity carries its assigned ID and timestamp.
func (l *Log) LogActivity(ctx context.Context, familyID, triggeringUserID string, activityType models.ActivityType,
	targetEntity, targetEntityID string, changes models.ActivityChanges) (*models.ParentActivity, error) {
	activity := l.newActivity(familyID, triggeringUserID, activityType, targetEntity, targetEntityID, changes)
	if err := l.persist(ctx, activity); err != nil {
		return nil, err
	}
	return activity, nil
}

// LogActivityBestEffort is LogActivity for callers whose mutation already
// succeeded. A failed write is queued for RetryPending instead of returned.
func (l *Log) LogActivityBestEffort(ctx context.Context, familyID, triggeringUserID string, activityType models.ActivityType,
	targetEntity, targetEntityID string, changes models.ActivityChanges) *models.ParentActivity {
	activity := l.newActivity(familyID, triggeringUserID, activityType, targetEntity, targetEntityID, changes)
	if err := l.persist(ctx, activity); err != nil {
		l.logger.Warn("activity write failed, queued for retry",
			zap.String("family_id", familyID),
			zap.String("activity_type", string(activityType)),
			zap.Error(err))
		l.enqueue(*activity)
		return nil
	}
	return activity
}

// RetryPending writes queued activities. Activities that fail again stay
// queued. It returns how many were written.
func (l *Log) RetryPending(ctx context.Context) (int, error) {
	l.pendingMu.Lock()
	batch := l.pending
	l.pending = nil
	l.pendingMu.Unlock()

	var (
		written int
		lastErr error
	)
	for i := range batch {
		if err := ctx.Err(); err != nil {
			l.requeue(batch[i:])
			return written, err
		}
		activity := batch[i]
		if err := l.persist(ctx, &activity); err != nil {
			l.requeue(batch[i : i+1])
			lastErr = err
			continue
		}
		written++
	}
	if lastErr != nil {
		return written, fmt.Errorf("failed to write queued activities: %w", lastErr)
	}
	return written, nil
}

// Pending returns the number of activities waiting for a retry.
func (l *Log) Pending() int {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()
	return len(l.pending)
}

func (l *Log) newActivity(familyID, triggeringUserID string, activityType models.ActivityType,
	targetEntity, targetEntityID string, changes models.ActivityChanges) *models.ParentActivity {
	return &models.ParentActivity{
		ID:               uuid.NewString(),
		FamilyID:         familyID,
		TriggeringUserID: triggeringUserID,
		ActivityType:     activityType,
		TargetEntity:     targetEntity,
		TargetEntityID:   targetEntityID,
		Changes:          append(models.ActivityChanges(nil), changes...),
		Timestamp:        l.now().UTC(),
		DeviceID:         l.deviceID,
	}
}

func (l *Log) persist(ctx context.Context, activity *models.ParentActivity) error {
	if err := l.store.CreateActivity(ctx, activity); err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	l.metrics.RecordActivityLogged(string(activity.ActivityType))

	l.merge(activity.FamilyID, []models.ParentActivity{*activity}, false)
	l.added.Publish(activity.FamilyID, *activity)
	l.snapshots.Publish(activity.FamilyID, l.Cached(activity.FamilyID))
	l.notify(ctx, activity)
	return nil
}

func (l *Log) notify(ctx context.Context, activity *models.ParentActivity) {
	if l.feed == nil {
		return
	}
	err := l.feed.Publish(ctx, changefeed.Notification{
		FamilyID:   activity.FamilyID,
		RecordType: models.RecordTypeParentActivity,
		RecordID:   activity.ID,
		ChangeType: models.ChangeCreate,
		UserID:     activity.TriggeringUserID,
		DeviceID:   activity.DeviceID,
		Timestamp:  activity.Timestamp,
	})
	if err != nil {
		l.logger.Warn("failed to announce activity", zap.String("activity_id", activity.ID), zap.Error(err))
	}
}

func (l *Log) enqueue(activity models.ParentActivity) {
	l.pendingMu.Lock()
	l.pending = append(l.pending, activity)
	n := len(l.pending)
	l.pendingMu.Unlock()
	l.metrics.SetAuditRetryQueue(n)
}

func (l *Log) requeue(activities []models.ParentActivity) {
	l.pendingMu.Lock()
	l.pending = append(l.pending, activities...)
	n := len(l.pending)
	l.pendingMu.Unlock()
	l.metrics.SetAuditRetryQueue(n)
}

// merge folds activities into the family cache. The cache slice is replaced,
// never modified in place, so snapshots handed to readers stay valid.
// fetched marks activities read back from the store; only those move the
// background fetch cursor.
func (l *Log) merge(familyID string, activities []models.ParentActivity, fetched bool) []models.ParentActivity {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.cache[familyID]
	known := make(map[string]bool, len(current))
	for _, a := range current {
		known[a.ID] = true
	}

	var added []models.ParentActivity
	next := make([]models.ParentActivity, 0, len(current)+len(activities))
	next = append(next, current...)
	for _, a := range activities {
		if known[a.ID] {
			continue
		}
		known[a.ID] = true
		next = append(next, a)
		added = append(added, a)
	}
	if fetched {
		l.advanceLocked(familyID, activities)
	}
	sortNewestFirst(next)
	if len(next) > cacheLimit {
		next = next[:cacheLimit]
	}
	l.cache[familyID] = next
	return added
}

func (l *Log) replace(familyID string, activities []models.ParentActivity) {
	next := append([]models.ParentActivity(nil), activities...)
	sortNewestFirst(next)

	l.mu.Lock()
	l.cache[familyID] = next
	l.advanceLocked(familyID, next)
	l.mu.Unlock()
}

// advanceLocked moves the fetch cursor to the newest activity written by
// another device. This device's own stamps say nothing about how far the
// store has been read. l.mu must be held.
func (l *Log) advanceLocked(familyID string, activities []models.ParentActivity) {
	for _, a := range activities {
		if l.deviceID != "" && a.DeviceID == l.deviceID {
			continue
		}
		if a.Timestamp.After(l.lastSeen[familyID]) {
			l.lastSeen[familyID] = a.Timestamp
		}
	}
}

// Cached returns the family's cached activities, newest first.
func (l *Log) Cached(familyID string) []models.ParentActivity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.ParentActivity(nil), l.cache[familyID]...)
}

// Activities streams full cache snapshots for familyID until ctx is done.
func (l *Log) Activities(ctx context.Context, familyID string) <-chan []models.ParentActivity {
	return l.snapshots.Subscribe(ctx, familyID)
}

// NewActivities streams each activity as it is logged or fetched, in
// emission order, until ctx is done.
func (l *Log) NewActivities(ctx context.Context, familyID string) <-chan models.ParentActivity {
	return l.added.Subscribe(ctx, familyID)
}

func sortNewestFirst(activities []models.ParentActivity) {
	sort.SliceStable(activities, func(i, j int) bool {
		if !activities[i].Timestamp.Equal(activities[j].Timestamp) {
			return activities[i].Timestamp.After(activities[j].Timestamp)
		}
		return activities[i].ID > activities[j].ID
	})
}
