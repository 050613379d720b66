package activity

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screentime/internal/archive"
	"screentime/internal/changefeed"
	"screentime/internal/models"
	"screentime/internal/repository"
)

type memStore struct {
	mu         sync.Mutex
	activities []models.ParentActivity
	failWrites int
	lastQuery  repository.ActivityQuery
}

func (s *memStore) CreateActivity(_ context.Context, a *models.ParentActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites > 0 {
		s.failWrites--
		return errors.New("disk full")
	}
	s.activities = append(s.activities, *a)
	return nil
}

func (s *memStore) FetchActivities(_ context.Context, q repository.ActivityQuery) ([]models.ParentActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQuery = q
	var out []models.ParentActivity
	for _, a := range s.activities {
		if a.FamilyID != q.FamilyID {
			continue
		}
		if !q.Start.IsZero() && a.Timestamp.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && !a.Timestamp.Before(q.End) {
			continue
		}
		if !q.After.IsZero() && !a.Timestamp.After(q.After) {
			continue
		}
		out = append(out, a)
	}
	sortNewestFirst(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *memStore) FetchActivitiesBefore(_ context.Context, cutoff time.Time) ([]models.ParentActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ParentActivity
	for _, a := range s.activities {
		if a.Timestamp.Before(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *memStore) DeleteActivitiesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.activities[:0]
	var removed int64
	for _, a := range s.activities {
		if a.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	s.activities = kept
	return removed, nil
}

func (s *memStore) add(a models.ParentActivity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, a)
}

type memArchive struct {
	mu   sync.Mutex
	docs map[string]interface{}
	fail bool
}

func (m *memArchive) Driver() archive.Driver { return archive.DriverFilesystem }

func (m *memArchive) PutJSON(_ context.Context, key string, v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("bucket unavailable")
	}
	if m.docs == nil {
		m.docs = make(map[string]interface{})
	}
	m.docs[key] = v
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLog(t *testing.T, store Store, opts Options) (*Log, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLog(store, opts)
	l.now = c.Now
	t.Cleanup(l.Close)
	return l, c
}

func TestLogPointAdjustmentFormatsSign(t *testing.T) {
	store := &memStore{}
	l, _ := newTestLog(t, store, Options{DeviceID: "ipad-1"})
	child := &models.ChildProfile{ID: "child-1", FamilyID: "fam-1", Name: "Sam"}

	tests := []struct {
		delta int
		want  string
	}{
		{delta: 10, want: "+10"},
		{delta: -5, want: "-5"},
		{delta: 0, want: "+0"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			a, err := l.LogPointAdjustment(context.Background(), "alice", child, tt.delta, "chores")
			require.NoError(t, err)

			got, ok := a.Changes.Get(KeyPointsChange)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
			name, _ := a.Changes.Get(KeyChildName)
			assert.Equal(t, "Sam", name)
			assert.Equal(t, models.ActivityPointsAdjusted, a.ActivityType)
			assert.Equal(t, "ipad-1", a.DeviceID)
		})
	}
}

func TestLogRewardRedemption(t *testing.T) {
	store := &memStore{}
	l, _ := newTestLog(t, store, Options{})
	child := &models.ChildProfile{ID: "child-1", FamilyID: "fam-1", Name: "Sam"}

	a, err := l.LogRewardRedemption(context.Background(), "bob", child, "Movie night", 50)
	require.NoError(t, err)

	assert.Equal(t, models.ActivityChanges{
		{Key: KeyChildName, Value: "Sam"},
		{Key: KeyRewardName, Value: "Movie night"},
		{Key: KeyPointsSpent, Value: "50"},
	}, a.Changes)
	assert.Equal(t, models.RecordTypeChildProfile, a.TargetEntity)
	assert.Len(t, store.activities, 1)
}

func TestLogAppCategorizationChange(t *testing.T) {
	l, _ := newTestLog(t, &memStore{}, Options{})
	app := &models.AppCategorization{
		ID:            "app-1",
		FamilyID:      "fam-1",
		DisplayName:   "Duolingo",
		Category:      models.CategoryLearning,
		PointsPerHour: 20,
	}

	a, err := l.LogAppCategorizationChange(context.Background(), "alice", models.ActivityAppCategorizationAdded, app, "Sam")
	require.NoError(t, err)

	category, _ := a.Changes.Get(KeyCategory)
	pph, _ := a.Changes.Get(KeyPointsPerHour)
	assert.Equal(t, string(models.CategoryLearning), category)
	assert.Equal(t, "20", pph)
	assert.Equal(t, "app-1", a.TargetEntityID)
}

func TestCacheNewestFirst(t *testing.T) {
	l, c := newTestLog(t, &memStore{}, Options{})
	ctx := context.Background()

	first, err := l.LogActivity(ctx, "fam-1", "alice", models.ActivitySettingsUpdated, models.RecordTypeFamilySettings, "fam-1", nil)
	require.NoError(t, err)
	c.Advance(time.Minute)
	second, err := l.LogActivity(ctx, "fam-1", "bob", models.ActivityPointsAdjusted, models.RecordTypeChildProfile, "child-1", nil)
	require.NoError(t, err)

	cached := l.Cached("fam-1")
	require.Len(t, cached, 2)
	assert.Equal(t, second.ID, cached[0].ID)
	assert.Equal(t, first.ID, cached[1].ID)

	assert.Len(t, l.ActivitiesOfType("fam-1", models.ActivityPointsAdjusted), 1)
	assert.Empty(t, l.Cached("fam-2"))

	r := models.DateRange{Start: first.Timestamp, End: second.Timestamp}
	inRange := l.ActivitiesIn("fam-1", r)
	require.Len(t, inRange, 1)
	assert.Equal(t, first.ID, inRange[0].ID)
}

func TestSubscribersSeeEmissionOrder(t *testing.T) {
	l, c := newTestLog(t, &memStore{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	added := l.NewActivities(ctx, "fam-1")
	snapshots := l.Activities(ctx, "fam-1")

	var ids []string
	for i := 0; i < 3; i++ {
		a, err := l.LogActivity(ctx, "fam-1", "alice", models.ActivitySettingsUpdated, models.RecordTypeFamilySettings, "fam-1", nil)
		require.NoError(t, err)
		ids = append(ids, a.ID)
		c.Advance(time.Second)
	}

	for _, want := range ids {
		select {
		case got := <-added:
			assert.Equal(t, want, got.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for activity")
		}
	}
	for want := 1; want <= 3; want++ {
		select {
		case snap := <-snapshots:
			assert.Len(t, snap, want)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func TestLogActivityPublishesToFeed(t *testing.T) {
	feed := changefeed.NewMemoryFeed(8, nil)
	defer feed.Close()
	l, _ := newTestLog(t, &memStore{}, Options{Feed: feed, DeviceID: "phone-1"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notes, err := feed.Subscribe(ctx, "fam-1", changefeed.Origin{})
	require.NoError(t, err)

	a, err := l.LogActivity(ctx, "fam-1", "alice", models.ActivityMemberRoleChanged, models.RecordTypeFamily, "fam-1", nil)
	require.NoError(t, err)

	select {
	case n := <-notes:
		assert.Equal(t, models.RecordTypeParentActivity, n.RecordType)
		assert.Equal(t, a.ID, n.RecordID)
		assert.Equal(t, "phone-1", n.DeviceID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestLogActivityFailureIsReturned(t *testing.T) {
	store := &memStore{failWrites: 1}
	l, _ := newTestLog(t, store, Options{})

	_, err := l.LogActivity(context.Background(), "fam-1", "alice", models.ActivitySettingsUpdated, models.RecordTypeFamilySettings, "fam-1", nil)
	require.Error(t, err)
	assert.Empty(t, l.Cached("fam-1"))
}

func TestBestEffortQueuesAndRetries(t *testing.T) {
	store := &memStore{failWrites: 1}
	l, _ := newTestLog(t, store, Options{})
	ctx := context.Background()

	a := l.LogActivityBestEffort(ctx, "fam-1", "alice", models.ActivitySettingsUpdated, models.RecordTypeFamilySettings, "fam-1", nil)
	assert.Nil(t, a)
	assert.Equal(t, 1, l.Pending())

	n, err := l.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, l.Pending())
	assert.Len(t, store.activities, 1)
	assert.Len(t, l.Cached("fam-1"), 1)
}

func TestRetryPendingKeepsFailures(t *testing.T) {
	store := &memStore{failWrites: 2}
	l, _ := newTestLog(t, store, Options{})
	ctx := context.Background()

	l.LogActivityBestEffort(ctx, "fam-1", "alice", models.ActivitySettingsUpdated, models.RecordTypeFamilySettings, "fam-1", nil)

	n, err := l.RetryPending(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, l.Pending())
}

func TestCleanupRetentionBoundary(t *testing.T) {
	store := &memStore{}
	arch := &memArchive{}
	l, c := newTestLog(t, store, Options{Archive: arch})
	now := c.Now()
	cutoff := now.Add(-DefaultRetention)

	store.add(models.ParentActivity{ID: "old", FamilyID: "fam-1", Timestamp: cutoff.Add(-time.Second)})
	store.add(models.ParentActivity{ID: "edge", FamilyID: "fam-1", Timestamp: cutoff})
	store.add(models.ParentActivity{ID: "old-2", FamilyID: "fam-2", Timestamp: cutoff.Add(-time.Hour)})
	store.add(models.ParentActivity{ID: "new", FamilyID: "fam-1", Timestamp: now})

	_, err := l.LoadActivities(context.Background(), "fam-1", 0)
	require.NoError(t, err)

	removed, err := l.CleanupOldActivities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	var remaining []string
	for _, a := range store.activities {
		remaining = append(remaining, a.ID)
	}
	assert.ElementsMatch(t, []string{"edge", "new"}, remaining)

	var cached []string
	for _, a := range l.Cached("fam-1") {
		cached = append(cached, a.ID)
	}
	assert.Equal(t, []string{"new", "edge"}, cached)

	assert.Contains(t, arch.docs, archive.ActivityKey("fam-1", now))
	assert.Contains(t, arch.docs, archive.ActivityKey("fam-2", now))
}

func TestCleanupKeepsActivitiesWhenArchiveFails(t *testing.T) {
	store := &memStore{}
	l, c := newTestLog(t, store, Options{Archive: &memArchive{fail: true}})
	store.add(models.ParentActivity{ID: "old", FamilyID: "fam-1", Timestamp: c.Now().Add(-40 * 24 * time.Hour)})

	_, err := l.CleanupOldActivities(context.Background())
	require.Error(t, err)
	assert.Len(t, store.activities, 1)
}

func TestHandleBackgroundFetch(t *testing.T) {
	store := &memStore{}
	l, c := newTestLog(t, store, Options{})
	ctx := context.Background()
	now := c.Now()

	store.add(models.ParentActivity{ID: "a", FamilyID: "fam-1", Timestamp: now.Add(-2 * time.Minute)})
	store.add(models.ParentActivity{ID: "b", FamilyID: "fam-1", Timestamp: now.Add(-time.Minute)})
	store.add(models.ParentActivity{ID: "ancient", FamilyID: "fam-1", Timestamp: now.Add(-48 * time.Hour)})

	got, err := l.HandleBackgroundFetch(ctx, "fam-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID, "new activities are returned oldest first")
	assert.Equal(t, "b", got[1].ID)

	// a write landing in the same instant as the last seen one is still picked up
	store.add(models.ParentActivity{ID: "c", FamilyID: "fam-1", Timestamp: now.Add(-time.Minute)})
	got, err = l.HandleBackgroundFetch(ctx, "fam-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, now.Add(-time.Minute-fetchOverlap), store.lastQuery.After)

	got, err = l.HandleBackgroundFetch(ctx, "fam-1")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, l.Cached("fam-1"), 3)
}

func TestBackgroundFetchToleratesSkewedDeviceClocks(t *testing.T) {
	store := &memStore{}
	ctx := context.Background()
	phoneA, clockA := newTestLog(t, store, Options{DeviceID: "phone-a"})
	phoneB, clockB := newTestLog(t, store, Options{DeviceID: "phone-b"})
	clockB.Advance(-3 * time.Second)

	for round := 0; round < 3; round++ {
		own, err := phoneA.LogActivity(ctx, "fam-1", "alice", models.ActivityPointsAdjusted,
			models.RecordTypeChildProfile, "child-1", nil)
		require.NoError(t, err)

		clockA.Advance(500 * time.Millisecond)
		clockB.Advance(500 * time.Millisecond)
		remote, err := phoneB.LogActivity(ctx, "fam-1", "bob", models.ActivityRewardRedeemed,
			models.RecordTypeChildProfile, "child-1", nil)
		require.NoError(t, err)
		require.True(t, remote.Timestamp.Before(own.Timestamp), "phone-b stamps behind phone-a")

		got, err := phoneA.HandleBackgroundFetch(ctx, "fam-1")
		require.NoError(t, err)
		require.Len(t, got, 1, "round %d", round)
		assert.Equal(t, remote.ID, got[0].ID)

		clockA.Advance(time.Second)
		clockB.Advance(time.Second)
	}
	assert.Len(t, phoneA.Cached("fam-1"), 6)
}

func TestCreateActivitySubscriptionExcludesSelf(t *testing.T) {
	feed := changefeed.NewMemoryFeed(8, nil)
	defer feed.Close()
	store := &memStore{}
	l, c := newTestLog(t, store, Options{Feed: feed})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := l.CreateActivitySubscription(ctx, "fam-1", "alice")
	require.NoError(t, err)

	remote := models.ParentActivity{ID: "r1", FamilyID: "fam-1", TriggeringUserID: "bob", Timestamp: c.Now().Add(-time.Second)}
	store.add(remote)

	require.NoError(t, feed.Publish(ctx, changefeed.Notification{
		FamilyID:   "fam-1",
		RecordType: models.RecordTypeFamily,
		RecordID:   "fam-1",
		UserID:     "bob",
	}))
	require.NoError(t, feed.Publish(ctx, changefeed.Notification{
		FamilyID:   "fam-1",
		RecordType: models.RecordTypeParentActivity,
		RecordID:   "self",
		UserID:     "alice",
	}))
	require.NoError(t, feed.Publish(ctx, changefeed.Notification{
		FamilyID:   "fam-1",
		RecordType: models.RecordTypeParentActivity,
		RecordID:   remote.ID,
		UserID:     "bob",
	}))

	select {
	case a := <-sub:
		assert.Equal(t, "r1", a.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for remote activity")
	}
}

func TestCreateActivitySubscriptionRequiresFeed(t *testing.T) {
	l, _ := newTestLog(t, &memStore{}, Options{})
	_, err := l.CreateActivitySubscription(context.Background(), "fam-1", "alice")
	assert.ErrorIs(t, err, ErrNoFeed)
}
