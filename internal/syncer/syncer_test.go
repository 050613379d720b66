package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"screentime/internal/changefeed"
	"screentime/internal/models"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeCoordinator struct {
	mu    sync.Mutex
	notes []changefeed.Notification
}

func (f *fakeCoordinator) HandleRemoteChange(_ context.Context, n changefeed.Notification) (models.ConflictState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
	return models.StateClean, nil
}

func (f *fakeCoordinator) received() []changefeed.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]changefeed.Notification(nil), f.notes...)
}

type fakeActivity struct {
	fetches  atomic.Int32
	cleanups atomic.Int32
	retries  atomic.Int32
	started  chan struct{}
	release  chan struct{}
}

func (f *fakeActivity) HandleBackgroundFetch(ctx context.Context, familyID string) ([]models.ParentActivity, error) {
	f.fetches.Add(1)
	if f.started != nil {
		close(f.started)
		f.started = nil
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []models.ParentActivity{{ID: "a1", FamilyID: familyID}}, nil
}

func (f *fakeActivity) CleanupOldActivities(context.Context) (int64, error) {
	f.cleanups.Add(1)
	return 3, nil
}

func (f *fakeActivity) RetryPending(context.Context) (int, error) {
	f.retries.Add(1)
	return 0, nil
}

type fakeSource struct {
	mu      sync.Mutex
	records []Record
}

func (f *fakeSource) Snapshot(_ context.Context, familyID string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, r := range f.records {
		if r.Key.FamilyID == familyID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) set(records ...Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = records
}

type knownTimes map[models.RecordKey]time.Time

func (k knownTimes) LastModified(key models.RecordKey) (time.Time, bool) {
	t, ok := k[key]
	return t, ok
}

func childRecord(id, name string, at time.Time, by string) Record {
	return Record{
		Key:       models.RecordKey{FamilyID: "fam-1", RecordType: models.RecordTypeChildProfile, RecordID: id},
		Fields:    map[string]string{models.FieldName: name},
		UpdatedAt: at,
		UpdatedBy: by,
	}
}

func TestChangeDetector(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{}
	known := knownTimes{}
	d := NewChangeDetector(source, known)

	source.set(childRecord("c1", "Sam", t0, "alice"))
	notes, err := d.Detect(ctx, "fam-1")
	require.NoError(t, err)
	assert.Empty(t, notes, "first snapshot is the baseline")

	source.set(
		childRecord("c1", "Samantha", t0.Add(time.Minute), "bob"),
		childRecord("c2", "Alex", t0.Add(30*time.Second), "bob"),
	)
	notes, err = d.Detect(ctx, "fam-1")
	require.NoError(t, err)
	require.Len(t, notes, 2)

	assert.Equal(t, "c2", notes[0].RecordID, "oldest change first")
	assert.Equal(t, models.ChangeCreate, notes[0].ChangeType)
	assert.Nil(t, notes[0].FieldChanges[0].OldValue)

	assert.Equal(t, "c1", notes[1].RecordID)
	assert.Equal(t, models.ChangeUpdate, notes[1].ChangeType)
	assert.Equal(t, "bob", notes[1].UserID)
	require.Len(t, notes[1].FieldChanges, 1)
	assert.Equal(t, "Sam", *notes[1].FieldChanges[0].OldValue)
	assert.Equal(t, "Samantha", notes[1].FieldChanges[0].NewValueString())

	notes, err = d.Detect(ctx, "fam-1")
	require.NoError(t, err)
	assert.Empty(t, notes, "unchanged records are quiet")
}

func TestChangeDetectorSkipsKnownWrites(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{}
	rec := childRecord("c1", "Sam", t0, "alice")
	known := knownTimes{}
	d := NewChangeDetector(source, known)

	source.set(rec)
	_, err := d.Detect(ctx, "fam-1")
	require.NoError(t, err)

	updated := childRecord("c1", "Sammy", t0.Add(time.Minute), "alice")
	known[updated.Key] = updated.UpdatedAt
	source.set(updated)

	notes, err := d.Detect(ctx, "fam-1")
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestTriggerFetchSharesConcurrentCalls(t *testing.T) {
	act := &fakeActivity{started: make(chan struct{}), release: make(chan struct{})}
	started := act.started
	m := NewManager(nil, &fakeCoordinator{}, act, nil, Options{Logger: zaptest.NewLogger(t)})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.TriggerFetch(context.Background(), "fam-1")
			assert.NoError(t, err)
		}()
	}

	<-started
	time.Sleep(20 * time.Millisecond)
	close(act.release)
	wg.Wait()

	assert.Equal(t, int32(1), act.fetches.Load())
}

func TestTriggerFetchDebounces(t *testing.T) {
	act := &fakeActivity{}
	m := NewManager(nil, &fakeCoordinator{}, act, nil, Options{DebounceInterval: 2 * time.Second})
	now := t0
	m.now = func() time.Time { return now }
	ctx := context.Background()

	got, err := m.TriggerFetch(ctx, "fam-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	now = now.Add(time.Second)
	got, err = m.TriggerFetch(ctx, "fam-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = m.TriggerFetch(ctx, "fam-2")
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = m.TriggerFetch(ctx, "fam-1")
	require.NoError(t, err)

	assert.Equal(t, int32(3), act.fetches.Load())
}

func TestMaintain(t *testing.T) {
	act := &fakeActivity{}
	m := NewManager(nil, &fakeCoordinator{}, act, nil, Options{})

	m.Maintain(context.Background())

	assert.Equal(t, int32(1), act.cleanups.Load())
	assert.Equal(t, int32(1), act.retries.Load())
}

func TestSyncFamilyDispatchesDetectedChanges(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{}
	coord := &fakeCoordinator{}
	act := &fakeActivity{}
	m := NewManager(nil, coord, act, NewChangeDetector(source, nil), Options{})

	source.set(childRecord("c1", "Sam", t0, "alice"))
	m.SyncFamily(ctx, "fam-1")
	assert.Empty(t, coord.received())

	source.set(childRecord("c1", "Sammy", t0.Add(time.Minute), "bob"))
	m.SyncFamily(ctx, "fam-1")

	notes := coord.received()
	require.Len(t, notes, 1)
	assert.Equal(t, "c1", notes[0].RecordID)
}

func TestRunRoutesFeedNotifications(t *testing.T) {
	feed := changefeed.NewMemoryFeed(16, nil)
	defer feed.Close()
	coord := &fakeCoordinator{}
	act := &fakeActivity{}
	m := NewManager(feed, coord, act, nil, Options{
		Families:     []string{"fam-1"},
		DeviceID:     "device-b",
		PollInterval: time.Hour,
		Logger:       zaptest.NewLogger(t),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// wait for the startup poll so the subscription is in place
	require.Eventually(t, func() bool { return act.fetches.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return feed.Subscribers("fam-1") == 1 }, time.Second, 5*time.Millisecond)

	ctx2 := context.Background()
	require.NoError(t, feed.Publish(ctx2, changefeed.Notification{
		FamilyID: "fam-1", RecordType: models.RecordTypeChildProfile, RecordID: "c1", DeviceID: "device-a",
	}))
	require.NoError(t, feed.Publish(ctx2, changefeed.Notification{
		FamilyID: "fam-1", RecordType: models.RecordTypeChildProfile, RecordID: "mine", DeviceID: "device-b",
	}))

	require.Eventually(t, func() bool { return len(coord.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "c1", coord.received()[0].RecordID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop")
	}
}
