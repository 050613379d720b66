package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"screentime/internal/models"
)

func note(user, device string) Notification {
	return Notification{
		FamilyID:   "fam",
		RecordType: models.RecordTypeChildProfile,
		RecordID:   "child",
		ChangeType: models.ChangeUpdate,
		UserID:     user,
		DeviceID:   device,
		Timestamp:  time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		FieldChanges: []models.FieldChange{
			{FieldName: models.FieldName, NewValue: models.StringPtr("Sam")},
		},
	}
}

func receive(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "channel closed")
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return Notification{}
}

func assertQuiet(t *testing.T, ch <-chan Notification) {
	t.Helper()
	select {
	case n := <-ch:
		t.Fatalf("unexpected notification from %s/%s", n.UserID, n.DeviceID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOriginExcludes(t *testing.T) {
	n := note("alice", "ipad")
	assert.True(t, Origin{UserID: "alice"}.Excludes(n))
	assert.True(t, Origin{DeviceID: "ipad"}.Excludes(n))
	assert.False(t, Origin{UserID: "bob", DeviceID: "iphone"}.Excludes(n))
	assert.False(t, Origin{}.Excludes(n))
}

func TestNotificationChange(t *testing.T) {
	n := note("alice", "ipad")
	c := n.Change()
	assert.Equal(t, "alice", c.UserID)
	assert.Equal(t, "ipad", c.DeviceID)
	assert.Len(t, c.FieldChanges, 1)
	assert.Equal(t, models.RecordKey{FamilyID: "fam", RecordType: models.RecordTypeChildProfile, RecordID: "child"}, n.Key())
	assert.Equal(t, "screentime:family:fam:changes", Channel("fam"))
}

func TestMemoryFeed(t *testing.T) {
	feed := NewMemoryFeed(16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := feed.Subscribe(ctx, "fam", Origin{DeviceID: "ipad"})
	require.NoError(t, err)

	require.NoError(t, feed.Publish(ctx, note("alice", "ipad")))
	require.NoError(t, feed.Publish(ctx, note("bob", "iphone")))

	got := receive(t, ch)
	assert.Equal(t, "bob", got.UserID)
	assertQuiet(t, ch)

	require.NoError(t, feed.Close())
	assert.ErrorIs(t, feed.Publish(ctx, note("bob", "iphone")), ErrClosed)
	_, err = feed.Subscribe(ctx, "fam", Origin{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRedisFeed(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	feed := NewRedisFeed(client, 16, nil, zaptest.NewLogger(t))
	defer feed.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := feed.Subscribe(ctx, "fam", Origin{UserID: "alice"})
	require.NoError(t, err)

	require.NoError(t, feed.Publish(ctx, note("alice", "ipad")))
	require.NoError(t, feed.Publish(ctx, note("bob", "iphone")))

	got := receive(t, ch)
	assert.Equal(t, "bob", got.UserID)
	assert.Equal(t, "Sam", got.FieldChanges[0].NewValueString())
	assert.True(t, got.Timestamp.Equal(note("", "").Timestamp))
	assertQuiet(t, ch)

	// malformed payloads are skipped
	mr.Publish(Channel("fam"), "not json")
	assertQuiet(t, ch)

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	client.Close()

	mr.Close()
	_, err = NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr()})
	assert.Error(t, err)
}
