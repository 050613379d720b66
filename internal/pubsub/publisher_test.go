package pubsub

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	p := NewPublisher[int](100, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := p.Subscribe(ctx, "fam")
	b := p.Subscribe(ctx, "fam")
	other := p.Subscribe(ctx, "other")

	for i := 0; i < 10; i++ {
		p.Publish("fam", i)
	}

	for _, ch := range []<-chan int{a, b} {
		for i := 0; i < 10; i++ {
			assert.Equal(t, i, <-ch)
		}
	}
	select {
	case v := <-other:
		t.Fatalf("unexpected value %d on other topic", v)
	default:
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	var drops atomic.Int32
	p := NewPublisher[string](1, func(string) { drops.Add(1) })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := p.Subscribe(ctx, "fam")
	p.Publish("fam", "first")
	p.Publish("fam", "second")

	assert.Equal(t, "first", <-ch)
	assert.Equal(t, int32(1), drops.Load())
}

func TestUnsubscribeOnContextDone(t *testing.T) {
	p := NewPublisher[int](0, nil)
	ctx, cancel := context.WithCancel(context.Background())

	ch := p.Subscribe(ctx, "fam")
	require.Equal(t, 1, p.Subscribers("fam"))
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Eventually(t, func() bool { return p.Subscribers("fam") == 0 }, time.Second, 10*time.Millisecond)

	// publishing after unsubscribe must not panic
	p.Publish("fam", 1)
}

func TestClose(t *testing.T) {
	p := NewPublisher[int](0, nil)
	ctx := context.Background()
	ch := p.Subscribe(ctx, "fam")

	p.Close()
	_, ok := <-ch
	assert.False(t, ok)

	late := p.Subscribe(ctx, "fam")
	_, ok = <-late
	assert.False(t, ok)
	p.Close()
}

func TestCloseReleasesWatchers(t *testing.T) {
	p := NewPublisher[int](0, nil)
	// never cancelled
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		p.Subscribe(ctx, "fam")
	}
	require.Equal(t, 10, p.Subscribers("fam"))

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not release subscription watchers")
	}
	assert.Equal(t, 0, p.Subscribers("fam"))
}
