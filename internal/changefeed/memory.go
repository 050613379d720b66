package changefeed

import (
	"context"
	"sync"

	"screentime/internal/pubsub"
)

// MemoryFeed is an in-process feed for single-node deployments and tests.
type MemoryFeed struct {
	pub *pubsub.Publisher[Notification]

	mu     sync.RWMutex
	closed bool
}

// NewMemoryFeed creates an empty feed. onDrop is called when a subscriber
// falls behind by more than buffer notifications.
func NewMemoryFeed(buffer int, onDrop func(familyID string)) *MemoryFeed {
	return &MemoryFeed{pub: pubsub.NewPublisher[Notification](buffer, onDrop)}
}

func (f *MemoryFeed) Publish(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}
	f.pub.Publish(Channel(n.FamilyID), n)
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context, familyID string, exclude Origin) (<-chan Notification, error) {
	f.mu.RLock()
	closed := f.closed
	f.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	in := f.pub.Subscribe(ctx, Channel(familyID))
	return filter(ctx, in, exclude), nil
}

// Subscribers returns the number of live subscriptions for familyID.
func (f *MemoryFeed) Subscribers(familyID string) int {
	return f.pub.Subscribers(Channel(familyID))
}

func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.pub.Close()
	}
	return nil
}

// filter forwards notifications not excluded by origin until in closes or
// ctx is done.
func filter(ctx context.Context, in <-chan Notification, exclude Origin) <-chan Notification {
	out := make(chan Notification, cap(in))
	go func() {
		defer close(out)
		for n := range in {
			if exclude.Excludes(n) {
				continue
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
