// Package pubsub provides an in-process, per-topic fan-out.
package pubsub

import (
	"context"
	"sync"
)

// DefaultBuffer is the per-subscriber channel capacity used when none is given.
const DefaultBuffer = 64

// Publisher delivers values to every subscriber of a topic. Publishes are
// serialized, so each subscriber sees values in emission order. A subscriber
// whose buffer is full misses the value rather than blocking the publisher.
type Publisher[T any] struct {
	buffer int
	onDrop func(topic string)

	mu       sync.Mutex
	next     uint64
	subs     map[string]map[uint64]chan T
	closed   bool
	done     chan struct{}
	watchers sync.WaitGroup
}

// NewPublisher creates a publisher. onDrop, if set, is called for every value
// a slow subscriber misses.
func NewPublisher[T any](buffer int, onDrop func(topic string)) *Publisher[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Publisher[T]{
		buffer: buffer,
		onDrop: onDrop,
		subs:   make(map[string]map[uint64]chan T),
		done:   make(chan struct{}),
	}
}

// Subscribe registers interest in topic until ctx is done or the publisher
// is closed, at which point the returned channel is closed.
func (p *Publisher[T]) Subscribe(ctx context.Context, topic string) <-chan T {
	ch := make(chan T, p.buffer)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		close(ch)
		return ch
	}
	p.next++
	id := p.next
	if p.subs[topic] == nil {
		p.subs[topic] = make(map[uint64]chan T)
	}
	p.subs[topic][id] = ch
	p.watchers.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.watchers.Done()
		select {
		case <-ctx.Done():
			p.unsubscribe(topic, id)
		case <-p.done:
		}
	}()
	return ch
}

// Publish hands v to every current subscriber of topic.
func (p *Publisher[T]) Publish(topic string, v T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs[topic] {
		select {
		case ch <- v:
		default:
			if p.onDrop != nil {
				p.onDrop(topic)
			}
		}
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (p *Publisher[T]) Subscribers(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[topic])
}

// Close ends every subscription and waits for their watchers to exit. Later
// Subscribe calls get a closed channel.
func (p *Publisher[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	for topic, subs := range p.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(p.subs, topic)
	}
	p.mu.Unlock()

	p.watchers.Wait()
}

func (p *Publisher[T]) unsubscribe(topic string, id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := p.subs[topic]
	ch, ok := subs[id]
	if !ok {
		return
	}
	close(ch)
	delete(subs, id)
	if len(subs) == 0 {
		delete(p.subs, topic)
	}
}
