package fetcher

import (
	"sync"

	"go.uber.org/zap"
)

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses events, which is acceptable because every
// consumer treats the streams as advisory and re-checks authoritative state
// (status endpoint, durable store) on demand.
type Bus[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	next   int
	closed bool
	logger *zap.Logger
}

// NewBus creates an empty Bus.
func NewBus[T any](logger *zap.Logger) *Bus[T] {
	return &Bus[T]{
		subs:   make(map[int]chan T),
		logger: logger,
	}
}

// Subscribe registers a consumer and returns its channel plus an
// unsubscribe handle. Unsubscribing closes the channel; it is safe to call
// the handle more than once.
func (b *Bus[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers the event to every subscriber that has room.
func (b *Bus[T]) Publish(event T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Debug("event dropped, subscriber buffer full", zap.Int("subscriber", id))
		}
	}
}

// Close drops all subscribers and closes their channels. Publish after
// Close is a no-op.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
