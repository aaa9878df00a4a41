package session

import (
	"context"
	"sync"
)

// InMemory is a channel-backed fan-out bus for a single process.
type InMemory struct {
	size int

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewInMemory creates a bus whose subscribers buffer up to size events.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 16
	}
	return &InMemory{size: size, subs: make(map[int]chan Event)}
}

// Publish delivers evt to every subscriber. A subscriber whose buffer is full
// misses the event rather than stalling the publisher.
func (b *InMemory) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber.
func (b *InMemory) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	ch := make(chan Event, b.size)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-done:
		}
	}()
	return ch, unsubscribe, nil
}
