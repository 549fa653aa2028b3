package events

import (
	"context"
	"log"
	"sync"
)

const subscriberBuffer = 64

// MemoryBus fans events out to in-process subscribers. Slow subscribers miss
// events instead of blocking publishers.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[chan Event]struct{})}
}

func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[ev.Collection] {
		select {
		case ch <- ev:
		default:
			log.Printf("[EVENTS] dropping %s event for slow subscriber", ev.Collection)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, collection string) (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	if b.subs[collection] == nil {
		b.subs[collection] = make(map[chan Event]struct{})
	}
	b.subs[collection][ch] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			b.mu.Lock()
			if _, ok := b.subs[collection][ch]; ok {
				delete(b.subs[collection], ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return ch, cancel, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, set := range b.subs {
		for ch := range set {
			close(ch)
		}
	}
	b.subs = make(map[string]map[chan Event]struct{})
	return nil
}
