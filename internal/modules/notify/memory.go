package notify

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// MemoryBus is an in-process bus for single-instance deployments and tests.
// Slow subscribers drop changes rather than block publishers.
type MemoryBus struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]chan Change
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]chan Change)}
}

func (b *MemoryBus) Publish(_ context.Context, c Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[c.TripID] {
		select {
		case ch <- c:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, tripID string) (<-chan Change, func(), error) {
	ch := make(chan Change, subscriberBuffer)

	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[tripID] == nil {
		b.subs[tripID] = make(map[int]chan Change)
	}
	b.subs[tripID][id] = ch
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			b.mu.Lock()
			delete(b.subs[tripID], id)
			if len(b.subs[tripID]) == 0 {
				delete(b.subs, tripID)
			}
			b.mu.Unlock()
			close(ch)
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

func (b *MemoryBus) subscriberCount(tripID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[tripID])
}
