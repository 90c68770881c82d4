package events

import (
	"sync"

	"beer_counter/internal/ledger"
)

// Bus fans newly recorded events out to live subscribers. Slow subscribers
// miss events rather than block the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan ledger.Event]struct{}
}

func NewBus() *Bus { return &Bus{subs: make(map[chan ledger.Event]struct{})} }

// Subscribe returns a buffered channel and the func that releases it.
func (b *Bus) Subscribe() (<-chan ledger.Event, func()) {
	ch := make(chan ledger.Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Publish(ev ledger.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
