package events

import (
	"sync"
	"time"
)

// Bus fans events out to subscribers. Each autopilot instance owns its own
// bus, so multiple tenants can run in one process without global state.
//
// Publish never blocks: a subscriber whose channel buffer is full misses the
// event. Observability consumers tolerate gaps; the durable record is the
// cycle history, not the bus.
type Bus struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan Event
	bufSize int
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &Bus{subs: map[int]chan Event{}, bufSize: bufSize}
}

// Subscribe registers a new subscriber. The returned cancel func removes the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufSize)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
