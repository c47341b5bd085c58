package events

import (
	"sync"
)

// Bus is an in-process pub/sub broker over buffered channels. Publishers
// never block: a payload that would stall on a full subscriber is dropped
// and counted instead.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[Event]map[int]chan any
	dropped map[Event]uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[Event]map[int]chan any),
		dropped: make(map[Event]uint64),
	}
}

// Subscribe registers a listener for an event. The returned function
// unsubscribes and closes the channel; calling it more than once is safe.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[e] == nil {
		b.subs[e] = make(map[int]chan any)
	}
	id := b.nextID
	b.nextID++

	ch := make(chan any, buffer)
	b.subs[e][id] = ch

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[e][id]; ok {
			delete(b.subs[e], id)
			close(c)
		}
	}

	return ch, unsub
}

// Publish fans the payload out to current subscribers without blocking.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			b.dropped[e]++
		}
	}
}

// Dropped reports how many payloads for the event were discarded because a
// subscriber's buffer was full.
func (b *Bus) Dropped(e Event) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped[e]
}
