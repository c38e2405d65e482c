// Package events is an in-process publish/subscribe bus that lets the API
// tell connected admin panels that customer data changed.
package events

import (
	"sync"
	"time"
)

// Event types
const (
	CustomerCreated = "customer.created"
	CustomerUpdated = "customer.updated"
	CustomerDeleted = "customer.deleted"
	PaymentApplied  = "payment.applied"
	CallNoteUpdated = "customer.call_note"
)

// Event is a notification about a changed customer.
type Event struct {
	Type       string    `json:"type"`
	CustomerID int64     `json:"customerId"`
	Data       any       `json:"data,omitempty"`
	At         time.Time `json:"at"`
}

// Bus fans events out to subscribers. A subscriber whose buffer is full
// misses the event; Publish never blocks.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; calling it more than once is safe.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers e to every subscriber with room in its buffer and
// returns how many received it.
func (b *Bus) Publish(e Event) int {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- e:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
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
