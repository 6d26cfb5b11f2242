package discovery

import (
	"sync"

	"evalgo.org/flightdeck/models"
)

// EventKind classifies tree changes.
type EventKind string

const (
	// FOUND: a target appeared
	EventFound EventKind = "FOUND"
	// LOST: a target disappeared
	EventLost EventKind = "LOST"
	// MODIFIED: a target kept its connect URL but its metadata changed
	EventModified EventKind = "MODIFIED"
	// a realm node was added under the universe
	EventRealmAdded EventKind = "REALM_ADDED"
	// a realm node and all of its descendants were removed
	EventRealmRemoved EventKind = "REALM_REMOVED"
)

// Event is a change published by the tree. Target is set for target events.
type Event struct {
	Kind   EventKind     `json:"kind"`
	Realm  string        `json:"realm"`
	Target models.Target `json:"serviceRef"`
}

// IsTargetEvent reports whether the event concerns a single target.
func (e Event) IsTargetEvent() bool {
	switch e.Kind {
	case EventFound, EventLost, EventModified:
		return true
	}
	return false
}

// Subscription receives tree events in publish order.
type Subscription struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
	bus  *bus
	id   int
}

// Events returns the channel events are delivered on.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close detaches the subscription. Pending publishes to it are abandoned.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.bus.remove(s.id)
	})
}

// bus fans events out to bounded subscriber channels. Publishing blocks
// while a subscriber's buffer is full, so slow subscribers apply
// backpressure instead of losing events.
type bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	buffer int
}

func newBus(buffer int) *bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &bus{subs: make(map[int]*Subscription), buffer: buffer}
}

func (b *bus) subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{
		ch:   make(chan Event, b.buffer),
		done: make(chan struct{}),
		bus:  b,
		id:   b.nextID,
	}
	b.subs[s.id] = s
	return s
}

func (b *bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

func (b *bus) publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, ev := range events {
		for _, s := range subs {
			select {
			case s.ch <- ev:
			case <-s.done:
			}
		}
	}
}
