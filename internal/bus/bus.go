// Package bus is the in-process event channel shared by the session
// coordinator, sync engine, and UI surfaces. Subscribers receive events over
// a channel and hold an explicit cancel handle, so the same callback can
// never be registered twice by accident.
package bus

import (
	"log/slog"
	"sync"
)

// Type identifies an event class.
type Type string

const (
	TypeLogin          Type = "login"
	TypeLogout         Type = "logout"
	TypeTokenExpired   Type = "token_expired"
	TypeSessionExpired Type = "session_expired"
	TypeSyncStarted    Type = "sync_started"
	TypeSyncFinished   Type = "sync_finished"
	TypeQueueChanged   Type = "queue_changed"
)

// Event is one published occurrence.
type Event struct {
	Type Type
	Data any
}

const subscriberBuffer = 16

// Bus fans events out to subscribers. Publish never blocks: when a
// subscriber's buffer is full the oldest event is dropped.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*Subscription
}

// Subscription is a handle to one subscriber's event stream.
type Subscription struct {
	// C delivers matching events until Cancel is called.
	C <-chan Event

	id     int
	ch     chan Event
	types  map[Type]bool
	bus    *Bus
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers interest in the given event types. An empty type list
// subscribes to everything.
func (b *Bus) Subscribe(types ...Type) *Subscription {
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Cancel removes the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.bus.subs, s.id)
	close(s.ch)
}

// Publish delivers ev to every matching subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[ev.Type] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Buffer full: drop the oldest so the latest event lands.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
				slog.Debug("bus: dropped event", "type", ev.Type)
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
