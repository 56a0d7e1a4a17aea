package events

import (
	"sync"

	"brazier/knowledge"

	"go.uber.org/zap"
)

// Op identifies the kind of row change carried by an Event.
type Op int

const (
	Inserted Op = iota
	Updated
	Deleted
)

func (o Op) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Event is one knowledge-unit row change. For Deleted events only the ID
// field of Unit is populated.
type Event struct {
	Op   Op
	Unit knowledge.Unit
}

// Bus fans knowledge-unit change events out to subscribers. It decouples
// consumers from the persistence backend's notification mechanism: the store
// publishes after each successful mutation and any component can subscribe.
//
// Publish never blocks: a subscriber whose buffer is full misses the event
// (logged). Consumers needing a consistent view should treat a drop as a cue
// to re-query.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
	logger *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logger,
	}
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns the event stream plus a cancel function. Cancel is idempotent.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has buffer room.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			if b.logger != nil {
				b.logger.Warn("Dropping row-change event for slow subscriber",
					zap.Int("subscriber", id),
					zap.String("op", event.Op.String()),
					zap.String("unit_id", event.Unit.ID.String()))
			}
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
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
