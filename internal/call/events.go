package call

import (
	"log/slog"
	"sync"
	"time"

	"github.com/notexe/callminder/internal/logging"
)

// EventKind names a call transition.
type EventKind string

const (
	EventRinging   EventKind = "ringing"
	EventQueued    EventKind = "queued"
	EventAnswered  EventKind = "answered"
	EventDismissed EventKind = "dismissed"
	EventSnoozed   EventKind = "snoozed"
	EventEnded     EventKind = "ended"
	EventMissed    EventKind = "missed"
)

// Event is published after every applied transition.
type Event struct {
	Kind         EventKind `json:"kind"`
	Entry        Entry     `json:"entry"`
	QueueLength  int       `json:"queue_length"`
	At           time.Time `json:"at"`
	SnoozedUntil time.Time `json:"snoozed_until,omitzero"`
}

const defaultSubscriberBuffer = 16

// Broadcaster fans events out to subscribers. Publish never blocks; a
// subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	logger *slog.Logger
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[int]chan Event),
		logger: logging.OrDiscard(logger),
	}
}

// Subscribe returns a channel of events and a func that unsubscribes and
// closes it. buffer <= 0 uses a default size.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber that has room.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warn("call event dropped for slow subscriber", "subscriber", id, "kind", e.Kind)
		}
	}
}
