package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/notexe/callminder/internal/logging"
)

const deliverTimeout = 30 * time.Second

// LocalPlatform is an in-process notification facility. Pending
// notifications are keyed by id and fired by timers to a Deliverer.
type LocalPlatform struct {
	mu        sync.Mutex
	channels  map[string]Channel
	pending   map[int]*pendingEntry
	deliverer Deliverer
	logger    *slog.Logger
	now       func() time.Time
	closed    bool
}

type pendingEntry struct {
	n         Notification
	timer     *time.Timer
	delivered bool
}

// NewLocalPlatform creates a platform that hands fired notifications to
// deliverer. A nil deliverer only tracks pending state.
func NewLocalPlatform(deliverer Deliverer, logger *slog.Logger) *LocalPlatform {
	return &LocalPlatform{
		channels:  make(map[string]Channel),
		pending:   make(map[int]*pendingEntry),
		deliverer: deliverer,
		logger:    logging.OrDiscard(logger).With("component", "local-platform"),
		now:       time.Now,
	}
}

// RequestPermission always grants; the process owns its own delivery.
func (p *LocalPlatform) RequestPermission(context.Context) (bool, error) {
	return true, nil
}

// CreateChannel registers or replaces a channel.
func (p *LocalPlatform) CreateChannel(_ context.Context, ch Channel) error {
	if ch.ID == "" {
		return fmt.Errorf("channel id is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[ch.ID] = ch
	return nil
}

// Schedule arms n, replacing any pending notification with the same id.
func (p *LocalPlatform) Schedule(_ context.Context, n Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("platform closed")
	}
	if _, ok := p.channels[n.ChannelID]; !ok {
		return fmt.Errorf("unknown notification channel %q", n.ChannelID)
	}

	if old, ok := p.pending[n.ID]; ok {
		old.timer.Stop()
	}

	entry := &pendingEntry{n: n}
	delay := n.At.Sub(p.now())
	if delay < 0 {
		delay = 0
	}
	entry.timer = time.AfterFunc(delay, func() { p.fire(entry) })
	p.pending[n.ID] = entry
	return nil
}

func (p *LocalPlatform) fire(entry *pendingEntry) {
	p.mu.Lock()
	if p.pending[entry.n.ID] != entry {
		p.mu.Unlock()
		return
	}
	if entry.n.Ongoing {
		entry.delivered = true
	} else {
		delete(p.pending, entry.n.ID)
	}
	deliverer := p.deliverer
	p.mu.Unlock()

	if deliverer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := deliverer.Deliver(ctx, entry.n); err != nil {
		p.logger.Warn("notification delivery failed", "id", entry.n.ID, "reminder_id", entry.n.ReminderID, "error", err)
	}
}

// Cancel removes a pending notification. Unknown ids are a no-op.
func (p *LocalPlatform) Cancel(_ context.Context, id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.pending[id]; ok {
		entry.timer.Stop()
		delete(p.pending, id)
	}
	return nil
}

// ListPending returns pending notifications ordered by id.
func (p *LocalPlatform) ListPending(context.Context) ([]Notification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Notification, 0, len(p.pending))
	for _, entry := range p.pending {
		out = append(out, entry.n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close stops every timer. Later Schedule calls fail.
func (p *LocalPlatform) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, entry := range p.pending {
		entry.timer.Stop()
		delete(p.pending, id)
	}
	p.closed = true
}
