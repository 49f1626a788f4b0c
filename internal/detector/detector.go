// Package detector polls the reminder store for reminders that are due now.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/notexe/callminder/internal/logging"
	"github.com/notexe/callminder/internal/metrics"
	"github.com/notexe/callminder/internal/reminder"
)

// Source lists reminders in a deterministic order.
type Source interface {
	List(ctx context.Context) ([]reminder.Reminder, error)
}

// Sink receives the due reminders found by one tick.
type Sink interface {
	HandleDue(ctx context.Context, due []reminder.Reminder) int
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, due []reminder.Reminder) int

func (f SinkFunc) HandleDue(ctx context.Context, due []reminder.Reminder) int { return f(ctx, due) }

// Settings configures one polling loop.
type Settings struct {
	Mode      string
	Interval  time.Duration
	Tolerance time.Duration
}

// Detector finds due reminders.
type Detector struct {
	source  Source
	logger  *slog.Logger
	metrics metrics.Observer
	now     func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

func WithLogger(l *slog.Logger) Option       { return func(d *Detector) { d.logger = l } }
func WithObserver(o metrics.Observer) Option { return func(d *Detector) { d.metrics = o } }
func WithClock(now func() time.Time) Option  { return func(d *Detector) { d.now = now } }

// New creates a Detector reading from source.
func New(source Source, opts ...Option) *Detector {
	d := &Detector{source: source, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.OrDiscard(d.logger).With("component", "detector")
	d.metrics = metrics.OrNop(d.metrics)
	return d
}

// Scan returns incomplete reminders whose instant is within tolerance of now,
// in the source's order. Reminders overdue by more than tolerance are never
// returned; they stay visible only in the reminder list.
func (d *Detector) Scan(ctx context.Context, tolerance time.Duration) ([]reminder.Reminder, error) {
	all, err := d.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	now := d.now()
	var due []reminder.Reminder
	for _, r := range all {
		if r.Completed {
			continue
		}
		if IsDue(r.ScheduledAt, now, tolerance) {
			due = append(due, r)
		}
	}
	return due, nil
}

// IsDue reports whether at lies within tolerance of now, on either side.
func IsDue(at, now time.Time, tolerance time.Duration) bool {
	diff := now.Sub(at)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// Tick scans once and hands any due reminders to sink. Read failures are
// logged and the tick is skipped.
func (d *Detector) Tick(ctx context.Context, s Settings, sink Sink) {
	due, err := d.Scan(ctx, s.Tolerance)
	d.metrics.RecordTick(s.Mode, len(due), err)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("due check skipped", "mode", s.Mode, "error", err)
		}
		return
	}
	if len(due) == 0 {
		d.logger.Debug("no due reminders", "mode", s.Mode)
		return
	}
	accepted := sink.HandleDue(ctx, due)
	d.logger.Info("due reminders found", "mode", s.Mode, "due", len(due), "accepted", accepted)
}

// Start runs Tick immediately and then on every interval until the returned
// Loop is stopped or ctx is done.
func (d *Detector) Start(ctx context.Context, s Settings, sink Sink) (*Loop, error) {
	if s.Interval <= 0 {
		return nil, fmt.Errorf("%s detector interval must be positive, got %s", s.Mode, s.Interval)
	}
	if s.Tolerance < 0 {
		return nil, fmt.Errorf("%s detector tolerance must not be negative, got %s", s.Mode, s.Tolerance)
	}

	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{mode: s.Mode, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(l.done)
		d.logger.Info("detector started", "mode", s.Mode, "interval", s.Interval, "tolerance", s.Tolerance)

		d.Tick(ctx, s, sink)

		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				d.logger.Info("detector stopped", "mode", s.Mode)
				return
			case <-ticker.C:
				d.Tick(ctx, s, sink)
			}
		}
	}()
	return l, nil
}

// Loop is the handle of a running detector.
type Loop struct {
	mode   string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Mode is the loop's lifecycle mode.
func (l *Loop) Mode() string { return l.mode }

// Stop cancels the loop and waits for its goroutine, so no tick runs after
// Stop returns. Safe to call more than once.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.once.Do(l.cancel)
	<-l.done
}

// Done is closed when the loop goroutine exits.
func (l *Loop) Done() <-chan struct{} { return l.done }
