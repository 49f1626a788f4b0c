// Package lifecycle switches due-reminder handling between the in-process
// call queue (foreground) and full-screen platform notifications (background).
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/notexe/callminder/internal/call"
	"github.com/notexe/callminder/internal/detector"
	"github.com/notexe/callminder/internal/logging"
	"github.com/notexe/callminder/internal/reminder"
)

// Mode is the host application's lifecycle state.
type Mode string

const (
	Stopped    Mode = "stopped"
	Foreground Mode = "foreground"
	Background Mode = "background"
)

// ParseMode accepts foreground or background.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Foreground, Background:
		return m, nil
	default:
		return "", fmt.Errorf("unknown lifecycle mode %q", s)
	}
}

// Calls is the call queue as seen by the bridge.
type Calls interface {
	detector.Sink
	Enqueue(ctx context.Context, r reminder.Reminder) call.EnqueueResult
	Handled(r reminder.Reminder) bool
	Contains(id int64) bool
}

// Notifier posts and removes full-screen call notifications.
type Notifier interface {
	ShowCall(ctx context.Context, r reminder.Reminder) error
	CancelCall(ctx context.Context, reminderID int64) error
}

// Reminders resolves a tapped notification back to its reminder.
type Reminders interface {
	Get(ctx context.Context, id int64) (*reminder.Reminder, error)
}

// Config holds the settings of both polling loops.
type Config struct {
	Foreground detector.Settings
	Background detector.Settings
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		Foreground: detector.Settings{Mode: string(Foreground), Interval: 15 * time.Second, Tolerance: 120 * time.Second},
		Background: detector.Settings{Mode: string(Background), Interval: 30 * time.Second, Tolerance: 60 * time.Second},
	}
}

type occurrence struct {
	id int64
	at int64
}

// Bridge owns the single detector loop slot. A mode switch stops the old
// loop and waits for it before the new one starts, so two loops never run
// at once.
type Bridge struct {
	detector  *detector.Detector
	calls     Calls
	notifier  Notifier
	reminders Reminders
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	transition sync.Mutex

	mu       sync.Mutex
	ctx      context.Context
	mode     Mode
	loop     *detector.Loop
	notified map[occurrence]time.Time
	shown    map[int64]bool
	taps     []int64
}

// Option configures a Bridge.
type Option func(*Bridge)

func WithLogger(l *slog.Logger) Option      { return func(b *Bridge) { b.logger = l } }
func WithClock(now func() time.Time) Option { return func(b *Bridge) { b.now = now } }

// New creates a stopped Bridge. A nil notifier disables background
// escalation: due reminders wait for the next foreground.
func New(det *detector.Detector, calls Calls, notifier Notifier, reminders Reminders, cfg Config, opts ...Option) *Bridge {
	b := &Bridge{
		detector:  det,
		calls:     calls,
		notifier:  notifier,
		reminders: reminders,
		cfg:       cfg,
		now:       time.Now,
		ctx:       context.Background(),
		mode:      Stopped,
		notified:  make(map[occurrence]time.Time),
		shown:     make(map[int64]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cfg.Foreground.Mode == "" {
		b.cfg.Foreground.Mode = string(Foreground)
	}
	if b.cfg.Background.Mode == "" {
		b.cfg.Background.Mode = string(Background)
	}
	b.logger = logging.OrDiscard(b.logger).With("component", "lifecycle")
	return b
}

// Start begins in mode. Loops run until Stop or ctx is done.
func (b *Bridge) Start(ctx context.Context, mode Mode) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	switch mode {
	case Background:
		return b.OnBackground()
	default:
		return b.OnForeground()
	}
}

// Mode is the current lifecycle mode.
func (b *Bridge) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// OnBackground swaps the foreground loop for the background loop, which
// posts full-screen notifications instead of ringing in-process.
func (b *Bridge) OnBackground() error {
	b.transition.Lock()
	defer b.transition.Unlock()

	if b.Mode() == Background {
		return nil
	}
	b.stopLoop()

	b.mu.Lock()
	b.mode = Background
	ctx := b.ctx
	b.mu.Unlock()

	loop, err := b.detector.Start(ctx, b.cfg.Background, detector.SinkFunc(b.escalateInBackground))
	if err != nil {
		return fmt.Errorf("start background detector: %w", err)
	}
	b.setLoop(loop)
	b.logger.Info("entered background")
	return nil
}

// OnForeground stops the background loop, turns notifications tapped while
// backgrounded into queued calls, and restarts the foreground loop.
func (b *Bridge) OnForeground() error {
	b.transition.Lock()
	defer b.transition.Unlock()

	if b.Mode() == Foreground {
		return nil
	}
	b.stopLoop()

	b.mu.Lock()
	b.mode = Foreground
	ctx := b.ctx
	taps := b.taps
	shown := b.shown
	b.taps = nil
	b.shown = make(map[int64]bool)
	b.notified = make(map[occurrence]time.Time)
	b.mu.Unlock()

	err := b.reconcile(ctx, taps, shown)

	loop, startErr := b.detector.Start(ctx, b.cfg.Foreground, b.calls)
	if startErr != nil {
		return errors.Join(err, fmt.Errorf("start foreground detector: %w", startErr))
	}
	b.setLoop(loop)
	b.logger.Info("entered foreground", "taps", len(taps), "shown", len(shown))
	return err
}

// NotificationTapped records a tap on a reminder's call notification. While
// backgrounded the tap is held until the next foreground; otherwise it is
// enqueued at once.
func (b *Bridge) NotificationTapped(ctx context.Context, reminderID int64) error {
	b.mu.Lock()
	if b.mode == Background {
		for _, id := range b.taps {
			if id == reminderID {
				b.mu.Unlock()
				return nil
			}
		}
		b.taps = append(b.taps, reminderID)
		b.mu.Unlock()
		b.logger.Info("tap recorded for foreground", "reminder_id", reminderID)
		return nil
	}
	delete(b.shown, reminderID)
	b.mu.Unlock()

	if b.notifier != nil {
		if err := b.notifier.CancelCall(ctx, reminderID); err != nil {
			b.logger.Warn("cancel tapped call notification failed", "reminder_id", reminderID, "error", err)
		}
	}
	_, err := b.enqueueTapped(ctx, reminderID)
	return err
}

// PendingTaps lists taps waiting for the next foreground.
func (b *Bridge) PendingTaps() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int64, len(b.taps))
	copy(out, b.taps)
	return out
}

// Stop stops the current loop.
func (b *Bridge) Stop() {
	b.transition.Lock()
	defer b.transition.Unlock()
	b.stopLoop()
	b.mu.Lock()
	b.mode = Stopped
	b.mu.Unlock()
	b.logger.Info("lifecycle bridge stopped")
}

func (b *Bridge) stopLoop() {
	b.mu.Lock()
	loop := b.loop
	b.loop = nil
	b.mu.Unlock()
	loop.Stop()
}

func (b *Bridge) setLoop(loop *detector.Loop) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loop = loop
}

func (b *Bridge) reconcile(ctx context.Context, taps []int64, shown map[int64]bool) error {
	var errs []error
	if b.notifier != nil {
		for id := range shown {
			if err := b.notifier.CancelCall(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, id := range taps {
		if _, err := b.enqueueTapped(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// enqueueTapped re-reads the reminder so a tap on a stale notification for a
// completed or deleted reminder is ignored.
func (b *Bridge) enqueueTapped(ctx context.Context, id int64) (call.EnqueueResult, error) {
	r, err := b.reminders.Get(ctx, id)
	if errors.Is(err, reminder.ErrNotFound) {
		b.logger.Info("tapped reminder no longer exists", "reminder_id", id)
		return call.Rejected, nil
	}
	if err != nil {
		return call.Rejected, fmt.Errorf("resolve tapped reminder %d: %w", id, err)
	}
	if r.Completed {
		b.logger.Info("tapped reminder already completed", "reminder_id", id)
		return call.Rejected, nil
	}
	res := b.calls.Enqueue(ctx, *r)
	b.logger.Info("tapped reminder enqueued", "reminder_id", id, "result", res)
	return res, nil
}

// escalateInBackground posts one full-screen notification per due occurrence.
func (b *Bridge) escalateInBackground(ctx context.Context, due []reminder.Reminder) int {
	if b.notifier == nil {
		return 0
	}
	now := b.now()
	posted := 0
	for _, r := range due {
		// Already ringing, active or queued in-process.
		if b.calls.Handled(r) || b.calls.Contains(r.ID) {
			continue
		}
		occ := occurrence{id: r.ID, at: r.ScheduledAt.Unix()}

		b.mu.Lock()
		b.pruneNotifiedLocked(now)
		_, seen := b.notified[occ]
		if !seen {
			b.notified[occ] = now
		}
		b.mu.Unlock()
		if seen {
			continue
		}

		if err := b.notifier.ShowCall(ctx, r); err != nil {
			b.logger.Warn("full-screen notification failed", "reminder_id", r.ID, "error", err)
			b.mu.Lock()
			delete(b.notified, occ)
			b.mu.Unlock()
			continue
		}
		b.mu.Lock()
		b.shown[r.ID] = true
		b.mu.Unlock()
		posted++
	}
	return posted
}

// pruneNotifiedLocked forgets occurrences that can no longer be detected.
func (b *Bridge) pruneNotifiedLocked(now time.Time) {
	horizon := now.Add(-2 * b.cfg.Background.Tolerance)
	for occ := range b.notified {
		if time.Unix(occ.at, 0).Before(horizon) {
			delete(b.notified, occ)
		}
	}
}
