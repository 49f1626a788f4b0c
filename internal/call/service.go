package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/notexe/callminder/internal/logging"
	"github.com/notexe/callminder/internal/metrics"
	"github.com/notexe/callminder/internal/notify"
	"github.com/notexe/callminder/internal/reminder"
)

// Store is the reminder persistence the service writes through.
type Store interface {
	Update(ctx context.Context, id int64, fields reminder.UpdateFields) (*reminder.Reminder, error)
}

// Notifier cancels and re-arms platform notifications.
type Notifier interface {
	Cancel(ctx context.Context, reminderID int64) error
	CancelCall(ctx context.Context, reminderID int64) error
	Reschedule(ctx context.Context, r reminder.Reminder) (notify.Result, error)
}

// EndPolicy decides what End does to the reminder behind the call.
type EndPolicy string

const (
	// EndLeave keeps the reminder incomplete and visible in the list.
	EndLeave EndPolicy = "leave"
	// EndComplete marks the reminder complete, like Dismiss.
	EndComplete EndPolicy = "complete"
	// EndSnooze snoozes by the configured default minutes.
	EndSnooze EndPolicy = "snooze"
)

// ParseEndPolicy validates a policy name.
func ParseEndPolicy(s string) (EndPolicy, error) {
	switch p := EndPolicy(s); p {
	case EndLeave, EndComplete, EndSnooze:
		return p, nil
	case "":
		return EndLeave, nil
	default:
		return "", fmt.Errorf("unknown end policy %q (want leave, complete or snooze)", s)
	}
}

// Config tunes the service.
type Config struct {
	EndPolicy        EndPolicy
	SnoozeMinutes    int
	HandledRetention time.Duration
	// RingTimeout ends a call that rings this long unanswered. Zero disables.
	RingTimeout time.Duration
	// Tolerance is the widest due window of the detector. Snoozes no longer
	// than it are extended past it.
	Tolerance time.Duration
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		EndPolicy:        EndLeave,
		SnoozeMinutes:    5,
		HandledRetention: 10 * time.Minute,
		RingTimeout:      time.Minute,
		Tolerance:        120 * time.Second,
	}
}

const effectTimeout = 30 * time.Second

// occurrence identifies one due instant of one reminder.
type occurrence struct {
	id int64
	at int64
}

func occurrenceOf(r reminder.Reminder) occurrence {
	return occurrence{id: r.ID, at: r.ScheduledAt.Unix()}
}

// Service is the escalation state machine. Transitions are serialized: each
// runs to completion, including its store and notification effects, before
// the next starts. Out-of-order calls return false and change nothing.
type Service struct {
	store    Store
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	metrics  metrics.Observer
	events   *Broadcaster
	now      func() time.Time

	opMu sync.Mutex

	mu      sync.Mutex
	queue   Queue
	handled map[occurrence]time.Time
	ring    *time.Timer
	ringSeq uint64
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option       { return func(s *Service) { s.logger = l } }
func WithObserver(o metrics.Observer) Option { return func(s *Service) { s.metrics = o } }
func WithClock(now func() time.Time) Option  { return func(s *Service) { s.now = now } }
func WithBroadcaster(b *Broadcaster) Option  { return func(s *Service) { s.events = b } }

// NewService creates a Service. A nil notifier disables notification effects.
func NewService(store Store, notifier Notifier, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		handled:  make(map[occurrence]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.cfg.EndPolicy == "" {
		s.cfg.EndPolicy = EndLeave
	}
	if s.cfg.SnoozeMinutes <= 0 {
		s.cfg.SnoozeMinutes = DefaultConfig().SnoozeMinutes
	}
	if s.cfg.HandledRetention <= 0 {
		s.cfg.HandledRetention = DefaultConfig().HandledRetention
	}
	s.logger = logging.OrDiscard(s.logger).With("component", "call")
	s.metrics = metrics.OrNop(s.metrics)
	if s.events == nil {
		s.events = NewBroadcaster(s.logger)
	}
	return s
}

// Events returns the broadcaster transitions are published on.
func (s *Service) Events() *Broadcaster { return s.events }

// Enqueue escalates r. Completed reminders and ids already represented are
// rejected without error.
func (s *Service) Enqueue(ctx context.Context, r reminder.Reminder) EnqueueResult {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.enqueueLocked(r)
}

// HandleDue enqueues due reminders in the given order, skipping occurrences
// the user already finished. It returns how many were accepted.
func (s *Service) HandleDue(ctx context.Context, due []reminder.Reminder) int {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.pruneHandledLocked()
	s.mu.Unlock()

	accepted := 0
	for _, r := range due {
		if s.isHandled(r) {
			continue
		}
		if s.enqueueLocked(r) != Rejected {
			accepted++
		}
	}
	return accepted
}

func (s *Service) enqueueLocked(r reminder.Reminder) EnqueueResult {
	if r.Completed {
		return Rejected
	}
	now := s.now()

	s.mu.Lock()
	res := s.queue.Enqueue(r, now)
	entry, _ := s.queue.Active()
	qlen := s.queue.Len()
	s.mu.Unlock()

	switch res {
	case Rang:
		s.logger.Info("call ringing", "reminder_id", r.ID, "title", r.Title)
		s.ringing(entry, qlen)
	case Queued:
		s.logger.Info("call queued", "reminder_id", r.ID, "queue_length", qlen)
		s.metrics.RecordTransition("enqueue")
		s.metrics.SetQueueLength(qlen)
		s.events.Publish(Event{Kind: EventQueued, Entry: Entry{Reminder: r, EnqueuedAt: now}, QueueLength: qlen, At: now})
	default:
		s.logger.Debug("enqueue rejected", "reminder_id", r.ID)
	}
	return res
}

// Answer moves a ringing call to active. Persisted state is untouched.
func (s *Service) Answer(ctx context.Context) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	ok := s.queue.Answer()
	entry, _ := s.queue.Active()
	qlen := s.queue.Len()
	if ok {
		s.stopRingLocked()
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.logger.Info("call answered", "reminder_id", entry.Reminder.ID)
	s.metrics.RecordTransition("answer")
	s.events.Publish(Event{Kind: EventAnswered, Entry: entry, QueueLength: qlen, At: s.now()})
	return true
}

// Dismiss completes the reminder behind the current call, cancels its
// notifications and promotes the next queued call.
func (s *Service) Dismiss(ctx context.Context) (bool, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	finished, next, ok := s.finish()
	if !ok {
		return false, nil
	}
	err := s.complete(ctx, finished)
	s.after(EventDismissed, finished, next, time.Time{})
	return true, err
}

// Snooze moves the reminder behind the current call to now+minutes and
// re-arms its notification. minutes <= 0 uses the configured default.
func (s *Service) Snooze(ctx context.Context, minutes int) (bool, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	finished, next, ok := s.finish()
	if !ok {
		return false, nil
	}
	until, err := s.snooze(ctx, finished, minutes)
	s.after(EventSnoozed, finished, next, until)
	return true, err
}

// End closes the current call without a definitive action. What happens to
// the reminder depends on the configured EndPolicy.
func (s *Service) End(ctx context.Context) (bool, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	finished, next, ok := s.finish()
	if !ok {
		return false, nil
	}
	until, err := s.applyEndPolicy(ctx, finished)
	s.after(EventEnded, finished, next, until)
	return true, err
}

// Withdraw drops reminder id from the queue without touching the store, for
// reminders completed or deleted elsewhere. A ringing or active call for id is
// ended and the next call promoted.
func (s *Service) Withdraw(ctx context.Context, id int64) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	active, hasActive := s.queue.Active()
	if !hasActive || active.Reminder.ID != id {
		removed := s.queue.Remove(id)
		qlen := s.queue.Len()
		s.mu.Unlock()
		if removed {
			s.metrics.SetQueueLength(qlen)
		}
		return removed
	}
	s.mu.Unlock()

	finished, next, _ := s.finish()
	s.markHandled(finished)
	if err := s.notifier.CancelCall(ctx, id); err != nil {
		s.logger.Warn("cancel call notification failed", "reminder_id", id, "error", err)
	}
	s.after(EventEnded, finished, next, time.Time{})
	return true
}

// ReminderChanged withdraws reminders completed or rescheduled outside the
// call flow.
func (s *Service) ReminderChanged(ctx context.Context, r reminder.Reminder) {
	if r.Completed || s.rescheduled(r) {
		s.Withdraw(ctx, r.ID)
	}
}

// rescheduled reports whether the active or queued snapshot of r is for
// another instant.
func (s *Service) rescheduled(r reminder.Reminder) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.queue.Active(); ok && e.Reminder.ID == r.ID {
		return e.Reminder.ScheduledAt.Unix() != r.ScheduledAt.Unix()
	}
	for _, e := range s.queue.Waiting() {
		if e.Reminder.ID == r.ID {
			return e.Reminder.ScheduledAt.Unix() != r.ScheduledAt.Unix()
		}
	}
	return false
}

// ReminderRemoved withdraws a deleted reminder.
func (s *Service) ReminderRemoved(ctx context.Context, id int64) {
	s.Withdraw(ctx, id)
}

// ActiveCall returns the reminder snapshot being presented, if any.
func (s *Service) ActiveCall() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Active()
}

// QueueLength is the number of calls waiting behind the current one.
func (s *Service) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Waiting returns the queued calls in FIFO order.
func (s *Service) Waiting() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Waiting()
}

// State is the call slot's state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.State()
}

// Contains reports whether reminder id is ringing, active or queued.
func (s *Service) Contains(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Contains(id)
}

// Handled reports whether the user already finished r's current occurrence.
func (s *Service) Handled(r reminder.Reminder) bool {
	return s.isHandled(r)
}

// Close stops the ring timer.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRingLocked()
}

func (s *Service) finish() (Entry, *Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	finished, next, ok := s.queue.Finish()
	if ok {
		s.stopRingLocked()
	}
	return finished, next, ok
}

// after publishes the terminal event and announces any promoted call.
func (s *Service) after(kind EventKind, finished Entry, next *Entry, until time.Time) {
	qlen := s.QueueLength()
	s.logger.Info("call finished", "kind", kind, "reminder_id", finished.Reminder.ID, "queue_length", qlen)
	s.metrics.RecordTransition(string(kind))
	s.events.Publish(Event{Kind: kind, Entry: finished, QueueLength: qlen, At: s.now(), SnoozedUntil: until})
	if next != nil {
		s.logger.Info("call promoted", "reminder_id", next.Reminder.ID)
		s.ringing(*next, qlen)
	} else {
		s.metrics.SetQueueLength(qlen)
	}
}

func (s *Service) ringing(e Entry, qlen int) {
	s.armRing(e.Reminder.ID)
	s.metrics.RecordTransition(string(EventRinging))
	s.metrics.SetQueueLength(qlen)
	s.events.Publish(Event{Kind: EventRinging, Entry: e, QueueLength: qlen, At: s.now()})
}

func (s *Service) complete(ctx context.Context, e Entry) error {
	ctx, cancel := effectContext(ctx)
	defer cancel()

	id := e.Reminder.ID
	completed := true
	var errs []error
	if _, err := s.store.Update(ctx, id, reminder.UpdateFields{Completed: &completed}); err != nil {
		// Left unhandled so the next scan can ring it again.
		s.logger.Warn("mark reminder complete failed", "reminder_id", id, "error", err)
		errs = append(errs, fmt.Errorf("complete reminder %d: %w", id, err))
	} else {
		s.markHandled(e)
	}
	if err := s.notifier.Cancel(ctx, id); err != nil {
		s.logger.Warn("cancel notifications failed", "reminder_id", id, "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Service) snooze(ctx context.Context, e Entry, minutes int) (time.Time, error) {
	ctx, cancel := effectContext(ctx)
	defer cancel()

	if minutes <= 0 {
		minutes = s.cfg.SnoozeMinutes
	}
	id := e.Reminder.ID
	until := snoozeUntil(s.now(), time.Duration(minutes)*time.Minute, s.cfg.Tolerance)

	updated, err := s.store.Update(ctx, id, reminder.UpdateFields{ScheduledAt: &until})
	if err != nil {
		s.logger.Warn("snooze reminder failed", "reminder_id", id, "error", err)
		return time.Time{}, fmt.Errorf("snooze reminder %d: %w", id, err)
	}
	s.markHandled(e)

	if _, err := s.notifier.Reschedule(ctx, *updated); err != nil {
		s.logger.Warn("reschedule after snooze failed", "reminder_id", id, "error", err)
		return until, err
	}
	s.logger.Info("reminder snoozed", "reminder_id", id, "until", until)
	return until, nil
}

// snoozeUntil is now+d. A d inside the due window is extended by the window,
// so the reminder rings again no sooner than d from now.
func snoozeUntil(now time.Time, d, tolerance time.Duration) time.Time {
	if d <= tolerance {
		d += tolerance + time.Second
	}
	return now.Add(d).Truncate(time.Second)
}

func (s *Service) applyEndPolicy(ctx context.Context, e Entry) (time.Time, error) {
	switch s.cfg.EndPolicy {
	case EndComplete:
		return time.Time{}, s.complete(ctx, e)
	case EndSnooze:
		return s.snooze(ctx, e, s.cfg.SnoozeMinutes)
	default:
		ctx, cancel := effectContext(ctx)
		defer cancel()
		s.markHandled(e)
		if err := s.notifier.Cancel(ctx, e.Reminder.ID); err != nil {
			s.logger.Warn("cancel notifications failed", "reminder_id", e.Reminder.ID, "error", err)
			return time.Time{}, err
		}
		return time.Time{}, nil
	}
}

func (s *Service) armRing(id int64) {
	if s.cfg.RingTimeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRingLocked()
	s.ringSeq++
	seq := s.ringSeq
	s.ring = time.AfterFunc(s.cfg.RingTimeout, func() { s.ringExpired(seq, id) })
}

func (s *Service) stopRingLocked() {
	if s.ring != nil {
		s.ring.Stop()
		s.ring = nil
	}
}

// ringExpired ends a call nobody answered.
func (s *Service) ringExpired(seq uint64, id int64) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	active, ok := s.queue.Active()
	current := ok && seq == s.ringSeq && active.Reminder.ID == id && !active.Answered
	s.mu.Unlock()
	if !current {
		return
	}

	finished, next, _ := s.finish()
	s.logger.Info("call missed", "reminder_id", id, "after", s.cfg.RingTimeout)
	until, err := s.applyEndPolicy(context.Background(), finished)
	if err != nil {
		s.logger.Warn("missed call effects failed", "reminder_id", id, "error", err)
	}
	s.after(EventMissed, finished, next, until)
}

func (s *Service) markHandled(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handled[occurrenceOf(e.Reminder)] = s.now()
}

func (s *Service) isHandled(r reminder.Reminder) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handled[occurrenceOf(r)]
	return ok
}

func (s *Service) pruneHandledLocked() {
	cutoff := s.now().Add(-s.cfg.HandledRetention)
	for occ, at := range s.handled {
		if at.Before(cutoff) {
			delete(s.handled, occ)
		}
	}
}

func effectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), effectTimeout)
}

type nopNotifier struct{}

func (nopNotifier) Cancel(context.Context, int64) error     { return nil }
func (nopNotifier) CancelCall(context.Context, int64) error { return nil }
func (nopNotifier) Reschedule(context.Context, reminder.Reminder) (notify.Result, error) {
	return notify.NotScheduled, nil
}
