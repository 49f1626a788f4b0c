package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/notexe/callminder/internal/logging"
	"github.com/notexe/callminder/internal/metrics"
	"github.com/notexe/callminder/internal/reminder"
)

// ErrPermissionDenied is returned when the platform refuses notifications.
var ErrPermissionDenied = errors.New("notification permission denied")

// Result reports whether Schedule armed a notification.
type Result int

const (
	NotScheduled Result = iota
	Scheduled
)

func (r Result) String() string {
	if r == Scheduled {
		return "scheduled"
	}
	return "not scheduled"
}

const defaultCallDelay = time.Second

// Scheduler wraps a Platform with reminder-aware scheduling.
type Scheduler struct {
	platform  Platform
	logger    *slog.Logger
	metrics   metrics.Observer
	now       func() time.Time
	callDelay time.Duration

	mu    sync.Mutex
	ready bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option       { return func(s *Scheduler) { s.logger = l } }
func WithObserver(o metrics.Observer) Option { return func(s *Scheduler) { s.metrics = o } }
func WithClock(now func() time.Time) Option  { return func(s *Scheduler) { s.now = now } }
func WithCallDelay(d time.Duration) Option   { return func(s *Scheduler) { s.callDelay = d } }

// NewScheduler creates a Scheduler over platform.
func NewScheduler(platform Platform, opts ...Option) *Scheduler {
	s := &Scheduler{
		platform:  platform,
		now:       time.Now,
		callDelay: defaultCallDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDiscard(s.logger).With("component", "notify")
	s.metrics = metrics.OrNop(s.metrics)
	if s.callDelay < 0 {
		s.callDelay = 0
	}
	return s
}

// Init requests permission and creates both channels. It runs once
// successfully; later calls return nil immediately.
func (s *Scheduler) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	granted, err := s.platform.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("request notification permission: %w", err)
	}
	if !granted {
		return ErrPermissionDenied
	}

	for _, ch := range []Channel{ReminderChannel(), VirtualCallChannel()} {
		if err := s.platform.CreateChannel(ctx, ch); err != nil {
			return fmt.Errorf("create channel %s: %w", ch.ID, err)
		}
	}

	s.ready = true
	s.logger.Info("notification channels ready")
	return nil
}

type scheduleOptions struct {
	immediate bool
}

// ScheduleOption modifies a single Schedule call.
type ScheduleOption func(*scheduleOptions)

// WithImmediate fires the notification right away even when the reminder's
// instant is in the past. Used for test reminders.
func WithImmediate() ScheduleOption {
	return func(o *scheduleOptions) { o.immediate = true }
}

// Schedule arms the reminder's notification at its scheduled instant.
// Completed reminders and past instants yield NotScheduled without error.
func (s *Scheduler) Schedule(ctx context.Context, r reminder.Reminder, opts ...ScheduleOption) (Result, error) {
	var o scheduleOptions
	for _, opt := range opts {
		opt(&o)
	}

	if r.Completed {
		return NotScheduled, nil
	}

	at := r.ScheduledAt
	now := s.now()
	if o.immediate {
		at = now.Add(s.callDelay)
	} else if !at.After(now) {
		s.logger.Debug("not scheduling notification for past instant", "reminder_id", r.ID, "at", at)
		return NotScheduled, nil
	}

	if err := s.Init(ctx); err != nil {
		s.metrics.RecordNotification("schedule", err)
		return NotScheduled, err
	}

	err := s.platform.Schedule(ctx, reminderNotification(r, at))
	s.metrics.RecordNotification("schedule", err)
	if err != nil {
		return NotScheduled, fmt.Errorf("schedule notification for reminder %d: %w", r.ID, err)
	}

	s.logger.Debug("notification scheduled", "reminder_id", r.ID, "at", at)
	return Scheduled, nil
}

// Cancel removes both the reminder and the call notification for reminderID.
// Cancelling ids that are not pending is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, reminderID int64) error {
	err := errors.Join(
		s.platform.Cancel(ctx, ReminderNotificationID(reminderID)),
		s.platform.Cancel(ctx, CallNotificationID(reminderID)),
	)
	s.metrics.RecordNotification("cancel", err)
	if err != nil {
		return fmt.Errorf("cancel notifications for reminder %d: %w", reminderID, err)
	}
	return nil
}

// Reschedule cancels then schedules. The brief gap between the two is
// covered by the in-process detector.
func (s *Scheduler) Reschedule(ctx context.Context, r reminder.Reminder) (Result, error) {
	if err := s.Cancel(ctx, r.ID); err != nil {
		return NotScheduled, err
	}
	return s.Schedule(ctx, r)
}

// ShowCall posts the full-screen virtual-call notification for r.
func (s *Scheduler) ShowCall(ctx context.Context, r reminder.Reminder) error {
	if err := s.Init(ctx); err != nil {
		s.metrics.RecordNotification("show_call", err)
		return err
	}
	err := s.platform.Schedule(ctx, callNotification(r, s.now().Add(s.callDelay)))
	s.metrics.RecordNotification("show_call", err)
	if err != nil {
		return fmt.Errorf("show call for reminder %d: %w", r.ID, err)
	}
	s.logger.Info("full-screen call notification posted", "reminder_id", r.ID, "title", r.Title)
	return nil
}

// CancelCall removes only the call notification for reminderID.
func (s *Scheduler) CancelCall(ctx context.Context, reminderID int64) error {
	err := s.platform.Cancel(ctx, CallNotificationID(reminderID))
	s.metrics.RecordNotification("cancel_call", err)
	if err != nil {
		return fmt.Errorf("cancel call notification for reminder %d: %w", reminderID, err)
	}
	return nil
}

// Pending lists the platform's pending notifications.
func (s *Scheduler) Pending(ctx context.Context) ([]Notification, error) {
	return s.platform.ListPending(ctx)
}

// Sync reconciles pending notifications with the stored reminders: every
// future incomplete reminder gets exactly one notification, and pending
// reminder notifications for completed or deleted reminders are cancelled.
// Call notifications are left alone.
func (s *Scheduler) Sync(ctx context.Context, reminders []reminder.Reminder) (int, error) {
	if err := s.Init(ctx); err != nil {
		return 0, err
	}
	pending, err := s.platform.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}

	armed := make(map[int]Notification, len(pending))
	for _, n := range pending {
		armed[n.ID] = n
	}

	var errs []error
	scheduled := 0
	keep := make(map[int]bool, len(reminders))
	now := s.now()
	for _, r := range reminders {
		id := ReminderNotificationID(r.ID)
		if r.Completed || !r.ScheduledAt.After(now) {
			continue
		}
		keep[id] = true
		if n, ok := armed[id]; ok && n.At.Equal(r.ScheduledAt) {
			continue
		}
		if _, err := s.Schedule(ctx, r); err != nil {
			errs = append(errs, err)
			continue
		}
		scheduled++
	}

	for id, n := range armed {
		if n.IsCall() || keep[id] {
			continue
		}
		if err := s.platform.Cancel(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info("notifications synced", "scheduled", scheduled, "reminders", len(reminders))
	return scheduled, errors.Join(errs...)
}

// ReminderChanged keeps the notification in step with an edited reminder.
func (s *Scheduler) ReminderChanged(ctx context.Context, r reminder.Reminder) {
	if _, err := s.Reschedule(ctx, r); err != nil {
		s.logger.Warn("reschedule after change failed", "reminder_id", r.ID, "error", err)
	}
}

// ReminderRemoved drops notifications for a deleted reminder.
func (s *Scheduler) ReminderRemoved(ctx context.Context, id int64) {
	if err := s.Cancel(ctx, id); err != nil {
		s.logger.Warn("cancel after delete failed", "reminder_id", id, "error", err)
	}
}

func reminderNotification(r reminder.Reminder, at time.Time) Notification {
	body := r.Description
	if body == "" {
		body = r.Title
	}
	return Notification{
		ID:         ReminderNotificationID(r.ID),
		ReminderID: r.ID,
		ChannelID:  ChannelReminders,
		Title:      "Reminder",
		Body:       r.Title,
		LargeBody:  body,
		Summary:    fmt.Sprintf("%s • %s priority", r.Category, r.Priority),
		At:         at,
		Sound:      "default",
	}
}

func callNotification(r reminder.Reminder, at time.Time) Notification {
	return Notification{
		ID:         CallNotificationID(r.ID),
		ReminderID: r.ID,
		ChannelID:  ChannelVirtualCalls,
		Title:      "Incoming Reminder Call",
		Body:       r.Title,
		LargeBody:  "Incoming call about: " + r.Title,
		Summary:    "Tap to answer",
		At:         at,
		Sound:      "default",
		Ongoing:    true,
		FullScreen: true,
		Category:   "call",
	}
}
