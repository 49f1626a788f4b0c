package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notexe/callminder/internal/notify"
	"github.com/notexe/callminder/internal/reminder"
)

type memStore struct {
	mu        sync.Mutex
	reminders map[int64]reminder.Reminder
	failNext  error
}

func newMemStore(rs ...reminder.Reminder) *memStore {
	m := &memStore{reminders: make(map[int64]reminder.Reminder)}
	for _, r := range rs {
		m.reminders[r.ID] = r
	}
	return m
}

func (m *memStore) Update(_ context.Context, id int64, f reminder.UpdateFields) (*reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return nil, err
	}
	r, ok := m.reminders[id]
	if !ok {
		return nil, reminder.ErrNotFound
	}
	if f.Completed != nil {
		r.Completed = *f.Completed
	}
	if f.ScheduledAt != nil {
		r.ScheduledAt = *f.ScheduledAt
	}
	m.reminders[id] = r
	return &r, nil
}

func (m *memStore) get(id int64) reminder.Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reminders[id]
}

type recordingNotifier struct {
	mu          sync.Mutex
	cancelled   []int64
	callsClosed []int64
	rescheduled []reminder.Reminder
}

func (n *recordingNotifier) Cancel(_ context.Context, id int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, id)
	return nil
}

func (n *recordingNotifier) CancelCall(_ context.Context, id int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callsClosed = append(n.callsClosed, id)
	return nil
}

func (n *recordingNotifier) Reschedule(_ context.Context, r reminder.Reminder) (notify.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rescheduled = append(n.rescheduled, r)
	return notify.Scheduled, nil
}

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func due(id int64, offset time.Duration) reminder.Reminder {
	return reminder.Reminder{ID: id, Title: "task", ScheduledAt: t0.Add(offset)}
}

func newTestService(t *testing.T, cfg Config, rs ...reminder.Reminder) (*Service, *memStore, *recordingNotifier) {
	t.Helper()
	store := newMemStore(rs...)
	n := &recordingNotifier{}
	cfg.RingTimeout = 0
	s := NewService(store, n, cfg, WithClock(func() time.Time { return t0 }))
	t.Cleanup(s.Close)
	return s, store, n
}

func TestDismissCompletesAndPromotesNext(t *testing.T) {
	r1, r2 := due(1, 0), due(2, 5*time.Second)
	s, store, n := newTestService(t, DefaultConfig(), r1, r2)
	ctx := context.Background()

	assert.Equal(t, Rang, s.Enqueue(ctx, r1))
	assert.Equal(t, Queued, s.Enqueue(ctx, r2))
	assert.Equal(t, Ringing, s.State())
	assert.Equal(t, 1, s.QueueLength())

	applied, err := s.Dismiss(ctx)
	require.NoError(t, err)
	require.True(t, applied)

	assert.True(t, store.get(1).Completed)
	assert.Contains(t, n.cancelled, int64(1))

	active, ok := s.ActiveCall()
	require.True(t, ok)
	assert.Equal(t, int64(2), active.Reminder.ID)
	assert.Equal(t, Ringing, s.State())
	assert.Equal(t, 0, s.QueueLength())
}

func TestSnoozeMovesInstantWithoutCompleting(t *testing.T) {
	r := due(7, 0)
	s, store, n := newTestService(t, DefaultConfig(), r)
	ctx := context.Background()

	s.Enqueue(ctx, r)
	applied, err := s.Snooze(ctx, 10)
	require.NoError(t, err)
	require.True(t, applied)

	got := store.get(7)
	assert.False(t, got.Completed)
	assert.WithinDuration(t, t0.Add(10*time.Minute), got.ScheduledAt, time.Second)

	require.Len(t, n.rescheduled, 1)
	assert.True(t, n.rescheduled[0].ScheduledAt.Equal(got.ScheduledAt))
	assert.Equal(t, Idle, s.State())
}

func TestSnoozeInsideDueWindowIsExtended(t *testing.T) {
	r := due(9, 0)
	s, store, _ := newTestService(t, DefaultConfig(), r)
	ctx := context.Background()

	s.Enqueue(ctx, r)
	_, err := s.Snooze(ctx, 1)
	require.NoError(t, err)

	got := store.get(9).ScheduledAt
	assert.True(t, got.Equal(t0.Add(time.Minute+121*time.Second)), "got %s", got)
	// Not due again until the requested minute has passed.
	assert.Greater(t, got.Sub(t0.Add(59*time.Second)), 120*time.Second)
	assert.LessOrEqual(t, got.Sub(t0.Add(time.Minute+time.Second)), 120*time.Second)
}

func TestSnoozeDefaultMinutes(t *testing.T) {
	r := due(8, 0)
	s, store, _ := newTestService(t, DefaultConfig(), r)
	ctx := context.Background()

	s.Enqueue(ctx, r)
	_, err := s.Snooze(ctx, 0)
	require.NoError(t, err)
	assert.WithinDuration(t, t0.Add(5*time.Minute), store.get(8).ScheduledAt, time.Second)
}

func TestInvalidTransitionsAreNoops(t *testing.T) {
	s, _, n := newTestService(t, DefaultConfig())
	ctx := context.Background()

	assert.False(t, s.Answer(ctx))

	for name, fn := range map[string]func() (bool, error){
		"dismiss": func() (bool, error) { return s.Dismiss(ctx) },
		"snooze":  func() (bool, error) { return s.Snooze(ctx, 5) },
		"end":     func() (bool, error) { return s.End(ctx) },
	} {
		t.Run(name, func(t *testing.T) {
			applied, err := fn()
			assert.NoError(t, err)
			assert.False(t, applied)
		})
	}
	assert.Empty(t, n.cancelled)
	assert.Equal(t, Idle, s.State())
}

func TestAnswerThenDismiss(t *testing.T) {
	r := due(3, 0)
	s, store, _ := newTestService(t, DefaultConfig(), r)
	ctx := context.Background()

	s.Enqueue(ctx, r)
	require.True(t, s.Answer(ctx))
	assert.Equal(t, Active, s.State())
	assert.False(t, store.get(3).Completed)
	assert.False(t, s.Answer(ctx))

	applied, err := s.Dismiss(ctx)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, store.get(3).Completed)
}

func TestHandleDueNeverDoublesRingingReminder(t *testing.T) {
	r1 := due(1, 0)
	s, _, _ := newTestService(t, DefaultConfig(), r1)
	ctx := context.Background()

	assert.Equal(t, 1, s.HandleDue(ctx, []reminder.Reminder{r1}))
	assert.Equal(t, 0, s.HandleDue(ctx, []reminder.Reminder{r1}))
	assert.Equal(t, 0, s.QueueLength())
	assert.Equal(t, Ringing, s.State())
}

func TestHandleDueSkipsFinishedOccurrence(t *testing.T) {
	r1 := due(1, 0)
	s, _, _ := newTestService(t, DefaultConfig(), r1)
	ctx := context.Background()

	s.HandleDue(ctx, []reminder.Reminder{r1})
	_, err := s.End(ctx)
	require.NoError(t, err)

	// A scan that read the store before End still carries the old snapshot.
	assert.Equal(t, 0, s.HandleDue(ctx, []reminder.Reminder{r1}))
	assert.Equal(t, Idle, s.State())

	// A new instant for the same reminder is a new occurrence.
	assert.Equal(t, 1, s.HandleDue(ctx, []reminder.Reminder{due(1, time.Hour)}))
}

func TestHandleDueKeepsScanOrder(t *testing.T) {
	rs := []reminder.Reminder{due(5, -time.Minute), due(2, 0), due(9, time.Minute)}
	s, _, _ := newTestService(t, DefaultConfig(), rs...)
	ctx := context.Background()

	assert.Equal(t, 3, s.HandleDue(ctx, rs))
	active, _ := s.ActiveCall()
	assert.Equal(t, int64(5), active.Reminder.ID)

	var waiting []int64
	for _, e := range s.Waiting() {
		waiting = append(waiting, e.Reminder.ID)
	}
	assert.Equal(t, []int64{2, 9}, waiting)
}

func TestEnqueueRejectsCompleted(t *testing.T) {
	r := due(4, 0)
	r.Completed = true
	s, _, _ := newTestService(t, DefaultConfig(), r)
	assert.Equal(t, Rejected, s.Enqueue(context.Background(), r))
}

func TestEndPolicies(t *testing.T) {
	tests := []struct {
		policy        EndPolicy
		wantCompleted bool
		wantMoved     bool
	}{
		{EndLeave, false, false},
		{EndComplete, true, false},
		{EndSnooze, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			r := due(11, 0)
			cfg := DefaultConfig()
			cfg.EndPolicy = tt.policy
			s, store, n := newTestService(t, cfg, r)
			ctx := context.Background()

			s.Enqueue(ctx, r)
			applied, err := s.End(ctx)
			require.NoError(t, err)
			require.True(t, applied)

			got := store.get(11)
			assert.Equal(t, tt.wantCompleted, got.Completed)
			assert.Equal(t, tt.wantMoved, !got.ScheduledAt.Equal(r.ScheduledAt))
			if tt.policy != EndSnooze {
				assert.Contains(t, n.cancelled, int64(11))
			}
			assert.Equal(t, Idle, s.State())
		})
	}
}

func TestDismissStoreFailureStillAdvances(t *testing.T) {
	r1, r2 := due(1, 0), due(2, 0)
	s, store, _ := newTestService(t, DefaultConfig(), r1, r2)
	ctx := context.Background()

	s.Enqueue(ctx, r1)
	s.Enqueue(ctx, r2)
	store.failNext = errors.New("database is locked")

	applied, err := s.Dismiss(ctx)
	assert.True(t, applied)
	assert.Error(t, err)
	assert.False(t, store.get(1).Completed)

	active, _ := s.ActiveCall()
	assert.Equal(t, int64(2), active.Reminder.ID)

	// Not recorded as handled, so the next scan can ring it again.
	_, _ = s.Dismiss(ctx)
	assert.Equal(t, 1, s.HandleDue(ctx, []reminder.Reminder{r1}))
}

func TestWithdrawRemovesQueuedAndActive(t *testing.T) {
	r1, r2, r3 := due(1, 0), due(2, 0), due(3, 0)
	s, store, n := newTestService(t, DefaultConfig(), r1, r2, r3)
	ctx := context.Background()

	s.HandleDue(ctx, []reminder.Reminder{r1, r2, r3})

	s.ReminderRemoved(ctx, 2)
	assert.Equal(t, 1, s.QueueLength())
	assert.False(t, s.Contains(2))

	completed := r1
	completed.Completed = true
	s.ReminderChanged(ctx, completed)
	active, ok := s.ActiveCall()
	require.True(t, ok)
	assert.Equal(t, int64(3), active.Reminder.ID)
	assert.Contains(t, n.callsClosed, int64(1))
	assert.False(t, store.get(1).Completed, "withdraw never writes the store")
}

func TestRescheduledReminderIsWithdrawn(t *testing.T) {
	r1, r2 := due(1, 0), due(2, 0)
	s, store, n := newTestService(t, DefaultConfig(), r1, r2)
	ctx := context.Background()

	s.HandleDue(ctx, []reminder.Reminder{r1, r2})

	s.ReminderChanged(ctx, r1)
	active, ok := s.ActiveCall()
	require.True(t, ok)
	assert.Equal(t, int64(1), active.Reminder.ID, "same instant keeps the call")

	moved := r2
	moved.ScheduledAt = r2.ScheduledAt.Add(24 * time.Hour)
	s.ReminderChanged(ctx, moved)
	assert.False(t, s.Contains(2))
	assert.Equal(t, 0, s.QueueLength())

	moved = r1
	moved.ScheduledAt = r1.ScheduledAt.Add(time.Hour)
	s.ReminderChanged(ctx, moved)
	_, ok = s.ActiveCall()
	assert.False(t, ok)
	assert.Equal(t, Idle, s.State())
	assert.Contains(t, n.callsClosed, int64(1))
	assert.False(t, store.get(1).Completed)
	assert.False(t, store.get(2).Completed)
}

func TestTransitionsPublishEvents(t *testing.T) {
	r1, r2 := due(1, 0), due(2, 0)
	s, _, _ := newTestService(t, DefaultConfig(), r1, r2)
	ctx := context.Background()

	events, unsubscribe := s.Events().Subscribe(0)
	defer unsubscribe()

	s.Enqueue(ctx, r1)
	s.Enqueue(ctx, r2)
	s.Answer(ctx)
	_, _ = s.Dismiss(ctx)

	var kinds []EventKind
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	assert.Equal(t, []EventKind{EventRinging, EventQueued, EventAnswered, EventDismissed, EventRinging}, kinds)
}

func TestUnansweredCallIsMissed(t *testing.T) {
	r := due(6, 0)
	store := newMemStore(r)
	cfg := DefaultConfig()
	cfg.RingTimeout = 20 * time.Millisecond
	s := NewService(store, &recordingNotifier{}, cfg)
	defer s.Close()

	events, unsubscribe := s.Events().Subscribe(0)
	defer unsubscribe()

	s.Enqueue(context.Background(), r)
	require.Eventually(t, func() bool { return len(events) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Idle, s.State())
	assert.False(t, store.get(6).Completed)

	var kinds []EventKind
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	assert.Equal(t, []EventKind{EventRinging, EventMissed}, kinds)
}

func TestAnsweredCallIsNotMissed(t *testing.T) {
	r := due(6, 0)
	cfg := DefaultConfig()
	cfg.RingTimeout = 20 * time.Millisecond
	s := NewService(newMemStore(r), nil, cfg)
	defer s.Close()

	s.Enqueue(context.Background(), r)
	require.True(t, s.Answer(context.Background()))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, Active, s.State())
}

func TestParseEndPolicy(t *testing.T) {
	p, err := ParseEndPolicy("")
	require.NoError(t, err)
	assert.Equal(t, EndLeave, p)

	p, err = ParseEndPolicy("snooze")
	require.NoError(t, err)
	assert.Equal(t, EndSnooze, p)

	_, err = ParseEndPolicy("hangup")
	assert.Error(t, err)
}
