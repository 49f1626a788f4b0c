package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "reminders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAddAppliesDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	at := time.Now().Add(time.Hour).Truncate(time.Second)
	r, err := s.Add(ctx, Reminder{Title: "water plants", ScheduledAt: at})
	require.NoError(t, err)

	assert.NotZero(t, r.ID)
	assert.Equal(t, PriorityMedium, r.Priority)
	assert.Equal(t, CategoryPersonal, r.Category)
	assert.False(t, r.Completed)

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.ScheduledAt.Equal(at))
	assert.Equal(t, "water plants", got.Title)
}

func TestStoreAddRejectsMissingFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, Reminder{ScheduledAt: time.Now()})
	assert.Error(t, err)

	_, err = s.Add(ctx, Reminder{Title: "no time"})
	assert.Error(t, err)
}

func TestStoreListOrdersByScheduleThenID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	late, err := s.Add(ctx, Reminder{Title: "late", ScheduledAt: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	first, err := s.Add(ctx, Reminder{Title: "first", ScheduledAt: base})
	require.NoError(t, err)
	second, err := s.Add(ctx, Reminder{Title: "second", ScheduledAt: base})
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int64{first.ID, second.ID, late.ID}, []int64{list[0].ID, list[1].ID, list[2].ID})
}

func TestStoreUpdatePartialFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.Add(ctx, Reminder{Title: "call mom", Description: "sunday", ScheduledAt: time.Now()})
	require.NoError(t, err)

	newAt := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	done := true
	updated, err := s.Update(ctx, r.ID, UpdateFields{ScheduledAt: &newAt, Completed: &done})
	require.NoError(t, err)

	assert.True(t, updated.ScheduledAt.Equal(newAt))
	assert.True(t, updated.Completed)
	assert.Equal(t, "call mom", updated.Title)
	assert.Equal(t, "sunday", updated.Description)
}

func TestStoreUpdateEmptyReturnsCurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.Add(ctx, Reminder{Title: "x", ScheduledAt: time.Now()})
	require.NoError(t, err)

	got, err := s.Update(ctx, r.ID, UpdateFields{})
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestStoreToggleComplete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.Add(ctx, Reminder{Title: "stretch", ScheduledAt: time.Now()})
	require.NoError(t, err)

	toggled, err := s.ToggleComplete(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Completed)

	toggled, err = s.ToggleComplete(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Completed)
}

func TestStoreListByStatusAndDue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	past, err := s.Add(ctx, Reminder{Title: "past", ScheduledAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	_, err = s.Add(ctx, Reminder{Title: "future", ScheduledAt: now.Add(time.Hour)})
	require.NoError(t, err)
	done, err := s.Add(ctx, Reminder{Title: "done", ScheduledAt: now.Add(-time.Hour), Completed: true})
	require.NoError(t, err)

	pending, err := s.ListByStatus(ctx, StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	completed, err := s.ListByStatus(ctx, StatusCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, done.ID, completed[0].ID)

	due, err := s.ListDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, past.ID, due[0].ID)

	_, err = s.ListByStatus(ctx, "archived")
	assert.Error(t, err)
}

func TestListDueIsAnOverdueFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	old, err := s.Add(ctx, Reminder{Title: "last week", ScheduledAt: now.Add(-7 * 24 * time.Hour)})
	require.NoError(t, err)
	exact, err := s.Add(ctx, Reminder{Title: "now", ScheduledAt: now})
	require.NoError(t, err)
	_, err = s.Add(ctx, Reminder{Title: "in a minute", ScheduledAt: now.Add(time.Minute)})
	require.NoError(t, err)

	due, err := s.ListDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, old.ID, due[0].ID)
	assert.Equal(t, exact.ID, due[1].ID)
}

func TestStoreNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, 42)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.ToggleComplete(ctx, 42)
	assert.True(t, errors.Is(err, ErrNotFound))

	title := "x"
	_, err = s.Update(ctx, 42, UpdateFields{Title: &title})
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.True(t, errors.Is(s.Delete(ctx, 42), ErrNotFound))
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.Add(ctx, Reminder{Title: "gone", ScheduledAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, r.ID))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
