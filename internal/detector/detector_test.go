package detector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notexe/callminder/internal/reminder"
)

type staticSource struct {
	mu        sync.Mutex
	reminders []reminder.Reminder
	err       error
	calls     int
}

func (s *staticSource) List(context.Context) ([]reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]reminder.Reminder, len(s.reminders))
	copy(out, s.reminders)
	return out, nil
}

func (s *staticSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type collectingSink struct {
	mu    sync.Mutex
	ticks [][]int64
}

func (c *collectingSink) HandleDue(_ context.Context, due []reminder.Reminder) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, len(due))
	for i, r := range due {
		ids[i] = r.ID
	}
	c.ticks = append(c.ticks, ids)
	return len(due)
}

func (c *collectingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ticks)
}

var now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func at(id int64, offset time.Duration) reminder.Reminder {
	return reminder.Reminder{ID: id, Title: "r", ScheduledAt: now.Add(offset)}
}

func TestScanSelectsWithinTolerance(t *testing.T) {
	done := at(4, 0)
	done.Completed = true
	src := &staticSource{reminders: []reminder.Reminder{
		at(1, -3*time.Minute),
		at(2, -119*time.Second),
		at(3, 0),
		done,
		at(5, 2*time.Minute),
		at(6, 121*time.Second),
		at(7, -72*time.Hour),
	}}
	d := New(src, WithClock(func() time.Time { return now }))

	due, err := d.Scan(context.Background(), 120*time.Second)
	require.NoError(t, err)

	var ids []int64
	for _, r := range due {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{2, 3, 5}, ids)
}

func TestIsDueBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"exact", 0, true},
		{"edge past", -time.Minute, true},
		{"edge future", time.Minute, true},
		{"just past", -time.Minute - time.Second, false},
		{"just future", time.Minute + time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDue(now.Add(tt.offset), now, time.Minute))
		})
	}
}

func TestStartTicksImmediately(t *testing.T) {
	src := &staticSource{reminders: []reminder.Reminder{at(1, 0)}}
	d := New(src, WithClock(func() time.Time { return now }))
	sink := &collectingSink{}

	loop, err := d.Start(context.Background(), Settings{Mode: "foreground", Interval: time.Hour, Tolerance: time.Minute}, sink)
	require.NoError(t, err)
	defer loop.Stop()

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1}, sink.ticks[0])
}

func TestReadFailureSkipsTickButKeepsLooping(t *testing.T) {
	src := &staticSource{reminders: []reminder.Reminder{at(1, 0)}, err: errors.New("disk I/O error")}
	d := New(src, WithClock(func() time.Time { return now }))
	sink := &collectingSink{}

	loop, err := d.Start(context.Background(), Settings{Mode: "background", Interval: 10 * time.Millisecond, Tolerance: time.Minute}, sink)
	require.NoError(t, err)
	defer loop.Stop()

	time.Sleep(35 * time.Millisecond)
	assert.Equal(t, 0, sink.count())

	src.setErr(nil)
	require.Eventually(t, func() bool { return sink.count() > 0 }, time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotentAndFinal(t *testing.T) {
	src := &staticSource{reminders: []reminder.Reminder{at(1, 0)}}
	d := New(src, WithClock(func() time.Time { return now }))

	var ticks atomic.Int32
	sink := SinkFunc(func(context.Context, []reminder.Reminder) int {
		ticks.Add(1)
		return 0
	})

	loop, err := d.Start(context.Background(), Settings{Mode: "foreground", Interval: 5 * time.Millisecond, Tolerance: time.Minute}, sink)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, time.Millisecond)

	loop.Stop()
	loop.Stop()
	after := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, ticks.Load())

	select {
	case <-loop.Done():
	default:
		t.Fatal("loop goroutine still running")
	}
}

func TestStartRejectsBadSettings(t *testing.T) {
	d := New(&staticSource{})
	_, err := d.Start(context.Background(), Settings{Mode: "foreground"}, &collectingSink{})
	assert.Error(t, err)

	_, err = d.Start(context.Background(), Settings{Mode: "foreground", Interval: time.Second, Tolerance: -1}, &collectingSink{})
	assert.Error(t, err)
}

func TestStopNilLoop(t *testing.T) {
	var l *Loop
	assert.NotPanics(t, l.Stop)
}
