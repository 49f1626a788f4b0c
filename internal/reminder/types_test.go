package reminder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombine(t *testing.T) {
	loc := time.FixedZone("test", 3*3600)

	tests := []struct {
		name  string
		date  string
		clock string
		want  time.Time
		err   bool
	}{
		{"minutes", "2025-03-01", "09:30", time.Date(2025, 3, 1, 9, 30, 0, 0, loc), false},
		{"seconds", "2025-03-01", "09:30:15", time.Date(2025, 3, 1, 9, 30, 15, 0, loc), false},
		{"bad date", "03/01/2025", "09:30", time.Time{}, true},
		{"bad time", "2025-03-01", "9.30", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Combine(tt.date, tt.clock, loc)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
		})
	}
}

func TestScheduledHalves(t *testing.T) {
	r := Reminder{ScheduledAt: time.Date(2025, 12, 24, 18, 5, 9, 0, time.UTC)}
	assert.Equal(t, "2025-12-24", r.ScheduledDate())
	assert.Equal(t, "18:05:09", r.ScheduledTime())
}

func TestUpdateFieldsIsEmpty(t *testing.T) {
	assert.True(t, UpdateFields{}.IsEmpty())
	done := true
	assert.False(t, UpdateFields{Completed: &done}.IsEmpty())
}

func TestIsTransientSQLiteErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"non-transient", errors.New("syntax error"), false},
		{"busy", errors.New("SQLITE_BUSY"), true},
		{"locked text", errors.New("database is locked"), true},
		{"code 5", errors.New("sqlite: (5) database is busy"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransientSQLiteErr(tt.err))
		})
	}
}

func TestRetryOpRetriesTransientOnly(t *testing.T) {
	cfg := retryConfig{maxRetries: 3, baseDelay: time.Millisecond, maxDelay: 5 * time.Millisecond}

	calls := 0
	err := retryOp(cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	permanent := errors.New("constraint failed")
	err = retryOp(cfg, func() error {
		calls++
		return permanent
	})
	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, calls)
}
