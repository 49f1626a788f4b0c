package reminder

import (
	"errors"
	"fmt"
	"time"
)

// Priority levels for reminders.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Categories for reminders.
const (
	CategoryPersonal = "personal"
	CategoryWork     = "work"
	CategoryHealth   = "health"
	CategoryOther    = "other"
)

// Status filters accepted by ListByStatus.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Layouts for the date and time halves of a scheduled instant.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// ErrNotFound is returned when a reminder id does not exist.
var ErrNotFound = errors.New("reminder not found")

// Reminder represents a scheduled reminder item.
type Reminder struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Priority    string    `json:"priority"`
	Category    string    `json:"category"`
	Completed   bool      `json:"is_completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ScheduledDate returns the date half of the scheduled instant in its own location.
func (r Reminder) ScheduledDate() string {
	return r.ScheduledAt.Format(DateLayout)
}

// ScheduledTime returns the time-of-day half of the scheduled instant.
func (r Reminder) ScheduledTime() string {
	return r.ScheduledAt.Format(TimeLayout)
}

// Combine builds a scheduled instant from a YYYY-MM-DD date and an HH:MM or
// HH:MM:SS clock time in loc. A nil loc means time.Local.
func Combine(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range []string{TimeLayout, "15:04"} {
		t, err := time.ParseInLocation(DateLayout+" "+layout, date+" "+clock, loc)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date/time %q %q (want YYYY-MM-DD and HH:MM[:SS])", date, clock)
}

// UpdateFields holds optional fields for a partial update.
type UpdateFields struct {
	Title       *string
	Description *string
	ScheduledAt *time.Time
	Priority    *string
	Category    *string
	Completed   *bool
}

// IsEmpty reports whether no field is set.
func (f UpdateFields) IsEmpty() bool {
	return f.Title == nil && f.Description == nil && f.ScheduledAt == nil &&
		f.Priority == nil && f.Category == nil && f.Completed == nil
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ValidCategory reports whether c is a known category.
func ValidCategory(c string) bool {
	switch c {
	case CategoryPersonal, CategoryWork, CategoryHealth, CategoryOther:
		return true
	}
	return false
}
