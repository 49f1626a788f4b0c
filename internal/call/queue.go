// Package call holds the virtual-call queue and its escalation state machine.
package call

import (
	"time"

	"github.com/notexe/callminder/internal/reminder"
)

// State is the call slot's state.
type State int

const (
	Idle State = iota
	Ringing
	Active
)

func (s State) String() string {
	switch s {
	case Ringing:
		return "ringing"
	case Active:
		return "active"
	default:
		return "idle"
	}
}

// Entry is a reminder snapshot taken when it was detected as due.
type Entry struct {
	Reminder   reminder.Reminder `json:"reminder"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	Answered   bool              `json:"answered"`
}

// EnqueueResult reports what Enqueue did with a reminder.
type EnqueueResult int

const (
	Rejected EnqueueResult = iota // already active or queued
	Rang                          // went straight to the call slot
	Queued                        // appended behind the active call
)

func (r EnqueueResult) String() string {
	switch r {
	case Rang:
		return "ringing"
	case Queued:
		return "queued"
	default:
		return "rejected"
	}
}

// Queue is the in-memory call slot plus a FIFO of waiting entries. The slot
// and the waiting list never hold the same reminder id. Queue is not safe for
// concurrent use; Service serializes access.
type Queue struct {
	active  *Entry
	waiting []Entry
}

// Enqueue places r in the call slot when idle, otherwise at the tail of the
// waiting list. A reminder id that is already represented is rejected.
func (q *Queue) Enqueue(r reminder.Reminder, at time.Time) EnqueueResult {
	if q.Contains(r.ID) {
		return Rejected
	}
	e := Entry{Reminder: r, EnqueuedAt: at}
	if q.active == nil && len(q.waiting) == 0 {
		q.active = &e
		return Rang
	}
	q.waiting = append(q.waiting, e)
	q.promote()
	return Queued
}

// Contains reports whether id is in the call slot or waiting.
func (q *Queue) Contains(id int64) bool {
	if q.active != nil && q.active.Reminder.ID == id {
		return true
	}
	for _, e := range q.waiting {
		if e.Reminder.ID == id {
			return true
		}
	}
	return false
}

// Answer moves a ringing call to active. It reports false in any other state.
func (q *Queue) Answer() bool {
	if q.active == nil || q.active.Answered {
		return false
	}
	q.active.Answered = true
	return true
}

// Finish removes the current call and promotes the head of the waiting list.
// It returns the finished entry and, if one was promoted, the new call.
func (q *Queue) Finish() (finished Entry, next *Entry, ok bool) {
	if q.active == nil {
		return Entry{}, nil, false
	}
	finished = *q.active
	q.active = nil
	q.promote()
	if q.active != nil {
		n := *q.active
		next = &n
	}
	return finished, next, true
}

// Remove drops a waiting entry by id. The active call is not touched.
func (q *Queue) Remove(id int64) bool {
	for i, e := range q.waiting {
		if e.Reminder.ID == id {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) promote() {
	if q.active != nil || len(q.waiting) == 0 {
		return
	}
	head := q.waiting[0]
	q.waiting = q.waiting[1:]
	q.active = &head
}

// Active returns a copy of the current call.
func (q *Queue) Active() (Entry, bool) {
	if q.active == nil {
		return Entry{}, false
	}
	return *q.active, true
}

// Len is the number of entries waiting behind the current call.
func (q *Queue) Len() int { return len(q.waiting) }

// Waiting returns a copy of the waiting entries in FIFO order.
func (q *Queue) Waiting() []Entry {
	out := make([]Entry, len(q.waiting))
	copy(out, q.waiting)
	return out
}

// State derives the slot state.
func (q *Queue) State() State {
	switch {
	case q.active == nil:
		return Idle
	case q.active.Answered:
		return Active
	default:
		return Ringing
	}
}
