package reminder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed storage for reminders.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at dbPath and
// ensures the reminders table exists.
func NewStore(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := createTable(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func createTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS reminders (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			title        TEXT    NOT NULL,
			description  TEXT    NOT NULL DEFAULT '',
			scheduled_at INTEGER NOT NULL,
			priority     TEXT    NOT NULL DEFAULT 'medium',
			category     TEXT    NOT NULL DEFAULT 'personal',
			completed    INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT    NOT NULL,
			updated_at   TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_reminders_scheduled ON reminders(completed, scheduled_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT id, title, description, scheduled_at, priority, category, completed, created_at, updated_at FROM reminders`

// Add inserts a new reminder and returns it with the assigned ID.
func (s *Store) Add(ctx context.Context, r Reminder) (*Reminder, error) {
	if strings.TrimSpace(r.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}
	if r.ScheduledAt.IsZero() {
		return nil, fmt.Errorf("scheduled time is required")
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if r.Category == "" {
		r.Category = CategoryPersonal
	}
	r.ScheduledAt = r.ScheduledAt.Truncate(time.Second)

	var id int64
	err := retryOp(defaultRetryConfig, func() error {
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO reminders (title, description, scheduled_at, priority, category, completed, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.Title, r.Description, r.ScheduledAt.Unix(), r.Priority, r.Category, boolToInt(r.Completed),
			r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339))
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert reminder: %w", err)
	}
	r.ID = id

	return &r, nil
}

// List returns every reminder ordered by scheduled instant, then id.
// The order is what the detector scans in, so it must stay deterministic.
func (s *Store) List(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY scheduled_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	defer rows.Close()

	return scanReminders(rows)
}

// ListByStatus returns reminders filtered by status (pending or completed).
// Pass an empty string to list all.
func (s *Store) ListByStatus(ctx context.Context, status string) ([]Reminder, error) {
	switch status {
	case "":
		return s.List(ctx)
	case StatusPending, StatusCompleted:
	default:
		return nil, fmt.Errorf("unknown status filter %q", status)
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE completed = ? ORDER BY scheduled_at ASC, id ASC`,
		boolToInt(status == StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	defer rows.Close()

	return scanReminders(rows)
}

// ListDue returns pending reminders whose scheduled instant is at or before
// now, however long overdue. It is a list filter; what rings is decided by
// the detector's tolerance window, which also reaches slightly into the future.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE completed = 0 AND scheduled_at <= ? ORDER BY scheduled_at ASC, id ASC`,
		now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get due reminders: %w", err)
	}
	defer rows.Close()

	return scanReminders(rows)
}

// Get returns a single reminder by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)

	r, err := scanReminder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return r, nil
}

// ToggleComplete flips the completion flag of a reminder.
func (s *Store) ToggleComplete(ctx context.Context, id int64) (*Reminder, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var n int64
	err := retryOp(defaultRetryConfig, func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE reminders SET completed = 1 - completed, updated_at = ? WHERE id = ?
		`, now, id)
		if err != nil {
			return err
		}
		n, _ = result.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to toggle reminder: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	return s.Get(ctx, id)
}

// Delete removes a reminder by ID.
func (s *Store) Delete(ctx context.Context, id int64) error {
	var n int64
	err := retryOp(defaultRetryConfig, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, _ = result.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete reminder: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	return nil
}

// Update applies partial updates to a reminder.
func (s *Store) Update(ctx context.Context, id int64, fields UpdateFields) (*Reminder, error) {
	if fields.IsEmpty() {
		return s.Get(ctx, id)
	}

	setClauses := []string{}
	args := []interface{}{}

	if fields.Title != nil {
		setClauses = append(setClauses, "title = ?")
		args = append(args, *fields.Title)
	}
	if fields.Description != nil {
		setClauses = append(setClauses, "description = ?")
		args = append(args, *fields.Description)
	}
	if fields.ScheduledAt != nil {
		setClauses = append(setClauses, "scheduled_at = ?")
		args = append(args, fields.ScheduledAt.Unix())
	}
	if fields.Priority != nil {
		setClauses = append(setClauses, "priority = ?")
		args = append(args, *fields.Priority)
	}
	if fields.Category != nil {
		setClauses = append(setClauses, "category = ?")
		args = append(args, *fields.Category)
	}
	if fields.Completed != nil {
		setClauses = append(setClauses, "completed = ?")
		args = append(args, boolToInt(*fields.Completed))
	}

	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339))
	args = append(args, id)

	query := "UPDATE reminders SET " + strings.Join(setClauses, ", ") + " WHERE id = ?"

	var n int64
	err := retryOp(defaultRetryConfig, func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, _ = result.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update reminder: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}

	return s.Get(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInto(sc rowScanner) (*Reminder, error) {
	var r Reminder
	var scheduledAt int64
	var completed int
	var createdAt, updatedAt string

	if err := sc.Scan(&r.ID, &r.Title, &r.Description, &scheduledAt,
		&r.Priority, &r.Category, &completed, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	r.ScheduledAt = time.Unix(scheduledAt, 0)
	r.Completed = completed != 0
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

// scanReminders reads multiple rows into a slice of Reminder.
func scanReminders(rows *sql.Rows) ([]Reminder, error) {
	var reminders []Reminder
	for rows.Next() {
		r, err := scanInto(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, *r)
	}
	return reminders, rows.Err()
}

// scanReminder reads a single row into a Reminder.
func scanReminder(row *sql.Row) (*Reminder, error) {
	return scanInto(row)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
