// Package repl is the interactive console: it drives the call state machine
// and the lifecycle bridge by hand and prints every call transition.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/notexe/callminder/internal/call"
	"github.com/notexe/callminder/internal/lifecycle"
	"github.com/notexe/callminder/internal/notify"
	"github.com/notexe/callminder/internal/reminder"
	"github.com/notexe/callminder/internal/ui"
)

// Calls is the call state machine.
type Calls interface {
	ActiveCall() (call.Entry, bool)
	QueueLength() int
	State() call.State
	Enqueue(ctx context.Context, r reminder.Reminder) call.EnqueueResult
	Answer(ctx context.Context) bool
	Dismiss(ctx context.Context) (bool, error)
	Snooze(ctx context.Context, minutes int) (bool, error)
	End(ctx context.Context) (bool, error)
	Events() *call.Broadcaster
}

// Lifecycle receives host lifecycle events.
type Lifecycle interface {
	OnForeground() error
	OnBackground() error
	NotificationTapped(ctx context.Context, reminderID int64) error
	PendingTaps() []int64
	Mode() lifecycle.Mode
}

// Reminders is the reminder store.
type Reminders interface {
	List(ctx context.Context) ([]reminder.Reminder, error)
	Get(ctx context.Context, id int64) (*reminder.Reminder, error)
	Add(ctx context.Context, r reminder.Reminder) (*reminder.Reminder, error)
}

// Notifications lists pending platform notifications.
type Notifications interface {
	Pending(ctx context.Context) ([]notify.Notification, error)
}

// Deps wires the console. Notifications and Observer may be nil.
type Deps struct {
	Calls         Calls
	Lifecycle     Lifecycle
	Reminders     Reminders
	Notifications Notifications
	Observer      reminder.ChangeObserver
	StorePath     string
	Colored       bool
}

type REPL struct {
	deps      Deps
	rl        *readline.Instance
	out       io.Writer
	formatter *ui.Formatter
	now       func() time.Time
}

func NewREPL(deps Deps) (*REPL, error) {
	formatter := ui.NewFormatter(deps.Colored)
	rl, err := setupReadline(formatter.FormatPrompt(string(deps.Lifecycle.Mode())))
	if err != nil {
		return nil, fmt.Errorf("failed to setup readline: %w", err)
	}

	return &REPL{
		deps:      deps,
		rl:        rl,
		out:       rl.Stdout(),
		formatter: formatter,
		now:       time.Now,
	}, nil
}

func newTestREPL(deps Deps, out io.Writer) *REPL {
	return &REPL{
		deps:      deps,
		out:       out,
		formatter: ui.NewFormatter(false),
		now:       time.Now,
	}
}

// Start runs the console until /quit, EOF or ctx is cancelled.
func (r *REPL) Start(ctx context.Context) error {
	defer r.rl.Close()

	events, unsubscribe := r.deps.Calls.Events().Subscribe(32)
	defer unsubscribe()
	go r.printEvents(events)

	stop := context.AfterFunc(ctx, func() { r.rl.Close() })
	defer stop()

	r.displayWelcome()

	for {
		input, err := r.readInput()
		if err != nil {
			if isEOF(err) || ctx.Err() != nil {
				fmt.Fprintln(r.out, "\nGoodbye!")
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		if input == "" {
			continue
		}

		isCommand, command, args := r.parseCommand(input)
		if !isCommand {
			r.displayError(fmt.Errorf("commands start with / (type /help for available commands)"))
			continue
		}

		if err := r.handleCommand(ctx, command, args); err != nil {
			r.displayError(err)
		}

		if command == "/quit" || command == "/exit" || command == "/q" {
			return nil
		}
	}
}

func (r *REPL) Stop() {
	r.rl.Close()
}

func (r *REPL) handleCommand(ctx context.Context, command, args string) error {
	switch command {
	case "/help", "/h":
		fmt.Fprintln(r.out, r.formatter.FormatHelp())
		return nil

	case "/status", "/s":
		r.displayStatus()
		return nil

	case "/list", "/l":
		rs, err := r.deps.Reminders.List(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, r.formatter.FormatReminders(rs, r.now()))
		return nil

	case "/add":
		return r.handleAdd(ctx, args)

	case "/test":
		id, err := parseID(command, args)
		if err != nil {
			return err
		}
		rem, err := r.deps.Reminders.Get(ctx, id)
		if err != nil {
			return err
		}
		if r.deps.Calls.Enqueue(ctx, *rem) == call.Rejected {
			r.displayInfo(fmt.Sprintf("Reminder #%d is completed or already ringing.", id))
		}
		return nil

	case "/answer", "/a":
		if !r.deps.Calls.Answer(ctx) {
			r.displayInfo("No call is ringing.")
		}
		return nil

	case "/dismiss", "/d":
		return r.applied(r.deps.Calls.Dismiss(ctx))

	case "/snooze", "/z":
		minutes := 0
		if args != "" {
			m, err := strconv.Atoi(args)
			if err != nil || m <= 0 {
				return fmt.Errorf("usage: /snooze [minutes]")
			}
			minutes = m
		}
		return r.applied(r.deps.Calls.Snooze(ctx, minutes))

	case "/end", "/e":
		return r.applied(r.deps.Calls.End(ctx))

	case "/bg":
		if err := r.deps.Lifecycle.OnBackground(); err != nil {
			return err
		}
		r.modeChanged()
		return nil

	case "/fg":
		if err := r.deps.Lifecycle.OnForeground(); err != nil {
			return err
		}
		r.modeChanged()
		return nil

	case "/tap":
		id, err := parseID(command, args)
		if err != nil {
			return err
		}
		return r.deps.Lifecycle.NotificationTapped(ctx, id)

	case "/pending", "/p":
		return r.displayPending(ctx)

	case "/quit", "/exit", "/q":
		fmt.Fprintln(r.out, "\nGoodbye!")
		return nil

	default:
		return fmt.Errorf("unknown command: %s (type /help for available commands)", command)
	}
}

// handleAdd accepts "/add <YYYY-MM-DD> <HH:MM> <title>" or "/add +<duration> <title>".
func (r *REPL) handleAdd(ctx context.Context, args string) error {
	const usage = "usage: /add <YYYY-MM-DD> <HH:MM> <title> or /add +<duration> <title>"

	fields := strings.Fields(args)
	var (
		at    time.Time
		title string
	)
	switch {
	case len(fields) >= 2 && strings.HasPrefix(fields[0], "+"):
		d, err := time.ParseDuration(fields[0][1:])
		if err != nil || d < 0 {
			return errors.New(usage)
		}
		at = r.now().Add(d)
		title = strings.Join(fields[1:], " ")
	case len(fields) >= 3:
		t, err := reminder.Combine(fields[0], fields[1], time.Local)
		if err != nil {
			return err
		}
		at = t
		title = strings.Join(fields[2:], " ")
	default:
		return errors.New(usage)
	}

	added, err := r.deps.Reminders.Add(ctx, reminder.Reminder{Title: title, ScheduledAt: at})
	if err != nil {
		return err
	}
	if r.deps.Observer != nil {
		r.deps.Observer.ReminderChanged(ctx, *added)
	}
	r.displaySystem(fmt.Sprintf("Added reminder #%d for %s.", added.ID, added.ScheduledAt.Local().Format("2006-01-02 15:04:05")))
	return nil
}

func (r *REPL) applied(ok bool, err error) error {
	if !ok {
		r.displayInfo("No call in progress.")
	}
	return err
}

func (r *REPL) modeChanged() {
	mode := string(r.deps.Lifecycle.Mode())
	if r.rl != nil {
		r.rl.SetPrompt(r.formatter.FormatPrompt(mode))
	}
	r.displaySystem("Lifecycle mode: " + mode)
}

func parseID(command, args string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("usage: %s <reminder id>", command)
	}
	return id, nil
}

