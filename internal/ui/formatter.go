package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/notexe/callminder/internal/call"
	"github.com/notexe/callminder/internal/notify"
	"github.com/notexe/callminder/internal/reminder"
)

var (
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")). // Coral red
			Bold(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")) // Warm yellow

	SystemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("183")). // Soft purple
			Italic(true)

	StatusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Medium gray
			Italic(true)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81")).
			Bold(true)

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")). // Green
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")). // Yellow
			Bold(true)

	AccentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("147")) // Light purple

	RingingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("215")). // Orange
			Bold(true)

	CallBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("215")).
			Padding(0, 2)
)

type Formatter struct {
	colored bool
}

func NewFormatter(colored bool) *Formatter {
	return &Formatter{colored: colored}
}

func (f *Formatter) render(style lipgloss.Style, s string) string {
	if f.colored {
		return style.Render(s)
	}
	return s
}

func (f *Formatter) FormatError(err error) string {
	return f.render(ErrorStyle, "Error: ") + err.Error()
}

func (f *Formatter) FormatInfo(info string) string {
	return f.render(InfoStyle, info)
}

func (f *Formatter) FormatSystem(msg string) string {
	return f.render(SystemStyle, msg)
}

func (f *Formatter) FormatStatus(msg string) string {
	return f.render(StatusStyle, msg)
}

func (f *Formatter) FormatWelcome(mode, storePath string) string {
	lines := []string{
		f.render(HeaderStyle, "CallMinder • virtual reminder calls"),
		f.render(DimStyle, "Mode: ") + f.render(SuccessStyle, mode),
		f.render(DimStyle, "Store: ") + storePath,
		"",
		f.render(StatusStyle, "Type /help for commands"),
	}
	return "\n" + f.FormatBox("", strings.Join(lines, "\n")) + "\n\n"
}

const helpMarkdown = `# Commands

| Command | Action |
|---|---|
| ` + "`/status`" + ` | Current call, queue and lifecycle mode |
| ` + "`/list`" + ` | All reminders |
| ` + "`/add <date> <time> <title>`" + ` | Add a reminder (YYYY-MM-DD HH:MM) |
| ` + "`/test <id>`" + ` | Ring a reminder now |
| ` + "`/answer`" + ` | Answer the ringing call |
| ` + "`/dismiss`" + ` | Complete the reminder and hang up |
| ` + "`/snooze [minutes]`" + ` | Move the reminder later and hang up (snoozes inside the due window are extended past it) |
| ` + "`/end`" + ` | Hang up without a decision |
| ` + "`/bg`" + `, ` + "`/fg`" + ` | Simulate the app going to background or foreground |
| ` + "`/tap <id>`" + ` | Tap a full-screen call notification |
| ` + "`/pending`" + ` | Pending platform notifications |
| ` + "`/quit`" + ` | Exit |
`

// FormatHelp renders the command table, through glamour when colored.
func (f *Formatter) FormatHelp() string {
	if f.colored {
		if out, err := RenderMarkdown(helpMarkdown); err == nil {
			return out + "\n"
		}
	}
	return helpMarkdown
}

// RenderMarkdown renders markdown for the terminal.
func RenderMarkdown(md string) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	out, err := renderer.Render(md)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// FormatPrompt returns the input prompt for the lifecycle mode.
func (f *Formatter) FormatPrompt(mode string) string {
	return f.render(AccentStyle, "callminder") + f.render(DimStyle, " ["+mode+"]") + f.render(SuccessStyle, " > ")
}

// FormatCall renders the call slot.
func (f *Formatter) FormatCall(e call.Entry, state call.State, queueLength int) string {
	r := e.Reminder
	header := "📞 Incoming reminder call"
	if state == call.Active {
		header = "🟢 In call"
	}
	lines := []string{
		f.render(RingingStyle, header),
		f.render(HeaderStyle, r.Title),
	}
	if r.Description != "" {
		lines = append(lines, r.Description)
	}
	lines = append(lines,
		f.render(DimStyle, fmt.Sprintf("#%d • %s %s • %s • %s", r.ID, r.ScheduledDate(), r.ScheduledTime(), r.Priority, r.Category)),
	)
	if queueLength > 0 {
		lines = append(lines, f.render(WarningStyle, fmt.Sprintf("%d more waiting", queueLength)))
	}
	if state == call.Ringing {
		lines = append(lines, f.render(StatusStyle, "/answer  /dismiss  /snooze [m]  /end"))
	} else {
		lines = append(lines, f.render(StatusStyle, "/dismiss  /snooze [m]  /end"))
	}
	body := strings.Join(lines, "\n")
	if f.colored {
		return CallBoxStyle.Render(body)
	}
	return body
}

// FormatEvent renders a call transition.
func (f *Formatter) FormatEvent(ev call.Event) string {
	r := ev.Entry.Reminder
	switch ev.Kind {
	case call.EventRinging:
		return f.FormatCall(ev.Entry, call.Ringing, ev.QueueLength)
	case call.EventQueued:
		return f.render(WarningStyle, "⏳ queued: ") + r.Title + f.render(DimStyle, fmt.Sprintf(" (%d waiting)", ev.QueueLength))
	case call.EventAnswered:
		return f.render(SuccessStyle, "🟢 answered: ") + r.Title
	case call.EventDismissed:
		return f.render(SuccessStyle, "✓ completed: ") + r.Title
	case call.EventSnoozed:
		until := ""
		if !ev.SnoozedUntil.IsZero() {
			until = " until " + ev.SnoozedUntil.Local().Format("15:04")
		}
		return f.render(InfoStyle, "💤 snoozed: ") + r.Title + until
	case call.EventMissed:
		return f.render(ErrorStyle, "✗ missed: ") + r.Title
	default:
		return f.render(StatusStyle, "call ended: ") + r.Title
	}
}

// FormatReminders renders the reminder list.
func (f *Formatter) FormatReminders(rs []reminder.Reminder, now time.Time) string {
	if len(rs) == 0 {
		return f.FormatInfo("No reminders.")
	}
	var b strings.Builder
	for _, r := range rs {
		mark := "○"
		switch {
		case r.Completed:
			mark = f.render(SuccessStyle, "✓")
		case r.ScheduledAt.Before(now):
			mark = f.render(ErrorStyle, "!")
		}
		fmt.Fprintf(&b, "%s %s %s %s %s\n",
			mark,
			f.render(DimStyle, fmt.Sprintf("#%-4d", r.ID)),
			r.ScheduledAt.Local().Format("2006-01-02 15:04"),
			f.priority(r.Priority),
			r.Title,
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (f *Formatter) priority(p string) string {
	label := fmt.Sprintf("%-6s", p)
	switch p {
	case reminder.PriorityHigh:
		return f.render(ErrorStyle, label)
	case reminder.PriorityLow:
		return f.render(DimStyle, label)
	default:
		return f.render(InfoStyle, label)
	}
}

// FormatPending renders pending platform notifications.
func (f *Formatter) FormatPending(ns []notify.Notification) string {
	if len(ns) == 0 {
		return f.FormatInfo("No pending notifications.")
	}
	var b strings.Builder
	for _, n := range ns {
		kind := "reminder"
		if n.IsCall() {
			kind = f.render(RingingStyle, "call    ")
		}
		fmt.Fprintf(&b, "%s %s reminder #%d at %s %s\n",
			f.render(DimStyle, fmt.Sprintf("id=%-5d", n.ID)),
			kind,
			n.ReminderID,
			n.At.Local().Format("2006-01-02 15:04:05"),
			n.Body,
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatBox wraps content in a styled box
func (f *Formatter) FormatBox(title, content string) string {
	if f.colored {
		borderStyle := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

		box := borderStyle.Render(content)
		if title == "" {
			return box
		}
		return HeaderStyle.Render(title) + "\n" + box
	}
	if title == "" {
		return content
	}
	return title + "\n" + content
}
