package repl

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/notexe/callminder/internal/call"
)

func (r *REPL) displayWelcome() {
	fmt.Fprint(r.out, r.formatter.FormatWelcome(string(r.deps.Lifecycle.Mode()), r.deps.StorePath))
}

func (r *REPL) displayError(err error) {
	fmt.Fprintln(r.out, r.formatter.FormatError(err))
}

func (r *REPL) displayInfo(msg string) {
	fmt.Fprintln(r.out, r.formatter.FormatInfo(msg))
}

func (r *REPL) displaySystem(msg string) {
	fmt.Fprintln(r.out, r.formatter.FormatSystem(msg))
}

func (r *REPL) displayStatus() {
	calls := r.deps.Calls
	lines := []string{
		"Mode: " + string(r.deps.Lifecycle.Mode()),
		"Call: " + calls.State().String(),
		"Waiting: " + strconv.Itoa(calls.QueueLength()),
	}
	if taps := r.deps.Lifecycle.PendingTaps(); len(taps) > 0 {
		ids := make([]string, len(taps))
		for i, id := range taps {
			ids[i] = "#" + strconv.FormatInt(id, 10)
		}
		lines = append(lines, "Taps awaiting foreground: "+strings.Join(ids, ", "))
	}
	fmt.Fprintln(r.out, r.formatter.FormatBox("Status", strings.Join(lines, "\n")))

	if e, ok := calls.ActiveCall(); ok {
		fmt.Fprintln(r.out, r.formatter.FormatCall(e, calls.State(), calls.QueueLength()))
	}
}

func (r *REPL) displayPending(ctx context.Context) error {
	if r.deps.Notifications == nil {
		r.displayInfo("Notifications are disabled.")
		return nil
	}
	ns, err := r.deps.Notifications.Pending(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, r.formatter.FormatPending(ns))
	return nil
}

func (r *REPL) printEvents(events <-chan call.Event) {
	for ev := range events {
		fmt.Fprintln(r.out, r.formatter.FormatEvent(ev))
	}
}
