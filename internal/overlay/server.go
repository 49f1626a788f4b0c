// Package overlay exposes the call state machine and the host lifecycle hooks
// as MCP tools, the native bridge a call overlay UI drives.
package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/notexe/callminder/internal/call"
	"github.com/notexe/callminder/internal/lifecycle"
	"github.com/notexe/callminder/internal/reminder"
)

const (
	serverName    = "callminder-overlay"
	serverVersion = "1.0.0"
)

// Calls is the call state machine.
type Calls interface {
	ActiveCall() (call.Entry, bool)
	QueueLength() int
	Waiting() []call.Entry
	State() call.State
	Enqueue(ctx context.Context, r reminder.Reminder) call.EnqueueResult
	Answer(ctx context.Context) bool
	Dismiss(ctx context.Context) (bool, error)
	Snooze(ctx context.Context, minutes int) (bool, error)
	End(ctx context.Context) (bool, error)
}

// Lifecycle receives host lifecycle events.
type Lifecycle interface {
	OnForeground() error
	OnBackground() error
	NotificationTapped(ctx context.Context, reminderID int64) error
	Mode() lifecycle.Mode
}

// Reminders resolves reminders for test calls.
type Reminders interface {
	Get(ctx context.Context, id int64) (*reminder.Reminder, error)
}

// Server is the overlay MCP server.
type Server struct {
	mcpServer *server.MCPServer
	calls     Calls
	lifecycle Lifecycle
	reminders Reminders
}

// NewServer creates the overlay server.
func NewServer(calls Calls, lc Lifecycle, reminders Reminders) *Server {
	s := &Server{calls: calls, lifecycle: lc, reminders: reminders}
	s.mcpServer = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server for serving.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("get_active_call",
			mcp.WithDescription("Get the reminder currently ringing or in call, with the call state and queue length"),
		),
		s.handleGetActiveCall,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_queue_length",
			mcp.WithDescription("Get how many calls are waiting behind the current one"),
		),
		s.handleGetQueueLength,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("answer_call",
			mcp.WithDescription("Answer the ringing call. Does not complete the reminder"),
		),
		s.handleAnswer,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("dismiss_call",
			mcp.WithDescription("Dismiss the current call and mark its reminder complete"),
		),
		s.handleDismiss,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("snooze_call",
			mcp.WithDescription("Snooze the current call's reminder by a number of minutes"),
			mcp.WithNumber("minutes", mcp.Description("Minutes to snooze (default from configuration)")),
		),
		s.handleSnooze,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("end_call",
			mcp.WithDescription("Close the current call without answering, dismissing or snoozing"),
		),
		s.handleEnd,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("trigger_test_call",
			mcp.WithDescription("Ring a reminder right away regardless of its scheduled time"),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleTriggerTestCall,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("app_foreground",
			mcp.WithDescription("Tell the engine the host app came to the foreground"),
		),
		s.handleForeground,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("app_background",
			mcp.WithDescription("Tell the engine the host app went to the background"),
		),
		s.handleBackground,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("notification_tapped",
			mcp.WithDescription("Report a tap on a reminder's full-screen call notification"),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleNotificationTapped,
	)
}

// Status is the overlay's view of the call state.
type Status struct {
	Applied     bool         `json:"applied"`
	State       string       `json:"state"`
	Mode        string       `json:"mode"`
	ActiveCall  *call.Entry  `json:"active_call"`
	QueueLength int          `json:"queue_length"`
	Waiting     []call.Entry `json:"waiting,omitempty"`
	Error       string       `json:"error,omitempty"`
}

func (s *Server) status(applied bool, err error) Status {
	st := Status{
		Applied:     applied,
		State:       s.calls.State().String(),
		Mode:        string(s.lifecycle.Mode()),
		QueueLength: s.calls.QueueLength(),
		Waiting:     s.calls.Waiting(),
	}
	if e, ok := s.calls.ActiveCall(); ok {
		st.ActiveCall = &e
	}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

func (s *Server) handleGetActiveCall(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.status(true, nil)), nil
}

func (s *Server) handleGetQueueLength(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]int{"queue_length": s.calls.QueueLength()}), nil
}

func (s *Server) handleAnswer(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.status(s.calls.Answer(ctx), nil)), nil
}

// Store or notification failures are reported in the status; the
// transition itself has already been applied.
func (s *Server) handleDismiss(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	applied, err := s.calls.Dismiss(ctx)
	return jsonResult(s.status(applied, err)), nil
}

func (s *Server) handleSnooze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	minutes := int(req.GetFloat("minutes", 0))
	if minutes < 0 {
		return mcp.NewToolResultError("minutes must not be negative"), nil
	}
	applied, err := s.calls.Snooze(ctx, minutes)
	return jsonResult(s.status(applied, err)), nil
}

func (s *Server) handleEnd(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	applied, err := s.calls.End(ctx)
	return jsonResult(s.status(applied, err)), nil
}

func (s *Server) handleTriggerTestCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(req)
	if errResult != nil {
		return errResult, nil
	}
	r, err := s.reminders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, reminder.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("reminder %d not found", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load reminder: %v", err)), nil
	}
	res := s.calls.Enqueue(ctx, *r)
	return jsonResult(s.status(res != call.Rejected, nil)), nil
}

func (s *Server) handleForeground(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	err := s.lifecycle.OnForeground()
	return jsonResult(s.status(err == nil, err)), nil
}

func (s *Server) handleBackground(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	err := s.lifecycle.OnBackground()
	return jsonResult(s.status(err == nil, err)), nil
}

func (s *Server) handleNotificationTapped(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(req)
	if errResult != nil {
		return errResult, nil
	}
	err := s.lifecycle.NotificationTapped(ctx, id)
	return jsonResult(s.status(err == nil, err)), nil
}

func requireID(req mcp.CallToolRequest) (int64, *mcp.CallToolResult) {
	idFloat := req.GetFloat("id", -1)
	if idFloat <= 0 {
		return 0, mcp.NewToolResultError("id is required and must be a positive number")
	}
	return int64(idFloat), nil
}

func jsonResult(v any) *mcp.CallToolResult {
	output, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(output))
}

// EventMethod is the MCP notification method carrying call transitions.
const EventMethod = "notifications/callminder/call_event"

// ForwardEvents pushes every call transition to connected clients until
// events is closed or ctx is done.
func (s *Server) ForwardEvents(ctx context.Context, events <-chan call.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.mcpServer.SendNotificationToAllClients(EventMethod, eventParams(ev, s.calls.QueueLength()))
		}
	}
}

func eventParams(ev call.Event, queueLength int) map[string]any {
	params := map[string]any{
		"kind":         string(ev.Kind),
		"reminder_id":  ev.Entry.Reminder.ID,
		"title":        ev.Entry.Reminder.Title,
		"queue_length": queueLength,
		"at":           ev.At,
	}
	if !ev.SnoozedUntil.IsZero() {
		params["snoozed_until"] = ev.SnoozedUntil
	}
	return params
}
