package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName    = "reminder"
	serverVersion = "1.0.0"
)

// ChangeObserver is told about every mutation made through the server so that
// platform notifications follow the stored reminders.
type ChangeObserver interface {
	ReminderChanged(ctx context.Context, r Reminder)
	ReminderRemoved(ctx context.Context, id int64)
}

// Observers fans a change out to several observers in order.
type Observers []ChangeObserver

func (o Observers) ReminderChanged(ctx context.Context, r Reminder) {
	for _, obs := range o {
		obs.ReminderChanged(ctx, r)
	}
}

func (o Observers) ReminderRemoved(ctx context.Context, id int64) {
	for _, obs := range o {
		obs.ReminderRemoved(ctx, id)
	}
}

// Server is the MCP server for reminder management.
type Server struct {
	mcpServer *server.MCPServer
	store     *Store
	observer  ChangeObserver
	loc       *time.Location
}

// NewServer creates a new Reminder MCP server backed by the given store.
// observer may be nil.
func NewServer(store *Store, observer ChangeObserver) *Server {
	s := &Server{
		store:    store,
		observer: observer,
		loc:      time.Local,
	}

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
		mcp.NewTool("add_reminder",
			mcp.WithDescription("Add a new reminder with a title, date and time, optional description, priority and category"),
			mcp.WithString("title", mcp.Required(), mcp.Description("Reminder title")),
			mcp.WithString("date", mcp.Required(), mcp.Description("Date in YYYY-MM-DD format")),
			mcp.WithString("time", mcp.Required(), mcp.Description("Time in HH:MM or HH:MM:SS format (local time)")),
			mcp.WithString("description", mcp.Description("Optional description")),
			mcp.WithString("priority", mcp.Description("Priority: low, medium, high (default: medium)")),
			mcp.WithString("category", mcp.Description("Category: personal, work, health, other (default: personal)")),
		),
		s.handleAddReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_reminders",
			mcp.WithDescription("List all reminders, optionally filtered by status (pending or completed)"),
			mcp.WithString("status", mcp.Description("Filter by status: pending, completed, or empty for all")),
		),
		s.handleListReminders,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_due_reminders",
			mcp.WithDescription("List pending reminders scheduled at or before now, including long overdue ones"),
		),
		s.handleGetDueReminders,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("toggle_complete",
			mcp.WithDescription("Toggle a reminder between pending and completed"),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleToggleComplete,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("delete_reminder",
			mcp.WithDescription("Delete a reminder permanently"),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleDeleteReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("update_reminder",
			mcp.WithDescription("Update a reminder's fields (title, description, date, time, priority, category)"),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Reminder ID")),
			mcp.WithString("title", mcp.Description("New title")),
			mcp.WithString("description", mcp.Description("New description")),
			mcp.WithString("date", mcp.Description("New date in YYYY-MM-DD format (requires time)")),
			mcp.WithString("time", mcp.Description("New time in HH:MM[:SS] format (requires date)")),
			mcp.WithString("priority", mcp.Description("New priority: low, medium, high")),
			mcp.WithString("category", mcp.Description("New category: personal, work, health, other")),
		),
		s.handleUpdateReminder,
	)
}

func (s *Server) handleAddReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := req.GetString("title", "")
	date := req.GetString("date", "")
	clock := req.GetString("time", "")
	priority := req.GetString("priority", PriorityMedium)
	category := req.GetString("category", CategoryPersonal)

	if title == "" {
		return mcp.NewToolResultError("title is required"), nil
	}
	if date == "" || clock == "" {
		return mcp.NewToolResultError("date and time are required"), nil
	}
	if !ValidPriority(priority) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid priority %q", priority)), nil
	}
	if !ValidCategory(category) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid category %q", category)), nil
	}

	at, err := Combine(date, clock, s.loc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	added, err := s.store.Add(ctx, Reminder{
		Title:       title,
		Description: req.GetString("description", ""),
		ScheduledAt: at,
		Priority:    priority,
		Category:    category,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add reminder: %v", err)), nil
	}
	if s.observer != nil {
		s.observer.ReminderChanged(ctx, *added)
	}

	return jsonResult(added), nil
}

func (s *Server) handleListReminders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reminders, err := s.store.ListByStatus(ctx, req.GetString("status", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reminders: %v", err)), nil
	}

	if len(reminders) == 0 {
		return mcp.NewToolResultText("No reminders found."), nil
	}
	return jsonResult(reminders), nil
}

func (s *Server) handleGetDueReminders(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reminders, err := s.store.ListDue(ctx, time.Now())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get due reminders: %v", err)), nil
	}

	if len(reminders) == 0 {
		return mcp.NewToolResultText("No due reminders."), nil
	}
	return jsonResult(reminders), nil
}

func (s *Server) handleToggleComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(req)
	if errResult != nil {
		return errResult, nil
	}

	updated, err := s.store.ToggleComplete(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to toggle reminder: %v", err)), nil
	}
	if s.observer != nil {
		s.observer.ReminderChanged(ctx, *updated)
	}

	state := StatusPending
	if updated.Completed {
		state = StatusCompleted
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reminder %d is now %s.", id, state)), nil
}

func (s *Server) handleDeleteReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(req)
	if errResult != nil {
		return errResult, nil
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete reminder: %v", err)), nil
	}
	if s.observer != nil {
		s.observer.ReminderRemoved(ctx, id)
	}

	return mcp.NewToolResultText(fmt.Sprintf("Reminder %d deleted.", id)), nil
}

func (s *Server) handleUpdateReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(req)
	if errResult != nil {
		return errResult, nil
	}

	var fields UpdateFields

	if v := req.GetString("title", ""); v != "" {
		fields.Title = &v
	}
	if v := req.GetString("description", ""); v != "" {
		fields.Description = &v
	}
	date, clock := req.GetString("date", ""), req.GetString("time", "")
	if date != "" || clock != "" {
		if date == "" || clock == "" {
			return mcp.NewToolResultError("date and time must be given together"), nil
		}
		at, err := Combine(date, clock, s.loc)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		fields.ScheduledAt = &at
	}
	if v := req.GetString("priority", ""); v != "" {
		if !ValidPriority(v) {
			return mcp.NewToolResultError(fmt.Sprintf("invalid priority %q", v)), nil
		}
		fields.Priority = &v
	}
	if v := req.GetString("category", ""); v != "" {
		if !ValidCategory(v) {
			return mcp.NewToolResultError(fmt.Sprintf("invalid category %q", v)), nil
		}
		fields.Category = &v
	}

	updated, err := s.store.Update(ctx, id, fields)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("reminder %d not found", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to update reminder: %v", err)), nil
	}
	if s.observer != nil {
		s.observer.ReminderChanged(ctx, *updated)
	}

	return jsonResult(updated), nil
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
