package reminder

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	changed []int64
	removed []int64
}

func (o *recordingObserver) ReminderChanged(_ context.Context, r Reminder) {
	o.changed = append(o.changed, r.ID)
}

func (o *recordingObserver) ReminderRemoved(_ context.Context, id int64) {
	o.removed = append(o.removed, id)
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func invoke(t *testing.T, h handler, args map[string]any) string {
	t.Helper()
	res, err := h(context.Background(), toolRequest(args))
	return resultText(t, res, err)
}

func resultText(t *testing.T, res *mcp.CallToolResult, err error) string {
	t.Helper()
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestServerAddNotifiesEveryObserver(t *testing.T) {
	first, second := &recordingObserver{}, &recordingObserver{}
	srv := NewServer(newTestStore(t), Observers{first, second})
	ctx := context.Background()

	res, err := srv.handleAddReminder(ctx, toolRequest(map[string]any{
		"title": "water plants", "date": "2030-05-01", "time": "08:15", "priority": "high",
	}))
	text := resultText(t, res, err)
	require.False(t, res.IsError, text)

	var added Reminder
	require.NoError(t, json.Unmarshal([]byte(text), &added))
	assert.Equal(t, "water plants", added.Title)
	assert.Equal(t, PriorityHigh, added.Priority)
	assert.Equal(t, []int64{added.ID}, first.changed)
	assert.Equal(t, []int64{added.ID}, second.changed)
}

func TestServerAddValidation(t *testing.T) {
	srv := NewServer(newTestStore(t), nil)
	ctx := context.Background()

	for name, args := range map[string]map[string]any{
		"no title":     {"date": "2030-05-01", "time": "08:15"},
		"no time":      {"title": "x", "date": "2030-05-01"},
		"bad priority": {"title": "x", "date": "2030-05-01", "time": "08:15", "priority": "urgent"},
		"bad category": {"title": "x", "date": "2030-05-01", "time": "08:15", "category": "misc"},
		"bad date":     {"title": "x", "date": "01/05/2030", "time": "08:15"},
	} {
		t.Run(name, func(t *testing.T) {
			res, err := srv.handleAddReminder(ctx, toolRequest(args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}
}

func TestServerUpdateToggleDelete(t *testing.T) {
	store := newTestStore(t)
	obs := &recordingObserver{}
	srv := NewServer(store, obs)
	ctx := context.Background()

	r, err := store.Add(ctx, Reminder{Title: "call mom", ScheduledAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	res, err := srv.handleUpdateReminder(ctx, toolRequest(map[string]any{"id": float64(r.ID), "date": "2030-05-01"}))
	require.NoError(t, err)
	assert.True(t, res.IsError, "date without time")

	res, err = srv.handleUpdateReminder(ctx, toolRequest(map[string]any{"id": float64(r.ID), "title": "call dad"}))
	text := resultText(t, res, err)
	require.False(t, res.IsError, text)
	assert.Contains(t, text, "call dad")

	text = invoke(t, srv.handleToggleComplete, map[string]any{"id": float64(r.ID)})
	assert.Contains(t, text, "completed")

	text = invoke(t, srv.handleDeleteReminder, map[string]any{"id": float64(r.ID)})
	assert.Contains(t, text, "deleted")

	assert.Equal(t, []int64{r.ID, r.ID}, obs.changed)
	assert.Equal(t, []int64{r.ID}, obs.removed)

	res, err = srv.handleUpdateReminder(ctx, toolRequest(map[string]any{"id": float64(r.ID), "title": "gone"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = srv.handleToggleComplete(ctx, toolRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestServerListAndDue(t *testing.T) {
	store := newTestStore(t)
	srv := NewServer(store, nil)
	ctx := context.Background()

	assert.Equal(t, "No reminders found.", invoke(t, srv.handleListReminders, nil))
	assert.Equal(t, "No due reminders.", invoke(t, srv.handleGetDueReminders, nil))

	_, err := store.Add(ctx, Reminder{Title: "overdue", ScheduledAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)

	assert.Contains(t, invoke(t, srv.handleGetDueReminders, nil), "overdue")
	assert.Contains(t, invoke(t, srv.handleListReminders, map[string]any{"status": "pending"}), "overdue")
}
