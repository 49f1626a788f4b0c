package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/notexe/callminder/internal/logging"
)

// TapHandler receives taps on call notifications.
type TapHandler interface {
	NotificationTapped(ctx context.Context, reminderID int64) error
}

const defaultRetryDelay = 5 * time.Second

// Poller long-polls getUpdates for Answer button presses.
type Poller struct {
	client     *Client
	handler    TapHandler
	timeout    time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
	offset     int64
}

// NewPoller creates a Poller. timeout is the long-poll wait per request.
func NewPoller(client *Client, handler TapHandler, timeout time.Duration, logger *slog.Logger) *Poller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Poller{
		client:     client,
		handler:    handler,
		timeout:    timeout,
		retryDelay: defaultRetryDelay,
		logger:     logging.OrDiscard(logger).With("component", "telegram-poller"),
	}
}

// Run polls until ctx is done. Request failures are logged and retried.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("polling for call notification taps", "timeout", p.timeout)
	for {
		if err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn("getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.retryDelay):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// PollOnce fetches one batch of updates and dispatches taps from the
// configured chat.
func (p *Poller) PollOnce(ctx context.Context) error {
	payload := map[string]any{
		"timeout":         int(p.timeout / time.Second),
		"allowed_updates": []string{"callback_query"},
	}
	if p.offset > 0 {
		payload["offset"] = p.offset + 1
	}

	var updates []Update
	if err := p.client.Call(ctx, "getUpdates", payload, &updates, p.timeout+10*time.Second); err != nil {
		return err
	}

	for _, u := range updates {
		if u.UpdateID > p.offset {
			p.offset = u.UpdateID
		}
		if u.CallbackQuery != nil {
			p.handleCallback(ctx, u.CallbackQuery)
		}
	}
	return nil
}

func (p *Poller) handleCallback(ctx context.Context, q *CallbackQuery) {
	if q.Message == nil || q.Message.Chat == nil || strconv.FormatInt(q.Message.Chat.ID, 10) != p.client.ChatID() {
		return
	}
	id, ok := ParseTapData(q.Data)
	if !ok {
		return
	}

	answer := "Opening call"
	if err := p.handler.NotificationTapped(ctx, id); err != nil {
		p.logger.Warn("tap handling failed", "reminder_id", id, "error", err)
		answer = "Could not open call"
	} else {
		p.logger.Info("call notification tapped", "reminder_id", id)
	}

	ack := map[string]any{"callback_query_id": q.ID, "text": answer}
	if err := p.client.Call(ctx, "answerCallbackQuery", ack, nil, 0); err != nil {
		p.logger.Debug("answerCallbackQuery failed", "error", err)
	}
}

// ParseTapData extracts the reminder id from Answer button data.
func ParseTapData(data string) (int64, bool) {
	rest, ok := strings.CutPrefix(data, tapPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
