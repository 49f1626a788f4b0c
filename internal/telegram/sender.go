package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/notexe/callminder/internal/logging"
	"github.com/notexe/callminder/internal/notify"
)

// tapPrefix marks callback data produced by a call notification's button.
const tapPrefix = "tap:"

// Sender delivers fired notifications to the configured chat.
type Sender struct {
	client *Client
	logger *slog.Logger
}

// NewSender creates a Sender over client.
func NewSender(client *Client, logger *slog.Logger) *Sender {
	return &Sender{
		client: client,
		logger: logging.OrDiscard(logger).With("component", "telegram"),
	}
}

type sendMessageRequest struct {
	ChatID      string          `json:"chat_id"`
	Text        string          `json:"text"`
	ParseMode   string          `json:"parse_mode"`
	ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

// SendMessage sends HTML text to the configured chat.
func (s *Sender) SendMessage(ctx context.Context, text string) error {
	return s.send(ctx, sendMessageRequest{ChatID: s.client.ChatID(), Text: text, ParseMode: "HTML"})
}

// Deliver renders n as a chat message. Call notifications carry an Answer
// button whose press comes back through the Poller as a tap.
func (s *Sender) Deliver(ctx context.Context, n notify.Notification) error {
	req := sendMessageRequest{
		ChatID:    s.client.ChatID(),
		Text:      formatNotification(n),
		ParseMode: "HTML",
	}
	if n.IsCall() {
		req.ReplyMarkup = &inlineKeyboard{InlineKeyboard: [][]InlineButton{{
			{Text: "📞 Answer", CallbackData: TapData(n.ReminderID)},
		}}}
	}
	if err := s.send(ctx, req); err != nil {
		return err
	}
	s.logger.Info("notification delivered", "id", n.ID, "reminder_id", n.ReminderID, "channel", n.ChannelID)
	return nil
}

func (s *Sender) send(ctx context.Context, req sendMessageRequest) error {
	if err := s.client.Call(ctx, "sendMessage", req, nil, 0); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

func formatNotification(n notify.Notification) string {
	var b strings.Builder
	icon := "⏰"
	if n.IsCall() {
		icon = "📞"
	}
	fmt.Fprintf(&b, "%s <b>%s</b>\n", icon, html.EscapeString(n.Title))
	fmt.Fprintf(&b, "<b>%s</b>", html.EscapeString(n.Body))
	if n.LargeBody != "" && n.LargeBody != n.Body {
		fmt.Fprintf(&b, "\n<i>%s</i>", html.EscapeString(n.LargeBody))
	}
	if n.Summary != "" {
		fmt.Fprintf(&b, "\n%s", html.EscapeString(n.Summary))
	}
	return b.String()
}

// TapData is the callback data for reminderID's Answer button.
func TapData(reminderID int64) string {
	return fmt.Sprintf("%s%d", tapPrefix, reminderID)
}
