// Package notify schedules and cancels platform notifications for reminders.
//
// The host platform's local-notification facility is modeled by Platform.
// Every notification carries a stable numeric id derived from its reminder
// id, so scheduling the same reminder twice replaces rather than duplicates,
// and cancelling is always addressable.
package notify

import (
	"context"
	"time"
)

// Channel ids.
const (
	ChannelReminders    = "reminders"
	ChannelVirtualCalls = "virtual_calls"
)

// Importance mirrors the platform's channel importance scale.
type Importance int

const (
	ImportanceLow     Importance = 2
	ImportanceDefault Importance = 3
	ImportanceHigh    Importance = 4
	ImportanceMax     Importance = 5
)

// Visibility controls what a notification reveals on a locked screen.
type Visibility int

const (
	VisibilitySecret  Visibility = -1
	VisibilityPrivate Visibility = 0
	VisibilityPublic  Visibility = 1
)

// Channel configures a named notification channel.
type Channel struct {
	ID               string
	Name             string
	Description      string
	Sound            string
	Importance       Importance
	Visibility       Visibility
	Lights           bool
	LightColor       string
	Vibration        bool
	VibrationPattern []time.Duration
	BypassDND        bool
}

// ReminderChannel is the channel for ordinary reminder notifications.
func ReminderChannel() Channel {
	return Channel{
		ID:          ChannelReminders,
		Name:        "Reminders",
		Description: "Notifications for your reminders",
		Sound:       "default",
		Importance:  ImportanceHigh,
		Visibility:  VisibilityPublic,
		Lights:      true,
		LightColor:  "#FF6B35",
		Vibration:   true,
	}
}

// VirtualCallChannel is the higher-priority channel used only for
// full-screen call escalation while the app is in the background.
func VirtualCallChannel() Channel {
	return Channel{
		ID:               ChannelVirtualCalls,
		Name:             "Virtual Calls",
		Description:      "Full-screen virtual calls for reminders",
		Sound:            "default",
		Importance:       ImportanceMax,
		Visibility:       VisibilityPublic,
		Lights:           true,
		LightColor:       "#FF6B35",
		Vibration:        true,
		VibrationPattern: []time.Duration{time.Second, time.Second, time.Second, time.Second},
		BypassDND:        true,
	}
}

// Notification is one platform notification.
type Notification struct {
	ID         int
	ReminderID int64
	ChannelID  string
	Title      string
	Body       string
	LargeBody  string
	Summary    string
	At         time.Time
	Sound      string
	Ongoing    bool // stays pending after delivery until cancelled
	FullScreen bool
	Category   string
}

// IsCall reports whether n is a virtual-call escalation.
func (n Notification) IsCall() bool {
	return n.ChannelID == ChannelVirtualCalls
}

// Platform is the host's local-notification facility.
type Platform interface {
	RequestPermission(ctx context.Context) (bool, error)
	CreateChannel(ctx context.Context, ch Channel) error
	Schedule(ctx context.Context, n Notification) error
	Cancel(ctx context.Context, id int) error
	ListPending(ctx context.Context) ([]Notification, error)
}

// Deliverer presents a notification to the user when it fires.
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// ReminderNotificationID is the stable id of a reminder's own notification.
func ReminderNotificationID(reminderID int64) int {
	return int(reminderID * 2)
}

// CallNotificationID is the stable id of a reminder's full-screen call
// notification. It never collides with any ReminderNotificationID.
func CallNotificationID(reminderID int64) int {
	return int(reminderID*2 + 1)
}

// ReminderIDOf recovers the reminder id from a notification id.
func ReminderIDOf(notificationID int) int64 {
	return int64(notificationID / 2)
}
