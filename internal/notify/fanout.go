package notify

import (
	"context"
	"log"

	"course-chat-service/internal/models"
	"course-chat-service/internal/observability"
	"course-chat-service/internal/repositories"
)

// Pusher delivers an event to every live connection of a user and reports
// how many connections received it. Implemented by the websocket hub.
type Pusher interface {
	SendToUser(userID int, event string, payload any) int
}

// Fanout records notifications durably and pushes them best-effort to live
// connections. The stored row is the source of truth; the push is an
// optimization for connected clients.
type Fanout struct {
	notifications repositories.NotificationRepository
	hub           Pusher
}

// NewFanout constructs a Fanout.
func NewFanout(notifications repositories.NotificationRepository, hub Pusher) *Fanout {
	return &Fanout{notifications: notifications, hub: hub}
}

// Notify stores the notification, then pushes it to the recipient's live
// connections with a sound cue. A failed store still attempts the push so a
// connected user is not left silent.
func (f *Fanout) Notify(ctx context.Context, userID int, n models.Notification) {
	n.UserID = userID
	stored, err := f.notifications.Create(ctx, n)
	if err != nil {
		log.Printf("notification store failed user=%d: %v", userID, err)
		stored = n
	}

	delivered := f.hub.SendToUser(userID, models.EventNewNotification, stored)
	// Older clients subscribe to the snake_case event name.
	f.hub.SendToUser(userID, models.EventNewNotificationLegacy, stored)
	f.hub.SendToUser(userID, models.EventPlaySound, nil)

	if delivered > 0 {
		observability.IncNotification("pushed")
	} else {
		observability.IncNotification("stored_only")
	}
}
