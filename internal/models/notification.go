package models

import "time"

// Notification is the durable record behind the realtime push. The stored
// row, not the socket event, is the source of truth for unread counts.
type Notification struct {
	ID        int       `db:"id" json:"id"`
	UserID    int       `db:"user_id" json:"user_id"`
	Title     string    `db:"title" json:"title"`
	Message   string    `db:"message" json:"message"`
	Type      string    `db:"notification_type" json:"type"`
	Link      *string   `db:"link" json:"link,omitempty"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

const (
	NotificationTypeMessage = "new_message"
	NotificationTypeSystem  = "system"
)
