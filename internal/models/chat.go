package models

import "time"

// ChatType distinguishes a two-person private chat from an open-ended
// course group chat.
type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeCourse  ChatType = "course"
)

// Chat represents either a private chat between exactly two users or the
// group chat attached to a course. For private chats user1_id < user2_id so
// the unordered pair stays unique.
type Chat struct {
	ID        int       `db:"id" json:"id"`
	ChatType  ChatType  `db:"chat_type" json:"chat_type"`
	CourseID  *int      `db:"course_id" json:"course_id,omitempty"`
	User1ID   *int      `db:"user1_id" json:"user1_id,omitempty"`
	User2ID   *int      `db:"user2_id" json:"user2_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Participant links a user to a chat and carries the per-user unread counter.
type Participant struct {
	ChatID      int    `db:"chat_id" json:"chat_id"`
	UserID      int    `db:"user_id" json:"user_id"`
	Role        string `db:"role" json:"role"`
	UnreadCount int    `db:"unread_count" json:"unread_count"`
}

// ChatSummary is the API-friendly view of a chat for one user.
type ChatSummary struct {
	ChatID        int        `db:"id" json:"chat_id"`
	ChatType      ChatType   `db:"chat_type" json:"chat_type"`
	CourseID      *int       `db:"course_id" json:"course_id,omitempty"`
	FriendID      *int       `json:"friend_id,omitempty"`
	FriendName    string     `json:"friend_name,omitempty"`
	UnreadCount   int        `db:"unread_count" json:"unread_count"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// User mirrors the identity collaborator's display fields. Rows are upserted
// from token claims so message senders can be labelled without a remote call.
type User struct {
	ID   int    `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Role string `db:"role" json:"role"`
}

const (
	RoleMentor  = "mentor"
	RoleStudent = "student"
	RoleAdmin   = "admin"
)
