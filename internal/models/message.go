package models

import "time"

// MaxAttachments bounds the attachment list of a single message.
const MaxAttachments = 5

// AttachmentType classifies an attachment for the client renderer.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentDocument AttachmentType = "document"
)

// Attachment is an immutable reference to a stored blob. The blob itself is
// owned by the upload store and reachable through URL.
type Attachment struct {
	ID           int            `db:"id" json:"id,omitempty"`
	MessageID    int            `db:"message_id" json:"-"`
	Type         AttachmentType `db:"attachment_type" json:"type"`
	URL          string         `db:"url" json:"url"`
	Filename     string         `db:"filename" json:"filename"`
	MimeType     string         `db:"mime_type" json:"mime_type"`
	Size         int64          `db:"size_bytes" json:"size,omitempty"`
	ThumbnailURL *string        `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
}

// Message is an append-only chat message. ReadBy only ever grows; messages
// are never edited or deleted.
type Message struct {
	ID          int          `db:"id" json:"id"`
	ChatID      int          `db:"chat_id" json:"chat_id"`
	SenderID    int          `db:"sender_id" json:"sender_id"`
	Content     string       `db:"content" json:"content"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	Attachments []Attachment `json:"attachments"`
	ReadBy      []int        `json:"read_by"`
	SenderName  string       `json:"sender_name,omitempty"`

	// ClientMsgID echoes the sender's correlation id in broadcasts so the
	// sending client can replace its optimistic entry. Never persisted.
	ClientMsgID string `json:"client_msg_id,omitempty"`
}
