package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"course-chat-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages, attachments and
// read receipts.
type MessageRepository interface {
	CreateMessage(ctx context.Context, chatID, senderID int, content string, attachments []models.Attachment) (models.Message, error)
	ListMessages(ctx context.Context, chatID int) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	MarkRead(ctx context.Context, messageID, userID int) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message with its attachments and the sender's own
// read receipt in one transaction. Either everything lands or nothing does.
func (r *MessageRepo) CreateMessage(ctx context.Context, chatID, senderID int, content string, attachments []models.Attachment) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var msg models.Message
	if err = tx.QueryRowxContext(ctx, `INSERT INTO messages (chat_id, sender_id, content) VALUES ($1, $2, $3) RETURNING id, chat_id, sender_id, content, created_at`, chatID, senderID, content).
		StructScan(&msg); err != nil {
		return models.Message{}, err
	}

	for _, att := range attachments {
		var stored models.Attachment
		if err = tx.QueryRowxContext(ctx, `INSERT INTO message_attachments (message_id, attachment_type, url, filename, mime_type, size_bytes, thumbnail_url)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            RETURNING id, message_id, attachment_type, url, filename, mime_type, size_bytes, thumbnail_url`,
			msg.ID, att.Type, att.URL, att.Filename, att.MimeType, att.Size, att.ThumbnailURL).
			StructScan(&stored); err != nil {
			return models.Message{}, err
		}
		msg.Attachments = append(msg.Attachments, stored)
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2)`, msg.ID, senderID); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	msg.ReadBy = []int{senderID}
	if msg.Attachments == nil {
		msg.Attachments = []models.Attachment{}
	}
	return msg, nil
}

// ListMessages returns the chat's messages in persisted order with
// attachments and readBy resolved.
func (r *MessageRepo) ListMessages(ctx context.Context, chatID int) ([]models.Message, error) {
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, `SELECT id, chat_id, sender_id, content, created_at FROM messages WHERE chat_id=$1 ORDER BY id ASC`, chatID); err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	ids := make([]int, 0, len(msgs))
	index := make(map[int]int, len(msgs))
	for i := range msgs {
		msgs[i].Attachments = []models.Attachment{}
		msgs[i].ReadBy = []int{}
		ids = append(ids, msgs[i].ID)
		index[msgs[i].ID] = i
	}

	query, args, err := sqlx.In(`SELECT id, message_id, attachment_type, url, filename, mime_type, size_bytes, thumbnail_url FROM message_attachments WHERE message_id IN (?) ORDER BY id ASC`, ids)
	if err != nil {
		return nil, err
	}
	var atts []models.Attachment
	if err := r.db.SelectContext(ctx, &atts, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, att := range atts {
		i := index[att.MessageID]
		msgs[i].Attachments = append(msgs[i].Attachments, att)
	}

	query, args, err = sqlx.In(`SELECT message_id, user_id FROM message_reads WHERE message_id IN (?) ORDER BY read_at ASC`, ids)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryxContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var messageID, userID int
		if err := rows.Scan(&messageID, &userID); err != nil {
			return nil, err
		}
		i := index[messageID]
		msgs[i].ReadBy = append(msgs[i].ReadBy, userID)
	}
	return msgs, rows.Err()
}

// GetMessage retrieves a single message without attachments or receipts.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT id, chat_id, sender_id, content, created_at FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkRead adds the user to the message's readBy set. The set only grows;
// repeated calls are no-ops.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2) ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID)
	return err
}
