package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"course-chat-service/internal/models"
)

var ErrChatNotFound = errors.New("chat not found")

// ChatRepository abstracts chat and participant persistence.
type ChatRepository interface {
	CreateOrGetPrivateChat(ctx context.Context, userID, otherID int) (models.Chat, error)
	EnsureCourseChat(ctx context.Context, courseID, mentorID int) (models.Chat, error)
	AddParticipant(ctx context.Context, chatID, userID int, role string) error
	IsParticipant(ctx context.Context, chatID, userID int) (bool, error)
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
	Participants(ctx context.Context, chatID int) ([]models.Participant, error)
	ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error)
	IncrementUnread(ctx context.Context, chatID, exceptUserID int) error
	ResetUnread(ctx context.Context, chatID, userID int) error
	UnreadTotal(ctx context.Context, userID int) (int, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// CreateOrGetPrivateChat returns the private chat between two users,
// creating it lazily on first use. The pair is stored sorted so the same
// unordered pair never yields a second chat.
func (r *ChatRepo) CreateOrGetPrivateChat(ctx context.Context, userID, otherID int) (models.Chat, error) {
	if userID == otherID {
		return models.Chat{}, errors.New("cannot create chat with self")
	}
	user1, user2 := userID, otherID
	if user1 > user2 {
		user1, user2 = user2, user1
	}

	var chat models.Chat
	query := `SELECT id, chat_type, course_id, user1_id, user2_id, created_at FROM chats WHERE chat_type='private' AND user1_id=$1 AND user2_id=$2`
	err := r.db.GetContext(ctx, &chat, query, user1, user2)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = tx.QueryRowxContext(ctx, `INSERT INTO chats (chat_type, user1_id, user2_id) VALUES ('private', $1, $2) RETURNING id, chat_type, course_id, user1_id, user2_id, created_at`, user1, user2).
		StructScan(&chat); err != nil {
		return models.Chat{}, err
	}
	for _, id := range []int{user1, user2} {
		if _, err = tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, chat.ID, id); err != nil {
			return models.Chat{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// EnsureCourseChat returns the course group chat, creating it with the
// mentor as first participant when missing.
func (r *ChatRepo) EnsureCourseChat(ctx context.Context, courseID, mentorID int) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT id, chat_type, course_id, user1_id, user2_id, created_at FROM chats WHERE chat_type='course' AND course_id=$1`, courseID)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = tx.QueryRowxContext(ctx, `INSERT INTO chats (chat_type, course_id) VALUES ('course', $1) RETURNING id, chat_type, course_id, user1_id, user2_id, created_at`, courseID).
		StructScan(&chat); err != nil {
		return models.Chat{}, err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id, role) VALUES ($1, $2, 'mentor') ON CONFLICT DO NOTHING`, chat.ID, mentorID); err != nil {
		return models.Chat{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// AddParticipant enrolls a user into a chat. Idempotent.
func (r *ChatRepo) AddParticipant(ctx context.Context, chatID, userID int, role string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id, role) VALUES ($1, $2, $3) ON CONFLICT (chat_id, user_id) DO NOTHING`, chatID, userID, role)
	return err
}

// IsParticipant checks whether a user belongs to the chat.
func (r *ChatRepo) IsParticipant(ctx context.Context, chatID, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, err
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT id, chat_type, course_id, user1_id, user2_id, created_at FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// Participants lists the chat's participant set.
func (r *ChatRepo) Participants(ctx context.Context, chatID int) ([]models.Participant, error) {
	var parts []models.Participant
	err := r.db.SelectContext(ctx, &parts, `SELECT chat_id, user_id, role, unread_count FROM chat_participants WHERE chat_id=$1 ORDER BY user_id`, chatID)
	return parts, err
}

// ListChats returns the chats the user participates in, newest activity
// first, with the user's unread counter.
func (r *ChatRepo) ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	query := `SELECT c.id, c.chat_type, c.course_id, c.user1_id, c.user2_id, c.created_at, cp.unread_count,
            (SELECT MAX(m.created_at) FROM messages m WHERE m.chat_id = c.id) AS last_message_at
        FROM chats c
        INNER JOIN chat_participants cp ON cp.chat_id = c.id AND cp.user_id=$1
        ORDER BY last_message_at DESC NULLS LAST, c.created_at DESC`
	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ChatSummary
	for rows.Next() {
		var row struct {
			models.Chat
			UnreadCount   int        `db:"unread_count"`
			LastMessageAt *time.Time `db:"last_message_at"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		summary := models.ChatSummary{
			ChatID:        row.ID,
			ChatType:      row.ChatType,
			CourseID:      row.CourseID,
			UnreadCount:   row.UnreadCount,
			LastMessageAt: row.LastMessageAt,
			CreatedAt:     row.CreatedAt,
		}
		if row.ChatType == models.ChatTypePrivate && row.User1ID != nil && row.User2ID != nil {
			friendID := *row.User1ID
			if friendID == userID {
				friendID = *row.User2ID
			}
			summary.FriendID = &friendID
		}
		result = append(result, summary)
	}
	return result, rows.Err()
}

// IncrementUnread bumps the unread counter of every participant except one.
func (r *ChatRepo) IncrementUnread(ctx context.Context, chatID, exceptUserID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chat_participants SET unread_count = unread_count + 1 WHERE chat_id=$1 AND user_id<>$2`, chatID, exceptUserID)
	return err
}

// ResetUnread clears the user's unread counter for a chat.
func (r *ChatRepo) ResetUnread(ctx context.Context, chatID, userID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chat_participants SET unread_count = 0 WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	return err
}

// UnreadTotal sums the user's unread counters across all chats.
func (r *ChatRepo) UnreadTotal(ctx context.Context, userID int) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(unread_count), 0) FROM chat_participants WHERE user_id=$1`, userID)
	return total, err
}
