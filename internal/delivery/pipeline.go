package delivery

import (
	"context"
	"fmt"
	"log"
	"strings"

	"course-chat-service/internal/models"
	"course-chat-service/internal/observability"
	"course-chat-service/internal/repositories"
)

// Broadcaster routes events to room members and answers room membership
// questions. Implemented by the websocket hub.
type Broadcaster interface {
	BroadcastToChat(chatID int, event string, payload any, excludeConnID string)
	IsUserInRoom(userID, chatID int) bool
}

// Notifier records and pushes an out-of-room notification.
type Notifier interface {
	Notify(ctx context.Context, userID int, n models.Notification)
}

// SendRequest carries one message submission through the pipeline.
// SenderID 0 means no identity is bound. ClientMsgID is the sender's
// correlation id, echoed back in the broadcast so the sending client can
// replace its optimistic entry.
type SendRequest struct {
	ChatID       int
	SenderID     int
	SenderConnID string
	ClientMsgID  string
	Content      string
	Attachments  []models.Attachment
}

// Pipeline validates, persists and fans out new messages.
type Pipeline struct {
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
	users    repositories.UserRepository
	hub      Broadcaster
	fanout   Notifier
}

// NewPipeline constructs the pipeline.
func NewPipeline(chats repositories.ChatRepository, messages repositories.MessageRepository, users repositories.UserRepository, hub Broadcaster, fanout Notifier) *Pipeline {
	return &Pipeline{chats: chats, messages: messages, users: users, hub: hub, fanout: fanout}
}

// Send runs the full delivery: validation in order (identity, membership,
// payload shape), transactional persistence with readBy=[sender], unread
// counter bumps, room broadcast, and notification fan-out to participants
// not currently in the room. On any validation error nothing is persisted
// or broadcast.
func (p *Pipeline) Send(ctx context.Context, req SendRequest) (models.Message, error) {
	if req.SenderID == 0 {
		return models.Message{}, ErrAuthenticationRequired
	}

	member, err := p.chats.IsParticipant(ctx, req.ChatID, req.SenderID)
	if err != nil {
		return models.Message{}, fmt.Errorf("membership check: %w", err)
	}
	if !member {
		return models.Message{}, ErrNotParticipant
	}

	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return models.Message{}, ErrEmptyMessage
	}
	if len(req.Attachments) > models.MaxAttachments {
		return models.Message{}, ErrTooManyAttachments
	}

	msg, err := p.messages.CreateMessage(ctx, req.ChatID, req.SenderID, req.Content, req.Attachments)
	if err != nil {
		return models.Message{}, fmt.Errorf("store message: %w", err)
	}

	if err := p.chats.IncrementUnread(ctx, req.ChatID, req.SenderID); err != nil {
		log.Printf("unread increment failed chat=%d: %v", req.ChatID, err)
	}

	sender, err := p.users.GetUser(ctx, req.SenderID)
	if err == nil {
		msg.SenderName = sender.Name
	}
	msg.ClientMsgID = req.ClientMsgID

	p.hub.BroadcastToChat(req.ChatID, models.EventNewMessage, models.NewMessagePayload{ChatID: req.ChatID, Message: msg}, req.SenderConnID)
	observability.IncMessageDelivered()

	p.notifyAbsent(ctx, req, msg)
	return msg, nil
}

// notifyAbsent alerts participants who are not subscribed to the room. The
// durable record is written even when the user has no live connection.
func (p *Pipeline) notifyAbsent(ctx context.Context, req SendRequest, msg models.Message) {
	participants, err := p.chats.Participants(ctx, req.ChatID)
	if err != nil {
		log.Printf("participant fetch failed chat=%d: %v", req.ChatID, err)
		return
	}

	title := "New message"
	if msg.SenderName != "" {
		title = "New message from " + msg.SenderName
	}
	preview := req.Content
	if preview == "" && len(req.Attachments) > 0 {
		preview = fmt.Sprintf("%d attachment(s)", len(req.Attachments))
	}
	link := fmt.Sprintf("/chats/%d", req.ChatID)

	for _, part := range participants {
		if part.UserID == req.SenderID {
			continue
		}
		if p.hub.IsUserInRoom(part.UserID, req.ChatID) {
			continue
		}
		p.fanout.Notify(ctx, part.UserID, models.Notification{
			UserID:  part.UserID,
			Title:   title,
			Message: preview,
			Type:    models.NotificationTypeMessage,
			Link:    &link,
		})
	}
}
