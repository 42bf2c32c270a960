package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"course-chat-service/internal/delivery"
	"course-chat-service/internal/models"
	"course-chat-service/internal/repositories"
	"course-chat-service/internal/telemetry"
)

// messagePipeline is the send path shared with the websocket handler.
type messagePipeline interface {
	Send(ctx context.Context, req delivery.SendRequest) (models.Message, error)
}

// ChatHandler manages chat endpoints: listing, history, sending, read
// receipts and course-chat provisioning.
type ChatHandler struct {
	chatRepo    repositories.ChatRepository
	messageRepo repositories.MessageRepository
	userRepo    repositories.UserRepository
	pipeline    messagePipeline
	audit       *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chatRepo repositories.ChatRepository, messageRepo repositories.MessageRepository, userRepo repositories.UserRepository, pipeline messagePipeline, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		userRepo:    userRepo,
		pipeline:    pipeline,
		audit:       audit,
	}
}

// ListChats returns the chats visible to the authenticated user with
// per-chat unread counters.
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID := c.GetInt("userID")

	chats, err := h.chatRepo.ListChats(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}

	friendIDs := make([]int, 0, len(chats))
	for _, chat := range chats {
		if chat.FriendID != nil {
			friendIDs = append(friendIDs, *chat.FriendID)
		}
	}

	nameByID := map[int]string{}
	if len(friendIDs) > 0 {
		users, err := h.userRepo.BulkUsers(c.Request.Context(), friendIDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user info"})
			return
		}
		for _, u := range users {
			nameByID[u.ID] = u.Name
		}
	}

	for i := range chats {
		if chats[i].FriendID != nil {
			chats[i].FriendName = nameByID[*chats[i].FriendID]
		}
	}

	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// StartChat creates or returns the private chat between the caller and
// another user.
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req struct {
		FriendID int `json:"friend_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if userID == req.FriendID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}

	chat, err := h.chatRepo.CreateOrGetPrivateChat(c.Request.Context(), userID, req.FriendID)
	if err != nil {
		h.emitAudit(c, "ERROR", "could not create chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create chat"})
		return
	}

	h.emitAudit(c, "INFO", "Chat started")
	c.JSON(http.StatusOK, gin.H{"chat_id": chat.ID})
}

// EnsureCourseChat creates the course group chat. Mentor only; the course
// catalog calls this when a course goes live.
func (h *ChatHandler) EnsureCourseChat(c *gin.Context) {
	if c.GetString("role") != models.RoleMentor && c.GetString("role") != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "mentor role required"})
		return
	}

	var req struct {
		CourseID int `json:"course_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	chat, err := h.chatRepo.EnsureCourseChat(c.Request.Context(), req.CourseID, userID)
	if err != nil {
		h.emitAudit(c, "ERROR", "could not create course chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create course chat"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chat_id": chat.ID})
}

// AddCourseParticipant enrolls a student into the course chat. Called by
// the enrollment flow.
func (h *ChatHandler) AddCourseParticipant(c *gin.Context) {
	if c.GetString("role") != models.RoleMentor && c.GetString("role") != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "mentor role required"})
		return
	}

	courseID, err := strconv.Atoi(c.Param("course_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid course id"})
		return
	}

	var req struct {
		UserID int `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := h.chatRepo.EnsureCourseChat(c.Request.Context(), courseID, c.GetInt("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve course chat"})
		return
	}
	if err := h.chatRepo.AddParticipant(c.Request.Context(), chat.ID, req.UserID, models.RoleStudent); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not add participant"})
		return
	}

	c.Status(http.StatusNoContent)
}

// GetChatMessages returns the chat history with attachments, readBy sets
// and resolved sender names.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	userID := c.GetInt("userID")
	member, err := h.chatRepo.IsParticipant(c.Request.Context(), chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return
	}

	msgs, err := h.messageRepo.ListMessages(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	senderIDs := make([]int, 0, len(msgs))
	seen := map[int]struct{}{}
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
	}

	nameByID := map[int]string{}
	if len(senderIDs) > 0 {
		users, err := h.userRepo.BulkUsers(c.Request.Context(), senderIDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load senders"})
			return
		}
		for _, u := range users {
			nameByID[u.ID] = u.Name
		}
	}
	for i := range msgs {
		msgs[i].SenderName = nameByID[msgs[i].SenderID]
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostChatMessage submits a message through the delivery pipeline.
func (h *ChatHandler) PostChatMessage(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	var req struct {
		Content     string              `json:"message"`
		ClientMsgID string              `json:"client_msg_id"`
		Attachments []models.Attachment `json:"attachments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.pipeline.Send(c.Request.Context(), delivery.SendRequest{
		ChatID:      chatID,
		SenderID:    c.GetInt("userID"),
		ClientMsgID: req.ClientMsgID,
		Content:     req.Content,
		Attachments: req.Attachments,
	})
	if err != nil {
		h.emitAudit(c, "ERROR", "message rejected: "+delivery.ErrorCode(err))
		c.JSON(deliveryStatus(err), gin.H{"error": err.Error(), "code": delivery.ErrorCode(err)})
		return
	}

	h.emitAudit(c, "INFO", "Message sent")
	c.JSON(http.StatusCreated, msg)
}

// MarkMessageRead adds the caller to a message's readBy set.
func (h *ChatHandler) MarkMessageRead(c *gin.Context) {
	chatID, messageID, ok := parseIDs(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	member, err := h.chatRepo.IsParticipant(c.Request.Context(), chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return
	}

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}
	if msg.ChatID != chatID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message does not belong to chat"})
		return
	}

	if err := h.messageRepo.MarkRead(c.Request.Context(), messageID, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark read"})
		return
	}

	c.Status(http.StatusNoContent)
}

// MarkChatRead resets the caller's unread counter when the chat view opens.
func (h *ChatHandler) MarkChatRead(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	userID := c.GetInt("userID")
	member, err := h.chatRepo.IsParticipant(c.Request.Context(), chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return
	}

	if err := h.chatRepo.ResetUnread(c.Request.Context(), chatID, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not reset unread"})
		return
	}
	c.Status(http.StatusNoContent)
}

// UnreadCount sums unread counters across the caller's chats. The polling
// fallback behind the realtime badge.
func (h *ChatHandler) UnreadCount(c *gin.Context) {
	total, err := h.chatRepo.UnreadTotal(c.Request.Context(), c.GetInt("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread count"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": total})
}

func (h *ChatHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}

func deliveryStatus(err error) int {
	switch {
	case errors.Is(err, delivery.ErrAuthenticationRequired):
		return http.StatusUnauthorized
	case errors.Is(err, delivery.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, delivery.ErrEmptyMessage), errors.Is(err, delivery.ErrTooManyAttachments):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseIDs(c *gin.Context) (int, int, bool) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return 0, 0, false
	}
	msgID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return 0, 0, false
	}
	return chatID, msgID, true
}
