package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"course-chat-service/internal/auth"
	"course-chat-service/internal/delivery"
	"course-chat-service/internal/models"
	"course-chat-service/internal/observability"
	"course-chat-service/internal/repositories"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MessagePipeline validates, persists and fans out a new message.
type MessagePipeline interface {
	Send(ctx context.Context, req delivery.SendRequest) (models.Message, error)
}

// Handler owns the single multiplexed websocket endpoint. Connections
// authenticate in-band with an authenticate event (or up front via a token
// query parameter), then join chat rooms and exchange events.
type Handler struct {
	hub      *Hub
	verifier *auth.Verifier
	chats    repositories.ChatRepository
	users    repositories.UserRepository
	pipeline MessagePipeline
	typing   *TypingCoordinator
}

// NewHandler constructs the websocket handler.
func NewHandler(hub *Hub, verifier *auth.Verifier, chats repositories.ChatRepository, users repositories.UserRepository, pipeline MessagePipeline, typing *TypingCoordinator) *Handler {
	return &Handler{hub: hub, verifier: verifier, chats: chats, users: users, pipeline: pipeline, typing: typing}
}

// Handle upgrades the connection and runs its read loop.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("course-chat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := NewClient(conn)
	client.mu.Lock()
	client.info.IP = observability.IPFromRequest(c.Request)
	client.info.RequestID = observability.RequestIDFromRequest(c.Request)
	client.info.TraceID = span.SpanContext().TraceID().String()
	client.mu.Unlock()

	h.hub.Register(client)
	observability.IncWSActive("session")
	observability.IncWSEvent("session", "ws_connect")
	h.publishLifecycle(ctx, client, "ws_connect", "")

	// Token in the query authenticates up front; otherwise the client must
	// send an authenticate event before joining or sending.
	if token := c.Query("token"); token != "" {
		h.authenticate(ctx, client, models.AuthenticatePayload{Token: token, ClientID: c.Query("clientId")})
	}

	go client.writePump()
	go h.readLoop(ctx, client)
}

func (h *Handler) readLoop(ctx context.Context, client *Client) {
	var closeReason string
	defer func() {
		h.hub.Unregister(client)
		client.closeConn()
		observability.DecWSActive("session")
		observability.IncWSEvent("session", "ws_disconnect")
		h.publishLifecycle(ctx, client, "ws_disconnect", closeReason)
	}()

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("session", "ws_error")
				h.publishLifecycle(ctx, client, "ws_error", closeReason)
			}
			return
		}
		h.dispatch(ctx, client, data)
	}
}

func (h *Handler) dispatch(ctx context.Context, client *Client, data []byte) {
	var event models.Event
	if err := json.Unmarshal(data, &event); err != nil {
		h.sendError(client, "BadEvent", "malformed event")
		return
	}

	switch event.Event {
	case models.EventAuthenticate:
		var payload models.AuthenticatePayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			h.sendError(client, "BadEvent", "malformed authenticate payload")
			return
		}
		h.authenticate(ctx, client, payload)

	case models.EventJoinChat:
		var payload models.JoinChatPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return
		}
		h.joinChat(ctx, client, payload.ChatID)

	case models.EventLeaveChat:
		var payload models.JoinChatPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return
		}
		h.hub.Leave(client, payload.ChatID)

	case models.EventSendMessage:
		var payload models.SendMessagePayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			h.sendError(client, "BadEvent", "malformed sendMessage payload")
			return
		}
		h.sendMessage(ctx, client, payload)

	case models.EventTyping:
		var payload models.TypingPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return
		}
		if !client.Authenticated() {
			log.Printf("typing from unauthenticated conn=%s dropped", client.Info().ConnID)
			return
		}
		h.typing.SetTyping(payload.ChatID, client.Info().UserID, payload.IsTyping)

	default:
		h.sendError(client, "BadEvent", "unknown event "+event.Event)
	}
}

func (h *Handler) authenticate(ctx context.Context, client *Client, payload models.AuthenticatePayload) {
	claims, err := h.verifier.Verify(payload.Token)
	if err != nil {
		h.sendError(client, "AuthenticationRequired", "invalid token")
		return
	}

	if h.hub.Authenticate(client, claims.UserID, claims.Role, payload.ClientID) {
		if err := h.users.Upsert(ctx, models.User{ID: claims.UserID, Name: claims.Name, Role: claims.Role}); err != nil {
			log.Printf("user upsert failed: %v", err)
		}
	}

	// Reply with the identity actually bound. A re-authenticate keeps the
	// first binding, so echoing the new claims would fake an identity switch.
	bound := client.Info()
	h.send(client, models.EventAuthenticated, models.AuthenticatedPayload{UserID: bound.UserID, Role: bound.Role})
}

// joinChat subscribes the connection to a room after verifying the caller
// is a participant of the chat. Unauthorized attempts are logged, the
// caller only ever sees silence.
func (h *Handler) joinChat(ctx context.Context, client *Client, chatID int) {
	if !client.Authenticated() {
		log.Printf("joinChat from unauthenticated conn=%s dropped", client.Info().ConnID)
		return
	}
	userID := client.Info().UserID
	member, err := h.chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		log.Printf("joinChat membership check failed chat=%d user=%d: %v", chatID, userID, err)
		return
	}
	if !member {
		log.Printf("joinChat rejected chat=%d user=%d: not a participant", chatID, userID)
		return
	}
	h.hub.Join(client, chatID)
}

func (h *Handler) sendMessage(ctx context.Context, client *Client, payload models.SendMessagePayload) {
	info := client.Info()
	req := delivery.SendRequest{
		ChatID:       payload.ChatID,
		SenderID:     info.UserID,
		SenderConnID: info.ConnID,
		ClientMsgID:  payload.ClientMsgID,
		Content:      payload.Content,
		Attachments:  payload.Attachments,
	}
	if !client.Authenticated() {
		req.SenderID = 0
	}

	if _, err := h.pipeline.Send(ctx, req); err != nil {
		h.sendError(client, delivery.ErrorCode(err), err.Error())
	}
}

func (h *Handler) send(client *Client, event string, payload any) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		return
	}
	client.enqueue(data)
}

func (h *Handler) sendError(client *Client, code, message string) {
	h.send(client, models.EventError, models.ErrorPayload{Code: code, Message: message})
}

func (h *Handler) publishLifecycle(ctx context.Context, client *Client, event, reason string) {
	info := client.Info()
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"role":      info.Role,
			"client_id": info.ClientID,
			"ip":        info.IP,
		},
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	if err := observability.PublishEvent(ctx, "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("ws lifecycle publish failed: %v", err)
	}
}
