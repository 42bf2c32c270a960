package ws

import (
	"encoding/json"
	"log"
	"sync"

	"course-chat-service/internal/models"
	"course-chat-service/internal/observability"
)

// Hub is the connection registry and room router. It tracks every live
// connection, the identity bound to it, room membership per chat id and the
// set of connections per user for out-of-room fan-out.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]struct{}
	rooms     map[int]map[*Client]struct{}
	userConns map[int]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*Client]struct{}),
		rooms:     make(map[int]map[*Client]struct{}),
		userConns: make(map[int]map[*Client]struct{}),
	}
}

// Register adds a connection to the registry. The connection cannot join
// rooms or send until an identity is bound.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Authenticate binds an identity to a registered connection. Idempotent per
// connection: a second call keeps the first binding.
func (h *Hub) Authenticate(c *Client, userID int, role, clientID string) bool {
	if !c.bindIdentity(userID, role, clientID) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.userConns[userID]; !ok {
		h.userConns[userID] = make(map[*Client]struct{})
	}
	h.userConns[userID][c] = struct{}{}
	return true
}

// Unregister removes the connection from the registry, its user binding and
// every room it joined. Other connections of the same user are unaffected.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for chatID, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
	info := c.Info()
	if conns, ok := h.userConns[info.UserID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.userConns, info.UserID)
		}
	}
	c.closeSend()
}

// Join subscribes the connection to a chat room. Membership authorization
// happens before this is called.
func (h *Hub) Join(c *Client, chatID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[*Client]struct{})
	}
	h.rooms[chatID][c] = struct{}{}
}

// Leave unsubscribes the connection from a chat room.
func (h *Hub) Leave(c *Client, chatID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[chatID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// IsUserInRoom reports whether any connection of the user is subscribed to
// the chat. Used to decide between room broadcast and notification fan-out.
func (h *Hub) IsUserInRoom(userID, chatID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[chatID] {
		if c.Info().UserID == userID {
			return true
		}
	}
	return false
}

// RoomSize returns the number of connections subscribed to a chat.
func (h *Hub) RoomSize(chatID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// ConnectionsForUser returns how many live connections the user has.
func (h *Hub) ConnectionsForUser(userID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConns[userID])
}

// BroadcastToChat delivers an event to every member connection of the room,
// optionally skipping the sender's own connection to avoid echo.
func (h *Hub) BroadcastToChat(chatID int, event string, payload any, excludeConnID string) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		log.Printf("websocket marshal error: %v", err)
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[chatID]))
	for c := range h.rooms[chatID] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if excludeConnID != "" && c.Info().ConnID == excludeConnID {
			continue
		}
		c.enqueue(data)
		observability.IncWSEvent("session", event)
	}
}

// BroadcastTyping fans a typing state change out to the room, excluding
// every connection of the typing user.
func (h *Hub) BroadcastTyping(chatID, userID int, isTyping bool) {
	payload := models.TypingPayload{ChatID: chatID, UserID: userID, IsTyping: isTyping}
	data, err := marshalEvent(models.EventUserTyping, payload)
	if err != nil {
		log.Printf("websocket marshal error: %v", err)
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[chatID]))
	for c := range h.rooms[chatID] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if c.Info().UserID == userID {
			continue
		}
		c.enqueue(data)
		observability.IncWSEvent("session", models.EventUserTyping)
	}
}

// SendToUser pushes an event to every live connection of one user and
// returns how many connections received it.
func (h *Hub) SendToUser(userID int, event string, payload any) int {
	data, err := marshalEvent(event, payload)
	if err != nil {
		log.Printf("websocket marshal error: %v", err)
		return 0
	}

	h.mu.RLock()
	conns := make([]*Client, 0, len(h.userConns[userID]))
	for c := range h.userConns[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.enqueue(data)
		observability.IncWSEvent("session", event)
	}
	return len(conns)
}

func marshalEvent(event string, payload any) ([]byte, error) {
	envelope := models.Event{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		envelope.Payload = raw
	}
	return json.Marshal(envelope)
}
