// Package client is a Go client for the chat websocket protocol. It keeps an
// optimistic local view of sent messages, reconciles them against server
// broadcasts via the client message id, debounces typing signals and rejoins
// chats after a reconnect.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"course-chat-service/internal/models"
)

// TypingIdle is how long after the last keystroke the client reports that
// typing stopped. Matches the server-side expiry.
const TypingIdle = 3 * time.Second

var (
	ErrNotConnected     = errors.New("client: not connected")
	ErrAlreadyConnected = errors.New("client: already connected")
	ErrAuthFailed       = errors.New("client: authentication failed")
)

// PendingMessage is an optimistic message that has not yet been confirmed by
// a newMessage broadcast.
type PendingMessage struct {
	ClientMsgID string
	ChatID      int
	Content     string
	Attachments []models.Attachment
	SentAt      time.Time
}

// EventHandler receives server events the session does not consume itself
// (newMessage, userTyping, newNotification, playNotificationSound, error).
type EventHandler func(event string, payload json.RawMessage)

// Session is a single client connection. All methods are safe for concurrent
// use.
type Session struct {
	serverURL string
	token     string
	clientID  string
	handler   EventHandler
	httpc     *http.Client

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	userID    int

	joined  map[int]struct{}
	pending map[string]PendingMessage
	typing  map[int]*time.Timer

	authed chan struct{}
	done   chan struct{}
}

// New creates a session for the given server base URL ("http://host:port")
// and bearer token. The handler may be nil.
func New(serverURL, token string, handler EventHandler) *Session {
	return &Session{
		serverURL: serverURL,
		token:     token,
		clientID:  uuid.NewString(),
		handler:   handler,
		httpc:     &http.Client{Timeout: 10 * time.Second},
		joined:    make(map[int]struct{}),
		pending:   make(map[string]PendingMessage),
		typing:    make(map[int]*time.Timer),
	}
}

// Connect dials the websocket endpoint, authenticates and rejoins every chat
// joined before a previous disconnect.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}

	u, err := url.Parse(s.serverURL)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("client: invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("client: dial: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.authed = make(chan struct{})
	s.done = make(chan struct{})
	authed := s.authed
	done := s.done
	s.mu.Unlock()

	go s.readLoop(conn, authed, done)

	if err := s.send(models.EventAuthenticate, models.AuthenticatePayload{
		Token:    s.token,
		ClientID: s.clientID,
	}); err != nil {
		s.Close()
		return err
	}

	select {
	case <-authed:
	case <-done:
		return ErrAuthFailed
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}

	// Rejoin chats from before the disconnect.
	s.mu.Lock()
	chats := make([]int, 0, len(s.joined))
	for id := range s.joined {
		chats = append(chats, id)
	}
	s.mu.Unlock()
	for _, id := range chats {
		if err := s.send(models.EventJoinChat, models.JoinChatPayload{ChatID: id}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) readLoop(conn *websocket.Conn, authed, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.connected = false
		}
		s.mu.Unlock()
		close(done)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var evt models.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		s.dispatch(evt, authed)
	}
}

func (s *Session) dispatch(evt models.Event, authed chan struct{}) {
	switch evt.Event {
	case models.EventAuthenticated:
		var p models.AuthenticatedPayload
		if err := json.Unmarshal(evt.Payload, &p); err == nil {
			s.mu.Lock()
			s.userID = p.UserID
			s.mu.Unlock()
		}
		select {
		case <-authed:
		default:
			close(authed)
		}
		return
	case models.EventNewMessage:
		var p models.NewMessagePayload
		if err := json.Unmarshal(evt.Payload, &p); err == nil && p.Message.ClientMsgID != "" {
			s.mu.Lock()
			delete(s.pending, p.Message.ClientMsgID)
			s.mu.Unlock()
		}
	}
	if s.handler != nil {
		s.handler(evt.Event, evt.Payload)
	}
}

// JoinChat subscribes to a chat's live events.
func (s *Session) JoinChat(chatID int) error {
	if err := s.send(models.EventJoinChat, models.JoinChatPayload{ChatID: chatID}); err != nil {
		return err
	}
	s.mu.Lock()
	s.joined[chatID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// OpenChat is what a chat view does when it opens: subscribe to the room,
// load the history over REST, mark messages this user has not read yet and
// reset the chat's unread counter.
func (s *Session) OpenChat(ctx context.Context, chatID int) ([]models.Message, error) {
	if err := s.JoinChat(chatID); err != nil {
		return nil, err
	}

	msgs, err := s.History(ctx, chatID)
	if err != nil {
		return nil, err
	}

	userID := s.UserID()
	for _, msg := range msgs {
		if msg.SenderID == userID || containsUser(msg.ReadBy, userID) {
			continue
		}
		if err := s.MarkMessageRead(ctx, chatID, msg.ID); err != nil {
			return msgs, err
		}
	}
	if err := s.MarkChatRead(ctx, chatID); err != nil {
		return msgs, err
	}
	return msgs, nil
}

// History loads the chat's messages over REST.
func (s *Session) History(ctx context.Context, chatID int) ([]models.Message, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	path := fmt.Sprintf("/chats/%d/messages", chatID)
	if err := s.doREST(ctx, http.MethodGet, path, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// MarkMessageRead adds this user to a message's readBy set.
func (s *Session) MarkMessageRead(ctx context.Context, chatID, messageID int) error {
	path := fmt.Sprintf("/chats/%d/messages/%d/read", chatID, messageID)
	return s.doREST(ctx, http.MethodPost, path, nil)
}

// MarkChatRead resets this user's unread counter for the chat.
func (s *Session) MarkChatRead(ctx context.Context, chatID int) error {
	path := fmt.Sprintf("/chats/%d/read", chatID)
	return s.doREST(ctx, http.MethodPost, path, nil)
}

func (s *Session) doREST(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, s.serverURL+path, nil)
	if err != nil {
		return fmt.Errorf("client: build %s %s: %w", method, path, err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("client: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("client: decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

func containsUser(ids []int, userID int) bool {
	for _, id := range ids {
		if id == userID {
			return true
		}
	}
	return false
}

// LeaveChat unsubscribes from a chat without closing the connection.
func (s *Session) LeaveChat(chatID int) error {
	if err := s.send(models.EventLeaveChat, models.JoinChatPayload{ChatID: chatID}); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.joined, chatID)
	s.mu.Unlock()
	return nil
}

// SendMessage sends a chat message and records it as pending until the server
// echoes it back. Returns the generated client message id, which the caller
// uses to match its optimistic UI entry against the confirmed broadcast.
func (s *Session) SendMessage(chatID int, content string, attachments []models.Attachment) (string, error) {
	clientMsgID := uuid.NewString()
	s.mu.Lock()
	s.pending[clientMsgID] = PendingMessage{
		ClientMsgID: clientMsgID,
		ChatID:      chatID,
		Content:     content,
		Attachments: attachments,
		SentAt:      time.Now(),
	}
	s.mu.Unlock()

	err := s.send(models.EventSendMessage, models.SendMessagePayload{
		ChatID:      chatID,
		ClientMsgID: clientMsgID,
		Content:     content,
		Attachments: attachments,
	})
	if err != nil {
		return clientMsgID, err
	}
	s.stopTyping(chatID)
	return clientMsgID, nil
}

// KeyPressed reports typing activity. The first keystroke sends typing=true;
// a timer sends typing=false after TypingIdle of silence. Subsequent
// keystrokes re-arm the timer without re-sending true.
func (s *Session) KeyPressed(chatID int) {
	s.mu.Lock()
	timer, active := s.typing[chatID]
	if active {
		timer.Reset(TypingIdle)
		s.mu.Unlock()
		return
	}
	userID := s.userID
	s.typing[chatID] = time.AfterFunc(TypingIdle, func() {
		s.stopTyping(chatID)
	})
	s.mu.Unlock()

	s.send(models.EventTyping, models.TypingPayload{ChatID: chatID, UserID: userID, IsTyping: true})
}

func (s *Session) stopTyping(chatID int) {
	s.mu.Lock()
	timer, active := s.typing[chatID]
	if active {
		timer.Stop()
		delete(s.typing, chatID)
	}
	userID := s.userID
	s.mu.Unlock()
	if !active {
		return
	}
	s.send(models.EventTyping, models.TypingPayload{ChatID: chatID, UserID: userID, IsTyping: false})
}

// PendingMessages returns the optimistic messages not yet confirmed by the
// server.
func (s *Session) PendingMessages() []PendingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingMessage, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	return out
}

// UserID returns the authenticated user id, zero before authentication.
func (s *Session) UserID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Connected reports whether the websocket is currently open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) send(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("client: marshal %s: %w", event, err)
	}
	data, err := json.Marshal(models.Event{Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("client: marshal envelope: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.conn == nil {
		return ErrNotConnected
	}
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("client: write %s: %w", event, err)
	}
	return nil
}

// Close shuts the connection down. Pending messages survive a Close so they
// can be inspected and resent after a Connect.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.conn == nil {
		return nil
	}
	s.connected = false
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}
