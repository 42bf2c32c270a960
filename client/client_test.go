package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-chat-service/internal/models"
)

// stubServer speaks just enough of the wire and REST protocol to drive the
// session: it answers authenticate with authenticated, records every other
// frame, serves a canned history and logs REST calls.
type stubServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conn      *websocket.Conn
	received  []models.Event
	history   []models.Message
	restCalls []string
}

func newStubServer(t *testing.T, userID int) *stubServer {
	t.Helper()
	s := &stubServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			s.mu.Lock()
			s.restCalls = append(s.restCalls, r.Method+" "+r.URL.Path)
			history := append([]models.Message(nil), s.history...)
			s.mu.Unlock()

			if r.Header.Get("Authorization") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.Method == http.MethodGet {
				json.NewEncoder(w).Encode(map[string]any{"messages": history})
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		for {
			var evt models.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, evt)
			s.mu.Unlock()

			if evt.Event == models.EventAuthenticate {
				payload, _ := json.Marshal(models.AuthenticatedPayload{UserID: userID, Role: models.RoleStudent})
				conn.WriteJSON(models.Event{Event: models.EventAuthenticated, Payload: payload})
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *stubServer) push(t *testing.T, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	require.NotNil(t, conn)
	require.NoError(t, conn.WriteJSON(models.Event{Event: event, Payload: raw}))
}

func (s *stubServer) waitFor(t *testing.T, n int) []models.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.received) >= n {
			out := append([]models.Event(nil), s.received...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames", n)
	return nil
}

func TestConnectAuthenticates(t *testing.T) {
	server := newStubServer(t, 7)
	session := New(server.URL, "token-7", nil)

	require.NoError(t, session.Connect(context.Background()))
	defer session.Close()

	assert.Equal(t, 7, session.UserID())
	assert.True(t, session.Connected())

	frames := server.waitFor(t, 1)
	assert.Equal(t, models.EventAuthenticate, frames[0].Event)
	var auth models.AuthenticatePayload
	require.NoError(t, json.Unmarshal(frames[0].Payload, &auth))
	assert.Equal(t, "token-7", auth.Token)
	assert.NotEmpty(t, auth.ClientID)
}

func TestSendMessageReconcilesOnEcho(t *testing.T) {
	server := newStubServer(t, 7)

	events := make(chan string, 10)
	session := New(server.URL, "token-7", func(event string, _ json.RawMessage) {
		events <- event
	})
	require.NoError(t, session.Connect(context.Background()))
	defer session.Close()
	require.NoError(t, session.JoinChat(5))

	clientMsgID, err := session.SendMessage(5, "hello", nil)
	require.NoError(t, err)
	require.Len(t, session.PendingMessages(), 1)

	frames := server.waitFor(t, 3)
	assert.Equal(t, models.EventSendMessage, frames[2].Event)
	var sent models.SendMessagePayload
	require.NoError(t, json.Unmarshal(frames[2].Payload, &sent))
	assert.Equal(t, clientMsgID, sent.ClientMsgID)
	assert.Equal(t, "hello", sent.Content)

	// Server confirms the message; the optimistic entry is replaced.
	server.push(t, models.EventNewMessage, models.NewMessagePayload{
		ChatID:  5,
		Message: models.Message{ID: 9, ChatID: 5, SenderID: 7, Content: "hello", ClientMsgID: clientMsgID},
	})

	select {
	case evt := <-events:
		assert.Equal(t, models.EventNewMessage, evt)
	case <-time.After(2 * time.Second):
		t.Fatal("newMessage never reached the handler")
	}
	assert.Empty(t, session.PendingMessages())
}

func TestUnconfirmedMessagesStayPending(t *testing.T) {
	server := newStubServer(t, 7)
	session := New(server.URL, "token-7", nil)
	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.JoinChat(5))

	_, err := session.SendMessage(5, "lost in flight", nil)
	require.NoError(t, err)

	require.NoError(t, session.Close())

	pending := session.PendingMessages()
	require.Len(t, pending, 1)
	assert.Equal(t, "lost in flight", pending[0].Content)
	assert.Equal(t, 5, pending[0].ChatID)
}

func TestTypingSentOncePerBurst(t *testing.T) {
	server := newStubServer(t, 7)
	session := New(server.URL, "token-7", nil)
	require.NoError(t, session.Connect(context.Background()))
	defer session.Close()
	require.NoError(t, session.JoinChat(5))

	session.KeyPressed(5)
	session.KeyPressed(5)
	session.KeyPressed(5)

	// authenticate + joinChat + a single typing frame.
	frames := server.waitFor(t, 3)
	typingFrames := 0
	for _, f := range frames {
		if f.Event == models.EventTyping {
			typingFrames++
		}
	}
	assert.Equal(t, 1, typingFrames)
}

func TestSendMessageStopsTyping(t *testing.T) {
	server := newStubServer(t, 7)
	session := New(server.URL, "token-7", nil)
	require.NoError(t, session.Connect(context.Background()))
	defer session.Close()
	require.NoError(t, session.JoinChat(5))

	session.KeyPressed(5)
	_, err := session.SendMessage(5, "done typing", nil)
	require.NoError(t, err)

	// authenticate, joinChat, typing true, sendMessage, typing false.
	frames := server.waitFor(t, 5)
	last := frames[len(frames)-1]
	require.Equal(t, models.EventTyping, last.Event)
	var typing models.TypingPayload
	require.NoError(t, json.Unmarshal(last.Payload, &typing))
	assert.False(t, typing.IsTyping)
}

func TestReconnectRejoinsChats(t *testing.T) {
	server := newStubServer(t, 7)
	session := New(server.URL, "token-7", nil)
	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.JoinChat(5))
	require.NoError(t, session.JoinChat(6))

	require.NoError(t, session.Close())
	assert.False(t, session.Connected())

	require.NoError(t, session.Connect(context.Background()))
	defer session.Close()

	// Second connection: authenticate plus a joinChat per previous room.
	frames := server.waitFor(t, 6)
	rejoined := map[int]bool{}
	for _, f := range frames[3:] {
		if f.Event == models.EventJoinChat {
			var join models.JoinChatPayload
			require.NoError(t, json.Unmarshal(f.Payload, &join))
			rejoined[join.ChatID] = true
		}
	}
	assert.True(t, rejoined[5])
	assert.True(t, rejoined[6])
}

func TestOpenChatLoadsHistoryAndMarksUnread(t *testing.T) {
	server := newStubServer(t, 7)
	server.mu.Lock()
	server.history = []models.Message{
		{ID: 1, ChatID: 5, SenderID: 7, Content: "mine", ReadBy: []int{7}},
		{ID: 2, ChatID: 5, SenderID: 2, Content: "seen", ReadBy: []int{2, 7}},
		{ID: 3, ChatID: 5, SenderID: 2, Content: "unseen", ReadBy: []int{2}},
	}
	server.mu.Unlock()

	session := New(server.URL, "token-7", nil)
	require.NoError(t, session.Connect(context.Background()))
	defer session.Close()

	msgs, err := session.OpenChat(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "mine", msgs[0].Content)

	server.mu.Lock()
	calls := append([]string(nil), server.restCalls...)
	server.mu.Unlock()

	// History load, one read receipt for the single unseen message, then
	// the chat-level unread reset. Own and already-read messages skipped.
	assert.Equal(t, []string{
		"GET /chats/5/messages",
		"POST /chats/5/messages/3/read",
		"POST /chats/5/read",
	}, calls)

	// The room subscription went over the websocket.
	frames := server.waitFor(t, 2)
	assert.Equal(t, models.EventJoinChat, frames[1].Event)
}

func TestOpenChatSurfacesHistoryFailure(t *testing.T) {
	server := newStubServer(t, 7)
	session := New(server.URL, "", nil) // empty token, REST returns 401

	require.NoError(t, session.Connect(context.Background()))
	defer session.Close()

	_, err := session.OpenChat(context.Background(), 5)
	require.Error(t, err)
}
