package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"course-chat-service/internal/auth"
	"course-chat-service/internal/delivery"
	"course-chat-service/internal/mocks"
	"course-chat-service/internal/models"
)

type wsFixture struct {
	server   *httptest.Server
	verifier *auth.Verifier
	hub      *Hub
	chats    *mocks.ChatRepositoryMock
	users    *mocks.UserRepositoryMock
	messages *mocks.MessageRepositoryMock
	fanout   *mocks.NotifierMock
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &wsFixture{
		verifier: auth.NewVerifier("test-secret"),
		hub:      NewHub(),
		chats:    new(mocks.ChatRepositoryMock),
		users:    new(mocks.UserRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		fanout:   new(mocks.NotifierMock),
	}

	pipeline := delivery.NewPipeline(f.chats, f.messages, f.users, f.hub, f.fanout)
	typing := NewTypingCoordinator(f.hub, DefaultTypingTTL)
	handler := NewHandler(f.hub, f.verifier, f.chats, f.users, pipeline, typing)

	router := gin.New()
	router.GET("/ws", handler.Handle)
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *wsFixture) token(t *testing.T, userID int, name string) string {
	t.Helper()
	token, err := f.verifier.Issue(userID, models.RoleStudent, name, time.Minute)
	require.NoError(t, err)
	return token
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.Event{Event: event, Payload: raw}))
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt models.Event
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func authenticateConn(t *testing.T, f *wsFixture, conn *websocket.Conn, userID int, name string) {
	t.Helper()
	f.users.On("Upsert", mock.Anything, mock.Anything).Return(nil).Maybe()
	sendEvent(t, conn, models.EventAuthenticate, models.AuthenticatePayload{Token: f.token(t, userID, name), ClientID: "test"})
	evt := readEvent(t, conn)
	require.Equal(t, models.EventAuthenticated, evt.Event)
	var payload models.AuthenticatedPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	require.Equal(t, userID, payload.UserID)
}

func TestHandshakeAndAuthenticate(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	authenticateConn(t, f, conn, 7, "Alice")
	assert.Equal(t, 1, f.hub.ConnectionsForUser(7))
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	sendEvent(t, conn, models.EventAuthenticate, models.AuthenticatePayload{Token: "garbage"})

	evt := readEvent(t, conn)
	require.Equal(t, models.EventError, evt.Event)
	var payload models.ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "AuthenticationRequired", payload.Code)
}

func TestQueryTokenAuthenticatesUpFront(t *testing.T) {
	f := newWSFixture(t)
	f.users.On("Upsert", mock.Anything, mock.Anything).Return(nil).Maybe()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + f.token(t, 7, "Alice")
	conn, _, err := websocket.DefaultDialer.DialContext(context.Background(), url, nil)
	require.NoError(t, err)
	defer conn.Close()

	evt := readEvent(t, conn)
	assert.Equal(t, models.EventAuthenticated, evt.Event)
}

func TestSendMessageRequiresAuthentication(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	sendEvent(t, conn, models.EventSendMessage, models.SendMessagePayload{ChatID: 5, Content: "hi"})

	evt := readEvent(t, conn)
	require.Equal(t, models.EventError, evt.Event)
	var payload models.ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "AuthenticationRequired", payload.Code)
}

func TestJoinRejectedForNonParticipant(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)
	authenticateConn(t, f, conn, 7, "Alice")

	f.chats.On("IsParticipant", mock.Anything, 5, 7).Return(false, nil).Once()
	sendEvent(t, conn, models.EventJoinChat, models.JoinChatPayload{ChatID: 5})

	deadline := time.Now().Add(time.Second)
	for f.hub.RoomSize(5) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, f.hub.RoomSize(5))
}

func TestMessageFlowBetweenTwoClients(t *testing.T) {
	f := newWSFixture(t)

	sender := f.dial(t)
	receiver := f.dial(t)
	authenticateConn(t, f, sender, 1, "Alice")
	authenticateConn(t, f, receiver, 2, "Bob")

	f.chats.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil)
	f.chats.On("IsParticipant", mock.Anything, 5, 2).Return(true, nil)
	sendEvent(t, sender, models.EventJoinChat, models.JoinChatPayload{ChatID: 5})
	sendEvent(t, receiver, models.EventJoinChat, models.JoinChatPayload{ChatID: 5})

	deadline := time.Now().Add(time.Second)
	for f.hub.RoomSize(5) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 2, f.hub.RoomSize(5))

	f.messages.On("CreateMessage", mock.Anything, 5, 1, "hello", ([]models.Attachment)(nil)).
		Return(models.Message{ID: 9, ChatID: 5, SenderID: 1, Content: "hello", ReadBy: []int{1}}, nil).Once()
	f.chats.On("IncrementUnread", mock.Anything, 5, 1).Return(nil).Once()
	f.users.On("GetUser", mock.Anything, 1).Return(models.User{ID: 1, Name: "Alice"}, nil).Once()
	f.chats.On("Participants", mock.Anything, 5).Return([]models.Participant{
		{ChatID: 5, UserID: 1}, {ChatID: 5, UserID: 2},
	}, nil).Once()

	sendEvent(t, sender, models.EventSendMessage, models.SendMessagePayload{ChatID: 5, ClientMsgID: "tmp-1", Content: "hello"})

	evt := readEvent(t, receiver)
	require.Equal(t, models.EventNewMessage, evt.Event)
	var payload models.NewMessagePayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "hello", payload.Message.Content)
	assert.Equal(t, "Alice", payload.Message.SenderName)
	assert.Equal(t, "tmp-1", payload.Message.ClientMsgID)
	assert.Equal(t, []int{1}, payload.Message.ReadBy)

	// Both participants were in the room, nobody gets a notification.
	f.fanout.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestTypingRelayedToRoom(t *testing.T) {
	f := newWSFixture(t)

	typist := f.dial(t)
	watcher := f.dial(t)
	authenticateConn(t, f, typist, 1, "Alice")
	authenticateConn(t, f, watcher, 2, "Bob")

	f.chats.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil)
	f.chats.On("IsParticipant", mock.Anything, 5, 2).Return(true, nil)
	sendEvent(t, typist, models.EventJoinChat, models.JoinChatPayload{ChatID: 5})
	sendEvent(t, watcher, models.EventJoinChat, models.JoinChatPayload{ChatID: 5})

	deadline := time.Now().Add(time.Second)
	for f.hub.RoomSize(5) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	sendEvent(t, typist, models.EventTyping, models.TypingPayload{ChatID: 5, IsTyping: true})

	evt := readEvent(t, watcher)
	require.Equal(t, models.EventUserTyping, evt.Event)
	var payload models.TypingPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, 1, payload.UserID)
	assert.True(t, payload.IsTyping)
}

func TestReauthenticateKeepsFirstBinding(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)
	authenticateConn(t, f, conn, 1, "Alice")

	sendEvent(t, conn, models.EventAuthenticate, models.AuthenticatePayload{Token: f.token(t, 2, "Mallory"), ClientID: "other"})

	evt := readEvent(t, conn)
	require.Equal(t, models.EventAuthenticated, evt.Event)
	var payload models.AuthenticatedPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, 1, payload.UserID)

	assert.Equal(t, 1, f.hub.ConnectionsForUser(1))
	assert.Equal(t, 0, f.hub.ConnectionsForUser(2))
}
