package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-chat-service/internal/models"
)

func recvEvent(t *testing.T, c *Client) models.Event {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var evt models.Event
		require.NoError(t, json.Unmarshal(data, &evt))
		return evt
	case <-time.After(time.Second):
		t.Fatal("no frame enqueued")
		return models.Event{}
	}
}

func requireNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected frame: %s", data)
	default:
	}
}

func newTestClient(t *testing.T, hub *Hub, userID int) *Client {
	t.Helper()
	c := NewClient(nil)
	hub.Register(c)
	require.True(t, hub.Authenticate(c, userID, models.RoleStudent, "client-1"))
	return c
}

func TestAuthenticateBindsOnce(t *testing.T) {
	hub := NewHub()
	c := NewClient(nil)
	hub.Register(c)

	require.True(t, hub.Authenticate(c, 1, models.RoleMentor, "first"))
	assert.False(t, hub.Authenticate(c, 2, models.RoleStudent, "second"))

	info := c.Info()
	assert.Equal(t, 1, info.UserID)
	assert.Equal(t, models.RoleMentor, info.Role)
	assert.Equal(t, "first", info.ClientID)
	assert.Equal(t, 1, hub.ConnectionsForUser(1))
	assert.Equal(t, 0, hub.ConnectionsForUser(2))
}

func TestBroadcastToChatExcludesSenderConn(t *testing.T) {
	hub := NewHub()
	sender := newTestClient(t, hub, 1)
	receiver := newTestClient(t, hub, 2)
	hub.Join(sender, 5)
	hub.Join(receiver, 5)

	hub.BroadcastToChat(5, models.EventNewMessage, models.NewMessagePayload{ChatID: 5}, sender.Info().ConnID)

	evt := recvEvent(t, receiver)
	assert.Equal(t, models.EventNewMessage, evt.Event)
	requireNoEvent(t, sender)
}

func TestBroadcastReachesOnlyRoomMembers(t *testing.T) {
	hub := NewHub()
	member := newTestClient(t, hub, 1)
	outsider := newTestClient(t, hub, 2)
	hub.Join(member, 5)

	hub.BroadcastToChat(5, models.EventNewMessage, nil, "")

	recvEvent(t, member)
	requireNoEvent(t, outsider)
}

func TestBroadcastTypingExcludesAllSenderConns(t *testing.T) {
	hub := NewHub()
	typistA := newTestClient(t, hub, 1)
	typistB := newTestClient(t, hub, 1)
	other := newTestClient(t, hub, 2)
	hub.Join(typistA, 5)
	hub.Join(typistB, 5)
	hub.Join(other, 5)

	hub.BroadcastTyping(5, 1, true)

	evt := recvEvent(t, other)
	assert.Equal(t, models.EventUserTyping, evt.Event)
	var payload models.TypingPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, 1, payload.UserID)
	assert.True(t, payload.IsTyping)

	requireNoEvent(t, typistA)
	requireNoEvent(t, typistB)
}

func TestSendToUserCountsConnections(t *testing.T) {
	hub := NewHub()
	first := newTestClient(t, hub, 1)
	second := newTestClient(t, hub, 1)
	newTestClient(t, hub, 2)

	n := hub.SendToUser(1, models.EventNewNotification, models.Notification{Title: "hi"})
	assert.Equal(t, 2, n)
	recvEvent(t, first)
	recvEvent(t, second)

	assert.Equal(t, 0, hub.SendToUser(99, models.EventNewNotification, nil))
}

func TestUnregisterLeavesAllRooms(t *testing.T) {
	hub := NewHub()
	c := newTestClient(t, hub, 1)
	other := newTestClient(t, hub, 2)
	hub.Join(c, 5)
	hub.Join(c, 6)
	hub.Join(other, 5)

	hub.Unregister(c)

	assert.Equal(t, 1, hub.RoomSize(5))
	assert.Equal(t, 0, hub.RoomSize(6))
	assert.Equal(t, 0, hub.ConnectionsForUser(1))
	assert.False(t, hub.IsUserInRoom(1, 5))

	_, open := <-c.send
	assert.False(t, open, "send channel should be closed")

	// Double unregister is a no-op.
	hub.Unregister(c)
}

func TestIsUserInRoomAcrossConnections(t *testing.T) {
	hub := NewHub()
	a := newTestClient(t, hub, 1)
	b := newTestClient(t, hub, 1)
	hub.Join(b, 5)
	_ = a

	assert.True(t, hub.IsUserInRoom(1, 5))
	assert.False(t, hub.IsUserInRoom(2, 5))

	hub.Leave(b, 5)
	assert.False(t, hub.IsUserInRoom(1, 5))
}

func TestEnqueueAfterUnregisterIsDropped(t *testing.T) {
	hub := NewHub()
	c := newTestClient(t, hub, 1)
	hub.Join(c, 5)
	hub.Unregister(c)

	// A broadcast working from a room snapshot taken before the unregister
	// may still reach this connection; the frame is dropped, not a panic.
	c.enqueue([]byte(`{}`))
}

func TestBroadcastRacingUnregisterDoesNotPanic(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 200; i++ {
		c := newTestClient(t, hub, 1)
		hub.Join(c, 5)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.BroadcastToChat(5, models.EventNewMessage, nil, "")
		}()
		go func() {
			defer wg.Done()
			hub.Unregister(c)
		}()
		wg.Wait()
	}
}
