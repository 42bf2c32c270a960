package ws

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBufferSize = 64
	writeTimeout   = 5 * time.Second
)

// Client wraps one websocket connection. All writes go through the send
// channel and a single writer goroutine so broadcasts from different
// goroutines never interleave on the wire.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	info          ConnInfo
	authenticated bool
	closed        bool

	closeOnce sync.Once
}

// NewClient wraps a connection. conn may be nil in tests; enqueued frames
// then stay readable from the send channel.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		info: ConnInfo{ConnID: newConnID(), ConnectedAt: time.Now()},
	}
}

// Info returns the identity currently bound to the connection.
func (c *Client) Info() ConnInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Authenticated reports whether an identity is bound.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// bindIdentity sets the identity once; later calls keep the first binding.
func (c *Client) bindIdentity(userID int, role, clientID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authenticated {
		return false
	}
	c.info.UserID = userID
	c.info.Role = role
	c.info.ClientID = clientID
	c.authenticated = true
	return true
}

// enqueue hands a frame to the writer goroutine. Broadcasts work from a
// room snapshot, so a frame can race the connection's unregister; frames
// for a torn-down connection are dropped under the same lock closeSend
// takes. A full buffer means the peer stopped reading; the connection is
// closed and the read loop cleans up.
func (c *Client) enqueue(data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	select {
	case c.send <- data:
		c.mu.RUnlock()
	default:
		c.mu.RUnlock()
		info := c.Info()
		log.Printf("websocket send buffer full conn=%s user=%d, closing", info.ConnID, info.UserID)
		c.closeConn()
	}
}

// closeSend closes the send channel exactly once and fences off concurrent
// enqueues.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) closeConn() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// writePump drains the send channel onto the wire. Started once per real
// connection; exits when the hub closes the channel or a write fails.
func (c *Client) writePump() {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			c.closeConn()
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("websocket write error: %v", err)
			c.closeConn()
			return
		}
	}
}
