package ws

import "time"

// ConnInfo is the identity bound to a live connection. UserID and Role come
// from verified token claims; ClientID is the client instance id so
// multi-tab sessions stay distinguishable.
type ConnInfo struct {
	ConnID      string
	UserID      int
	Role        string
	ClientID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
