package ws

import (
	"sync"
	"time"
)

// DefaultTypingTTL bounds how long a stale typing indicator can be shown
// after the sender goes silent or drops.
const DefaultTypingTTL = 3 * time.Second

type typingKey struct {
	chatID int
	userID int
}

// TypingBroadcaster fans a typing state change out to a room.
type TypingBroadcaster interface {
	BroadcastTyping(chatID, userID int, isTyping bool)
}

// TypingCoordinator holds per-chat-per-user typing state. A true state
// re-arms an expiry timer; if it fires without renewal the coordinator
// synthesizes a false broadcast, covering abrupt disconnects.
type TypingCoordinator struct {
	mu     sync.Mutex
	ttl    time.Duration
	timers map[typingKey]*time.Timer
	hub    TypingBroadcaster
}

// NewTypingCoordinator creates a coordinator. ttl <= 0 uses the default.
func NewTypingCoordinator(hub TypingBroadcaster, ttl time.Duration) *TypingCoordinator {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingCoordinator{
		ttl:    ttl,
		timers: make(map[typingKey]*time.Timer),
		hub:    hub,
	}
}

// SetTyping records a typing state change and broadcasts it to the other
// room members.
func (t *TypingCoordinator) SetTyping(chatID, userID int, isTyping bool) {
	key := typingKey{chatID: chatID, userID: userID}

	t.mu.Lock()
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
	if isTyping {
		t.timers[key] = time.AfterFunc(t.ttl, func() { t.expire(key) })
	}
	t.mu.Unlock()

	t.hub.BroadcastTyping(chatID, userID, isTyping)
}

// ActiveStates returns how many typing states are pending expiry.
func (t *TypingCoordinator) ActiveStates() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

func (t *TypingCoordinator) expire(key typingKey) {
	t.mu.Lock()
	if _, ok := t.timers[key]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.timers, key)
	t.mu.Unlock()

	t.hub.BroadcastTyping(key.chatID, key.userID, false)
}
