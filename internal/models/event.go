package models

import "encoding/json"

// Event is the envelope for every frame on the websocket, both directions.
type Event struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server events.
const (
	EventAuthenticate = "authenticate"
	EventJoinChat     = "joinChat"
	EventLeaveChat    = "leaveChat"
	EventSendMessage  = "sendMessage"
	EventTyping       = "typing"
)

// Server -> client events.
const (
	EventAuthenticated         = "authenticated"
	EventNewMessage            = "newMessage"
	EventUserTyping            = "userTyping"
	EventNewNotification       = "newNotification"
	EventNewNotificationLegacy = "new_notification"
	EventPlaySound             = "playNotificationSound"
	EventError                 = "error"
)

// AuthenticatePayload binds a connection to an identity. The token is
// validated server-side; user id and role come from its claims, never from
// the client.
type AuthenticatePayload struct {
	Token    string `json:"token"`
	ClientID string `json:"clientId"`
}

type AuthenticatedPayload struct {
	UserID int    `json:"userId"`
	Role   string `json:"role"`
}

type JoinChatPayload struct {
	ChatID int `json:"chatId"`
}

type SendMessagePayload struct {
	ChatID      int          `json:"chatId"`
	ClientMsgID string       `json:"clientMsgId,omitempty"`
	Content     string       `json:"message"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type TypingPayload struct {
	ChatID   int  `json:"chatId"`
	UserID   int  `json:"userId,omitempty"`
	IsTyping bool `json:"isTyping"`
}

type NewMessagePayload struct {
	ChatID  int     `json:"chatId"`
	Message Message `json:"message"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
