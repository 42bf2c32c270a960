package delivery

import "errors"

// Validation errors returned by Send. They are surfaced to the sender only
// and never crash the connection.
var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrNotParticipant         = errors.New("not a participant of this chat")
	ErrEmptyMessage           = errors.New("message needs content or attachments")
	ErrTooManyAttachments     = errors.New("too many attachments")
)

// ErrorCode maps a pipeline error to its wire-level error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		return "AuthenticationRequired"
	case errors.Is(err, ErrNotParticipant):
		return "NotParticipant"
	case errors.Is(err, ErrEmptyMessage):
		return "EmptyMessage"
	case errors.Is(err, ErrTooManyAttachments):
		return "TooManyAttachments"
	default:
		return "Internal"
	}
}
