package models

import (
	"time"

	"github.com/lib/pq"
)

// Message payload kinds. Voice and image messages carry a media URL in
// Content; the upload itself is handled by an external service.
const (
	KindText  = "text"
	KindVoice = "voice"
	KindImage = "image"
)

// ValidKind reports whether kind is a known message payload kind.
func ValidKind(kind string) bool {
	return kind == KindText || kind == KindVoice || kind == KindImage
}

// Message represents a persisted conversation message.
type Message struct {
	ID             int           `db:"id" json:"id"`
	ConversationID int           `db:"conversation_id" json:"conversation_id"`
	SenderID       int           `db:"sender_id" json:"sender_id"`
	Kind           string        `db:"kind" json:"kind"`
	Content        string        `db:"content" json:"content"`
	DurationSecs   *int          `db:"duration_secs" json:"duration_secs,omitempty"`
	ReadBy         pq.Int64Array `db:"read_by" json:"read_by"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// ReadByContains reports whether userID is in the message's read-by set.
func (m Message) ReadByContains(userID int) bool {
	for _, id := range m.ReadBy {
		if int(id) == userID {
			return true
		}
	}
	return false
}

// Event is broadcast through websocket channels.
type Event struct {
	Type           string   `json:"type"`
	Message        *Message `json:"message,omitempty"`
	ConversationID int      `json:"conversation_id,omitempty"`
	UserID         int      `json:"user_id,omitempty"`
	Theme          string   `json:"theme,omitempty"`
}

// Event types pushed to subscribers.
const (
	EventNewMessage   = "new-message"
	EventMessagesRead = "messages-read"
	EventThemeChanged = "theme-changed"
)

// Control event types received from clients.
const (
	EventJoinChat  = "join-chat"
	EventLeaveChat = "leave-chat"
)

// ControlEvent is a client -> server channel control frame.
type ControlEvent struct {
	Type           string `json:"type"`
	ConversationID int    `json:"conversation_id"`
}
