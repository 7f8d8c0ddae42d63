package models

import "time"

// Conversation represents a direct or group conversation.
type Conversation struct {
	ID            int       `db:"id" json:"id"`
	IsGroup       bool      `db:"is_group" json:"is_group"`
	Name          string    `db:"name" json:"name,omitempty"`
	Theme         string    `db:"theme" json:"theme"`
	LastMessageID *int      `db:"last_message_id" json:"last_message_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`

	// Sorted participant pair, set only for direct conversations. Backs the
	// unique index that makes find-or-create race-free.
	UserLo *int `db:"user_lo" json:"-"`
	UserHi *int `db:"user_hi" json:"-"`

	Participants []int `db:"-" json:"participants,omitempty"`
}

// ConversationSummary is the per-user list view of a conversation.
type ConversationSummary struct {
	ConversationID int       `json:"conversation_id"`
	IsGroup        bool      `json:"is_group"`
	Name           string    `json:"name,omitempty"`
	Theme          string    `json:"theme"`
	FriendID       int       `json:"friend_id,omitempty"`
	LastMessage    *Message  `json:"last_message,omitempty"`
	UnreadCount    int       `json:"unread_count"`
	CreatedAt      time.Time `json:"created_at"`
}
