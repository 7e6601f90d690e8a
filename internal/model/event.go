package model

import "time"

const (
	EventMessageCreated      = "message.created"
	EventNotificationCreated = "notification.created"
	EventConversationDeleted = "conversation.deleted"
)

// Event is pushed to the websocket connections of one user
type Event struct {
	UserID int64       `json:"-"`
	Type   string      `json:"type"`
	Data   interface{} `json:"data"`
}

// ConversationDeletedEvent is used for WebSocket delete notifications
type ConversationDeletedEvent struct {
	ID        int64     `json:"id"`
	DeletedAt time.Time `json:"deleted_at"`
}
