package model

import "time"

const NotificationTypeMessage = "message"

// Notification is an in-app notification for one user
type Notification struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	SenderID  *int64     `json:"sender_id"`
	Type      string     `json:"type"`
	Content   string     `json:"content"`
	Read      bool       `json:"read"`
	CreatedAt time.Time  `json:"created_at"`
	Sender    *UserBrief `json:"sender,omitempty"`
}
