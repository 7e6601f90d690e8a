package model

import "time"

// Conversation is a two-party thread between a buyer (UserID) and a seller,
// optionally scoped to one product.
type Conversation struct {
	ID          int64         `json:"id"`
	UserID      int64         `json:"user_id"`
	SellerID    int64         `json:"seller_id"`
	ProductID   *int64        `json:"product_id"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	User        *UserBrief    `json:"user,omitempty"`
	Seller      *UserBrief    `json:"seller,omitempty"`
	Product     *ProductBrief `json:"product,omitempty"`
	LastMessage *Message      `json:"last_message,omitempty"`
	UnreadCount int           `json:"unread_count"`
	Messages    []Message     `json:"messages,omitempty"`
}

// HasParticipant reports whether userID is one of the two parties.
func (c *Conversation) HasParticipant(userID int64) bool {
	return c.UserID == userID || c.SellerID == userID
}

// OtherParticipant returns the party that is not userID.
func (c *Conversation) OtherParticipant(userID int64) int64 {
	if c.UserID == userID {
		return c.SellerID
	}
	return c.UserID
}

// Message represents a chat message
type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	SenderID       int64      `json:"sender_id"`
	Text           *string    `json:"text"`
	Image          *string    `json:"image"`
	Read           bool       `json:"read"`
	CreatedAt      time.Time  `json:"created_at"`
	Sender         *UserBrief `json:"sender,omitempty"`
}
