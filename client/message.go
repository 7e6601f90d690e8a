package client

import (
	"strconv"
	"time"

	"zonemarket/internal/model"
)

// Message is a chat message as the client holds it. A message that the
// server has not acknowledged yet has no ID and carries the TempID it was
// created with.
type Message struct {
	ID             int64            `json:"id,omitempty"`
	TempID         string           `json:"temp_id,omitempty"`
	ConversationID int64            `json:"conversation_id,omitempty"`
	SenderID       int64            `json:"sender_id"`
	Text           string           `json:"text,omitempty"`
	Image          string           `json:"image,omitempty"`
	Read           bool             `json:"read"`
	CreatedAt      time.Time        `json:"created_at"`
	Sender         *model.UserBrief `json:"sender,omitempty"`
	Unconfirmed    bool             `json:"unconfirmed,omitempty"`
}

// Pending reports whether the message is still waiting for the server.
func (m Message) Pending() bool {
	return m.ID == 0 && m.TempID != "" && !m.Unconfirmed
}

// Key returns the identity used to de-duplicate messages: the server id when
// known, else the temporary id, else the creation time and text.
func (m Message) Key() string {
	switch {
	case m.ID != 0:
		return "id-" + strconv.FormatInt(m.ID, 10)
	case m.TempID != "":
		return "temp-" + m.TempID
	default:
		return "time-" + strconv.FormatInt(stamp(m.CreatedAt), 10) + "-" + m.Text
	}
}

// stamp is the sort key of t in unix milliseconds; a missing time sorts as
// the epoch.
func stamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
