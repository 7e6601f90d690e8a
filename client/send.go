package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"zonemarket/internal/model"
)

// Chat is one open conversation: its message store and the optimistic send
// pipeline in front of POST /api/messages.
type Chat struct {
	api     *Client
	store   *MessageStore
	ids     IDGenerator
	refresh *RefreshCounter
	me      model.UserBrief
	now     func() time.Time

	mu     sync.Mutex
	target Target
}

// ChatOption configures a Chat.
type ChatOption func(*Chat)

// WithIDGenerator sets the source of temporary ids.
func WithIDGenerator(g IDGenerator) ChatOption {
	return func(c *Chat) { c.ids = g }
}

// WithRefreshCounter sets the counter bumped after each accepted send.
func WithRefreshCounter(rc *RefreshCounter) ChatOption {
	return func(c *Chat) { c.refresh = rc }
}

// WithClock sets the clock used for provisional timestamps.
func WithClock(now func() time.Time) ChatOption {
	return func(c *Chat) { c.now = now }
}

// NewChat opens a chat with target on behalf of me.
func NewChat(api *Client, me model.UserBrief, target Target, opts ...ChatOption) *Chat {
	c := &Chat{
		api:     api,
		store:   NewMessageStore(),
		ids:     UUIDv7Generator{},
		refresh: &RefreshCounter{},
		me:      me,
		now:     time.Now,
		target:  target,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the message store of the chat.
func (c *Chat) Store() *MessageStore { return c.store }

// Messages returns the current messages in order.
func (c *Chat) Messages() []Message { return c.store.Messages() }

// Target returns where the next message goes.
func (c *Chat) Target() Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// ConversationID is 0 until the conversation exists on the server.
func (c *Chat) ConversationID() int64 {
	if t, ok := c.Target().(ExistingConversation); ok {
		return t.ID
	}
	return 0
}

// Send appends a provisional message, posts it and reconciles the store with
// the outcome. On a 2xx with a usable message the provisional entry is
// replaced and the returned message is its confirmed form. On a 2xx without
// one the entry is kept as unconfirmed and returned as such. On any error the
// entry is removed and the error returned.
func (c *Chat) Send(ctx context.Context, text, image string) (Message, error) {
	text = norm.NFC.String(strings.TrimSpace(text))
	image = strings.TrimSpace(image)
	if text == "" && image == "" {
		return Message{}, ErrEmptyMessage
	}
	target := c.Target()
	if err := validTarget(target); err != nil {
		return Message{}, err
	}

	me := c.me
	pending := Message{
		TempID:         c.ids.Generate(),
		ConversationID: c.ConversationID(),
		SenderID:       me.ID,
		Text:           text,
		Image:          image,
		CreatedAt:      c.now().UTC(),
		Sender:         &me,
	}
	c.store.Add(pending)

	req := sendRequest{Text: text, Image: image}
	switch t := target.(type) {
	case ExistingConversation:
		req.ConversationID = t.ID
	case NewConversation:
		req.SellerID, req.ProductID = t.SellerID, t.ProductID
	}

	res, err := c.api.sendMessage(ctx, req)
	if err != nil {
		c.store.Remove(pending.TempID)
		return Message{}, err
	}
	c.refresh.Bump()

	if res.ConversationID != 0 {
		c.mu.Lock()
		c.target = ExistingConversation{ID: res.ConversationID}
		c.mu.Unlock()
	}

	if res.Message == nil {
		c.store.MarkUnconfirmed(pending.TempID)
		pending.Unconfirmed = true
		return pending, nil
	}

	confirmed := *res.Message
	if confirmed.Sender == nil {
		confirmed.Sender = &me
	}
	if confirmed.CreatedAt.IsZero() {
		confirmed.CreatedAt = pending.CreatedAt
	}
	c.store.Replace(pending.TempID, confirmed)
	return confirmed, nil
}

// Refresh re-fetches the conversation history and merges it. Unconfirmed
// entries are dropped since the server history covers them; pending ones
// stay. A chat whose conversation does not exist yet has nothing to fetch.
func (c *Chat) Refresh(ctx context.Context) error {
	id := c.ConversationID()
	if id == 0 {
		return nil
	}
	msgs, err := c.api.ConversationMessages(ctx, id)
	if err != nil {
		return err
	}
	c.store.Reconcile(msgs)
	return nil
}

// Receive merges a message pushed by the server when it belongs to this chat.
func (c *Chat) Receive(m Message) bool {
	id := c.ConversationID()
	if id == 0 || m.ConversationID != id || m.ID == 0 {
		return false
	}
	c.store.Add(m)
	return true
}
