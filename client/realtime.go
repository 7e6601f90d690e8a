package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"zonemarket/internal/logger"
	"zonemarket/internal/model"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Handlers receive the events pushed over the websocket. Nil handlers are
// skipped.
type Handlers struct {
	OnMessage             func(Message)
	OnNotification        func(model.Notification)
	OnConversationDeleted func(id int64)
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Listen connects to the websocket and dispatches events until ctx is done
// or the connection drops. A cancelled ctx returns nil.
func (c *Client) Listen(ctx context.Context, h Handlers) error {
	wsURL, err := c.websocketURL()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Message: resp.Status}
		}
		return fmt.Errorf("%w: dial websocket: %w", ErrTransport, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("%w: websocket read: %w", ErrTransport, err)
		}
		dispatch(data, h)
	}
}

func dispatch(data []byte, h Handlers) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warnf("[WS] ❌ Bad event: %v", err)
		return
	}

	switch env.Type {
	case model.EventMessageCreated:
		if h.OnMessage == nil {
			return
		}
		m, err := NormalizeMessage(env.Data)
		if err != nil {
			logger.Warnf("[WS] ❌ Bad %s event: %v", env.Type, err)
			return
		}
		h.OnMessage(m)

	case model.EventNotificationCreated:
		if h.OnNotification == nil {
			return
		}
		var n model.Notification
		if err := json.Unmarshal(env.Data, &n); err != nil {
			logger.Warnf("[WS] ❌ Bad %s event: %v", env.Type, err)
			return
		}
		h.OnNotification(n)

	case model.EventConversationDeleted:
		if h.OnConversationDeleted == nil {
			return
		}
		var ev model.ConversationDeletedEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			logger.Warnf("[WS] ❌ Bad %s event: %v", env.Type, err)
			return
		}
		h.OnConversationDeleted(ev.ID)

	default:
		logger.Debugf("[WS] Ignoring event %q", env.Type)
	}
}
