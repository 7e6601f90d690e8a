package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"zonemarket/internal/logger"
	"zonemarket/internal/model"
)

const writeWait = 10 * time.Second

// createUpgrader creates a WebSocket upgrader with the given allowed origins.
// Origin ヘッダが無いクライアント (モバイルアプリ, CLI) は許可する
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedMap[origin]
		},
	}
}

// HandleWebSocket handles GET /ws?token=<token>
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := h.Auth.GetUser(r.Context(), r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	upgrader := createUpgrader(h.Config.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("[WebSocket] ❌ Upgrade error: %v", err)
		return
	}
	defer conn.Close()

	h.ClientMu.Lock()
	if h.Clients[user.ID] == nil {
		h.Clients[user.ID] = make(map[*websocket.Conn]bool)
	}
	h.Clients[user.ID][conn] = true
	h.ClientMu.Unlock()

	logger.Infof("[WebSocket] New connection for user %d. Total clients: %d", user.ID, h.ClientCount())

	// クライアントからのメッセージを受信（キープアライブ用）
	for {
		var msg interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			h.removeClient(user.ID, conn)
			logger.Infof("[WebSocket] Client of user %d disconnected. Total clients: %d", user.ID, h.ClientCount())
			break
		}
	}
}

func (h *Handler) removeClient(userID int64, conn *websocket.Conn) {
	h.ClientMu.Lock()
	defer h.ClientMu.Unlock()
	conns := h.Clients[userID]
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.Clients, userID)
	}
}

// ClientCount returns the number of open websocket connections.
func (h *Handler) ClientCount() int {
	h.ClientMu.RLock()
	defer h.ClientMu.RUnlock()
	n := 0
	for _, conns := range h.Clients {
		n += len(conns)
	}
	return n
}

// publish queues an event for the connections of userID. Events are dropped
// when the broadcast buffer is full; clients recover on their next refresh.
func (h *Handler) publish(userID int64, typ string, data interface{}) {
	select {
	case h.Broadcast <- model.Event{UserID: userID, Type: typ, Data: data}:
	default:
		logger.Warnf("[WebSocket] ⚠️ Broadcast buffer full, dropping %s for user %d", typ, userID)
	}
}

// HandleBroadcast delivers queued events to the connections of their user
func (h *Handler) HandleBroadcast() {
	for event := range h.Broadcast {
		// 接続のスナップショットを取ってからロックを外すことで、
		// 書き込み中に切断処理と競合しないようにする
		h.ClientMu.RLock()
		snapshot := make([]*websocket.Conn, 0, len(h.Clients[event.UserID]))
		for conn := range h.Clients[event.UserID] {
			snapshot = append(snapshot, conn)
		}
		h.ClientMu.RUnlock()

		for _, conn := range snapshot {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				conn.Close()
				h.removeClient(event.UserID, conn)
			}
		}
		if len(snapshot) > 0 {
			logger.Debugf("[WebSocket] 📢 Delivered %s to %d connections of user %d", event.Type, len(snapshot), event.UserID)
		}
	}
}
