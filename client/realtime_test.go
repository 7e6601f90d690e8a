package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonemarket/internal/model"
)

func TestListen_DispatchesEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, ev := range []string{
			`not json`,
			`{"type":"message.created","data":{"id":8,"conversation_id":5,"sender_id":2,"text":"hola","created_at":"2026-03-10T12:00:00Z"}}`,
			`{"type":"typing","data":{}}`,
			`{"type":"notification.created","data":{"id":4,"user_id":1,"type":"message","content":"te ha enviado un mensaje nuevo","read":false,"created_at":"2026-03-10T12:00:00Z"}}`,
			`{"type":"conversation.deleted","data":{"id":6,"deleted_at":"2026-03-10T12:00:00Z"}}`,
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(ev)); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	api := New(srv.URL, WithToken("secret"))
	chat := NewChat(api, me, ExistingConversation{ID: 5})
	feed := NewNotificationFeed(api, NewMemoryCache())
	require.NoError(t, feed.store(nil))

	var deleted []int64
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := api.Listen(ctx, Handlers{
		OnMessage: func(m Message) { chat.Receive(m) },
		OnNotification: func(n model.Notification) {
			assert.NoError(t, feed.Push(n))
		},
		OnConversationDeleted: func(id int64) { deleted = append(deleted, id) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"id-8"}, keys(chat.Messages()))
	cached, _, err := feed.Cached()
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, int64(4), cached[0].ID)
	assert.Equal(t, []int64{6}, deleted)
}

func TestListen_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	err := New(srv.URL).Listen(context.Background(), Handlers{})
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
}

func TestListen_CancelReturnsNil(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- New(srv.URL, WithToken("secret")).Listen(ctx, Handlers{}) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestWebsocketURL(t *testing.T) {
	u, err := New("https://api.example.com/", WithToken("a b")).websocketURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/ws?token=a+b", u)
}
