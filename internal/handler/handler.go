package handler

import (
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"zonemarket/internal/auth"
	"zonemarket/internal/config"
	"zonemarket/internal/metrics"
	"zonemarket/internal/model"
	"zonemarket/internal/store"
)

// Handler holds application dependencies
type Handler struct {
	DB      *sql.DB
	Store   *store.Store
	Config  config.Config
	Auth    *auth.Authenticator
	Metrics *metrics.Metrics

	// ユーザーIDごとの WebSocket 接続
	Clients   map[int64]map[*websocket.Conn]bool
	ClientMu  sync.RWMutex
	Broadcast chan model.Event

	loginLimiter *limiterPool
	moderation   *wordFilter
}

// New creates a new Handler with the given dependencies
func New(db *sql.DB, cfg config.Config) *Handler {
	st := store.New(db)
	h := &Handler{
		DB:           db,
		Store:        st,
		Config:       cfg,
		Auth:         auth.NewAuthenticator(st),
		Metrics:      metrics.New(),
		Clients:      make(map[int64]map[*websocket.Conn]bool),
		Broadcast:    make(chan model.Event, 100),
		loginLimiter: newLimiterPool(cfg.LoginRPS, cfg.LoginBurst),
		moderation:   newWordFilter(cfg.OffensiveWords),
	}
	h.Metrics.GaugeFunc("websocket_clients", "Connected websocket clients.", func() float64 {
		return float64(h.ClientCount())
	})
	return h
}

// SetupRouter configures and returns the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.logRequests, h.Metrics.Middleware)

	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
	r.Handle("/metrics", h.Metrics.Handler()).Methods("GET")
	h.registerDocs(r)

	api := r.PathPrefix("/api").Subrouter()

	// 認証不要
	api.HandleFunc("/register", h.Register).Methods("POST")
	api.Handle("/login", h.rateLimit(http.HandlerFunc(h.Login))).Methods("POST")
	api.HandleFunc("/products", h.ListProducts).Methods("GET")
	api.HandleFunc("/products/{id:[0-9]+}", h.GetProduct).Methods("GET")

	// 認証必須
	authed := api.NewRoute().Subrouter()
	authed.Use(h.requireAuth)

	authed.HandleFunc("/user", h.Me).Methods("GET")
	authed.HandleFunc("/user/profile", h.UpdateProfile).Methods("PUT")
	authed.HandleFunc("/logout", h.Logout).Methods("POST")

	authed.HandleFunc("/products", h.CreateProduct).Methods("POST")
	authed.HandleFunc("/products/{id:[0-9]+}", h.UpdateProduct).Methods("PUT")
	authed.HandleFunc("/products/{id:[0-9]+}/sold", h.MarkProductSold).Methods("PUT")
	authed.HandleFunc("/products/{id:[0-9]+}", h.DeleteProduct).Methods("DELETE")
	authed.HandleFunc("/products/{id:[0-9]+}/reviews", h.CreateReview).Methods("POST")
	authed.HandleFunc("/products/{id:[0-9]+}/disputes", h.OpenDispute).Methods("POST")
	authed.HandleFunc("/my-products", h.MyProducts).Methods("GET")

	authed.HandleFunc("/conversations", h.ListConversations).Methods("GET")
	authed.HandleFunc("/conversations/{id:[0-9]+}", h.GetConversation).Methods("GET")
	authed.HandleFunc("/conversations/{id:[0-9]+}", h.DeleteConversation).Methods("DELETE")
	authed.HandleFunc("/messages", h.CreateMessage).Methods("POST")

	authed.HandleFunc("/notifications", h.ListNotifications).Methods("GET")
	authed.HandleFunc("/notifications/read-all", h.MarkAllNotificationsRead).Methods("PUT")
	authed.HandleFunc("/notifications/{id:[0-9]+}/read", h.MarkNotificationRead).Methods("PUT")
	authed.HandleFunc("/notifications/{id:[0-9]+}", h.DeleteNotification).Methods("DELETE")

	h.RegisterAdmin(authed.PathPrefix("/admin").Subrouter())

	// WebSocket
	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	return r
}

// now is the handler clock; it follows the store clock so tests can pin time.
func (h *Handler) now() time.Time {
	return h.Store.Now()
}
