package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonemarket/internal/auth"
	"zonemarket/internal/config"
	"zonemarket/internal/database"
	"zonemarket/internal/model"
	"zonemarket/internal/store"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const testPassword = "secret123"

// setupTestHandler は SQLite の一時DBでハンドラーを作る
func setupTestHandler(t *testing.T, mutate ...func(*config.Config)) *Handler {
	t.Helper()

	cfg := config.Default()
	cfg.DBDriver = "sqlite3"
	cfg.LoginRPS = 1000
	cfg.LoginBurst = 1000
	cfg.OffensiveWords = []string{"idiota"}
	for _, m := range mutate {
		m(&cfg)
	}

	db, err := database.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(context.Background(), db, "sqlite3"))
	t.Cleanup(func() { db.Close() })

	h := New(db, cfg)
	h.Store.SetClock(func() time.Time { return testNow })
	return h
}

// seedUser creates a user and returns it with a valid bearer token.
func seedUser(t *testing.T, h *Handler, name string, role model.Role) (*model.User, string) {
	t.Helper()
	ctx := context.Background()

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	u := &model.User{Name: name, Email: strings.ToLower(name) + "@zone.test", PasswordHash: hash, Role: role}
	require.NoError(t, h.Store.CreateUser(ctx, u))

	token, tokenHash, err := auth.NewToken()
	require.NoError(t, err)
	require.NoError(t, h.Store.CreateToken(ctx, u.ID, tokenHash))
	return u, token
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func doRequest(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(v), rr.Body.String())
}

func TestRegisterAndLogin(t *testing.T) {
	h := setupTestHandler(t)
	router := h.SetupRouter()

	rr := doRequest(t, router, "POST", "/api/register", "", map[string]string{
		"name": "María José", "email": "maria@zone.test", "password": testPassword, "city": "San José", "role": "provider",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var reg authResponse
	decodeBody(t, rr, &reg)
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, model.RoleProvider, reg.User.Role)

	// 登録直後のトークンで /api/user が使える
	rr = doRequest(t, router, "GET", "/api/user", reg.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, router, "POST", "/api/register", "", map[string]string{
		"name": "Otra", "email": "maria@zone.test", "password": testPassword,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = doRequest(t, router, "POST", "/api/register", "", map[string]string{
		"name": "R2D2", "email": "r2@zone.test", "password": testPassword,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = doRequest(t, router, "POST", "/api/login", "", map[string]string{
		"email": "maria@zone.test", "password": testPassword,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var login authResponse
	decodeBody(t, rr, &login)
	assert.Equal(t, loginTypeUser, login.LoginType)

	page, err := h.Store.AccessHistory(context.Background(), login.User.ID, store.ListParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	rr = doRequest(t, router, "POST", "/api/login", "", map[string]string{
		"email": "maria@zone.test", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doRequest(t, router, "POST", "/api/login", "", map[string]string{
		"email": "maria@zone.test", "password": testPassword, "login_type": "admin",
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestLogin_AdminMustUseAdminLoginType(t *testing.T) {
	h := setupTestHandler(t)
	router := h.SetupRouter()
	admin, _ := seedUser(t, h, "Admin", model.RoleAdmin)

	rr := doRequest(t, router, "POST", "/api/login", "", map[string]string{"email": admin.Email, "password": testPassword})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = doRequest(t, router, "POST", "/api/login", "", map[string]string{
		"email": admin.Email, "password": testPassword, "login_type": "admin",
	})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLogin_BanExpiry(t *testing.T) {
	h := setupTestHandler(t)
	router := h.SetupRouter()
	ctx := context.Background()

	expired, _ := seedUser(t, h, "Expired", model.RoleClient)
	past := testNow.Add(-time.Hour)
	require.NoError(t, h.Store.BanUser(ctx, expired.ID, model.StatusBannedTemp, &past, "spam"))

	rr := doRequest(t, router, "POST", "/api/login", "", map[string]string{"email": expired.Email, "password": testPassword})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got, err := h.Store.UserByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.AccountStatus)
	assert.Nil(t, got.BanExpiresAt)

	active, _ := seedUser(t, h, "Active", model.RoleClient)
	future := testNow.Add(48 * time.Hour)
	require.NoError(t, h.Store.BanUser(ctx, active.ID, model.StatusBannedTemp, &future, "insultos"))

	rr = doRequest(t, router, "POST", "/api/login", "", map[string]string{"email": active.Email, "password": testPassword})
	require.Equal(t, http.StatusForbidden, rr.Code)
	var body map[string]interface{}
	decodeBody(t, rr, &body)
	assert.Equal(t, "insultos", body["ban_reason"])
	assert.Equal(t, "Tu cuenta ha sido baneada temporalmente", body["message"])
	assert.Equal(t, future.Format(time.RFC3339), body["ban_expires_at"])

	perm, _ := seedUser(t, h, "Perm", model.RoleClient)
	require.NoError(t, h.Store.BanUser(ctx, perm.ID, model.StatusBannedPerm, nil, "fraude"))
	rr = doRequest(t, router, "POST", "/api/login", "", map[string]string{"email": perm.Email, "password": testPassword})
	require.Equal(t, http.StatusForbidden, rr.Code)
	body = nil
	decodeBody(t, rr, &body)
	assert.Equal(t, "fraude", body["ban_reason"])
	assert.NotContains(t, body, "ban_expires_at")
}

func TestLogin_RateLimited(t *testing.T) {
	h := setupTestHandler(t, func(c *config.Config) {
		c.LoginRPS = 0.001
		c.LoginBurst = 1
	})
	router := h.SetupRouter()
	body := map[string]string{"email": "nobody@zone.test", "password": "whatever"}

	assert.Equal(t, http.StatusUnauthorized, doRequest(t, router, "POST", "/api/login", "", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(t, router, "POST", "/api/login", "", body).Code)
}

func TestMalformedJSON(t *testing.T) {
	h := setupTestHandler(t)
	router := h.SetupRouter()
	_, token := seedUser(t, h, "Buyer", model.RoleClient)

	rr := doRequest(t, router, "POST", "/api/messages", token, "{not json")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body map[string]string
	decodeBody(t, rr, &body)
	assert.Equal(t, "BAD_REQUEST", body["code"])
	assert.NotEmpty(t, body["message"])
}

func TestRequireAuth(t *testing.T) {
	h := setupTestHandler(t)
	router := h.SetupRouter()

	assert.Equal(t, http.StatusUnauthorized, doRequest(t, router, "GET", "/api/conversations", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(t, router, "GET", "/api/conversations", "bogus", nil).Code)

	_, token := seedUser(t, h, "Buyer", model.RoleClient)
	rr := doRequest(t, router, "POST", "/api/logout", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(t, router, "GET", "/api/user", token, nil).Code)
}

// setID renumbers a freshly created row so tests can use fixed ids.
func setID(t *testing.T, h *Handler, table string, from, to int64) {
	t.Helper()
	_, err := h.DB.Exec("UPDATE "+table+" SET id = ? WHERE id = ?", to, from)
	require.NoError(t, err)
}

func TestCreateMessage_BootstrapDedup(t *testing.T) {
	h := setupTestHandler(t)
	router := h.SetupRouter()

	_, buyerToken := seedUser(t, h, "Buyer", model.RoleClient)
	seller, _ := seedUser(t, h, "Seller", model.RoleProvider)
	setID(t, h, "users", seller.ID, 42)

	p := &model.Product{UserID: 42, Title: "Bici", Description: "Bici de montaña", Price: 120, Location: "Lima"}
	require.NoError(t, h.Store.CreateProduct(context.Background(), p))
	setID(t, h, "products", p.ID, 7)

	send := func(text string) messageResponse {
		rr := doRequest(t, router, "POST", "/api/messages", buyerToken, map[string]interface{}{
			"text": text, "seller_id": 42, "product_id": 7,
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		var resp messageResponse
		decodeBody(t, rr, &resp)
		return resp
	}

	first := send("¿Sigue disponible?")
	second := send("Puedo pasar hoy")
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.NotEqual(t, first.Message.ID, second.Message.ID)
	assert.Equal(t, int64(42), second.Conversation.SellerID)
	require.NotNil(t, second.Conversation.ProductID)
	assert.Equal(t, int64(7), *second.Conversation.ProductID)
	require.NotNil(t, second.Message.Sender)
	assert.Equal(t, "Buyer", second.Message.Sender.Name)

	rr := doRequest(t, router, "GET", "/api/conversations", buyerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var convs []model.Conversation
	decodeBody(t, rr, &convs)
	require.Len(t, convs, 1)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, second.Message.ID, convs[0].LastMessage.ID)
}

func TestCreateMessage_Validation(t *testing.T) {
	h := setupTestHandler(t)
	router := h.SetupRouter()
	buyer, buyerToken := seedUser(t, h, "Buyer", model.RoleClient)

	cases := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"empty", map[string]interface{}{"seller_id": 99}, http.StatusUnprocessableEntity},
		{"blank text", map[string]interface{}{"text": "   ", "seller_id": 99}, http.StatusUnprocessableEntity},
		{"no target", map[string]interface{}{"text": "hola"}, http.StatusUnprocessableEntity},
		{"unknown seller", map[string]interface{}{"text": "hola", "seller_id": 99}, http.StatusUnprocessableEntity},
		{"yourself", map[string]interface{}{"text": "hola", "seller_id": buyer.ID}, http.StatusUnprocessableEntity},
		{"unknown conversation", map[string]interface{}{"text": "hola", "conversation_id": 1234}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, router, "POST", "/api/messages", buyerToken, tc.body)
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
		})
	}
}

func TestConversation_ParticipantGate(t *testing.T) {
	h := setupTestHandler(t)
	router := h.SetupRouter()

	_, buyerToken := seedUser(t, h, "Buyer", model.RoleClient)
	seller, sellerToken := seedUser(t, h, "Seller", model.RoleProvider)
	_, strangerToken := seedUser(t, h, "Stranger", model.RoleClient)

	rr := doRequest(t, router, "POST", "/api/messages", buyerToken, map[string]interface{}{"text": "hola", "seller_id": seller.ID})
	require.Equal(t, http.StatusCreated, rr.Code)
	var sent messageResponse
	decodeBody(t, rr, &sent)
	path := "/api/conversations/" + itoa(sent.ConversationID)

	assert.Equal(t, http.StatusNotFound, doRequest(t, router, "GET", path, strangerToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, "DELETE", path, strangerToken, nil).Code)
	rr = doRequest(t, router, "POST", "/api/messages", strangerToken, map[string]interface{}{
		"text": "intruso", "conversation_id": sent.ConversationID,
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// 相手が開くと未読が既読になる
	rr = doRequest(t, router, "GET", "/api/conversations", sellerToken, nil)
	var convs []model.Conversation
	decodeBody(t, rr, &convs)
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].UnreadCount)

	rr = doRequest(t, router, "GET", path, sellerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var conv model.Conversation
	decodeBody(t, rr, &conv)
	require.Len(t, conv.Messages, 1)

	rr = doRequest(t, router, "GET", "/api/conversations", sellerToken, nil)
	convs = nil
	decodeBody(t, rr, &convs)
	assert.Equal(t, 0, convs[0].UnreadCount)

	rr = doRequest(t, router, "DELETE", path, sellerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, "GET", path, buyerToken, nil).Code)
}

func TestNotifications(t *testing.T) {
	h := setupTestHandler(t)
	router := h.SetupRouter()
	_, buyerToken := seedUser(t, h, "Buyer", model.RoleClient)
	seller, sellerToken := seedUser(t, h, "Seller", model.RoleProvider)

	for _, text := range []string{"uno", "dos"} {
		rr := doRequest(t, router, "POST", "/api/messages", buyerToken, map[string]interface{}{"text": text, "seller_id": seller.ID})
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := doRequest(t, router, "GET", "/api/notifications", sellerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []model.Notification
	decodeBody(t, rr, &list)
	require.Len(t, list, 2)
	assert.Equal(t, model.NotificationTypeMessage, list[0].Type)
	require.NotNil(t, list[0].Sender)
	assert.Equal(t, "Buyer", list[0].Sender.Name)

	path := "/api/notifications/" + itoa(list[0].ID)
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, "PUT", path+"/read", buyerToken, nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(t, router, "PUT", path+"/read", sellerToken, nil).Code)

	rr = doRequest(t, router, "PUT", "/api/notifications/read-all", sellerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var readAll map[string]interface{}
	decodeBody(t, rr, &readAll)
	assert.EqualValues(t, 1, readAll["updated"])

	assert.Equal(t, http.StatusOK, doRequest(t, router, "DELETE", path, sellerToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, "DELETE", path, sellerToken, nil).Code)
}

func TestProducts(t *testing.T) {
	h := setupTestHandler(t)
	router := h.SetupRouter()
	_, sellerToken := seedUser(t, h, "Seller", model.RoleProvider)
	_, otherToken := seedUser(t, h, "Other", model.RoleClient)

	rr := doRequest(t, router, "POST", "/api/products", sellerToken, map[string]interface{}{
		"title": "Cafetera", "description": "Casi nueva", "price": 35.5, "location": "Quito",
		"images": []string{"a.jpg", "b.jpg"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var p model.Product
	decodeBody(t, rr, &p)
	assert.Equal(t, model.DefaultCategory, p.Category)
	path := "/api/products/" + itoa(p.ID)

	rr = doRequest(t, router, "POST", "/api/products", sellerToken, map[string]interface{}{
		"title": "Caro", "description": "x", "price": 0, "location": "Quito",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	assert.Equal(t, http.StatusForbidden, doRequest(t, router, "PUT", path, otherToken, map[string]interface{}{"price": 1}).Code)
	assert.Equal(t, http.StatusOK, doRequest(t, router, "PUT", path, sellerToken, map[string]interface{}{"price": 30}).Code)

	var page model.Page[model.Product]
	decodeBody(t, doRequest(t, router, "GET", "/api/products", "", nil), &page)
	assert.Equal(t, 1, page.Total)

	require.Equal(t, http.StatusOK, doRequest(t, router, "PUT", path+"/sold", sellerToken, nil).Code)
	page = model.Page[model.Product]{}
	decodeBody(t, doRequest(t, router, "GET", "/api/products", "", nil), &page)
	assert.Equal(t, 0, page.Total)

	page = model.Page[model.Product]{}
	decodeBody(t, doRequest(t, router, "GET", "/api/my-products", sellerToken, nil), &page)
	require.Equal(t, 1, page.Total)
	assert.True(t, page.Data[0].Sold)
	assert.InDelta(t, 30, page.Data[0].Price, 0.001)

	assert.Equal(t, http.StatusOK, doRequest(t, router, "DELETE", path, sellerToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, "GET", path, "", nil).Code)
}

func TestCreateReview_FlagsOffensiveLanguage(t *testing.T) {
	h := setupTestHandler(t)
	router := h.SetupRouter()
	seller, sellerToken := seedUser(t, h, "Seller", model.RoleProvider)
	_, buyerToken := seedUser(t, h, "Buyer", model.RoleClient)

	p := &model.Product{UserID: seller.ID, Title: "Silla", Description: "Madera", Price: 20, Location: "Cali"}
	require.NoError(t, h.Store.CreateProduct(context.Background(), p))
	path := "/api/products/" + itoa(p.ID) + "/reviews"

	rr := doRequest(t, router, "POST", path, buyerToken, map[string]interface{}{"rating": 1, "comment": "Vendedor IDIOTA"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var review model.Review
	decodeBody(t, rr, &review)
	assert.True(t, review.HasOffensiveLanguage)

	rr = doRequest(t, router, "POST", path, buyerToken, map[string]interface{}{"rating": 5, "comment": "Todo perfecto"})
	require.Equal(t, http.StatusCreated, rr.Code)
	review = model.Review{}
	decodeBody(t, rr, &review)
	assert.False(t, review.HasOffensiveLanguage)

	assert.Equal(t, http.StatusUnprocessableEntity,
		doRequest(t, router, "POST", path, buyerToken, map[string]interface{}{"rating": 6}).Code)
	assert.Equal(t, http.StatusForbidden,
		doRequest(t, router, "POST", path, sellerToken, map[string]interface{}{"rating": 5}).Code)
}

func TestAdminGating(t *testing.T) {
	h := setupTestHandler(t)
	router := h.SetupRouter()
	_, clientToken := seedUser(t, h, "Client", model.RoleClient)
	seedUser(t, h, "Provider", model.RoleProvider)
	_, adminToken := seedUser(t, h, "Admin", model.RoleAdmin)

	assert.Equal(t, http.StatusUnauthorized, doRequest(t, router, "GET", "/api/admin/dashboard", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, doRequest(t, router, "GET", "/api/admin/dashboard", clientToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, doRequest(t, router, "GET", "/api/admin/users", clientToken, nil).Code)

	rr := doRequest(t, router, "GET", "/api/admin/dashboard", adminToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	decodeBody(t, rr, &body)
	for _, key := range []string{"total_users", "new_clients_this_week", "new_providers_this_week",
		"active_temporary_bans", "permanent_bans", "open_disputes", "hidden_reviews"} {
		assert.IsType(t, float64(0), body[key], key)
	}
	assert.EqualValues(t, 2, body["total_users"])
	assert.EqualValues(t, 1, body["new_clients_this_week"])
	assert.EqualValues(t, 1, body["new_providers_this_week"])

	var users model.Page[model.User]
	decodeBody(t, doRequest(t, router, "GET", "/api/admin/users", adminToken, nil), &users)
	assert.Equal(t, 2, users.Total)
}

func TestAdminBanFlow(t *testing.T) {
	h := setupTestHandler(t)
	router := h.SetupRouter()
	target, targetToken := seedUser(t, h, "Target", model.RoleClient)
	admin, adminToken := seedUser(t, h, "Admin", model.RoleAdmin)
	other, _ := seedUser(t, h, "Otheradmin", model.RoleAdmin)
	base := "/api/admin/users/" + itoa(target.ID)

	assert.Equal(t, http.StatusBadRequest, doRequest(t, router, "POST", base+"/unban", adminToken, nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity,
		doRequest(t, router, "POST", base+"/ban-temporary", adminToken, map[string]interface{}{"hours": 0, "reason": "x"}).Code)
	assert.Equal(t, http.StatusUnprocessableEntity,
		doRequest(t, router, "POST", base+"/ban-temporary", adminToken, map[string]interface{}{"hours": 8761, "reason": "x"}).Code)
	assert.Equal(t, http.StatusUnprocessableEntity,
		doRequest(t, router, "POST", base+"/ban-temporary", adminToken, map[string]interface{}{"hours": 2}).Code)
	assert.Equal(t, http.StatusForbidden,
		doRequest(t, router, "POST", "/api/admin/users/"+itoa(other.ID)+"/ban-permanent", adminToken,
			map[string]interface{}{"reason": "x"}).Code)

	rr := doRequest(t, router, "POST", base+"/ban-temporary", adminToken, map[string]interface{}{"hours": 24, "reason": "spam"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// BAN でセッションが無効になる
	assert.Equal(t, http.StatusUnauthorized, doRequest(t, router, "GET", "/api/user", targetToken, nil).Code)

	got, err := h.Store.UserByID(context.Background(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBannedTemp, got.AccountStatus)
	require.NotNil(t, got.BanExpiresAt)
	assert.True(t, got.BanExpiresAt.Equal(testNow.Add(24*time.Hour)))

	require.Equal(t, http.StatusOK, doRequest(t, router, "POST", base+"/unban", adminToken, nil).Code)

	var logs model.Page[model.AdminLog]
	decodeBody(t, doRequest(t, router, "GET", "/api/admin/logs?admin_id="+itoa(admin.ID), adminToken, nil), &logs)
	require.Equal(t, 2, logs.Total)
	assert.Equal(t, "unban_user", logs.Data[0].Action)
	assert.Equal(t, "ban_user", logs.Data[1].Action)
	assert.Contains(t, logs.Data[1].Details, `"type":"temporary"`)
	assert.Equal(t, "Admin", logs.Data[1].AdminName)
}

func TestAdminDisputeAndReviewModeration(t *testing.T) {
	h := setupTestHandler(t)
	router := h.SetupRouter()
	seller, _ := seedUser(t, h, "Seller", model.RoleProvider)
	_, buyerToken := seedUser(t, h, "Buyer", model.RoleClient)
	_, adminToken := seedUser(t, h, "Admin", model.RoleAdmin)

	p := &model.Product{UserID: seller.ID, Title: "Mesa", Description: "Roble", Price: 80, Location: "Lima"}
	require.NoError(t, h.Store.CreateProduct(context.Background(), p))
	prefix := "/api/products/" + itoa(p.ID)

	rr := doRequest(t, router, "POST", prefix+"/disputes", buyerToken, map[string]interface{}{"amount": 80, "claim": "No llegó"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var d model.Dispute
	decodeBody(t, rr, &d)
	disputePath := "/api/admin/disputes/" + itoa(d.ID)

	rr = doRequest(t, router, "POST", disputePath+"/evidence", adminToken, map[string]interface{}{"message": "Captura", "file_type": "image"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doRequest(t, router, "POST", disputePath+"/resolve", adminToken, map[string]interface{}{"resolution": "nope", "decision": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	rr = doRequest(t, router, "POST", disputePath+"/resolve", adminToken, map[string]interface{}{
		"resolution": "partial", "decision": "Reembolso parcial", "refund_percentage": 50,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, "POST", "/api/admin/disputes/999/resolve", adminToken,
		map[string]interface{}{"resolution": "partial", "decision": "x"}).Code)

	got, err := h.Store.DisputeByID(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DisputeResolved, got.Status)
	assert.Len(t, got.Evidence, 1)

	rr = doRequest(t, router, "POST", prefix+"/reviews", buyerToken, map[string]interface{}{"rating": 1, "comment": "idiota"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var review model.Review
	decodeBody(t, rr, &review)

	require.Equal(t, http.StatusOK, doRequest(t, router, "POST", "/api/admin/reviews/"+itoa(review.ID)+"/hide", adminToken,
		map[string]interface{}{"reason": "Lenguaje ofensivo"}).Code)
	var reviews model.Page[model.Review]
	decodeBody(t, doRequest(t, router, "GET", "/api/admin/reviews?hidden=true", adminToken, nil), &reviews)
	assert.Equal(t, 1, reviews.Total)

	require.Equal(t, http.StatusOK, doRequest(t, router, "POST", "/api/admin/products/"+itoa(p.ID)+"/delete", adminToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, "POST", "/api/admin/products/"+itoa(p.ID)+"/delete", adminToken, nil).Code)
}

func TestWebSocket_PushesMessageToRecipient(t *testing.T) {
	h := setupTestHandler(t)
	go h.HandleBroadcast()
	t.Cleanup(func() { close(h.Broadcast) })

	router := h.SetupRouter()
	server := httptest.NewServer(router)
	defer server.Close()

	_, buyerToken := seedUser(t, h, "Buyer", model.RoleClient)
	seller, sellerToken := seedUser(t, h, "Seller", model.RoleProvider)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + sellerToken
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws?token=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	rr := doRequest(t, router, "POST", "/api/messages", buyerToken, map[string]interface{}{"text": "hola", "seller_id": seller.ID})
	require.Equal(t, http.StatusCreated, rr.Code)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var types []string
	for i := 0; i < 2; i++ {
		var event struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&event))
		types = append(types, event.Type)
		if event.Type == model.EventMessageCreated {
			var msg model.Message
			require.NoError(t, json.Unmarshal(event.Data, &msg))
			require.NotNil(t, msg.Text)
			assert.Equal(t, "hola", *msg.Text)
		}
	}
	assert.Equal(t, []string{model.EventMessageCreated, model.EventNotificationCreated}, types)
}

func TestOperationalEndpoints(t *testing.T) {
	h := setupTestHandler(t)
	router := h.SetupRouter()

	assert.Equal(t, http.StatusOK, doRequest(t, router, "GET", "/healthz", "", nil).Code)
	doRequest(t, router, "GET", "/api/products", "", nil)

	rr := doRequest(t, router, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `zonemarket_http_requests_total{method="GET",route="/api/products",status="200"} 1`)
	assert.Contains(t, rr.Body.String(), "zonemarket_websocket_clients 0")

	rr = doRequest(t, router, "GET", "/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/api/messages:")
}

func TestRequestID(t *testing.T) {
	router := setupTestHandler(t).SetupRouter()

	rr := doRequest(t, router, "GET", "/healthz", "", nil)
	assert.Len(t, rr.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
}
