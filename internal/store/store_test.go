package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonemarket/internal/apperr"
	"zonemarket/internal/database"
	"zonemarket/internal/model"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// createTestStore は一時ディレクトリに SQLite のストアを作る
func createTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(context.Background(), db, "sqlite3"))
	t.Cleanup(func() { db.Close() })

	s := New(db)
	s.SetClock(func() time.Time { return testNow })
	return s
}

func createUser(t *testing.T, s *Store, name string, role model.Role) *model.User {
	t.Helper()
	u := &model.User{Name: name, Email: name + "@zone.test", PasswordHash: "x", Role: role}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func createProduct(t *testing.T, s *Store, owner int64, title string) *model.Product {
	t.Helper()
	p := &model.Product{UserID: owner, Title: title, Description: "desc", Price: 10, Images: []string{"a.jpg"}}
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return p
}

func strp(s string) *string { return &s }

func TestCreateUser_DuplicateEmail(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	u := createUser(t, s, "ana", model.RoleClient)
	assert.NotZero(t, u.ID)
	assert.Equal(t, model.StatusActive, u.AccountStatus)

	err := s.CreateUser(ctx, &model.User{Name: "ana2", Email: "ana@zone.test", PasswordHash: "x"})
	assert.ErrorIs(t, err, apperr.ErrEmailTaken)

	got, err := s.UserByEmail(ctx, "ana@zone.test")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, testNow, got.CreatedAt.UTC())

	_, err = s.UserByID(ctx, 999)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestBanLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "beto", model.RoleProvider)

	expired := testNow.Add(-time.Hour)
	require.NoError(t, s.BanUser(ctx, u.ID, model.StatusBannedTemp, &expired, "spam"))

	got, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBannedTemp, got.AccountStatus)
	require.NotNil(t, got.BanReason)
	assert.Equal(t, "spam", *got.BanReason)
	assert.False(t, got.IsBanned(testNow))

	n, err := s.ReleaseExpiredBans(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.AccountStatus)
	assert.Nil(t, got.BanExpiresAt)

	require.NoError(t, s.BanUser(ctx, u.ID, model.StatusBannedPerm, nil, "fraude"))
	require.NoError(t, s.Unban(ctx, u.ID))
	got, err = s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.AccountStatus)
	assert.Nil(t, got.BanReason)
}

func TestTokens(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "carla", model.RoleClient)

	require.NoError(t, s.CreateToken(ctx, u.ID, "hash-1"))
	got, err := s.UserByTokenHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	require.NoError(t, s.DeleteToken(ctx, "hash-1"))
	_, err = s.UserByTokenHash(ctx, "hash-1")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestFindOrCreateConversation_Dedup(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	buyer := createUser(t, s, "buyer", model.RoleClient)
	seller := createUser(t, s, "seller", model.RoleProvider)
	product := createProduct(t, s, seller.ID, "Bici")

	c1, created, err := s.FindOrCreateConversation(ctx, buyer.ID, seller.ID, &product.ID)
	require.NoError(t, err)
	assert.True(t, created)

	c2, created, err := s.FindOrCreateConversation(ctx, buyer.ID, seller.ID, &product.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, c2.ID)

	// 商品なしの会話は別扱い
	c3, created, err := s.FindOrCreateConversation(ctx, buyer.ID, seller.ID, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, c1.ID, c3.ID)

	c4, _, err := s.FindOrCreateConversation(ctx, buyer.ID, seller.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, c3.ID, c4.ID)
}

func TestSendMessage(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	buyer := createUser(t, s, "buyer", model.RoleClient)
	seller := createUser(t, s, "seller", model.RoleProvider)
	product := createProduct(t, s, seller.ID, "Bici")

	sent, err := s.SendMessage(ctx, NewMessage{SenderID: buyer.ID, SellerID: seller.ID, ProductID: &product.ID, Text: strp("Hola")})
	require.NoError(t, err)
	assert.True(t, sent.ConversationCreated)
	assert.NotZero(t, sent.Message.ID)
	assert.Equal(t, "buyer", sent.Message.Sender.Name)
	assert.Equal(t, seller.ID, sent.Notification.UserID)
	assert.Equal(t, NewMessageContent, sent.Notification.Content)
	require.NotNil(t, sent.Conversation.Product)
	assert.Equal(t, "Bici", sent.Conversation.Product.Title)

	again, err := s.SendMessage(ctx, NewMessage{SenderID: buyer.ID, SellerID: seller.ID, ProductID: &product.ID, Text: strp("¿Sigue disponible?")})
	require.NoError(t, err)
	assert.False(t, again.ConversationCreated)
	assert.Equal(t, sent.Conversation.ID, again.Conversation.ID)

	reply, err := s.SendMessage(ctx, NewMessage{SenderID: seller.ID, ConversationID: sent.Conversation.ID, Text: strp("Sí")})
	require.NoError(t, err)
	assert.Equal(t, buyer.ID, reply.Notification.UserID)

	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM conversations").Scan(&n))
	assert.Equal(t, 1, n)

	// 一覧: 買い手から見ると未読は売り手の1件
	list, err := s.ListConversations(ctx, buyer.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UnreadCount)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "Sí", *list[0].LastMessage.Text)
	assert.Equal(t, "seller", list[0].Seller.Name)

	changed, err := s.MarkConversationRead(ctx, sent.Conversation.ID, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	conv, err := s.ConversationForParticipant(ctx, sent.Conversation.ID, buyer.ID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, "Hola", *conv.Messages[0].Text)
	assert.Equal(t, "Sí", *conv.Messages[2].Text)
}

func TestSendMessage_Validation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	buyer := createUser(t, s, "buyer", model.RoleClient)
	seller := createUser(t, s, "seller", model.RoleProvider)
	outsider := createUser(t, s, "outsider", model.RoleClient)

	_, err := s.SendMessage(ctx, NewMessage{SenderID: buyer.ID, Text: strp("x")})
	assert.ErrorIs(t, err, apperr.ErrMissingRecipient)

	_, err = s.SendMessage(ctx, NewMessage{SenderID: buyer.ID, SellerID: buyer.ID, Text: strp("x")})
	assert.ErrorIs(t, err, apperr.ErrMessageToYourself)

	_, err = s.SendMessage(ctx, NewMessage{SenderID: buyer.ID, SellerID: 999, Text: strp("x")})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))

	missing := int64(999)
	_, err = s.SendMessage(ctx, NewMessage{SenderID: buyer.ID, SellerID: seller.ID, ProductID: &missing, Text: strp("x")})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))

	sent, err := s.SendMessage(ctx, NewMessage{SenderID: buyer.ID, SellerID: seller.ID, Text: strp("x")})
	require.NoError(t, err)

	_, err = s.SendMessage(ctx, NewMessage{SenderID: outsider.ID, ConversationID: sent.Conversation.ID, Text: strp("x")})
	assert.ErrorIs(t, err, apperr.ErrNotAParticipant)

	_, err = s.ConversationForParticipant(ctx, sent.Conversation.ID, outsider.ID)
	assert.ErrorIs(t, err, apperr.ErrConversationNF)
}

func TestDeleteConversation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	buyer := createUser(t, s, "buyer", model.RoleClient)
	seller := createUser(t, s, "seller", model.RoleProvider)

	sent, err := s.SendMessage(ctx, NewMessage{SenderID: buyer.ID, SellerID: seller.ID, Text: strp("x")})
	require.NoError(t, err)

	require.NoError(t, s.DeleteConversation(ctx, sent.Conversation.ID))
	_, err = s.ConversationByID(ctx, sent.Conversation.ID)
	assert.ErrorIs(t, err, apperr.ErrConversationNF)

	msgs, err := s.Messages(ctx, sent.Conversation.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.ErrorIs(t, s.DeleteConversation(ctx, sent.Conversation.ID), apperr.ErrConversationNF)
}

func TestNotifications(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	buyer := createUser(t, s, "buyer", model.RoleClient)
	seller := createUser(t, s, "seller", model.RoleProvider)

	for i := 0; i < 2; i++ {
		_, err := s.SendMessage(ctx, NewMessage{SenderID: buyer.ID, SellerID: seller.ID, Text: strp("x")})
		require.NoError(t, err)
	}

	list, err := s.Notifications(ctx, seller.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "buyer", list[0].Sender.Name)

	require.NoError(t, s.MarkNotificationRead(ctx, list[0].ID, seller.ID))
	// 既読の再設定も成功する
	require.NoError(t, s.MarkNotificationRead(ctx, list[0].ID, seller.ID))
	assert.ErrorIs(t, s.MarkNotificationRead(ctx, list[0].ID, buyer.ID), apperr.ErrNotificationNF)

	n, err := s.MarkAllNotificationsRead(ctx, seller.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.DeleteNotification(ctx, list[1].ID, seller.ID))
	assert.ErrorIs(t, s.DeleteNotification(ctx, list[1].ID, seller.ID), apperr.ErrNotificationNF)
}

func TestListProducts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seller := createUser(t, s, "seller", model.RoleProvider)
	bike := createProduct(t, s, seller.ID, "Bicicleta roja")
	createProduct(t, s, seller.ID, "Mesa")

	bike.Sold = true
	require.NoError(t, s.UpdateProduct(ctx, bike))

	page, err := s.ListProducts(ctx, ProductFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "Mesa", page.Data[0].Title)
	assert.Equal(t, model.DefaultCategory, page.Data[0].Category)

	page, err = s.ListProducts(ctx, ProductFilter{UserID: seller.ID, IncludeSold: true, Search: "bici"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, []string{"a.jpg"}, page.Data[0].Images)
	assert.Equal(t, "seller", page.Data[0].User.Name)
}

func TestDashboard(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createUser(t, s, "admin", model.RoleAdmin)
	createUser(t, s, "c1", model.RoleClient)
	p1 := createUser(t, s, "p1", model.RoleProvider)
	temp := createUser(t, s, "temp", model.RoleClient)
	expired := createUser(t, s, "expired", model.RoleClient)
	perm := createUser(t, s, "perm", model.RoleClient)

	future, past := testNow.Add(24*time.Hour), testNow.Add(-time.Hour)
	require.NoError(t, s.BanUser(ctx, temp.ID, model.StatusBannedTemp, &future, "a"))
	require.NoError(t, s.BanUser(ctx, expired.ID, model.StatusBannedTemp, &past, "b"))
	require.NoError(t, s.BanUser(ctx, perm.ID, model.StatusBannedPerm, nil, "c"))

	product := createProduct(t, s, p1.ID, "Silla")
	d := &model.Dispute{ProductID: product.ID, BuyerID: temp.ID, SellerID: p1.ID, Amount: 10, BuyerClaim: "roto"}
	require.NoError(t, s.CreateDispute(ctx, d))
	r := &model.Review{ProductID: product.ID, BuyerID: temp.ID, SellerID: p1.ID, Rating: 1, Comment: "mal"}
	require.NoError(t, s.CreateReview(ctx, r))
	require.NoError(t, s.HideReview(ctx, r.ID, 1, "ofensivo"))

	dash, err := s.Dashboard(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 5, dash.TotalUsers)
	assert.Equal(t, 4, dash.NewClientsThisWeek)
	assert.Equal(t, 1, dash.NewProvidersThisWeek)
	assert.Equal(t, 1, dash.ActiveTemporaryBans)
	assert.Equal(t, 1, dash.PermanentBans)
	assert.Equal(t, 1, dash.OpenDisputes)
	assert.Equal(t, 1, dash.HiddenReviews)
}

func TestListUsers_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createUser(t, s, "alba", model.RoleClient)
	createUser(t, s, "bruno", model.RoleProvider)
	createUser(t, s, "alberto", model.RoleProvider)

	page, err := s.ListUsers(ctx, UserFilter{Role: "provider", Search: "al"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "alberto", page.Data[0].Name)

	page, err = s.ListUsers(ctx, UserFilter{ListParams: ListParams{Page: 2, PerPage: 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.LastPage)
	assert.Len(t, page.Data, 1)
}

func TestDisputeFlow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	buyer := createUser(t, s, "buyer", model.RoleClient)
	seller := createUser(t, s, "seller", model.RoleProvider)
	admin := createUser(t, s, "admin", model.RoleAdmin)
	product := createProduct(t, s, seller.ID, "Radio")

	d := &model.Dispute{ProductID: product.ID, BuyerID: buyer.ID, SellerID: seller.ID, Amount: 50, BuyerClaim: "no llegó"}
	require.NoError(t, s.CreateDispute(ctx, d))

	require.NoError(t, s.AddEvidence(ctx, &model.DisputeEvidence{DisputeID: d.ID, SubmittedBy: admin.ID, Message: "foto", FileType: strp("image")}))

	got, err := s.DisputeByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DisputeInReview, got.Status)
	require.Len(t, got.Evidence, 1)

	refund := 50
	require.NoError(t, s.ResolveDispute(ctx, d.ID, admin.ID, model.ResolutionPartial, "mitad", &refund))
	got, err = s.DisputeByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DisputeResolved, got.Status)
	assert.Equal(t, model.ResolutionPartial, got.Resolution)
	require.NotNil(t, got.RefundPercentage)
	assert.Equal(t, 50, *got.RefundPercentage)

	page, err := s.ListDisputes(ctx, DisputeFilter{Status: "open"})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)

	assert.ErrorIs(t, s.ResolveDispute(ctx, 999, admin.ID, model.ResolutionFavorBuyer, "x", nil), apperr.ErrDisputeNotFound)
}

func TestAdminLogs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	admin := createUser(t, s, "admin", model.RoleAdmin)

	require.NoError(t, s.WriteAdminLog(ctx, &model.AdminLog{AdminID: admin.ID, Action: "ban_temporary", TargetType: "user", TargetID: 2}))
	require.NoError(t, s.WriteAdminLog(ctx, &model.AdminLog{AdminID: admin.ID, Action: "unban", TargetType: "user", TargetID: 2}))

	page, err := s.ListAdminLogs(ctx, AdminLogFilter{Action: "unban"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "admin", page.Data[0].AdminName)
	assert.Equal(t, "{}", page.Data[0].Details)
	assert.Equal(t, DefaultLogsPerPage, page.PerPage)
}
