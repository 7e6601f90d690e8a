package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"zonemarket/internal/apperr"
	"zonemarket/internal/model"
)

// NewMessageContent is the notification text sent to the recipient of a message.
const NewMessageContent = "te ha enviado un mensaje nuevo"

func productKey(productID *int64) int64 {
	if productID == nil {
		return 0
	}
	return *productID
}

func scanConversation(row scanner) (*model.Conversation, error) {
	var c model.Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.SellerID, &c.ProductID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

const conversationColumns = "id, user_id, seller_id, product_id, created_at, updated_at"

// ConversationByID returns apperr.ErrConversationNF when no row matches.
func (s *Store) ConversationByID(ctx context.Context, id int64) (*model.Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrConversationNF
	}
	return c, errors.Wrap(err, "store.ConversationByID")
}

// FindOrCreateConversation returns the conversation of the (buyer, seller,
// product) triple, creating it when missing. created reports whether a row
// was inserted.
func (s *Store) FindOrCreateConversation(ctx context.Context, buyerID, sellerID int64, productID *int64) (c *model.Conversation, created bool, err error) {
	find := func() (*model.Conversation, error) {
		return scanConversation(s.db.QueryRowContext(ctx,
			"SELECT "+conversationColumns+" FROM conversations WHERE user_id = ? AND seller_id = ? AND product_key = ?",
			buyerID, sellerID, productKey(productID)))
	}

	c, err = find()
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, errors.Wrap(err, "store.FindOrCreateConversation.Find")
	}

	now := s.Now()
	res, insertErr := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, seller_id, product_id, product_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		buyerID, sellerID, productID, productKey(productID), now, now)
	if insertErr != nil {
		// 同時に作成された場合はユニーク制約で失敗するので再取得する
		if c, err = find(); err == nil {
			return c, false, nil
		}
		return nil, false, errors.Wrap(insertErr, "store.FindOrCreateConversation.Insert")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, errors.Wrap(err, "store.FindOrCreateConversation.LastInsertId")
	}
	return &model.Conversation{
		ID: id, UserID: buyerID, SellerID: sellerID, ProductID: productID, CreatedAt: now, UpdatedAt: now,
	}, true, nil
}

// ListConversations returns the conversations where userID is either party,
// most recently active first, with participants, product, last message and
// the number of unread messages from the other party.
func (s *Store) ListConversations(ctx context.Context, userID int64) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.user_id, c.seller_id, c.product_id, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id AND m.sender_id <> ? AND m.is_read = ?)
		FROM conversations c
		WHERE c.user_id = ? OR c.seller_id = ?
		ORDER BY c.updated_at DESC, c.id DESC`,
		userID, false, userID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "store.ListConversations.Query")
	}

	var convs []model.Conversation
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.SellerID, &c.ProductID, &c.CreatedAt, &c.UpdatedAt, &c.UnreadCount); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "store.ListConversations.Scan")
		}
		convs = append(convs, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "store.ListConversations.Rows")
	}

	// rows を閉じてから関連データを読む (SQLite は接続1本)
	for i := range convs {
		if err := s.loadConversationRelations(ctx, s.db, &convs[i]); err != nil {
			return nil, err
		}
		last, err := s.lastMessage(ctx, convs[i].ID)
		if err != nil {
			return nil, err
		}
		convs[i].LastMessage = last
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return convs, nil
}

// ConversationForParticipant loads a conversation with its messages in
// ascending order. Non-participants get apperr.ErrConversationNF.
func (s *Store) ConversationForParticipant(ctx context.Context, id, userID int64) (*model.Conversation, error) {
	c, err := s.ConversationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, apperr.ErrConversationNF
	}
	if err := s.loadConversationRelations(ctx, s.db, c); err != nil {
		return nil, err
	}
	if c.Messages, err = s.Messages(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

// MarkConversationRead marks the messages of the other party as read and
// returns how many changed.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID, readerID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET is_read = ? WHERE conversation_id = ? AND sender_id <> ? AND is_read = ?",
		true, conversationID, readerID, false)
	if err != nil {
		return 0, errors.Wrap(err, "store.MarkConversationRead")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "store.MarkConversationRead.RowsAffected")
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
			return errors.Wrap(err, "store.DeleteConversation.Messages")
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
		if err != nil {
			return errors.Wrap(err, "store.DeleteConversation")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.ErrConversationNF
		}
		return nil
	})
}

func (s *Store) loadConversationRelations(ctx context.Context, q querier, c *model.Conversation) error {
	var err error
	if c.User, err = s.briefUser(ctx, q, c.UserID); err != nil && !apperr.Is(err, apperr.CodeNotFound) {
		return err
	}
	if c.Seller, err = s.briefUser(ctx, q, c.SellerID); err != nil && !apperr.Is(err, apperr.CodeNotFound) {
		return err
	}
	if c.ProductID == nil {
		return nil
	}

	var (
		p      model.ProductBrief
		images string
	)
	err = q.QueryRowContext(ctx, "SELECT id, title, price, images, sold FROM products WHERE id = ?", *c.ProductID).
		Scan(&p.ID, &p.Title, &p.Price, &images, &p.Sold)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return errors.Wrap(err, "store.loadConversationRelations.Product")
	}
	p.Images = decodeImages(images)
	c.Product = &p
	return nil
}
