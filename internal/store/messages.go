package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"zonemarket/internal/apperr"
	"zonemarket/internal/model"
)

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.text, m.image, m.is_read, m.created_at,
	u.id, u.name, u.avatar`

func scanMessage(row scanner) (*model.Message, error) {
	var (
		m      model.Message
		sender model.UserBrief
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.Image, &m.Read, &m.CreatedAt,
		&sender.ID, &sender.Name, &sender.Avatar)
	if err != nil {
		return nil, err
	}
	m.Sender = &sender
	return &m, nil
}

// Messages returns the messages of a conversation in ascending order.
func (s *Store) Messages(ctx context.Context, conversationID int64) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+` FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ? ORDER BY m.created_at ASC, m.id ASC`, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "store.Messages.Query")
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "store.Messages.Scan")
		}
		msgs = append(msgs, *m)
	}
	return msgs, errors.Wrap(rows.Err(), "store.Messages.Rows")
}

func (s *Store) lastMessage(ctx context.Context, conversationID int64) (*model.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+` FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ? ORDER BY m.created_at DESC, m.id DESC LIMIT 1`, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, errors.Wrap(err, "store.lastMessage")
}

// NewMessage is a message to send. Either ConversationID is set, or SellerID
// (with an optional ProductID) names the conversation to find or create.
type NewMessage struct {
	SenderID       int64
	ConversationID int64
	SellerID       int64
	ProductID      *int64
	Text           *string
	Image          *string
}

// SentMessage is the outcome of SendMessage.
type SentMessage struct {
	Message             *model.Message
	Conversation        *model.Conversation
	Notification        *model.Notification
	ConversationCreated bool
}

// SendMessage stores a message, creating the conversation when needed,
// touches the conversation and notifies the recipient.
func (s *Store) SendMessage(ctx context.Context, nm NewMessage) (*SentMessage, error) {
	var (
		conv    *model.Conversation
		created bool
		err     error
	)

	if nm.ConversationID != 0 {
		conv, err = s.ConversationByID(ctx, nm.ConversationID)
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil, apperr.InvalidArg("The selected conversation id is invalid.")
		}
		if err != nil {
			return nil, err
		}
		if !conv.HasParticipant(nm.SenderID) {
			return nil, apperr.ErrNotAParticipant
		}
	} else {
		if nm.SellerID == 0 {
			return nil, apperr.ErrMissingRecipient
		}
		if nm.SellerID == nm.SenderID {
			return nil, apperr.ErrMessageToYourself
		}
		if _, err := s.UserByID(ctx, nm.SellerID); err != nil {
			if apperr.Is(err, apperr.CodeNotFound) {
				return nil, apperr.InvalidArg("The selected seller id is invalid.")
			}
			return nil, err
		}
		if nm.ProductID != nil {
			if _, err := s.ProductByID(ctx, *nm.ProductID); err != nil {
				if apperr.Is(err, apperr.CodeNotFound) {
					return nil, apperr.InvalidArg("The selected product id is invalid.")
				}
				return nil, err
			}
		}
		conv, created, err = s.FindOrCreateConversation(ctx, nm.SenderID, nm.SellerID, nm.ProductID)
		if err != nil {
			return nil, err
		}
	}

	now := s.Now()
	msg := &model.Message{
		ConversationID: conv.ID,
		SenderID:       nm.SenderID,
		Text:           nm.Text,
		Image:          nm.Image,
		CreatedAt:      now,
	}
	recipient := conv.OtherParticipant(nm.SenderID)
	sender := nm.SenderID
	notif := &model.Notification{
		UserID:    recipient,
		SenderID:  &sender,
		Type:      model.NotificationTypeMessage,
		Content:   NewMessageContent,
		CreatedAt: now,
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO messages (conversation_id, sender_id, text, image, is_read, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			msg.ConversationID, msg.SenderID, msg.Text, msg.Image, false, msg.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "store.SendMessage.Insert")
		}
		if msg.ID, err = res.LastInsertId(); err != nil {
			return errors.Wrap(err, "store.SendMessage.LastInsertId")
		}

		if _, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", now, conv.ID); err != nil {
			return errors.Wrap(err, "store.SendMessage.Touch")
		}
		conv.UpdatedAt = now

		if err := s.insertNotification(ctx, tx, notif); err != nil {
			return err
		}

		if msg.Sender, err = s.briefUser(ctx, tx, nm.SenderID); err != nil {
			return err
		}
		return s.loadConversationRelations(ctx, tx, conv)
	})
	if err != nil {
		return nil, err
	}

	notif.Sender = msg.Sender
	return &SentMessage{Message: msg, Conversation: conv, Notification: notif, ConversationCreated: created}, nil
}
