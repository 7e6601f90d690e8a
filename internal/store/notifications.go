package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"zonemarket/internal/apperr"
	"zonemarket/internal/model"
)

// maxNotifications bounds the notification listing.
const maxNotifications = 100

func (s *Store) insertNotification(ctx context.Context, q querier, n *model.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.Now()
	}
	res, err := q.ExecContext(ctx,
		"INSERT INTO notifications (user_id, sender_id, type, content, is_read, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		n.UserID, n.SenderID, n.Type, n.Content, n.Read, n.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "store.insertNotification")
	}
	n.ID, err = res.LastInsertId()
	return errors.Wrap(err, "store.insertNotification.LastInsertId")
}

// CreateNotification stores n and fills in its id.
func (s *Store) CreateNotification(ctx context.Context, n *model.Notification) error {
	return s.insertNotification(ctx, s.db, n)
}

// Notifications returns the newest notifications of userID.
func (s *Store) Notifications(ctx context.Context, userID int64) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT n.id, n.user_id, n.sender_id, n.type, n.content, n.is_read, n.created_at, u.id, u.name, u.avatar
		FROM notifications n LEFT JOIN users u ON u.id = n.sender_id
		WHERE n.user_id = ? ORDER BY n.created_at DESC, n.id DESC LIMIT ?`,
		userID, maxNotifications)
	if err != nil {
		return nil, errors.Wrap(err, "store.Notifications.Query")
	}
	defer rows.Close()

	list := []model.Notification{}
	for rows.Next() {
		var (
			n                  model.Notification
			senderID           sql.NullInt64
			senderName, avatar sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.SenderID, &n.Type, &n.Content, &n.Read, &n.CreatedAt,
			&senderID, &senderName, &avatar); err != nil {
			return nil, errors.Wrap(err, "store.Notifications.Scan")
		}
		if senderID.Valid {
			n.Sender = &model.UserBrief{ID: senderID.Int64, Name: senderName.String, Avatar: avatar.String}
		}
		list = append(list, n)
	}
	return list, errors.Wrap(rows.Err(), "store.Notifications.Rows")
}

func (s *Store) ownsNotification(ctx context.Context, id, userID int64) error {
	n, err := s.count(ctx, s.db, "SELECT COUNT(*) FROM notifications WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return errors.Wrap(err, "store.ownsNotification")
	}
	if n == 0 {
		return apperr.ErrNotificationNF
	}
	return nil
}

// MarkNotificationRead marks one notification of userID as read.
func (s *Store) MarkNotificationRead(ctx context.Context, id, userID int64) error {
	if err := s.ownsNotification(ctx, id, userID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "UPDATE notifications SET is_read = ? WHERE id = ?", true, id)
	return errors.Wrap(err, "store.MarkNotificationRead")
}

// MarkAllNotificationsRead marks every unread notification of userID as read.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE notifications SET is_read = ? WHERE user_id = ? AND is_read = ?",
		true, userID, false)
	if err != nil {
		return 0, errors.Wrap(err, "store.MarkAllNotificationsRead")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "store.MarkAllNotificationsRead.RowsAffected")
}

// DeleteNotification removes one notification of userID.
func (s *Store) DeleteNotification(ctx context.Context, id, userID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return errors.Wrap(err, "store.DeleteNotification")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotificationNF
	}
	return nil
}
