package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"zonemarket/internal/apperr"
	"zonemarket/internal/model"
)

const userColumns = `id, name, email, password, phone, city, avatar, role, account_status,
	ban_expires_at, ban_reason, successful_transactions, last_activity_at, created_at, updated_at`

func scanUser(row scanner) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Phone, &u.City, &u.Avatar, &u.Role,
		&u.AccountStatus, &u.BanExpiresAt, &u.BanReason, &u.SuccessfulTransactions, &u.LastActivityAt,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts u and fills in its id and timestamps.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	exists, err := s.EmailExists(ctx, u.Email)
	if err != nil {
		return err
	}
	if exists {
		return apperr.ErrEmailTaken
	}

	if u.Role == "" {
		u.Role = model.RoleClient
	}
	if u.AccountStatus == "" {
		u.AccountStatus = model.StatusActive
	}
	now := s.Now()
	u.CreatedAt, u.UpdatedAt = now, now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, email, password, phone, city, avatar, role, account_status,
			successful_transactions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Name, u.Email, u.PasswordHash, u.Phone, u.City, u.Avatar, u.Role, u.AccountStatus,
		u.SuccessfulTransactions, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "store.CreateUser.Insert")
	}
	u.ID, err = res.LastInsertId()
	return errors.Wrap(err, "store.CreateUser.LastInsertId")
}

// EmailExists reports whether an account uses email.
func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	n, err := s.count(ctx, s.db, "SELECT COUNT(*) FROM users WHERE email = ?", email)
	if err != nil {
		return false, errors.Wrap(err, "store.EmailExists")
	}
	return n > 0, nil
}

// UserByID returns apperr.ErrUserNotFound when no row matches.
func (s *Store) UserByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrUserNotFound
	}
	return u, errors.Wrap(err, "store.UserByID")
}

// UserByEmail returns apperr.ErrUserNotFound when no row matches.
func (s *Store) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrUserNotFound
	}
	return u, errors.Wrap(err, "store.UserByEmail")
}

// UpdateProfile persists the editable profile fields of u.
func (s *Store) UpdateProfile(ctx context.Context, u *model.User) error {
	u.UpdatedAt = s.Now()
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET name = ?, phone = ?, city = ?, avatar = ?, updated_at = ? WHERE id = ?",
		u.Name, u.Phone, u.City, u.Avatar, u.UpdatedAt, u.ID)
	return errors.Wrap(err, "store.UpdateProfile")
}

// UpdatePassword stores a new password hash.
func (s *Store) UpdatePassword(ctx context.Context, userID int64, hash string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE users SET password = ?, updated_at = ? WHERE id = ?",
		hash, s.Now(), userID)
	return errors.Wrap(err, "store.UpdatePassword")
}

// TouchActivity sets last_activity_at to now.
func (s *Store) TouchActivity(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE users SET last_activity_at = ? WHERE id = ?", s.Now(), userID)
	return errors.Wrap(err, "store.TouchActivity")
}

// BanUser sets a ban status. expires is nil for permanent bans.
func (s *Store) BanUser(ctx context.Context, userID int64, status model.AccountStatus, expires *time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET account_status = ?, ban_expires_at = ?, ban_reason = ?, updated_at = ? WHERE id = ?",
		status, expires, reason, s.Now(), userID)
	return errors.Wrap(err, "store.BanUser")
}

// Unban reactivates an account and clears the ban fields.
func (s *Store) Unban(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET account_status = ?, ban_expires_at = NULL, ban_reason = NULL, updated_at = ? WHERE id = ?",
		model.StatusActive, s.Now(), userID)
	return errors.Wrap(err, "store.Unban")
}

// ReleaseExpiredBans reactivates temporary bans that expired at or before now.
func (s *Store) ReleaseExpiredBans(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET account_status = ?, ban_expires_at = NULL, ban_reason = NULL, updated_at = ?
		WHERE account_status = ? AND ban_expires_at IS NOT NULL AND ban_expires_at <= ?`,
		model.StatusActive, now.UTC(), model.StatusBannedTemp, now.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "store.ReleaseExpiredBans")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "store.ReleaseExpiredBans.RowsAffected")
}

// UserFilter selects users in the admin listing.
type UserFilter struct {
	Role          string
	Status        string
	Search        string
	ExcludeAdmins bool
	ListParams
}

// ListUsers returns users newest first.
func (s *Store) ListUsers(ctx context.Context, f UserFilter) (model.Page[model.User], error) {
	p := f.ListParams.Normalize(DefaultPerPage)

	var w where
	if f.ExcludeAdmins {
		w.add("role <> ?", model.RoleAdmin)
	}
	if f.Role != "" {
		w.add("role = ?", f.Role)
	}
	if f.Status != "" {
		w.add("account_status = ?", f.Status)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		w.add("(name LIKE ? OR email LIKE ?)", like, like)
	}

	total, err := s.count(ctx, s.db, "SELECT COUNT(*) FROM users"+w.String(), w.args...)
	if err != nil {
		return model.Page[model.User]{}, errors.Wrap(err, "store.ListUsers.Count")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users"+w.String()+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(w.args, p.PerPage, p.offset())...)
	if err != nil {
		return model.Page[model.User]{}, errors.Wrap(err, "store.ListUsers.Query")
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return model.Page[model.User]{}, errors.Wrap(err, "store.ListUsers.Scan")
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return model.Page[model.User]{}, errors.Wrap(err, "store.ListUsers.Rows")
	}
	return model.NewPage(users, p.Page, p.PerPage, total), nil
}

// CreateToken stores the sha256 hash of a bearer token for userID.
func (s *Store) CreateToken(ctx context.Context, userID int64, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO access_tokens (user_id, token_hash, created_at) VALUES (?, ?, ?)",
		userID, tokenHash, s.Now())
	return errors.Wrap(err, "store.CreateToken")
}

// UserByTokenHash resolves a bearer token hash to its user and records its use.
func (s *Store) UserByTokenHash(ctx context.Context, tokenHash string) (*model.User, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx, "SELECT user_id FROM access_tokens WHERE token_hash = ?", tokenHash).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrUnauthenticated
	}
	if err != nil {
		return nil, errors.Wrap(err, "store.UserByTokenHash")
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE access_tokens SET last_used_at = ? WHERE token_hash = ?", s.Now(), tokenHash); err != nil {
		return nil, errors.Wrap(err, "store.UserByTokenHash.Touch")
	}

	u, err := s.UserByID(ctx, userID)
	if apperr.Is(err, apperr.CodeNotFound) {
		return nil, apperr.ErrUnauthenticated
	}
	return u, err
}

// DeleteToken revokes one token.
func (s *Store) DeleteToken(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM access_tokens WHERE token_hash = ?", tokenHash)
	return errors.Wrap(err, "store.DeleteToken")
}

// DeleteUserTokens revokes every token of userID.
func (s *Store) DeleteUserTokens(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM access_tokens WHERE user_id = ?", userID)
	return errors.Wrap(err, "store.DeleteUserTokens")
}

// RecordAccess appends a login to the access history.
func (s *Store) RecordAccess(ctx context.Context, l *model.AccessLog) error {
	if l.LoggedInAt.IsZero() {
		l.LoggedInAt = s.Now()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO user_access_logs (user_id, ip_address, user_agent, device_type, logged_in_at) VALUES (?, ?, ?, ?, ?)",
		l.UserID, l.IPAddress, l.UserAgent, l.DeviceType, l.LoggedInAt)
	if err != nil {
		return errors.Wrap(err, "store.RecordAccess")
	}
	l.ID, err = res.LastInsertId()
	return errors.Wrap(err, "store.RecordAccess.LastInsertId")
}

// AccessHistory lists the logins of userID, newest first.
func (s *Store) AccessHistory(ctx context.Context, userID int64, lp ListParams) (model.Page[model.AccessLog], error) {
	p := lp.Normalize(DefaultPerPage)
	total, err := s.count(ctx, s.db, "SELECT COUNT(*) FROM user_access_logs WHERE user_id = ?", userID)
	if err != nil {
		return model.Page[model.AccessLog]{}, errors.Wrap(err, "store.AccessHistory.Count")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, ip_address, user_agent, device_type, logged_in_at FROM user_access_logs
		WHERE user_id = ? ORDER BY logged_in_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, p.PerPage, p.offset())
	if err != nil {
		return model.Page[model.AccessLog]{}, errors.Wrap(err, "store.AccessHistory.Query")
	}
	defer rows.Close()

	var logs []model.AccessLog
	for rows.Next() {
		var l model.AccessLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.IPAddress, &l.UserAgent, &l.DeviceType, &l.LoggedInAt); err != nil {
			return model.Page[model.AccessLog]{}, errors.Wrap(err, "store.AccessHistory.Scan")
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return model.Page[model.AccessLog]{}, errors.Wrap(err, "store.AccessHistory.Rows")
	}
	return model.NewPage(logs, p.Page, p.PerPage, total), nil
}

func (s *Store) briefUser(ctx context.Context, q querier, id int64) (*model.UserBrief, error) {
	var b model.UserBrief
	err := q.QueryRowContext(ctx, "SELECT id, name, avatar FROM users WHERE id = ?", id).Scan(&b.ID, &b.Name, &b.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "store.briefUser")
	}
	return &b, nil
}
