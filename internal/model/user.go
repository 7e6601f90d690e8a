package model

import "time"

type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

type AccountStatus string

const (
	StatusActive     AccountStatus = "active"
	StatusBannedTemp AccountStatus = "banned_temp"
	StatusBannedPerm AccountStatus = "banned_perm"
	StatusSuspended  AccountStatus = "suspended"
)

// User represents a marketplace account
type User struct {
	ID                     int64         `json:"id"`
	Name                   string        `json:"name"`
	Email                  string        `json:"email"`
	Phone                  string        `json:"phone"`
	City                   string        `json:"city"`
	Avatar                 string        `json:"avatar"`
	Role                   Role          `json:"role"`
	AccountStatus          AccountStatus `json:"account_status"`
	BanExpiresAt           *time.Time    `json:"ban_expires_at"`
	BanReason              *string       `json:"ban_reason"`
	SuccessfulTransactions int           `json:"successful_transactions"`
	LastActivityAt         *time.Time    `json:"last_activity_at"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
	PasswordHash           string        `json:"-"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsBanned reports whether the account is blocked at now. A temporary ban
// whose expiry has passed no longer blocks.
func (u *User) IsBanned(now time.Time) bool {
	switch u.AccountStatus {
	case StatusBannedPerm:
		return true
	case StatusBannedTemp:
		return u.BanExpiresAt != nil && u.BanExpiresAt.After(now)
	}
	return false
}

// Brief returns the public projection embedded in messages and conversations.
func (u *User) Brief() *UserBrief {
	return &UserBrief{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}

// UserBrief is the public part of a user
type UserBrief struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}
