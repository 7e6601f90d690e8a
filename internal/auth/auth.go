package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"zonemarket/internal/apperr"
	"zonemarket/internal/model"
)

// contextKey is a custom type for context keys.
type contextKey string

const userContextKey contextKey = "user"

// TokenStore resolves token hashes to users.
type TokenStore interface {
	UserByTokenHash(ctx context.Context, tokenHash string) (*model.User, error)
}

// Authenticator extracts the bearer token identity from requests.
type Authenticator struct {
	store TokenStore
}

// NewAuthenticator creates a new authenticator.
func NewAuthenticator(store TokenStore) *Authenticator {
	return &Authenticator{store: store}
}

// GetUser resolves the caller of r. Websocket clients may pass the token as
// the "token" query parameter instead of the Authorization header.
func (a *Authenticator) GetUser(ctx context.Context, r *http.Request) (*model.User, error) {
	token := BearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, apperr.ErrUnauthenticated
	}
	return a.store.UserByTokenHash(ctx, HashToken(token))
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// WithUser returns a context carrying u.
func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// UserFromContext retrieves the user from the request context.
func UserFromContext(ctx context.Context) *model.User {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok {
		return nil
	}
	return user
}

// NewToken returns a random bearer token and the hash to store for it.
func NewToken() (token, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	token = hex.EncodeToString(b)
	return token, HashToken(token), nil
}

// HashToken is the stored form of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// DeviceType classifies a user agent as mobile, tablet or desktop.
func DeviceType(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") ||
		strings.Contains(ua, "okhttp") || strings.Contains(ua, "expo"):
		return "mobile"
	default:
		return "desktop"
	}
}
