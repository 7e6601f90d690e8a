package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"zonemarket/internal/model"
)

var (
	// ErrTransport wraps failures where no response was received.
	ErrTransport = errors.New("client: transport error")
	// ErrMalformedResponse wraps 2xx responses whose body cannot be used.
	ErrMalformedResponse = errors.New("client: malformed response")
	ErrEmptyMessage      = errors.New("client: message needs text or an image")
	ErrInvalidTarget     = errors.New("client: invalid conversation target")
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 8 << 20

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
	// Body holds the raw error body for callers that need extra fields
	// such as ban_reason.
	Body json.RawMessage
}

// Error formats the status and the server message.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client talks to the marketplace API.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Token returns the bearer token in use, if any.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// do sends a JSON request and decodes a 2xx body into out when out is not nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %w", ErrTransport, method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Body: raw}
		var e struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		if json.Unmarshal(raw, &e) == nil {
			apiErr.Message, apiErr.Code = e.Message, e.Code
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedResponse, method, path, err)
	}
	return nil
}

// Session is the result of a login.
type Session struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// Registration is the body of POST /api/register. Role is client or
// provider; empty means client.
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
	City     string `json:"city,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Register creates an account and keeps the returned token.
func (c *Client) Register(ctx context.Context, reg Registration) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/api/register", reg, &s); err != nil {
		return nil, err
	}
	if s.Token == "" || s.User == nil {
		return nil, fmt.Errorf("%w: register response without token", ErrMalformedResponse)
	}
	c.SetToken(s.Token)
	return &s, nil
}

// Login authenticates and keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	return c.login(ctx, email, password, "user")
}

// LoginAdmin logs in with login_type "admin" and keeps the token.
func (c *Client) LoginAdmin(ctx context.Context, email, password string) (*Session, error) {
	return c.login(ctx, email, password, "admin")
}

func (c *Client) login(ctx context.Context, email, password, loginType string) (*Session, error) {
	body := map[string]string{"email": email, "password": password, "login_type": loginType}
	var s Session
	if err := c.do(ctx, http.MethodPost, "/api/login", body, &s); err != nil {
		return nil, err
	}
	if s.Token == "" || s.User == nil {
		return nil, fmt.Errorf("%w: login response without token", ErrMalformedResponse)
	}
	c.SetToken(s.Token)
	return &s, nil
}

// Logout revokes the token on the server and forgets it.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/logout", nil, nil); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := c.do(ctx, http.MethodGet, "/api/user", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Conversations lists the conversations of the authenticated user.
func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var list []model.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ConversationMessages returns the normalized history of one conversation.
func (c *Client) ConversationMessages(ctx context.Context, id int64) ([]Message, error) {
	var conv struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+strconv.FormatInt(id, 10), nil, &conv); err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(conv.Messages))
	for _, raw := range conv.Messages {
		m, err := NormalizeMessage(raw)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// DeleteConversation deletes a conversation for both participants.
func (c *Client) DeleteConversation(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/conversations/"+strconv.FormatInt(id, 10), nil, nil)
}

type sendRequest struct {
	Text           string `json:"text,omitempty"`
	Image          string `json:"image,omitempty"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	SellerID       int64  `json:"seller_id,omitempty"`
	ProductID      int64  `json:"product_id,omitempty"`
}

// sendResult is the decoded body of POST /api/messages. Message is nil when
// the body carried no usable message.
type sendResult struct {
	Message        *Message
	ConversationID int64
}

func (c *Client) sendMessage(ctx context.Context, req sendRequest) (*sendResult, error) {
	var body struct {
		Message        json.RawMessage `json:"message"`
		ConversationID int64           `json:"conversation_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages", req, &body); err != nil {
		return nil, err
	}

	res := &sendResult{ConversationID: body.ConversationID}
	if len(body.Message) == 0 {
		return res, nil
	}
	m, err := NormalizeMessage(body.Message)
	if err != nil || m.ID == 0 {
		return res, nil
	}
	if res.ConversationID == 0 {
		res.ConversationID = m.ConversationID
	}
	res.Message = &m
	return res, nil
}

// Notifications lists the notifications of the authenticated user.
func (c *Client) Notifications(ctx context.Context) ([]model.Notification, error) {
	var list []model.Notification
	if err := c.do(ctx, http.MethodGet, "/api/notifications", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPut, "/api/notifications/"+strconv.FormatInt(id, 10)+"/read", nil, nil)
}

// MarkAllNotificationsRead marks every notification as read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/api/notifications/read-all", nil, nil)
}

// DeleteNotification deletes one notification.
func (c *Client) DeleteNotification(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/notifications/"+strconv.FormatInt(id, 10), nil, nil)
}

// websocketURL maps the base URL onto the ws scheme.
func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", c.Token())
	u.RawQuery = q.Encode()
	return u.String(), nil
}
