package client

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// Cache is the client-local key/value store behind every persisted piece of
// client state. Get reports ok=false for a missing key.
type Cache interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Invalidate(key string) error
}

const (
	KeyHiddenConversations = "hidden_conversations"
	KeyCachedConversations = "cached_conversations"
	KeyCachedNotifications = "cached_notifications"
	KeySession             = "session"
	KeyRefreshVersion      = "refresh_version"
)

// AvatarKey is the cache key of a user's avatar reference.
func AvatarKey(userID int64) string {
	return "user_avatar_" + strconv.FormatInt(userID, 10)
}

func getJSON(c Cache, key string, v interface{}) (bool, error) {
	raw, ok, err := c.Get(key)
	if err != nil || !ok {
		return false, errors.Wrapf(err, "cache.Get %s", key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		// 壊れたエントリは無いものとして扱う
		return false, nil
	}
	return true, nil
}

func setJSON(c Cache, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "cache.Marshal %s", key)
	}
	return errors.Wrapf(c.Set(key, raw), "cache.Set %s", key)
}

// MemoryCache keeps entries in process memory.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (c *MemoryCache) Get(key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set stores a copy of value.
func (c *MemoryCache) Set(key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	c.mu.Lock()
	c.m[key] = v
	c.mu.Unlock()
	return nil
}

// Invalidate removes key.
func (c *MemoryCache) Invalidate(key string) error {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
	return nil
}
