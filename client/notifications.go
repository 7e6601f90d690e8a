package client

import (
	"context"
	"time"

	"zonemarket/internal/logger"
	"zonemarket/internal/model"
)

// NotificationFeed is the notification list backed by the local cache.
type NotificationFeed struct {
	api   *Client
	cache Cache
	now   func() time.Time
}

// NewNotificationFeed binds the feed to cache.
func NewNotificationFeed(api *Client, cache Cache) *NotificationFeed {
	return &NotificationFeed{api: api, cache: cache, now: time.Now}
}

// Load fetches the feed and caches it. On failure the cached feed is
// returned together with the error.
func (f *NotificationFeed) Load(ctx context.Context) ([]model.Notification, error) {
	items, err := f.api.Notifications(ctx)
	if err != nil {
		cached, _, cacheErr := f.Cached()
		if cacheErr != nil {
			return nil, err
		}
		return cached, err
	}
	if err := f.store(items); err != nil {
		return items, err
	}
	rememberSenders(f.cache, items)
	return items, nil
}

// Cached returns the cached notifications without fetching.
func (f *NotificationFeed) Cached() ([]model.Notification, bool, error) {
	var entry cachedList[model.Notification]
	ok, err := getJSON(f.cache, KeyCachedNotifications, &entry)
	if err != nil || !ok {
		return nil, false, err
	}
	return entry.Items, true, nil
}

// Unread counts the unread cached notifications.
func (f *NotificationFeed) Unread() (int, error) {
	items, _, err := f.Cached()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, it := range items {
		if !it.Read {
			n++
		}
	}
	return n, nil
}

// MarkRead marks one notification read on the server and in the cache.
func (f *NotificationFeed) MarkRead(ctx context.Context, id int64) error {
	if err := f.api.MarkNotificationRead(ctx, id); err != nil {
		return err
	}
	return f.update(func(items []model.Notification) []model.Notification {
		for i := range items {
			if items[i].ID == id {
				items[i].Read = true
			}
		}
		return items
	})
}

// MarkAllRead marks every notification read on the server and in the cache.
func (f *NotificationFeed) MarkAllRead(ctx context.Context) error {
	if err := f.api.MarkAllNotificationsRead(ctx); err != nil {
		return err
	}
	return f.update(func(items []model.Notification) []model.Notification {
		for i := range items {
			items[i].Read = true
		}
		return items
	})
}

// Delete removes a notification on the server and from the cache.
func (f *NotificationFeed) Delete(ctx context.Context, id int64) error {
	if err := f.api.DeleteNotification(ctx, id); err != nil {
		return err
	}
	return f.update(func(items []model.Notification) []model.Notification {
		out := items[:0]
		for _, it := range items {
			if it.ID != id {
				out = append(out, it)
			}
		}
		return out
	})
}

// Push prepends a notification received over the websocket.
func (f *NotificationFeed) Push(n model.Notification) error {
	return f.update(func(items []model.Notification) []model.Notification {
		for _, it := range items {
			if it.ID == n.ID {
				return items
			}
		}
		return append([]model.Notification{n}, items...)
	})
}

func (f *NotificationFeed) update(fn func([]model.Notification) []model.Notification) error {
	items, ok, err := f.Cached()
	if err != nil || !ok {
		return err
	}
	return f.store(fn(items))
}

func (f *NotificationFeed) store(items []model.Notification) error {
	return setJSON(f.cache, KeyCachedNotifications, cachedList[model.Notification]{
		FetchedAt: f.now().UTC(),
		Items:     items,
	})
}

// rememberSenders fills the avatar cache from notification senders.
func rememberSenders(c Cache, items []model.Notification) {
	for _, it := range items {
		if it.Sender != nil && it.Sender.Avatar != "" {
			if err := SetAvatar(c, it.Sender.ID, it.Sender.Avatar); err != nil {
				logger.Warnf("[cache] ❌ Failed to cache avatar of user %d: %v", it.Sender.ID, err)
			}
		}
	}
}

// Avatar returns the cached avatar reference of a user.
func Avatar(c Cache, userID int64) (string, bool, error) {
	raw, ok, err := c.Get(AvatarKey(userID))
	if err != nil || !ok {
		return "", false, err
	}
	return string(raw), true, nil
}

// SetAvatar caches a user's avatar reference. An empty avatar removes it.
func SetAvatar(c Cache, userID int64, avatar string) error {
	if avatar == "" {
		return c.Invalidate(AvatarKey(userID))
	}
	return c.Set(AvatarKey(userID), []byte(avatar))
}
