package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"zonemarket/internal/model"
)

// cachedList is the persisted form of a fetched list.
type cachedList[T any] struct {
	FetchedAt time.Time `json:"fetched_at"`
	Version   int64     `json:"version"`
	Items     []T       `json:"items"`
}

// ConversationList is the conversation overview backed by the local cache.
// Hidden conversations are filtered out of every list it returns; the hidden
// set lives only in the local cache.
type ConversationList struct {
	api     *Client
	cache   Cache
	refresh *RefreshCounter
	now     func() time.Time

	// MaxAge is how long a cached list counts as fresh. Zero means Load
	// always fetches.
	MaxAge time.Duration

	mu sync.Mutex
}

// NewConversationList binds the list to cache. A nil refresh uses the
// counter persisted in the same cache.
func NewConversationList(api *Client, cache Cache, refresh *RefreshCounter) *ConversationList {
	if refresh == nil {
		refresh = NewRefreshCounter(cache)
	}
	return &ConversationList{api: api, cache: cache, refresh: refresh, now: time.Now}
}

// Load renders the cached list right away when there is one, then fetches
// and renders the fresh list. When the fetch fails the cached list is
// returned together with the error. render may be nil.
func (l *ConversationList) Load(ctx context.Context, render func([]model.Conversation)) ([]model.Conversation, error) {
	if render == nil {
		render = func([]model.Conversation) {}
	}

	entry, ok, err := l.cached()
	if err != nil {
		return nil, err
	}
	var cached []model.Conversation
	if ok {
		if cached, err = l.visible(entry.Items); err != nil {
			return nil, err
		}
		render(cached)
		if !l.stale(entry) {
			return cached, nil
		}
	}

	fresh, err := l.Refresh(ctx)
	if err != nil {
		if ok {
			return cached, err
		}
		return nil, err
	}
	render(fresh)
	return fresh, nil
}

// Refresh fetches the list, caches it and returns the visible part.
func (l *ConversationList) Refresh(ctx context.Context) ([]model.Conversation, error) {
	version := l.refresh.Current()
	items, err := l.api.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	entry := cachedList[model.Conversation]{FetchedAt: l.now().UTC(), Version: version, Items: items}
	if err := setJSON(l.cache, KeyCachedConversations, entry); err != nil {
		return nil, err
	}
	return l.visible(items)
}

// Cached returns the visible part of the cached list without fetching.
func (l *ConversationList) Cached() ([]model.Conversation, bool, error) {
	entry, ok, err := l.cached()
	if err != nil || !ok {
		return nil, false, err
	}
	items, err := l.visible(entry.Items)
	return items, err == nil, err
}

// NeedsRefresh reports whether Load would fetch.
func (l *ConversationList) NeedsRefresh() (bool, error) {
	entry, ok, err := l.cached()
	if err != nil {
		return false, err
	}
	return !ok || l.stale(entry), nil
}

func (l *ConversationList) cached() (cachedList[model.Conversation], bool, error) {
	var entry cachedList[model.Conversation]
	ok, err := getJSON(l.cache, KeyCachedConversations, &entry)
	return entry, ok, err
}

func (l *ConversationList) stale(entry cachedList[model.Conversation]) bool {
	if entry.Version != l.refresh.Current() {
		return true
	}
	return l.MaxAge <= 0 || l.now().Sub(entry.FetchedAt) > l.MaxAge
}

func (l *ConversationList) visible(items []model.Conversation) ([]model.Conversation, error) {
	hidden, err := l.Hidden()
	if err != nil {
		return nil, err
	}
	out := make([]model.Conversation, 0, len(items))
	for _, c := range items {
		if !hidden[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

// Hidden returns the set of conversation ids hidden on this device.
func (l *ConversationList) Hidden() (map[int64]bool, error) {
	var ids []int64
	if _, err := getJSON(l.cache, KeyHiddenConversations, &ids); err != nil {
		return nil, err
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func (l *ConversationList) saveHidden(set map[int64]bool) error {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return setJSON(l.cache, KeyHiddenConversations, ids)
}

// Hide removes a conversation from this device's lists. Nothing is sent to
// the server; the other participant still sees the conversation.
func (l *ConversationList) Hide(id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, err := l.Hidden()
	if err != nil {
		return err
	}
	set[id] = true
	return l.saveHidden(set)
}

// Unhide shows a hidden conversation again.
func (l *ConversationList) Unhide(id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, err := l.Hidden()
	if err != nil {
		return err
	}
	delete(set, id)
	return l.saveHidden(set)
}

// DeleteForEveryone deletes the conversation on the server for both
// participants and hides it locally.
func (l *ConversationList) DeleteForEveryone(ctx context.Context, id int64) error {
	if err := l.api.DeleteConversation(ctx, id); err != nil {
		return err
	}
	l.refresh.Bump()
	return l.Hide(id)
}
