package client

import "context"

// SaveSession persists s so a later process can resume without logging in.
func SaveSession(c Cache, s *Session) error {
	return setJSON(c, KeySession, s)
}

// LoadSession returns the persisted session, if any.
func LoadSession(c Cache) (*Session, bool, error) {
	var s Session
	ok, err := getJSON(c, KeySession, &s)
	if err != nil || !ok || s.Token == "" {
		return nil, false, err
	}
	return &s, true, nil
}

// Resume points api at the persisted session. It reports false when there is
// none.
func Resume(api *Client, c Cache) (*Session, bool, error) {
	s, ok, err := LoadSession(c)
	if err != nil || !ok {
		return nil, false, err
	}
	api.SetToken(s.Token)
	return s, true, nil
}

// SignOut logs out on the server and clears the local session and caches.
// The hidden set survives.
func SignOut(ctx context.Context, api *Client, c Cache) error {
	err := api.Logout(ctx)
	for _, key := range []string{KeySession, KeyCachedConversations, KeyCachedNotifications} {
		if cerr := c.Invalidate(key); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
