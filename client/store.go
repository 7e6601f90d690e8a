package client

import (
	"sort"
	"sync"
)

// MessageStore holds the messages of one open conversation. It is safe for
// concurrent use.
type MessageStore struct {
	mu   sync.Mutex
	msgs []Message
}

// NewMessageStore returns an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// Messages returns a copy of the current list.
func (s *MessageStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of messages.
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Add merges local messages into the store.
func (s *MessageStore) Add(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = MergeMessages(s.msgs, msgs)
}

// Merge folds a server list into the store. Local entries the server does not
// know about are kept.
func (s *MessageStore) Merge(server []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = MergeMessages(server, s.msgs)
}

// Reconcile merges an authoritative server history. Unconfirmed entries are
// dropped first; pending ones are kept.
func (s *MessageStore) Reconcile(server []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.msgs[:0:0]
	for _, m := range s.msgs {
		if m.Unconfirmed {
			continue
		}
		kept = append(kept, m)
	}
	s.msgs = MergeMessages(server, kept)
}

// Replace swaps the entry with tempID for m and keeps the list ordered by
// the confirmed timestamp. If m's id is already present the provisional
// entry is simply removed.
func (s *MessageStore) Replace(tempID string, m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(tempID)
	if i < 0 {
		return false
	}
	for j, existing := range s.msgs {
		if j != i && existing.Key() == m.Key() {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return true
		}
	}
	s.msgs[i] = m
	sort.SliceStable(s.msgs, func(a, b int) bool {
		return stamp(s.msgs[a].CreatedAt) < stamp(s.msgs[b].CreatedAt)
	})
	return true
}

// Remove drops the entry with tempID.
func (s *MessageStore) Remove(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(tempID)
	if i < 0 {
		return false
	}
	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	return true
}

// MarkUnconfirmed flags the entry with tempID as sent without a usable
// acknowledgement.
func (s *MessageStore) MarkUnconfirmed(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(tempID)
	if i < 0 {
		return false
	}
	s.msgs[i].Unconfirmed = true
	return true
}

func (s *MessageStore) find(tempID string) int {
	for i, m := range s.msgs {
		if m.ID == 0 && m.TempID == tempID {
			return i
		}
	}
	return -1
}
