package client

import "sort"

// MergeMessages folds the server list and then the local list into one
// de-duplicated list sorted ascending by creation time. On a key collision
// the entry with the newer or equal timestamp wins and keeps the position of
// the first one, so ties stay in first-insertion order.
func MergeMessages(server, local []Message) []Message {
	out := make([]Message, 0, len(server)+len(local))
	index := make(map[string]int, len(server)+len(local))

	put := func(m Message) {
		key := m.Key()
		if i, ok := index[key]; ok {
			if stamp(m.CreatedAt) >= stamp(out[i].CreatedAt) {
				out[i] = m
			}
			return
		}
		index[key] = len(out)
		out = append(out, m)
	}
	for _, m := range server {
		put(m)
	}
	for _, m := range local {
		put(m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return stamp(out[i].CreatedAt) < stamp(out[j].CreatedAt)
	})
	return out
}
