package agent

import (
	"sync"
	"time"
)

// historyRing is an append-only bounded conversation buffer. Oldest entries
// are evicted past the limit; entries are never truncated mid-entry.
type historyRing struct {
	mu      sync.Mutex
	limit   int
	entries []HistoryEntry
}

func newHistoryRing(limit int) *historyRing {
	if limit < 1 {
		limit = 1
	}
	return &historyRing{limit: limit}
}

func (r *historyRing) append(role, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, HistoryEntry{At: time.Now(), Role: role, Content: content})
	if len(r.entries) > r.limit {
		r.entries = r.entries[len(r.entries)-r.limit:]
	}
}

func (r *historyRing) snapshot() []HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]HistoryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
