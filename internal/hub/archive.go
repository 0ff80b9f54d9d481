package hub

import (
	"sync"
	"time"

	"tinchat/internal/message"
)

const (
	archiveCapacity   = 400
	archiveEvictSlack = 5
)

// archive keeps the bounded in-memory history of USER/ISTYPING messages.
// Entries go in and come out as copies so callers can never mutate
// history behind its back.
type archive struct {
	mu      sync.Mutex
	entries []message.Message
}

func newArchive() *archive {
	return &archive{entries: make([]message.Message, 0, archiveCapacity)}
}

// Add inserts a copy, evicting the single oldest entry once the archive
// is within the slack of its capacity.
func (a *archive) Add(m message.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) > archiveCapacity-archiveEvictSlack {
		a.entries = a.entries[1:]
	}
	a.entries = append(a.entries, message.Copy(m))
}

// Since returns copies of all entries strictly newer than ts, oldest first.
func (a *archive) Since(ts int64) []message.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []message.Message
	for _, m := range a.entries {
		if m.Timestamp > ts {
			out = append(out, message.Copy(m))
		}
	}
	return out
}

// Within returns copies of all entries younger than the window, oldest first.
func (a *archive) Within(window time.Duration) []message.Message {
	now := time.Now().UnixMilli()
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []message.Message
	for _, m := range a.entries {
		if now-m.Timestamp < window.Milliseconds() {
			out = append(out, message.Copy(m))
		}
	}
	return out
}

func (a *archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
