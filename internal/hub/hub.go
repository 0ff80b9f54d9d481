package hub

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"tinchat/internal/message"
)

// ProtocolVersion is checked during the handshake; mismatched clients
// are rejected before they can register.
const ProtocolVersion = message.Version

// archiveReplayWindow bounds how far back an ARCHIVE "latest" request reaches.
const archiveReplayWindow = time.Hour

// forwarder receives fan-out deliveries. Connections implement it; tests
// substitute stubs.
type forwarder interface {
	Forward(m message.Message)
}

// Hub owns the live-connection registry, the bounded archive, and the
// journal. It is the single source of truth for user-name uniqueness and
// performs broadcast fan-out with sender exclusion.
type Hub struct {
	journal *Journal
	archive *archive
	metrics *Metrics

	mu    sync.RWMutex
	conns map[string]forwarder
}

// New builds a Hub, replaying the journal (if any) into the archive.
func New(journal *Journal, replayed []message.Message) *Hub {
	h := &Hub{
		journal: journal,
		archive: newArchive(),
		metrics: &Metrics{},
		conns:   make(map[string]forwarder),
	}
	for _, m := range replayed {
		h.archive.Add(m)
	}
	if len(replayed) > 0 {
		log.Printf("journal replay loaded %d messages into archive", len(replayed))
	}
	return h
}

// Register claims a user name for a connection. Names are unique among
// live connections; a duplicate must not replace the existing one.
func (h *Hub) Register(name string, f forwarder) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.conns[name]; exists {
		return fmt.Errorf("user %q already connected", name)
	}
	h.conns[name] = f
	h.metrics.Registrations.Add(1)
	log.Printf("registered %q (%d online)", name, len(h.conns))
	return nil
}

// Unregister releases a name, but only if it is still held by f. A
// rejected duplicate unregistering must not evict the original holder.
func (h *Hub) Unregister(name string, f forwarder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.conns[name]; ok && cur == f {
		delete(h.conns, name)
		log.Printf("unregistered %q (%d online)", name, len(h.conns))
	}
}

// Broadcast archives, journals, and fans the message out to every live
// connection except the originating one.
func (h *Hub) Broadcast(from forwarder, m message.Message) {
	h.archive.Add(m)
	h.journal.Append(m)
	h.metrics.MessagesBroadcast.Add(1)

	h.mu.RLock()
	targets := make([]forwarder, 0, len(h.conns))
	for _, f := range h.conns {
		if f == from {
			continue
		}
		targets = append(targets, f)
	}
	h.mu.RUnlock()

	for _, f := range targets {
		f.Forward(m)
	}
}

// Online returns the currently registered user names, sorted.
func (h *Hub) Online() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.conns))
	for name := range h.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ArchiveSince returns copies of archived messages strictly newer than ts.
func (h *Hub) ArchiveSince(ts int64) []message.Message {
	return h.archive.Since(ts)
}

// ArchiveWithin returns copies of archived messages younger than the window.
func (h *Hub) ArchiveWithin(window time.Duration) []message.Message {
	return h.archive.Within(window)
}

// ArchiveLen reports the current archive size.
func (h *Hub) ArchiveLen() int {
	return h.archive.Len()
}

// MetricsRef exposes the hub counters to the status API and tests.
func (h *Hub) MetricsRef() *Metrics {
	return h.metrics
}

// Close flushes and closes the journal.
func (h *Hub) Close() error {
	return h.journal.Close()
}
