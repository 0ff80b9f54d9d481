package hub

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"tinchat/internal/message"
)

// StatusRouter wires the read-only HTTP status API over the hub's
// synchronized state, ready for http.ListenAndServe.
func (h *Hub) StatusRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.healthHandler())
	r.Get("/online", h.onlineHandler())
	r.Get("/stats", h.statsHandler())
	r.Get("/archive", h.archiveHandler())

	return r
}

func (h *Hub) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "version": ProtocolVersion})
	}
}

func (h *Hub) onlineHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"users": h.Online()})
	}
}

func (h *Hub) statsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := h.MetricsRef()
		writeJSON(w, map[string]uint64{
			"connections_accepted": m.ConnectionsAccepted.Load(),
			"connections_rejected": m.ConnectionsRejected.Load(),
			"handshake_failures":   m.HandshakeFailures.Load(),
			"registrations":        m.Registrations.Load(),
			"messages_broadcast":   m.MessagesBroadcast.Load(),
			"heartbeats_seen":      m.HeartbeatsSeen.Load(),
			"archive_replays":      m.ArchiveReplays.Load(),
			"malformed_records":    m.MalformedRecords.Load(),
			"archive_size":         uint64(h.ArchiveLen()),
			"online":               uint64(len(h.Online())),
		})
	}
}

type archiveEntry struct {
	User      string `json:"user"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id"`
	Body      string `json:"body"`
}

func (h *Hub) archiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entries []message.Message
		if since := r.URL.Query().Get("since"); since != "" {
			ts, err := strconv.ParseInt(since, 10, 64)
			if err != nil {
				http.Error(w, "since must be epoch milliseconds", http.StatusBadRequest)
				return
			}
			entries = h.ArchiveSince(ts)
		} else {
			entries = h.ArchiveWithin(archiveReplayWindow)
		}
		out := make([]archiveEntry, 0, len(entries))
		for _, m := range entries {
			out = append(out, archiveEntry{
				User:      m.User,
				Type:      string(m.Type),
				Timestamp: m.Timestamp,
				ID:        m.ID,
				Body:      m.Body,
			})
		}
		writeJSON(w, map[string]any{"messages": out})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
