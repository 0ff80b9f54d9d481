package client

import (
	"log"
	"sync"

	"tinchat/internal/message"
)

// pendingTable maps in-flight message ids to the messages awaiting their
// round-trip ACK. Entries leave the table when a matching ACK arrives;
// the sender polls Settled to decide between success and resubmission.
type pendingTable struct {
	mu       sync.Mutex
	inflight map[string]message.Message
}

func newPendingTable() *pendingTable {
	return &pendingTable{inflight: make(map[string]message.Message)}
}

// Track records a just-written message. Re-tracking after a resubmission
// overwrites the stale entry.
func (p *pendingTable) Track(m message.Message) {
	if m.ID == "" {
		return
	}
	p.mu.Lock()
	p.inflight[m.ID] = m
	p.mu.Unlock()
}

// Resolve matches an inbound message against the table. A verified ACK
// clears the entry and returns true. An id match that fails verification
// is most likely an id collision with another client's message; it is
// logged and left for normal dispatch.
func (p *pendingTable) Resolve(reply message.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	original, ok := p.inflight[reply.ID]
	if !ok {
		return false
	}
	if !message.VerifyAck(original, reply) {
		log.Printf("could not verify ACK for %s (id collision?)", reply.ID)
		return false
	}
	delete(p.inflight, reply.ID)
	return true
}

// Settled reports that no ACK is outstanding for id.
func (p *pendingTable) Settled(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[id]
	return !ok
}

// Drop discards an entry without settling it, used when a message is
// requeued for a fresh send attempt.
func (p *pendingTable) Drop(id string) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}

// Clear empties the table. Called once a session's actors have fully
// stopped; anything still tracked belonged to the dead socket.
func (p *pendingTable) Clear() {
	p.mu.Lock()
	p.inflight = make(map[string]message.Message)
	p.mu.Unlock()
}

func (p *pendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}
