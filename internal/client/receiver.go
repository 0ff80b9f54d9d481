package client

import (
	"bufio"
	"log"
	"net"
	"time"

	"tinchat/internal/message"
)

// receiveLoop reads inbound records for one session. Every record, even
// a malformed one, counts as hub liveness. ACKs settle the pending
// table; everything else flows through dispatch.
func (t *Transport) receiveLoop(session chan struct{}, sock net.Conn, r *bufio.Reader) {
	defer t.actors.Done()
	for {
		_ = sock.SetReadDeadline(time.Now().Add(2 * t.hbInterval))
		data, err := r.ReadBytes(message.Terminator)
		if err != nil {
			select {
			case <-session:
			case <-t.quit:
			default:
				log.Printf("read from hub failed: %v", err)
				t.notResponding.Store(true)
			}
			return
		}
		t.metrics.AddReceived(len(data))
		t.missedHeartbeats.Store(0)
		t.notResponding.Store(false)

		m, err := message.Decode(data)
		if err != nil {
			log.Printf("malformed record from hub: %v", err)
			continue
		}
		if t.pending.Resolve(m) {
			continue
		}
		t.dispatch(m)
	}
}

// dispatch routes a non-ACK inbound message. Chat and archive messages
// are deduplicated against both id sets, recorded in local history, and
// handed to the delivery handler exactly once.
func (t *Transport) dispatch(m message.Message) {
	switch m.Type {
	case message.TypeUser, message.TypeArchived:
		if m.Body == message.AckBody {
			// stray ACK for a message we gave up on
			return
		}
		if t.sentIDs.Contains(m.ID) || t.receivedIDs.Contains(m.ID) {
			return
		}
		t.receivedIDs.Insert(m.ID)
		t.lastDelivered.Store(m.Timestamp)
		if err := t.store.Append(m); err != nil {
			log.Printf("local history append failed: %v", err)
		}
		t.deliver(m)
	case message.TypeTyping:
		if m.Body == message.AckBody || t.receivedIDs.Contains(m.ID) {
			return
		}
		t.receivedIDs.Insert(m.ID)
		t.deliver(m)
	case message.TypeWhosOnline:
		t.deliver(m)
	case message.TypeHeartbeat:
		// inbound heartbeats carry no payload worth delivering
	default:
		log.Printf("unexpected %s from hub, ignoring", m.Type)
	}
}

func (t *Transport) deliver(m message.Message) {
	if t.handler != nil {
		t.handler(m)
	}
}
