package client

import (
	"log"
	"time"

	"tinchat/internal/message"
)

// sendLoop drains the outbound queue one message at a time. For chat
// and heartbeat messages it waits for the hub's ACK before moving on;
// an un-ACKed chat message is resubmitted with its original id and
// timestamp so the hub side can deduplicate.
func (t *Transport) sendLoop(session chan struct{}) {
	defer t.actors.Done()
	for {
		select {
		case <-session:
			return
		case <-t.quit:
			return
		case m := <-t.queue:
			if !t.transmit(session, m) {
				return
			}
		case <-time.After(sendPollTimeout):
		}
	}
}

// transmit writes one message and runs the ACK wait appropriate to its
// type. A write failure marks the hub unresponsive and stops the
// sender; a chat message goes back on the queue so the retry survives
// the reconnect.
func (t *Transport) transmit(session chan struct{}, m message.Message) bool {
	if err := t.write(m); err != nil {
		log.Printf("send %s %s failed: %v", m.Type, m.ID, err)
		t.notResponding.Store(true)
		if m.Type == message.TypeUser {
			t.requeue(m)
		}
		return false
	}

	switch m.Type {
	case message.TypeUser:
		t.sentIDs.Insert(m.ID)
		t.pending.Track(m)
		t.awaitAck(session, m)
	case message.TypeHeartbeat:
		t.pending.Track(m)
		t.awaitAck(session, m)
	case message.TypeTyping:
		// acked by the hub but not worth blocking the queue for
		t.sentIDs.Insert(m.ID)
	}
	return true
}

// awaitAck polls the pending table until the message settles or the
// grace window passes. A wait cut short by session teardown is treated
// like a timeout: the write may never have been read by the hub, so the
// message must not be considered delivered.
func (t *Transport) awaitAck(session chan struct{}, m message.Message) {
	deadline := time.Now().Add(t.hbInterval * gracePeriod)
	for time.Now().Before(deadline) {
		if t.pending.Settled(m.ID) {
			return
		}
		select {
		case <-session:
			t.abandonWait(m)
			return
		case <-t.quit:
			t.pending.Drop(m.ID)
			return
		case <-time.After(ackPollStep):
		}
	}
	t.abandonWait(m)
}

// abandonWait gives up on an ACK that never came. The entry is dropped;
// only chat messages earn a resubmission, a missing heartbeat ACK shows
// up in the watchdog's miss counter instead.
func (t *Transport) abandonWait(m message.Message) {
	t.pending.Drop(m.ID)
	switch m.Type {
	case message.TypeUser:
		log.Printf("no ACK for %s, resubmitting", m.ID)
		t.metrics.IncResubmitted()
		t.requeue(m)
	default:
		log.Printf("no ACK for %s %s, dropping", m.Type, m.ID)
	}
}

// requeue puts a message back on the queue without blocking. If the
// queue has filled in the meantime the message is lost; that is the
// queue's overflow rule, resubmissions get no special treatment.
func (t *Transport) requeue(m message.Message) {
	select {
	case t.queue <- m:
	default:
		log.Printf("queue full, lost %s %s", m.Type, m.ID)
	}
}
