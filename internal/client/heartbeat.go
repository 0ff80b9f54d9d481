package client

import (
	"log"
	"strconv"
	"time"

	"tinchat/internal/message"
)

// watchdog is the one goroutine that outlives reconnects. The first
// beat fires after half an interval, then once per interval: each beat
// either queues a heartbeat or, when too many went unanswered, tears
// the session down and dials again.
func (t *Transport) watchdog() {
	timer := time.NewTimer(t.hbInterval / 2)
	defer timer.Stop()
	for {
		select {
		case <-t.quit:
			return
		case <-timer.C:
		}
		t.beat()
		timer.Reset(t.hbInterval)
	}
}

// beat runs one liveness check. Any inbound traffic resets the missed
// counter, so the counter only climbs while the hub is truly silent.
func (t *Transport) beat() {
	if t.notResponding.Load() || int(t.missedHeartbeats.Load()) >= gracePeriod {
		t.notResponding.Store(true)
		t.reconnect()
		return
	}
	t.missedHeartbeats.Add(1)
	t.Send(message.New(t.user, message.TypeHeartbeat, heartbeatBody))
}

// reconnect tears down the dead session and dials until a handshake
// succeeds, waiting one heartbeat interval between attempts. The new
// session asks the hub to replay everything newer than the last
// delivered message; the dedup sets absorb any overlap.
func (t *Transport) reconnect() {
	for attempt := 1; ; attempt++ {
		select {
		case <-t.quit:
			return
		default:
		}
		t.teardown()

		since := "latest"
		if last := t.lastDelivered.Load(); last > 0 {
			since = strconv.FormatInt(last, 10)
		}
		log.Printf("reconnecting to %s (attempt %d)", t.addr, attempt)
		err := t.Connect(since)
		if err == nil {
			return
		}
		log.Printf("reconnect attempt %d failed: %v", attempt, err)

		select {
		case <-t.quit:
			return
		case <-time.After(t.hbInterval):
		}
	}
}
