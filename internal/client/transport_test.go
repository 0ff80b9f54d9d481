package client

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"tinchat/internal/hub"
	"tinchat/internal/message"
)

const testHeartbeat = 300 * time.Millisecond

func startHub(t *testing.T) (*hub.Hub, string) {
	t.Helper()
	h := hub.New(nil, nil)
	srv := hub.NewServer(h, nil, testHeartbeat, nil)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start hub: %v", err)
	}
	t.Cleanup(srv.Stop)
	return h, srv.Addr()
}

func startClient(t *testing.T, addr, user string) (*Transport, chan message.Message) {
	t.Helper()
	deliveries := make(chan message.Message, 32)
	tr := NewTransport(addr, user, testHeartbeat, nil, nil, func(m message.Message) {
		deliveries <- m
	})
	if err := tr.Connect(""); err != nil {
		t.Fatalf("connect %s: %v", user, err)
	}
	t.Cleanup(tr.Shutdown)
	return tr, deliveries
}

func waitDelivery(t *testing.T, ch chan message.Message, timeout time.Duration) message.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(timeout):
		t.Fatalf("no delivery within %v", timeout)
		return message.Message{}
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSendDeliversExactlyOnce(t *testing.T) {
	_, addr := startHub(t)
	alice, aliceInbox := startClient(t, addr, "alice")
	_, bobInbox := startClient(t, addr, "bob")

	sent := message.New("alice", message.TypeUser, "hello bob")
	if !alice.Send(sent) {
		t.Fatalf("send was rejected")
	}

	got := waitDelivery(t, bobInbox, 3*time.Second)
	if got.ID != sent.ID || got.Body != "hello bob" || got.User != "alice" {
		t.Fatalf("wrong delivery: %+v", got)
	}

	// the ACK must settle the sender side
	waitUntil(t, 3*time.Second, func() bool { return alice.pending.Settled(sent.ID) }, "ACK")

	// the sender must never see its own message back
	select {
	case m := <-aliceInbox:
		t.Fatalf("sender received its own message: %+v", m)
	case <-time.After(300 * time.Millisecond):
	}

	// nor may bob see it twice
	select {
	case m := <-bobInbox:
		t.Fatalf("duplicate delivery: %+v", m)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestDispatchDeduplicatesByID(t *testing.T) {
	deliveries := make(chan message.Message, 8)
	tr := NewTransport("127.0.0.1:1", "alice", testHeartbeat, nil, nil, func(m message.Message) {
		deliveries <- m
	})

	m := message.New("bob", message.TypeUser, "once only")
	tr.dispatch(m)
	replay := message.Copy(m)
	replay.Type = message.TypeArchived
	tr.dispatch(replay)

	if len(deliveries) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(deliveries))
	}
}

func TestDispatchSkipsOwnAndAcks(t *testing.T) {
	deliveries := make(chan message.Message, 8)
	tr := NewTransport("127.0.0.1:1", "alice", testHeartbeat, nil, nil, func(m message.Message) {
		deliveries <- m
	})

	own := message.New("alice", message.TypeUser, "mine")
	tr.sentIDs.Insert(own.ID)
	echoed := message.Copy(own)
	echoed.Type = message.TypeArchived
	tr.dispatch(echoed)

	stray := message.New("bob", message.TypeUser, message.AckBody)
	tr.dispatch(stray)

	if len(deliveries) != 0 {
		t.Fatalf("expected no deliveries, got %d", len(deliveries))
	}
}

func TestWhosOnlineRoundTrip(t *testing.T) {
	_, addr := startHub(t)
	alice, aliceInbox := startClient(t, addr, "alice")
	startClient(t, addr, "bob")

	alice.Send(message.New("alice", message.TypeWhosOnline, "."))
	got := waitDelivery(t, aliceInbox, 3*time.Second)
	if got.Type != message.TypeWhosOnline {
		t.Fatalf("expected who's-online reply, got %+v", got)
	}
	if got.Body != "alice; bob; " {
		t.Fatalf("unexpected roster %q", got.Body)
	}
}

func TestReconnectAfterSocketLoss(t *testing.T) {
	_, addr := startHub(t)
	alice, aliceInbox := startClient(t, addr, "alice")
	bob, _ := startClient(t, addr, "bob")

	first := message.New("bob", message.TypeUser, "before the cut")
	bob.Send(first)
	got := waitDelivery(t, aliceInbox, 3*time.Second)
	if got.ID != first.ID {
		t.Fatalf("wrong first delivery: %+v", got)
	}

	// cut alice's socket out from under the transport
	alice.mu.Lock()
	sock := alice.sock
	alice.mu.Unlock()
	_ = sock.Close()

	// the watchdog must notice and re-handshake on its own
	waitUntil(t, 5*time.Second, func() bool {
		alice.mu.Lock()
		defer alice.mu.Unlock()
		return alice.sock != nil && alice.sock != sock && !alice.notResponding.Load()
	}, "reconnect")

	second := message.New("bob", message.TypeUser, "after the cut")
	bob.Send(second)
	got = waitDelivery(t, aliceInbox, 3*time.Second)
	// reconnection replays the archive; dedup must hide the overlap, so
	// the next delivery is the new message, not a repeat of the first
	if got.ID != second.ID {
		t.Fatalf("expected the new message, got %+v", got)
	}
}

func TestArchiveReplayOnConnect(t *testing.T) {
	h, addr := startHub(t)
	bob, _ := startClient(t, addr, "bob")

	backlog := message.New("bob", message.TypeUser, "for latecomers")
	bob.Send(backlog)
	waitUntil(t, 3*time.Second, func() bool { return h.ArchiveLen() == 1 }, "archive write")

	deliveries := make(chan message.Message, 8)
	late := NewTransport(addr, "carol", testHeartbeat, nil, nil, func(m message.Message) {
		deliveries <- m
	})
	if err := late.Connect("latest"); err != nil {
		t.Fatalf("connect carol: %v", err)
	}
	t.Cleanup(late.Shutdown)

	got := waitDelivery(t, deliveries, 3*time.Second)
	if got.Type != message.TypeArchived || got.Body != "for latecomers" {
		t.Fatalf("expected archived backlog, got %+v", got)
	}
}

func TestDuplicateNameRejectedByHub(t *testing.T) {
	_, addr := startHub(t)
	startClient(t, addr, "alice")

	dup := NewTransport(addr, "alice", testHeartbeat, nil, nil, nil)
	err := dup.Connect("")
	if err == nil {
		dup.Shutdown()
		t.Fatalf("second alice should have been rejected")
	}
	if !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("expected handshake failure, got %v", err)
	}
}

func TestAckWaitCutByTeardownRequeuesChatMessage(t *testing.T) {
	tr := NewTransport("127.0.0.1:1", "alice", testHeartbeat, nil, nil, nil)
	tr.mu.Lock()
	tr.w = io.Discard
	tr.mu.Unlock()

	session := make(chan struct{})
	m := message.New("alice", message.TypeUser, "must survive the cut")
	done := make(chan struct{})
	go func() {
		tr.transmit(session, m)
		close(done)
	}()

	// let the ACK wait start, then kill the session under it
	time.Sleep(50 * time.Millisecond)
	close(session)
	<-done

	if !tr.pending.Settled(m.ID) {
		t.Fatalf("pending entry must be dropped when the session dies")
	}
	select {
	case requeued := <-tr.queue:
		if requeued.ID != m.ID {
			t.Fatalf("wrong message requeued: %+v", requeued)
		}
	default:
		t.Fatalf("un-ACKed chat message was lost instead of requeued")
	}
	if tr.Stats().Resubmissions != 1 {
		t.Fatalf("resubmission not counted")
	}
}

func TestAckWaitCutByTeardownDropsHeartbeat(t *testing.T) {
	tr := NewTransport("127.0.0.1:1", "alice", testHeartbeat, nil, nil, nil)
	tr.mu.Lock()
	tr.w = io.Discard
	tr.mu.Unlock()

	session := make(chan struct{})
	m := message.New("alice", message.TypeHeartbeat, "RSVP")
	done := make(chan struct{})
	go func() {
		tr.transmit(session, m)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	close(session)
	<-done

	if !tr.pending.Settled(m.ID) {
		t.Fatalf("pending entry must be dropped when the session dies")
	}
	if len(tr.queue) != 0 {
		t.Fatalf("heartbeats must not be requeued")
	}
}

func TestTeardownClearsPendingTable(t *testing.T) {
	tr := NewTransport("127.0.0.1:1", "alice", testHeartbeat, nil, nil, nil)
	tr.pending.Track(message.New("alice", message.TypeHeartbeat, "RSVP"))
	tr.teardown()
	if tr.pending.Len() != 0 {
		t.Fatalf("pending table must not survive teardown, has %d", tr.pending.Len())
	}
}

func TestConnectAfterShutdownRefused(t *testing.T) {
	_, addr := startHub(t)
	tr := NewTransport(addr, "alice", testHeartbeat, nil, nil, nil)
	tr.Shutdown()

	if err := tr.Connect(""); err == nil {
		t.Fatalf("connect after shutdown must fail")
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.sock != nil {
		t.Fatalf("no socket may be installed after shutdown")
	}
}

// handshakeConn answers every written record with its ACK and records
// the read deadlines it was given.
type handshakeConn struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	deadlines []time.Time
}

func (c *handshakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Read(p)
}

func (c *handshakeConn) Write(p []byte) (int, error) {
	m, err := message.Decode(p)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(message.Encode(message.Ack(m)))
	return len(p), nil
}

func (c *handshakeConn) Close() error                     { return nil }
func (c *handshakeConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (c *handshakeConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (c *handshakeConn) SetDeadline(time.Time) error      { return nil }
func (c *handshakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *handshakeConn) SetReadDeadline(d time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines = append(c.deadlines, d)
	return nil
}

func TestHandshakeDeadlineResetPerStep(t *testing.T) {
	conn := &handshakeConn{}
	tr := NewTransport("127.0.0.1:1", "alice", testHeartbeat, nil, nil, nil)
	if err := tr.handshake(conn, bufio.NewReader(conn), conn); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	// one fresh deadline per exchange plus the final clear
	if len(conn.deadlines) != 4 {
		t.Fatalf("expected 4 deadline calls, got %d", len(conn.deadlines))
	}
	if !conn.deadlines[3].IsZero() {
		t.Fatalf("deadline must be cleared after the handshake")
	}
	for i := 1; i < 3; i++ {
		if conn.deadlines[i].Before(conn.deadlines[i-1]) {
			t.Fatalf("step %d deadline was not refreshed", i)
		}
	}
}

func TestSendQueueOverflowDrops(t *testing.T) {
	tr := NewTransport("127.0.0.1:1", "alice", testHeartbeat, nil, nil, nil)
	for i := 0; i < queueCapacity; i++ {
		if !tr.Send(message.New("alice", message.TypeUser, "fill")) {
			t.Fatalf("queue rejected message %d before capacity", i)
		}
	}
	if tr.Send(message.New("alice", message.TypeUser, "overflow")) {
		t.Fatalf("send beyond capacity should drop")
	}
}
