package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"tinchat/internal/crypto"
	"tinchat/internal/message"
)

// ErrHandshakeFailed covers any failure of the three-step exchange:
// version rejection, a taken user name, or a timeout. The caller (or
// the reconnect loop) retries by dialing again.
var ErrHandshakeFailed = errors.New("handshake failed")

const (
	// queueCapacity bounds the outbound queue; Send drops on overflow
	// rather than blocking the caller.
	queueCapacity = 200
	// dedupCapacity bounds each of the sent-id and received-id sets.
	dedupCapacity = 200
	// sendPollTimeout is how long the sender waits on an empty queue
	// before re-checking its stop conditions.
	sendPollTimeout = time.Second
	// ackPollStep is the granularity of the sender's ACK wait.
	ackPollStep = 100 * time.Millisecond
	// gracePeriod is how many consecutive unanswered heartbeats the
	// watchdog tolerates before declaring the hub unresponsive.
	gracePeriod = 1
	// heartbeatBody is the payload carried by outbound heartbeats.
	heartbeatBody = "RSVP"
)

// Handler receives messages the transport has accepted for delivery:
// chat and archive messages exactly once each, plus who's-online replies
// and typing notifications.
type Handler func(m message.Message)

// Transport is the client's connection engine. It owns the socket, the
// outbound queue with ACK-verified retry, inbound dedup, heartbeat
// liveness, and automatic reconnection. Callers interact through Send
// and the delivery Handler; everything else is internal machinery.
type Transport struct {
	addr       string
	user       string
	hbInterval time.Duration
	box        *crypto.StreamBox
	store      *Store
	handler    Handler

	queue       chan message.Message
	pending     *pendingTable
	sentIDs     *lruSet
	receivedIDs *lruSet
	metrics     *metrics

	notResponding    atomic.Bool
	lastDelivered    atomic.Int64 // timestamp of the newest delivered chat message
	missedHeartbeats atomic.Int32

	mu      sync.Mutex // guards sock/w/session across reconnects
	sock    net.Conn
	w       io.Writer
	session chan struct{}
	actors  sync.WaitGroup

	wmu sync.Mutex // serializes writes: sender and shutdown share the socket

	watchdogOnce sync.Once
	quit         chan struct{}
	closeOnce    sync.Once
}

// NewTransport builds a disconnected Transport. The store may be nil to
// skip local history; box may be nil for a cleartext stream.
func NewTransport(addr, user string, hbInterval time.Duration, box *crypto.StreamBox, store *Store, handler Handler) *Transport {
	if hbInterval <= 0 {
		hbInterval = 30 * time.Second
	}
	return &Transport{
		addr:        addr,
		user:        user,
		hbInterval:  hbInterval,
		box:         box,
		store:       store,
		handler:     handler,
		queue:       make(chan message.Message, queueCapacity),
		pending:     newPendingTable(),
		sentIDs:     newLRUSet(dedupCapacity),
		receivedIDs: newLRUSet(dedupCapacity),
		metrics:     newMetrics(),
		quit:        make(chan struct{}),
	}
}

// Connect dials the hub, runs the handshake, and starts the sender and
// receiver. A non-empty since requests an archive replay: "latest" or a
// millisecond cutoff. The first successful Connect also starts the
// heartbeat watchdog, which owns reconnection from then on.
func (t *Transport) Connect(since string) error {
	sock, err := net.DialTimeout("tcp", t.addr, t.hbInterval)
	if err != nil {
		return err
	}
	r, w, err := t.box.Wrap(sock)
	if err != nil {
		_ = sock.Close()
		return err
	}
	br := bufio.NewReader(r)
	if err := t.handshake(sock, br, w); err != nil {
		_ = sock.Close()
		return err
	}

	session := make(chan struct{})
	t.mu.Lock()
	// checked under mu so a concurrent Shutdown either sees this session
	// in teardown or is observed here, never neither
	select {
	case <-t.quit:
		t.mu.Unlock()
		_ = sock.Close()
		return net.ErrClosed
	default:
	}
	t.sock = sock
	t.w = w
	t.session = session
	t.mu.Unlock()

	t.notResponding.Store(false)
	t.missedHeartbeats.Store(0)

	t.actors.Add(2)
	go t.sendLoop(session)
	go t.receiveLoop(session, sock, br)
	t.watchdogOnce.Do(func() { go t.watchdog() })

	if since != "" {
		t.Send(message.New(t.user, message.TypeArchiveReq, since))
	}
	log.Printf("connected to %s as %q, heartbeat %v", t.addr, t.user, t.hbInterval)
	return nil
}

// handshake runs the client side of the three-step exchange. Each step
// must come back as a verified ACK; a closed socket on the name step
// usually means the name is already taken.
func (t *Transport) handshake(sock net.Conn, r *bufio.Reader, w io.Writer) error {
	defer sock.SetReadDeadline(time.Time{})

	steps := []message.Message{
		message.New(t.user, message.TypeVersion, message.Version),
		message.New(t.user, message.TypeConnect, t.user),
		message.New(t.user, message.TypeConnect, strconv.Itoa(int(t.hbInterval/time.Millisecond))),
	}
	for _, m := range steps {
		// each exchange gets a full interval, not the remainder
		_ = sock.SetReadDeadline(time.Now().Add(t.hbInterval))
		if _, err := w.Write(message.Encode(m)); err != nil {
			return fmt.Errorf("%w: writing %s: %v", ErrHandshakeFailed, m.Type, err)
		}
		data, err := r.ReadBytes(message.Terminator)
		if err != nil {
			return fmt.Errorf("%w: no reply to %s %q: %v", ErrHandshakeFailed, m.Type, m.Body, err)
		}
		reply, err := message.Decode(data)
		if err != nil {
			return fmt.Errorf("%w: reply to %s: %v", ErrHandshakeFailed, m.Type, err)
		}
		if !message.VerifyAck(m, reply) {
			return fmt.Errorf("%w: step %s rejected: %q", ErrHandshakeFailed, m.Type, reply.Body)
		}
	}
	return nil
}

// Send offers a message to the outbound queue without blocking. On a
// full queue the message is dropped and false returned; the caller
// decides whether that matters.
func (t *Transport) Send(m message.Message) bool {
	select {
	case t.queue <- m:
		return true
	default:
		log.Printf("outbound queue full, dropping %s %s", m.Type, m.ID)
		return false
	}
}

// NotResponding reports whether the hub is currently considered dead.
// Messages may still be queued; they go out after reconnection.
func (t *Transport) NotResponding() bool {
	return t.notResponding.Load()
}

// Stats returns a snapshot of the transfer counters.
func (t *Transport) Stats() metricsSnapshot {
	return t.metrics.Snapshot()
}

// Shutdown announces departure to the hub, stops all goroutines, and
// closes the socket. Safe to call once; later calls are no-ops.
func (t *Transport) Shutdown() {
	t.closeOnce.Do(func() {
		close(t.quit)
		if err := t.write(message.New(t.user, message.TypeShutdown, ".")); err != nil {
			log.Printf("shutdown notice not sent: %v", err)
		}
		t.teardown()
		log.Printf("transport stopped: %s", t.metrics.Snapshot())
	})
}

// teardown stops the current session's sender and receiver and closes
// the socket. The watchdog survives; it is the one who calls this
// during reconnection.
func (t *Transport) teardown() {
	t.mu.Lock()
	if t.session != nil {
		close(t.session)
		t.session = nil
	}
	sock := t.sock
	t.sock = nil
	t.w = nil
	t.mu.Unlock()
	if sock != nil {
		_ = sock.Close()
	}
	t.actors.Wait()
	// the sender has exited, so nothing is mid-wait on these entries
	t.pending.Clear()
}

func (t *Transport) write(m message.Message) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	t.mu.Lock()
	w := t.w
	t.mu.Unlock()
	if w == nil {
		return net.ErrClosed
	}
	encoded := message.Encode(m)
	if _, err := w.Write(encoded); err != nil {
		return err
	}
	t.metrics.AddSent(len(encoded))
	return nil
}
