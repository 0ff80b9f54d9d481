package hub

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"tinchat/internal/crypto"
	"tinchat/internal/message"
)

// ErrHandshakeFailed covers version mismatch, duplicate user name, bad
// heartbeat value, or timeout during the three-step handshake. The hub
// never retries; it closes the socket and leaves retrying to the client.
var ErrHandshakeFailed = errors.New("handshake failed")

// Conn owns one accepted socket: it runs the handshake, then the serving
// loop, and a watchdog that destroys the connection when heartbeats stop.
type Conn struct {
	hub  *Hub
	sock net.Conn
	r    *bufio.Reader
	w    io.Writer

	user       string
	hbInterval time.Duration

	wmu sync.Mutex // serializes writes: serving loop and fan-out share the socket

	hbMu          sync.Mutex
	lastHeartbeat time.Time

	quit      chan struct{}
	closeOnce sync.Once
}

// newConn wraps an accepted socket, layering the stream cipher when one
// is configured. The heartbeat interval starts at the hub default and is
// replaced by the value negotiated in the handshake.
func newConn(h *Hub, sock net.Conn, box *crypto.StreamBox, defaultHB time.Duration) (*Conn, error) {
	r, w, err := box.Wrap(sock)
	if err != nil {
		return nil, err
	}
	return &Conn{
		hub:           h,
		sock:          sock,
		r:             bufio.NewReader(r),
		w:             w,
		hbInterval:    defaultHB,
		lastHeartbeat: time.Now(),
		quit:          make(chan struct{}),
	}, nil
}

// run drives the connection to completion. Must be called on its own
// goroutine; returns only when the connection is finished.
func (c *Conn) run() {
	defer c.shutdown()

	if err := c.handshake(); err != nil {
		c.hub.metrics.HandshakeFailures.Add(1)
		log.Printf("handshake with %s failed: %v", c.sock.RemoteAddr(), err)
		return
	}
	defer c.hub.Unregister(c.user, c)

	go c.watchdog()
	c.serve()
}

// handshake executes the three-step exchange: VERSION, CONNECT (user
// name), CONNECT (heartbeat interval). Each read is bounded by the
// current heartbeat interval; any failure is fatal to the attempt.
func (c *Conn) handshake() error {
	_ = c.sock.SetReadDeadline(time.Now().Add(c.hbInterval))
	defer c.sock.SetReadDeadline(time.Time{})

	versionMsg, err := c.read()
	if err != nil {
		return fmt.Errorf("%w: reading version: %v", ErrHandshakeFailed, err)
	}
	if versionMsg.Type != message.TypeVersion || versionMsg.Body != ProtocolVersion {
		reply := message.Copy(versionMsg)
		reply.Body = fmt.Sprintf("client version wrong: %s vs my %s", versionMsg.Body, ProtocolVersion)
		_ = c.write(reply)
		return fmt.Errorf("%w: version %q, want %q", ErrHandshakeFailed, versionMsg.Body, ProtocolVersion)
	}
	if err := c.write(message.Ack(versionMsg)); err != nil {
		return fmt.Errorf("%w: acking version: %v", ErrHandshakeFailed, err)
	}

	connectMsg, err := c.read()
	if err != nil {
		return fmt.Errorf("%w: reading connect: %v", ErrHandshakeFailed, err)
	}
	if connectMsg.Type != message.TypeConnect || connectMsg.Body == "" {
		return fmt.Errorf("%w: expected connect with user name", ErrHandshakeFailed)
	}
	name := connectMsg.Body
	if err := c.hub.Register(name, c); err != nil {
		// no ACK: the client must see the attempt die
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	c.user = name
	if err := c.write(message.Ack(connectMsg)); err != nil {
		c.hub.Unregister(name, c)
		c.user = ""
		return fmt.Errorf("%w: acking connect: %v", ErrHandshakeFailed, err)
	}

	hbMsg, err := c.read()
	if err != nil {
		c.hub.Unregister(name, c)
		c.user = ""
		return fmt.Errorf("%w: reading heartbeat interval: %v", ErrHandshakeFailed, err)
	}
	ms, perr := strconv.Atoi(hbMsg.Body)
	if hbMsg.Type != message.TypeConnect || perr != nil || ms <= 0 {
		c.hub.Unregister(name, c)
		c.user = ""
		return fmt.Errorf("%w: heartbeat interval %q", ErrHandshakeFailed, hbMsg.Body)
	}
	c.hbInterval = time.Duration(ms) * time.Millisecond
	if err := c.write(message.Ack(hbMsg)); err != nil {
		c.hub.Unregister(name, c)
		c.user = ""
		return fmt.Errorf("%w: acking heartbeat interval: %v", ErrHandshakeFailed, err)
	}

	log.Printf("client %q connected from %s, heartbeat %v", c.user, c.sock.RemoteAddr(), c.hbInterval)
	return nil
}

// serve loops on inbound messages until the stream closes or the client
// sends SHUTDOWN. Malformed records are logged and skipped.
func (c *Conn) serve() {
	for {
		m, err := c.read()
		if err != nil {
			if errors.Is(err, message.ErrMalformed) {
				c.hub.metrics.MalformedRecords.Add(1)
				log.Printf("malformed record from %q: %v", c.user, err)
				continue
			}
			log.Printf("client %q disconnected: %v", c.user, err)
			return
		}

		switch m.Type {
		case message.TypeUser, message.TypeTyping:
			c.touchHeartbeat()
			c.hub.Broadcast(c, m)
			if err := c.write(message.Ack(m)); err != nil {
				return
			}
		case message.TypeHeartbeat:
			c.touchHeartbeat()
			c.hub.metrics.HeartbeatsSeen.Add(1)
			if err := c.write(message.Ack(m)); err != nil {
				return
			}
		case message.TypeArchiveReq:
			c.replayArchive(m)
		case message.TypeWhosOnline:
			body := ""
			for _, name := range c.hub.Online() {
				body += name + "; "
			}
			if err := c.write(message.New(c.user, message.TypeWhosOnline, body)); err != nil {
				return
			}
		case message.TypeShutdown:
			log.Printf("client %q sent shutdown", c.user)
			return
		default:
			log.Printf("client %q sent unexpected %s, ignoring", c.user, m.Type)
		}
	}
}

// replayArchive streams matching archive entries back, retyped as
// ARCHIVEDMSG. No per-entry ACK is expected.
func (c *Conn) replayArchive(req message.Message) {
	var entries []message.Message
	if req.Body == "latest" {
		entries = c.hub.ArchiveWithin(archiveReplayWindow)
	} else {
		since, err := strconv.ParseInt(req.Body, 10, 64)
		if err != nil {
			c.hub.metrics.MalformedRecords.Add(1)
			log.Printf("archive request from %q with bad body %q", c.user, req.Body)
			return
		}
		entries = c.hub.ArchiveSince(since)
	}
	c.hub.metrics.ArchiveReplays.Add(1)
	log.Printf("replaying %d archived messages to %q", len(entries), c.user)
	for _, m := range entries {
		m.Type = message.TypeArchived
		if err := c.write(m); err != nil {
			return
		}
	}
}

// Forward delivers a fanned-out message to this connection's socket. A
// write failure destroys the connection; the hub carries on.
func (c *Conn) Forward(m message.Message) {
	if err := c.write(m); err != nil {
		log.Printf("forward to %q failed, dropping connection: %v", c.user, err)
		c.shutdown()
	}
}

// watchdog destroys the connection when no heartbeat (or traffic) has
// been seen within twice the negotiated interval.
func (c *Conn) watchdog() {
	ticker := time.NewTicker(c.hbInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			c.hbMu.Lock()
			silent := time.Since(c.lastHeartbeat)
			c.hbMu.Unlock()
			if silent > 2*c.hbInterval {
				log.Printf("client %q silent for %v, destroying connection", c.user, silent)
				c.shutdown()
				return
			}
		}
	}
}

func (c *Conn) touchHeartbeat() {
	c.hbMu.Lock()
	c.lastHeartbeat = time.Now()
	c.hbMu.Unlock()
}

func (c *Conn) read() (message.Message, error) {
	data, err := c.r.ReadBytes(message.Terminator)
	if err != nil {
		return message.Message{}, err
	}
	return message.Decode(data)
}

func (c *Conn) write(m message.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.w.Write(message.Encode(m))
	return err
}

// shutdown unregisters, stops the watchdog, and closes the socket. Safe
// to call from any goroutine, any number of times.
func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		if c.user != "" {
			c.hub.Unregister(c.user, c)
		}
		close(c.quit)
		_ = c.sock.Close()
	})
}
