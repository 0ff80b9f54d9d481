package hub

import (
	"errors"
	"log"
	"net"
	"strings"
	"time"

	"tinchat/internal/crypto"
)

// Server owns the listening socket and hands every accepted connection
// its own handler goroutine.
type Server struct {
	hub           *Hub
	box           *crypto.StreamBox
	defaultHB     time.Duration
	allowPrefixes []string

	listener net.Listener
	quit     chan struct{}
}

// NewServer wires a Server for the hub. box may be nil (encryption off);
// allowPrefixes may be empty (all peers allowed).
func NewServer(h *Hub, box *crypto.StreamBox, defaultHB time.Duration, allowPrefixes []string) *Server {
	return &Server{
		hub:           h,
		box:           box,
		defaultHB:     defaultHB,
		allowPrefixes: allowPrefixes,
		quit:          make(chan struct{}),
	}
}

// Start begins accepting connections on addr.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	log.Printf("hub listening on %s (encryption:%t)", ln.Addr(), s.box != nil)
	go s.acceptLoop()
	return nil
}

// Addr reports the bound listen address, useful when started with port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	for {
		sock, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-s.quit:
				return
			default:
				log.Printf("accept error: %v", err)
			}
			continue
		}
		if !s.allowed(sock) {
			s.hub.metrics.ConnectionsRejected.Add(1)
			log.Printf("connect from %s not allowed", sock.RemoteAddr())
			_ = sock.Close()
			continue
		}
		s.hub.metrics.ConnectionsAccepted.Add(1)
		conn, err := newConn(s.hub, sock, s.box, s.defaultHB)
		if err != nil {
			log.Printf("cipher setup for %s failed: %v", sock.RemoteAddr(), err)
			_ = sock.Close()
			continue
		}
		go conn.run()
	}
}

// allowed applies the optional IP prefix allow-list before the handshake.
func (s *Server) allowed(sock net.Conn) bool {
	if len(s.allowPrefixes) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(sock.RemoteAddr().String())
	if err != nil {
		host = sock.RemoteAddr().String()
	}
	for _, prefix := range s.allowPrefixes {
		if strings.HasPrefix(host, strings.TrimSpace(prefix)) {
			return true
		}
	}
	return false
}

// Stop closes the listener. Established connections drain on their own.
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		_ = s.listener.Close()
	}
}
