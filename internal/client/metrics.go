package client

import (
	"fmt"
	"sync"
)

// metrics counts transfer volume for the STATS display and the shutdown
// summary.
type metrics struct {
	mu            sync.Mutex
	bytesSent     int64
	bytesRecv     int64
	messagesSent  int64
	messagesRecv  int64
	resubmissions int64
}

func newMetrics() *metrics { return &metrics{} }

func (m *metrics) AddSent(n int) {
	m.mu.Lock()
	m.bytesSent += int64(n)
	m.messagesSent++
	m.mu.Unlock()
}

func (m *metrics) AddReceived(n int) {
	m.mu.Lock()
	m.bytesRecv += int64(n)
	m.messagesRecv++
	m.mu.Unlock()
}

func (m *metrics) IncResubmitted() {
	m.mu.Lock()
	m.resubmissions++
	m.mu.Unlock()
}

func (m *metrics) Snapshot() metricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return metricsSnapshot{
		BytesSent:     m.bytesSent,
		BytesReceived: m.bytesRecv,
		MessagesSent:  m.messagesSent,
		MessagesRecv:  m.messagesRecv,
		Resubmissions: m.resubmissions,
	}
}

type metricsSnapshot struct {
	BytesSent     int64
	BytesReceived int64
	MessagesSent  int64
	MessagesRecv  int64
	Resubmissions int64
}

func (s metricsSnapshot) String() string {
	return fmt.Sprintf("sent %s in %d messages, received %s in %d messages, %d resubmissions",
		formatBytes(s.BytesSent), s.MessagesSent,
		formatBytes(s.BytesReceived), s.MessagesRecv,
		s.Resubmissions)
}

func formatBytes(n int64) string {
	switch {
	case n < 1<<10:
		return fmt.Sprintf("%d bytes", n)
	case n < 1<<20:
		return fmt.Sprintf("%.2f KiB", float64(n)/(1<<10))
	case n < 1<<30:
		return fmt.Sprintf("%.2f MiB", float64(n)/(1<<20))
	default:
		return fmt.Sprintf("%.2f GiB", float64(n)/(1<<30))
	}
}
