package hub

import "sync/atomic"

// Metrics captures lightweight in-process counters for observability.
type Metrics struct {
	ConnectionsAccepted atomic.Uint64
	ConnectionsRejected atomic.Uint64
	HandshakeFailures   atomic.Uint64
	Registrations       atomic.Uint64
	MessagesBroadcast   atomic.Uint64
	HeartbeatsSeen      atomic.Uint64
	ArchiveReplays      atomic.Uint64
	MalformedRecords    atomic.Uint64
}
