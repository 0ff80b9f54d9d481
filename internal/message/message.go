package message

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Message is the five-part wire record exchanged between hub and clients.
// On the wire the parts are joined with FieldSep and the record ends with
// the Terminator byte.
type Message struct {
	User      string
	Type      Type
	Timestamp int64 // milliseconds since epoch
	ID        string
	Body      string

	// Acked is sender-side bookkeeping only; it never travels.
	Acked bool
}

// Type names a message kind. The wire names match the original protocol
// so old journals stay readable.
type Type string

const (
	TypeUser       Type = "USERMSG"
	TypeArchived   Type = "ARCHIVEDMSG"
	TypeHeartbeat  Type = "HEARTBEAT"
	TypeArchiveReq Type = "ARCHIVE"
	TypeShutdown   Type = "SHUTDOWN"
	TypeWhosOnline Type = "WHOSONLINE"
	TypeVersion    Type = "VERSION"
	TypeConnect    Type = "CONNECT"
	TypeTyping     Type = "ISTYPING"
)

const (
	// Version is the protocol revision exchanged in the handshake.
	// Both sides must present exactly this string.
	Version = "tc0.3"
	// FieldSep joins the five record fields.
	FieldSep = '|'
	// Terminator ends a record on the wire. Framing is
	// read-until-terminator, not length-prefixed.
	Terminator byte = 0
	// AckBody is the acknowledgement token.
	AckBody = "ACK"
)

var knownTypes = map[Type]bool{
	TypeUser: true, TypeArchived: true, TypeHeartbeat: true,
	TypeArchiveReq: true, TypeShutdown: true, TypeWhosOnline: true,
	TypeVersion: true, TypeConnect: true, TypeTyping: true,
}

// ErrMalformed marks records that cannot be parsed into a Message.
var ErrMalformed = errors.New("malformed message")

// New builds a Message stamped with the current time and a fresh id.
func New(user string, typ Type, body string) Message {
	return Message{
		User:      user,
		Type:      typ,
		Timestamp: time.Now().UnixMilli(),
		ID:        NewID(),
		Body:      body,
	}
}

// NewID produces a short random hex identifier. Twelve hex chars is the
// same id space as the original protocol; collisions are possible and
// tolerated by the dedup machinery.
func NewID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return fmt.Sprintf("%x", b)
}

// Encode renders the record including the trailing terminator byte.
func Encode(m Message) []byte {
	var buf bytes.Buffer
	buf.WriteString(m.User)
	buf.WriteByte(FieldSep)
	buf.WriteString(string(m.Type))
	buf.WriteByte(FieldSep)
	buf.WriteString(strconv.FormatInt(m.Timestamp, 10))
	buf.WriteByte(FieldSep)
	buf.WriteString(m.ID)
	buf.WriteByte(FieldSep)
	buf.WriteString(m.Body)
	buf.WriteByte(Terminator)
	return buf.Bytes()
}

// Decode parses one record. A trailing terminator is tolerated. Records
// with the wrong field count, an unknown type, or a bad timestamp fail
// with ErrMalformed.
func Decode(data []byte) (Message, error) {
	data = bytes.TrimSuffix(data, []byte{Terminator})
	parts := bytes.SplitN(data, []byte{FieldSep}, 6)
	if len(parts) != 5 {
		return Message{}, fmt.Errorf("%w: expected 5 fields, got %d", ErrMalformed, len(parts))
	}
	typ := Type(parts[1])
	if !knownTypes[typ] {
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, parts[1])
	}
	ts, err := strconv.ParseInt(string(parts[2]), 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, parts[2])
	}
	if ts < 0 {
		return Message{}, fmt.Errorf("%w: negative timestamp %d", ErrMalformed, ts)
	}
	return Message{
		User:      string(parts[0]),
		Type:      typ,
		Timestamp: ts,
		ID:        string(parts[3]),
		Body:      string(parts[4]),
	}, nil
}

// Copy returns an independent value so archive snapshots cannot be
// corrupted by later mutation of the original.
func Copy(m Message) Message {
	return Message{
		User:      m.User,
		Type:      m.Type,
		Timestamp: m.Timestamp,
		ID:        m.ID,
		Body:      m.Body,
	}
}

// Ack builds the acknowledgement for m: identical except for the body.
func Ack(m Message) Message {
	return Message{
		User:      m.User,
		Type:      m.Type,
		Timestamp: m.Timestamp,
		ID:        m.ID,
		Body:      AckBody,
	}
}

// VerifyAck reports whether reply acknowledges original: id, timestamp,
// user and type must all match and the body must be the ACK token.
func VerifyAck(original, reply Message) bool {
	return original.ID == reply.ID &&
		original.Timestamp == reply.Timestamp &&
		original.User == reply.User &&
		original.Type == reply.Type &&
		reply.Body == AckBody
}
