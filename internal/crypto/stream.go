package crypto

import (
	"crypto/cipher"
	"crypto/rc4"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/scrypt"
)

// streamKeySize is fixed by the protocol: both ends key RC4 with 16 bytes.
const streamKeySize = 16

// defaultStreamKey is the well-known fallback used when no secret is
// configured. It is a known weak default carried over from the original
// protocol; changing it would break interop with peers running defaults.
var defaultStreamKey = []byte{
	0xe7, 0x65, 0xd3, 0x0c, 0x5d, 0xda, 0xc8, 0xf9,
	0x9d, 0x6d, 0xad, 0x4e, 0xa6, 0x5a, 0x60, 0x6a,
}

// StreamBox holds the symmetric key for the transport stream cipher.
// A nil *StreamBox is valid and leaves streams untouched.
type StreamBox struct {
	key []byte
}

// NewStreamBox derives the RC4 key for a connection. An empty secret
// falls back to the default key; otherwise the secret is stretched with
// scrypt so any passphrase yields a full-size key.
func NewStreamBox(secret string) (*StreamBox, error) {
	if secret == "" {
		return &StreamBox{key: defaultStreamKey}, nil
	}
	salt := sha256.Sum256([]byte(secret))
	key, err := scrypt.Key([]byte(secret), salt[:], 1<<15, 8, 1, streamKeySize)
	if err != nil {
		return nil, err
	}
	return &StreamBox{key: key}, nil
}

// Wrap layers the cipher over both directions of a byte stream. Each
// direction gets its own keystream state, matching the peer's pairing of
// its write cipher with our read cipher.
func (b *StreamBox) Wrap(rw io.ReadWriter) (io.Reader, io.Writer, error) {
	if b == nil {
		return rw, rw, nil
	}
	dec, err := rc4.NewCipher(b.key)
	if err != nil {
		return nil, nil, err
	}
	enc, err := rc4.NewCipher(b.key)
	if err != nil {
		return nil, nil, err
	}
	return cipher.StreamReader{S: dec, R: rw}, cipher.StreamWriter{S: enc, W: rw}, nil
}
