package crypto

import (
	"bytes"
	"crypto/cipher"
	"crypto/des"
	"fmt"
	"strconv"
	"strings"
)

// Fixed key/IV pairs are part of the original payload-cipher design;
// the transport only ever sees the hex-encoded result as an opaque body.
var (
	payloadKey = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	payloadIV  = []byte{0x05, 0x06, 0x07, 0x08, 0x09, 0x04, 0x03, 0x01}
)

// PayloadBox applies the body-level block cipher used by the application
// layer on USER/ISTYPING messages. The ciphertext is rendered as
// space-separated hex bytes so it can never contain the field separator
// or the record terminator.
type PayloadBox struct {
	block cipher.Block
	iv    []byte
}

// NewPayloadBox builds the DES/CBC transform with the protocol's fixed
// key and IV.
func NewPayloadBox() (*PayloadBox, error) {
	block, err := des.NewCipher(payloadKey)
	if err != nil {
		return nil, err
	}
	return &PayloadBox{block: block, iv: payloadIV}, nil
}

// EncryptString enciphers the UTF-8 bytes of s and hex-encodes the result.
func (p *PayloadBox) EncryptString(s string) string {
	if p == nil {
		return s
	}
	plain := pkcs5Pad([]byte(s), p.block.BlockSize())
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(p.block, p.iv).CryptBlocks(out, plain)

	tokens := make([]string, len(out))
	for i, b := range out {
		tokens[i] = fmt.Sprintf("%x", b)
	}
	return strings.Join(tokens, " ")
}

// DecryptString reverses EncryptString. Bodies that are not valid
// ciphertext come back with an error so callers can show them raw.
func (p *PayloadBox) DecryptString(s string) (string, error) {
	if p == nil {
		return s, nil
	}
	tokens := strings.Fields(s)
	if len(tokens) == 0 || len(tokens)%p.block.BlockSize() != 0 {
		return "", fmt.Errorf("ciphertext length %d not a block multiple", len(tokens))
	}
	data := make([]byte, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return "", fmt.Errorf("hex byte %q: %v", tok, err)
		}
		data[i] = byte(v)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(p.block, p.iv).CryptBlocks(out, data)
	plain, err := pkcs5Unpad(out, p.block.BlockSize())
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pkcs5Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(pad)}, pad)...)
}

func pkcs5Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize {
		return nil, fmt.Errorf("invalid padding byte %d", pad)
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("corrupt padding")
		}
	}
	return data[:len(data)-pad], nil
}
