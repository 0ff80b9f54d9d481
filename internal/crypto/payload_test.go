package crypto

import (
	"strings"
	"testing"
)

func TestPayloadRoundTrip(t *testing.T) {
	box, err := NewPayloadBox()
	if err != nil {
		t.Fatalf("NewPayloadBox: %v", err)
	}
	cases := []string{
		"hello",
		"",
		"In einem Loch in der Erde, da lebte ein Hobbit ö ß ? £",
		strings.Repeat("x", 500),
	}
	for _, want := range cases {
		enc := box.EncryptString(want)
		got, err := box.DecryptString(enc)
		if err != nil {
			t.Fatalf("decrypt(%q): %v", want, err)
		}
		if got != want {
			t.Fatalf("round trip mismatch: %q vs %q", got, want)
		}
	}
}

func TestPayloadCiphertextIsDelimiterSafe(t *testing.T) {
	box, err := NewPayloadBox()
	if err != nil {
		t.Fatalf("NewPayloadBox: %v", err)
	}
	enc := box.EncryptString("body with | pipe and more")
	if strings.ContainsRune(enc, '|') {
		t.Fatalf("ciphertext contains field separator: %q", enc)
	}
	if strings.ContainsRune(enc, 0) {
		t.Fatalf("ciphertext contains terminator byte")
	}
}

func TestPayloadDecryptRejectsGarbage(t *testing.T) {
	box, err := NewPayloadBox()
	if err != nil {
		t.Fatalf("NewPayloadBox: %v", err)
	}
	for _, in := range []string{"not hex at all", "zz zz", "1 2 3"} {
		if _, err := box.DecryptString(in); err == nil {
			t.Fatalf("DecryptString(%q) accepted garbage", in)
		}
	}
}

func TestNilPayloadBoxPassesThrough(t *testing.T) {
	var box *PayloadBox
	if got := box.EncryptString("plain"); got != "plain" {
		t.Fatalf("nil encrypt altered input: %q", got)
	}
	got, err := box.DecryptString("plain")
	if err != nil || got != "plain" {
		t.Fatalf("nil decrypt altered input: %q %v", got, err)
	}
}
