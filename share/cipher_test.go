package share

import (
	"bytes"
	"crypto/aes"
	"io"
	"testing"

	"golang.org/x/crypto/chacha20"
)

// TestAES256CTRRoundTrip verifies that a writer's encryptor and a reader's
// decryptor, built from the same key/iv (as both sides of a pairing would
// be), cancel out exactly (spec §8 property 7).
func TestAES256CTRRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	iv := bytes.Repeat([]byte{0x22}, aes.BlockSize)
	enc := EncryptionConfig{Cipher: CipherAES256CTR, Key: key, IV: iv}

	writerSide, _, err := enc.StreamPair()
	if err != nil {
		t.Fatalf("StreamPair (writer side): %s", err)
	}
	_, readerSide, err := enc.StreamPair()
	if err != nil {
		t.Fatalf("StreamPair (reader side): %s", err)
	}

	plaintext := []byte("GET / HTTP/1.1\r\n\r\n")
	var buf bytes.Buffer
	w := CipherWriter(&buf, writerSide)
	if _, err := w.Write(plaintext); err != nil {
		t.Fatalf("write: %s", err)
	}

	r := CipherReader(&buf, readerSide)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %s", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

// TestChaCha20RoundTrip mirrors TestAES256CTRRoundTrip for the chacha20
// option. Both sides call StreamPair with no arguments and no shared state
// beyond the configured key and IV, modeling the real deployment where the
// Proxy and Client processes never exchange a pairing identifier: this must
// still round-trip, which it only can if both sides start from the same
// fixed (key, IV, counter) rather than anything either side computed on its
// own.
func TestChaCha20RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, 32)
	iv := bytes.Repeat([]byte{0x44}, chacha20.NonceSize)
	enc := EncryptionConfig{Cipher: CipherChaCha20, Key: key, IV: iv}

	writerSide, _, err := enc.StreamPair()
	if err != nil {
		t.Fatalf("StreamPair (writer side): %s", err)
	}
	_, readerSide, err := enc.StreamPair()
	if err != nil {
		t.Fatalf("StreamPair (reader side): %s", err)
	}

	plaintext := []byte("PING\n")
	var buf bytes.Buffer
	w := CipherWriter(&buf, writerSide)
	w.Write(plaintext)

	r := CipherReader(&buf, readerSide)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %s", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

// TestChaCha20RepeatedPairingsShareKeystream documents the fixed-counter
// caveat explicitly: two independent StreamPair calls under the same key and
// IV, standing in for two different pairings with no wire-level coordination
// between the Proxy and Client, produce byte-identical keystreams rather
// than distinct ones. This is the same weakness already accepted for
// aes-256-ctr's fixed IV.
func TestChaCha20RepeatedPairingsShareKeystream(t *testing.T) {
	key := bytes.Repeat([]byte{0x55}, 32)
	iv := bytes.Repeat([]byte{0x66}, chacha20.NonceSize)
	enc := EncryptionConfig{Cipher: CipherChaCha20, Key: key, IV: iv}

	first, _, err := enc.StreamPair()
	if err != nil {
		t.Fatalf("StreamPair (first pairing): %s", err)
	}
	second, _, err := enc.StreamPair()
	if err != nil {
		t.Fatalf("StreamPair (second pairing): %s", err)
	}

	zeros := make([]byte, 32)
	ks1 := make([]byte, len(zeros))
	ks2 := make([]byte, len(zeros))
	first.XORKeyStream(ks1, zeros)
	second.XORKeyStream(ks2, zeros)
	if !bytes.Equal(ks1, ks2) {
		t.Fatalf("expected repeated pairings to share a keystream, got distinct keystreams")
	}
}

// TestEncryptionConfigActive exercises the Active() predicate used to
// decide raw vs. encrypted splicing.
func TestEncryptionConfigActive(t *testing.T) {
	cases := []struct {
		name string
		cfg  EncryptionConfig
		want bool
	}{
		{"empty", EncryptionConfig{}, false},
		{"missing iv", EncryptionConfig{Cipher: CipherAES256CTR, Key: []byte("k")}, false},
		{"complete", EncryptionConfig{Cipher: CipherAES256CTR, Key: []byte("k"), IV: []byte("i")}, true},
	}
	for _, c := range cases {
		if got := c.cfg.Active(); got != c.want {
			t.Errorf("%s: Active() = %v, want %v", c.name, got, c.want)
		}
	}
}
