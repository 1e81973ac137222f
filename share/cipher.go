package share

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/chacha20"
)

// CipherName identifies a tunnel-encryption cipher (spec §4.4).
type CipherName string

const (
	CipherNone      CipherName = ""
	CipherAES256CTR CipherName = "aes-256-ctr"
	CipherChaCha20  CipherName = "chacha20"
)

// EncryptionConfig mirrors the Configuration entity's encryption{} group.
// Encryption is active iff Cipher, Key and IV are all non-empty.
type EncryptionConfig struct {
	Cipher CipherName
	Key    []byte
	IV     []byte
}

// Active reports whether all three fields needed to enable encryption are set.
func (e EncryptionConfig) Active() bool {
	return e.Cipher != "" && len(e.Key) > 0 && len(e.IV) > 0
}

// StreamPair returns the writer-side (encrypting) and reader-side
// (decrypting) stream ciphers, in that order, for one tunnel pairing. Both aes-256-ctr and chacha20 derive their stream purely
// from the configured key and IV, with no per-pairing input: the Proxy and
// Client sides of a pairing never exchange a pairing identifier over the
// wire, so there is nothing either side could derive a per-pairing nonce or
// counter from that the other side would independently compute the same
// way. Reusing the configured IV (and, for chacha20, counter 0) across every
// pairing under a given key is therefore a known weakness for both ciphers
// alike, not a gap unique to aes-256-ctr: a stream cipher's keystream
// repeats whenever its (key, IV) pair repeats, per the unresolved Open
// Question this config shape was ported from.
func (e EncryptionConfig) StreamPair() (cipher.Stream, cipher.Stream, error) {
	switch e.Cipher {
	case CipherAES256CTR:
		return newAESCTRPair(e.Key, e.IV)
	case CipherChaCha20:
		return newChaCha20Pair(e.Key, e.IV)
	default:
		return nil, nil, fmt.Errorf("revtun: unknown cipher %q", e.Cipher)
	}
}

func newAESCTRPair(key, iv []byte) (cipher.Stream, cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("revtun: aes key: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, nil, fmt.Errorf("revtun: aes-256-ctr iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	enc := cipher.NewCTR(block, iv)
	dec := cipher.NewCTR(block, iv)
	return enc, dec, nil
}

func newChaCha20Pair(key, iv []byte) (cipher.Stream, cipher.Stream, error) {
	if len(iv) != chacha20.NonceSize {
		return nil, nil, fmt.Errorf("revtun: chacha20 iv must be %d bytes, got %d", chacha20.NonceSize, len(iv))
	}
	enc, err := chacha20.NewUnauthenticatedCipher(key, iv)
	if err != nil {
		return nil, nil, fmt.Errorf("revtun: chacha20 key: %w", err)
	}
	dec, err := chacha20.NewUnauthenticatedCipher(key, iv)
	if err != nil {
		return nil, nil, fmt.Errorf("revtun: chacha20 key: %w", err)
	}
	return streamWrapper{enc}, streamWrapper{dec}, nil
}

// streamWrapper adapts *chacha20.Cipher's XORKeyStream-only API to the
// cipher.Stream interface so callers can treat both ciphers identically.
type streamWrapper struct {
	c *chacha20.Cipher
}

func (s streamWrapper) XORKeyStream(dst, src []byte) {
	s.c.XORKeyStream(dst, src)
}

// CipherReader wraps r so every Read is XORed through stream, decrypting a
// cipher.StreamReader pulled straight off the teacher's stream-cipher idiom.
func CipherReader(r io.Reader, stream cipher.Stream) io.Reader {
	return &cipher.StreamReader{S: stream, R: r}
}

// CipherWriter wraps w so every Write is XORed through stream.
func CipherWriter(w io.Writer, stream cipher.Stream) io.Writer {
	return &cipher.StreamWriter{S: stream, W: w}
}

// CipherConn wraps a net.Conn's reads through a decryptor stream and its
// writes through an encryptor stream, so the rest of the pipeline (Splice)
// can treat an encrypted tunnel socket exactly like a plain one. Close and
// CloseWrite pass straight through to the underlying connection.
type CipherConn struct {
	net.Conn
	reader io.Reader
	writer io.Writer
}

// NewCipherConn wraps conn so Reads are decrypted with dec and Writes are
// encrypted with enc.
func NewCipherConn(conn net.Conn, enc, dec cipher.Stream) *CipherConn {
	return &CipherConn{
		Conn:   conn,
		reader: CipherReader(conn, dec),
		writer: CipherWriter(conn, enc),
	}
}

func (c *CipherConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

func (c *CipherConn) Write(p []byte) (int, error) {
	return c.writer.Write(p)
}

// CloseWrite forwards to the underlying connection if it supports
// half-close; the cipher.StreamWriter has no teardown of its own.
func (c *CipherConn) CloseWrite() error {
	if whc, ok := c.Conn.(WriteHalfCloser); ok {
		return whc.CloseWrite()
	}
	return nil
}
