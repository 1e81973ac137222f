package share

import (
	"net"
	"time"
)

// HandshakeStatus is the single byte the Proxy writes back to a Client after
// reading the shared secret off a freshly accepted tunnel socket.
type HandshakeStatus byte

const (
	// HandshakeEmpty is sent when fewer than len(secret) bytes arrived
	// before challengeTimeout, or the stream ended early.
	HandshakeEmpty HandshakeStatus = 0x00
	// HandshakeVerified is sent when the bytes read matched secret exactly.
	HandshakeVerified HandshakeStatus = 0x01
	// HandshakeIncorrect is sent when enough bytes arrived but didn't match.
	HandshakeIncorrect HandshakeStatus = 0x02
)

func (s HandshakeStatus) String() string {
	switch s {
	case HandshakeEmpty:
		return "empty"
	case HandshakeVerified:
		return "verified"
	case HandshakeIncorrect:
		return "incorrect"
	default:
		return "unknown"
	}
}

// ServeHandshake runs the receiver side of the challenge-response exchange
// (spec §4.5) on a freshly accepted tunnel connection. It sets conn's read
// deadline to challengeTimeout, reads exactly len(secret) bytes, writes back
// the one-byte status, and returns whether the secret was verified.
//
// The status byte written is bit-exact with the wire protocol: 0x00 only for
// a truncated/timed-out read, 0x02 for a full read that doesn't match, 0x01
// on match.
func ServeHandshake(conn net.Conn, secret []byte, challengeTimeout time.Duration) (bool, error) {
	if err := conn.SetReadDeadline(time.Now().Add(challengeTimeout)); err != nil {
		return false, err
	}
	buf := make([]byte, len(secret))
	_, err := readFull(conn, buf)
	_ = conn.SetReadDeadline(time.Time{})

	var status HandshakeStatus
	verified := false
	if err != nil {
		status = HandshakeEmpty
	} else if !bytesEqual(buf, secret) {
		status = HandshakeIncorrect
	} else {
		status = HandshakeVerified
		verified = true
	}

	if _, werr := conn.Write([]byte{byte(status)}); werr != nil {
		return false, werr
	}
	return verified, nil
}

// DialHandshake runs the sender side of the challenge-response exchange on a
// freshly dialed tunnel connection: write secret, read exactly one status
// byte. Any status other than HandshakeVerified (including a read error or
// timeout) is treated as rejection.
func DialHandshake(conn net.Conn, secret []byte, challengeTimeout time.Duration) (bool, error) {
	if err := conn.SetWriteDeadline(time.Now().Add(challengeTimeout)); err != nil {
		return false, err
	}
	if _, err := conn.Write(secret); err != nil {
		return false, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(challengeTimeout)); err != nil {
		return false, err
	}
	status := make([]byte, 1)
	_, err := readFull(conn, status)
	_ = conn.SetWriteDeadline(time.Time{})
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		return false, nil
	}
	return HandshakeStatus(status[0]) == HandshakeVerified, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
