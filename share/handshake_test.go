package share

import (
	"testing"
	"time"

	"github.com/prep/socketpair"
)

// TestHandshakeVerified covers S2's happy path: matching secret yields
// HandshakeVerified on both ends and the status byte is 0x01.
func TestHandshakeVerified(t *testing.T) {
	proxySide, clientSide, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("socketpair: %s", err)
	}
	secret := []byte("hunter2")

	verifiedCh := make(chan bool, 1)
	go func() {
		v, err := ServeHandshake(proxySide, secret, time.Second)
		if err != nil {
			t.Errorf("ServeHandshake: %s", err)
		}
		verifiedCh <- v
	}()

	ok, err := DialHandshake(clientSide, secret, time.Second)
	if err != nil {
		t.Fatalf("DialHandshake: %s", err)
	}
	if !ok {
		t.Fatal("DialHandshake reported not verified")
	}
	if v := <-verifiedCh; !v {
		t.Fatal("ServeHandshake reported not verified")
	}
}

// TestHandshakeIncorrect covers S2's rejection path: a mismatched secret of
// the same length yields status 0x02 and DialHandshake reports rejection.
func TestHandshakeIncorrect(t *testing.T) {
	p2, c2, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("socketpair: %s", err)
	}
	done := make(chan bool, 1)
	go func() {
		v, err := ServeHandshake(p2, []byte("hunter2"), time.Second)
		if err != nil {
			t.Errorf("ServeHandshake: %s", err)
		}
		done <- v
	}()

	ok, err := DialHandshake(c2, []byte("wrongpw"), time.Second)
	if err != nil {
		t.Fatalf("DialHandshake: %s", err)
	}
	if ok {
		t.Fatal("DialHandshake reported verified for a wrong secret")
	}
	if v := <-done; v {
		t.Fatal("ServeHandshake reported verified for a wrong secret")
	}
}

// TestHandshakeEmptyOnTimeout covers the truncated/timeout case: fewer than
// len(secret) bytes arrive, so the status byte must be 0x00, not 0x02.
func TestHandshakeEmptyOnTimeout(t *testing.T) {
	proxySide, clientSide, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("socketpair: %s", err)
	}
	defer clientSide.Close()

	clientSide.Write([]byte("hu")) // fewer than len("hunter2")

	verified, err := ServeHandshake(proxySide, []byte("hunter2"), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("ServeHandshake: %s", err)
	}
	if verified {
		t.Fatal("expected verification failure on truncated secret")
	}

	status := make([]byte, 1)
	clientSide.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := clientSide.Read(status); err != nil {
		t.Fatalf("reading status byte: %s", err)
	}
	if HandshakeStatus(status[0]) != HandshakeEmpty {
		t.Fatalf("status = %v, want HandshakeEmpty", HandshakeStatus(status[0]))
	}
}
