package share

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/prep/socketpair"
)

// TestSpliceByteIdentity verifies that Splice relays bytes byte-identically
// in both directions (spec §8 property 8).
func TestSpliceByteIdentity(t *testing.T) {
	a1, a2, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("socketpair a: %s", err)
	}
	b1, b2, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("socketpair b: %s", err)
	}

	done := make(chan struct{})
	go func() {
		Splice(a2, b2)
		close(done)
	}()

	want1 := []byte("hello from a\n")
	want2 := []byte("hello from b\n")

	go func() {
		a1.Write(want1)
		a1.(WriteHalfCloser).CloseWrite()
	}()
	go func() {
		b1.Write(want2)
		b1.(WriteHalfCloser).CloseWrite()
	}()

	got2, err := io.ReadAll(b1)
	if err != nil {
		t.Fatalf("read b1: %s", err)
	}
	if !bytes.Equal(got2, want1) {
		t.Fatalf("b1 got %q, want %q", got2, want1)
	}

	got1, err := io.ReadAll(a1)
	if err != nil {
		t.Fatalf("read a1: %s", err)
	}
	if !bytes.Equal(got1, want2) {
		t.Fatalf("a1 got %q, want %q", got1, want2)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Splice did not return")
	}
}
