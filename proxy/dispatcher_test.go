package proxy

import (
	"testing"
	"time"

	"github.com/prep/socketpair"

	"github.com/relaynet/revtun/share"
)

func testLogger() share.Logger {
	return share.NewLogger("test", share.LogLevelDebug)
}

func newTestRequest(t *testing.T) (*Request, func()) {
	a, b, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("socketpair: %s", err)
	}
	r := NewRequest(testLogger(), a, 0)
	return r, func() { b.Close() }
}

func newTestTunnel(t *testing.T) (*Tunnel, func()) {
	a, b, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("socketpair: %s", err)
	}
	tn := NewTunnel(testLogger(), a)
	return tn, func() { b.Close() }
}

// TestOfferTunnelThenRequestPairs verifies that a tunnel offered first sits
// in idleTunnels and is immediately consumed by the next offered request.
func TestOfferTunnelThenRequestPairs(t *testing.T) {
	d := NewDispatcher(testLogger(), share.EncryptionConfig{})
	tn, closePeer := newTestTunnel(t)
	defer closePeer()

	d.OfferTunnel(tn)
	if got := d.IdleTunnelCount(); got != 1 {
		t.Fatalf("IdleTunnelCount = %d, want 1", got)
	}

	r, closeReqPeer := newTestRequest(t)
	defer closeReqPeer()
	d.OfferRequest(r)

	waitForPaired(t, r, tn)
	if got := d.IdleTunnelCount(); got != 0 {
		t.Fatalf("IdleTunnelCount after pairing = %d, want 0", got)
	}
}

// TestOfferRequestThenTunnelPairs covers the opposite order: a request
// waits in waitingRequests until a tunnel becomes available.
func TestOfferRequestThenTunnelPairs(t *testing.T) {
	d := NewDispatcher(testLogger(), share.EncryptionConfig{})
	r, closeReqPeer := newTestRequest(t)
	defer closeReqPeer()

	d.OfferRequest(r)
	if got := d.WaitingRequestCount(); got != 1 {
		t.Fatalf("WaitingRequestCount = %d, want 1", got)
	}

	tn, closePeer := newTestTunnel(t)
	defer closePeer()
	d.OfferTunnel(tn)

	waitForPaired(t, r, tn)
	if got := d.WaitingRequestCount(); got != 0 {
		t.Fatalf("WaitingRequestCount after pairing = %d, want 0", got)
	}
}

// TestFIFOOrdering verifies that waitingRequests are paired in arrival
// order when tunnels arrive one at a time.
func TestFIFOOrdering(t *testing.T) {
	d := NewDispatcher(testLogger(), share.EncryptionConfig{})

	var reqs []*Request
	for i := 0; i < 3; i++ {
		r, closePeer := newTestRequest(t)
		defer closePeer()
		reqs = append(reqs, r)
		d.OfferRequest(r)
	}
	if got := d.WaitingRequestCount(); got != 3 {
		t.Fatalf("WaitingRequestCount = %d, want 3", got)
	}

	tn, closePeer := newTestTunnel(t)
	defer closePeer()
	d.OfferTunnel(tn)

	waitForPaired(t, reqs[0], tn)
	if got := d.WaitingRequestCount(); got != 2 {
		t.Fatalf("WaitingRequestCount after one pairing = %d, want 2", got)
	}
}

// TestRetireTunnelRemovesFromQueue verifies that shutting down an idle
// (unpaired) tunnel removes it from idleTunnels without pairing anything.
func TestRetireTunnelRemovesFromQueue(t *testing.T) {
	d := NewDispatcher(testLogger(), share.EncryptionConfig{})
	tn, closePeer := newTestTunnel(t)
	defer closePeer()

	d.OfferTunnel(tn)
	if got := d.IdleTunnelCount(); got != 1 {
		t.Fatalf("IdleTunnelCount = %d, want 1", got)
	}

	tn.StartShutdown(nil)
	tn.WaitShutdown()

	deadline := time.Now().Add(time.Second)
	for d.IdleTunnelCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := d.IdleTunnelCount(); got != 0 {
		t.Fatalf("IdleTunnelCount after retire = %d, want 0", got)
	}
}

// TestRetireRequestRemovesFromQueue mirrors TestRetireTunnelRemovesFromQueue
// for a waiting (unpaired) request, covering requestTimeout's removal path
// from the waiting queue.
func TestRetireRequestRemovesFromQueue(t *testing.T) {
	d := NewDispatcher(testLogger(), share.EncryptionConfig{})
	r, closePeer := newTestRequest(t)
	defer closePeer()

	d.OfferRequest(r)
	if got := d.WaitingRequestCount(); got != 1 {
		t.Fatalf("WaitingRequestCount = %d, want 1", got)
	}

	r.StartShutdown(nil)
	r.WaitShutdown()

	deadline := time.Now().Add(time.Second)
	for d.WaitingRequestCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := d.WaitingRequestCount(); got != 0 {
		t.Fatalf("WaitingRequestCount after retire = %d, want 0", got)
	}
}

// TestMutualDestroyTearsDownPartner verifies the pairing invariant from
// spec §4.3/§7: once one side of a pairing finishes, the other is torn down
// too, without waiting the full pairGrace window (since it cooperates by
// closing its own half).
func TestMutualDestroyTearsDownPartner(t *testing.T) {
	d := NewDispatcher(testLogger(), share.EncryptionConfig{})
	tn, closeTunnelPeer := newTestTunnel(t)
	defer closeTunnelPeer()
	r, closeReqPeer := newTestRequest(t)
	defer closeReqPeer()

	d.OfferTunnel(tn)
	d.OfferRequest(r)
	waitForPaired(t, r, tn)

	// Splicing is now driven by closing the request's underlying peer, which
	// ends io.Copy on that side and should cascade to the tunnel.
	closeReqPeer()

	select {
	case <-r.ShutdownDoneChan():
	case <-time.After(2 * time.Second):
		t.Fatal("request did not shut down after its peer closed")
	}
	select {
	case <-tn.ShutdownDoneChan():
	case <-time.After(pairGrace + 2*time.Second):
		t.Fatal("tunnel was not torn down by mutual destruction")
	}
}

// TestRequestTimeoutWhileQueued verifies that a Request still sitting in
// waitingRequests (no tunnel ever offered) is torn down by its own timer
// close to requestTimeout, not left open indefinitely and not dependent on
// any Read/Write happening on its socket.
func TestRequestTimeoutWhileQueued(t *testing.T) {
	d := NewDispatcher(testLogger(), share.EncryptionConfig{})

	a, b, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("socketpair: %s", err)
	}
	defer b.Close()

	const requestTimeout = 100 * time.Millisecond
	r := NewRequest(testLogger(), a, requestTimeout)

	start := time.Now()
	d.OfferRequest(r)

	select {
	case <-r.ShutdownDoneChan():
	case <-time.After(2 * time.Second):
		t.Fatal("queued request was never torn down by its timeout timer")
	}
	elapsed := time.Since(start)
	if elapsed < 60*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Fatalf("request torn down after %s, want close to %s", elapsed, requestTimeout)
	}
	deadline := time.Now().Add(time.Second)
	for d.WaitingRequestCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := d.WaitingRequestCount(); got != 0 {
		t.Fatalf("WaitingRequestCount after timeout = %d, want 0", got)
	}
}

// TestRequestTimeoutCancelledOnPairing verifies that pairing a request
// disarms its timeout timer, so a slow splice afterward isn't cut short by
// the queued-phase deadline.
func TestRequestTimeoutCancelledOnPairing(t *testing.T) {
	d := NewDispatcher(testLogger(), share.EncryptionConfig{})
	tn, closeTunnelPeer := newTestTunnel(t)
	defer closeTunnelPeer()

	a, b, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("socketpair: %s", err)
	}
	defer b.Close()

	const requestTimeout = 100 * time.Millisecond
	r := NewRequest(testLogger(), a, requestTimeout)

	d.OfferTunnel(tn)
	d.OfferRequest(r)
	waitForPaired(t, r, tn)

	select {
	case <-r.ShutdownDoneChan():
		t.Fatal("paired request was torn down by its queued-phase timeout")
	case <-time.After(3 * requestTimeout):
	}
}

func waitForPaired(t *testing.T, r *Request, tn *Tunnel) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r.Lock.Lock()
		rState := r.state
		r.Lock.Unlock()
		tn.Lock.Lock()
		tState := tn.state
		tn.Lock.Unlock()
		if rState == requestPaired && tState == tunnelPaired {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("pairing did not occur in time")
}
