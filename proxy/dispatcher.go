package proxy

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/sizestr"

	"github.com/relaynet/revtun/share"
)

// pairGrace bounds how long mutualDestroy waits for a pair's partner to
// finish shutting down after starting its shutdown (spec §4.3, §7).
const pairGrace = 500 * time.Millisecond

// Dispatcher holds the Proxy's idle-tunnel and waiting-request queues and
// pairs them (spec §4.3). At most one of the two queues is ever non-empty;
// both queue mutations and pairing decisions happen under a single lock so
// offerRequest/offerTunnel are atomic with respect to each other.
type Dispatcher struct {
	share.Logger

	encryption share.EncryptionConfig

	mu              sync.Mutex
	idleTunnels     []*Tunnel
	waitingRequests []*Request

	pairingSeq uint64
	pairings   share.ConnStats

	everConnected bool
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(logger share.Logger, encryption share.EncryptionConfig) *Dispatcher {
	return &Dispatcher{
		Logger:     logger.Fork("dispatcher"),
		encryption: encryption,
	}
}

// OfferRequest enqueues r, or immediately pairs it with the head of
// idleTunnels if one is waiting.
func (d *Dispatcher) OfferRequest(r *Request) {
	d.mu.Lock()
	if n := len(d.idleTunnels); n > 0 {
		t := d.idleTunnels[0]
		d.idleTunnels = d.idleTunnels[1:]
		emptied := len(d.idleTunnels) == 0
		d.mu.Unlock()
		if emptied {
			d.ILogf("app disconnected")
		}
		d.pair(r, t)
		return
	}
	d.waitingRequests = append(d.waitingRequests, r)
	d.mu.Unlock()

	go func() {
		<-r.ShutdownDoneChan()
		d.retireRequest(r)
	}()
}

// OfferTunnel enqueues t, or immediately pairs it with the head of
// waitingRequests if one is waiting.
func (d *Dispatcher) OfferTunnel(t *Tunnel) {
	d.mu.Lock()
	if n := len(d.waitingRequests); n > 0 {
		r := d.waitingRequests[0]
		d.waitingRequests = d.waitingRequests[1:]
		d.mu.Unlock()
		d.pair(r, t)
		return
	}
	wasEmpty := len(d.idleTunnels) == 0
	d.idleTunnels = append(d.idleTunnels, t)
	firstEver := !d.everConnected
	d.everConnected = true
	d.mu.Unlock()

	if wasEmpty && firstEver {
		d.ILogf("app connected")
	}

	t.MarkIdle()
	go func() {
		<-t.ShutdownDoneChan()
		d.retireTunnel(t)
	}()
}

// retireRequest removes r from waitingRequests if it is still queued there.
// A request that has already been paired is a no-op here: pair() installs
// its own mutual-destruction monitor once a pairing is made.
func (d *Dispatcher) retireRequest(r *Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, candidate := range d.waitingRequests {
		if candidate == r {
			d.waitingRequests = append(d.waitingRequests[:i], d.waitingRequests[i+1:]...)
			return
		}
	}
}

// retireTunnel removes t from idleTunnels if it is still queued there.
func (d *Dispatcher) retireTunnel(t *Tunnel) {
	d.mu.Lock()
	wasNonEmpty := len(d.idleTunnels) > 0
	found := false
	for i, candidate := range d.idleTunnels {
		if candidate == t {
			d.idleTunnels = append(d.idleTunnels[:i], d.idleTunnels[i+1:]...)
			found = true
			break
		}
	}
	emptiedNow := found && wasNonEmpty && len(d.idleTunnels) == 0
	d.mu.Unlock()
	if emptiedNow {
		d.ILogf("app disconnected")
	}
}

// IdleTunnelCount reports the current idle-tunnel queue depth, used by the
// status endpoint (§4.9).
func (d *Dispatcher) IdleTunnelCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.idleTunnels)
}

// WaitingRequestCount reports the current waiting-request queue depth.
func (d *Dispatcher) WaitingRequestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waitingRequests)
}

// PairingCounts reports (currently-spliced pairings, total pairings ever
// made), used by the status endpoint (§4.9).
func (d *Dispatcher) PairingCounts() (int32, int32) {
	return d.pairings.Counts()
}

// Close ends every tunnel and request still sitting in a queue. Paired
// entities are not tracked here and are not ended by Close; each pair keeps
// running until one of its sides ends and mutual destruction tears both down.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	tunnels := d.idleTunnels
	requests := d.waitingRequests
	d.idleTunnels = nil
	d.waitingRequests = nil
	d.mu.Unlock()

	for _, t := range tunnels {
		t.StartShutdown(nil)
	}
	for _, r := range requests {
		r.StartShutdown(nil)
	}
}

// pair establishes bidirectional splicing between r and t and installs
// mutual destruction: once either side ends, Splice half-closes the other
// and force-closes both if the other direction hasn't finished within its
// grace window; once either entity shuts down, the other is shut down too
// (spec §4.3/§7).
func (d *Dispatcher) pair(r *Request, t *Tunnel) {
	pairingID := atomic.AddUint64(&d.pairingSeq, 1)
	d.ILogf("paired request %s with tunnel %s (pairing %d)", r.Conn().RemoteAddr(), t.Conn().RemoteAddr(), pairingID)

	d.pairings.New()
	d.pairings.Open()

	r.CancelTimeout()
	r.Lock.Lock()
	r.state = requestPaired
	r.Lock.Unlock()
	t.Lock.Lock()
	t.state = tunnelPaired
	t.Lock.Unlock()

	mutualDestroy(r, t, pairGrace)

	go func() {
		sent, received := splicePair(r.Conn(), t.Conn(), d.encryption)
		d.pairings.Close()
		d.DLogf("pairing %d finished (sent %s received %s)", pairingID, sizestr.ToString(sent), sizestr.ToString(received))
		r.StartShutdown(nil)
		t.StartShutdown(nil)
	}()
}

// mutualDestroy watches both shutdowners and, when one finishes first,
// starts the other's shutdown (which closes its socket at once) and waits up
// to grace for it to complete; nothing further is done when grace expires.
func mutualDestroy(a, b share.AsyncShutdowner, grace time.Duration) {
	go func() {
		<-a.ShutdownDoneChan()
		b.StartShutdown(nil)
		select {
		case <-b.ShutdownDoneChan():
		case <-time.After(grace):
		}
	}()
	go func() {
		<-b.ShutdownDoneChan()
		a.StartShutdown(nil)
		select {
		case <-a.ShutdownDoneChan():
		case <-time.After(grace):
		}
	}()
}
