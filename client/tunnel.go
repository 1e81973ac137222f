package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jpillora/sizestr"

	"github.com/relaynet/revtun/share"
)

// tunnelState mirrors the Client-side Tunnel state machine (spec §4.6).
type tunnelState int

const (
	tunnelConnecting tunnelState = iota
	tunnelHandshaking
	tunnelLocalWait
	tunnelPiping
	tunnelClosed
)

// Tunnel is the Client-side composite entity owning a remote socket (to the
// Proxy's tunnel port) and a local socket (to the application), spliced
// together once both are ready and, if a secret is configured, the remote
// has been verified (spec §3, §4.6).
type Tunnel struct {
	share.ShutdownHelper

	proxyAddr        string
	appAddr          string
	secret           share.SecretSource
	challengeTimeout time.Duration
	encryption       share.EncryptionConfig

	state       tunnelState
	connectedCh chan struct{}
	remoteConn  net.Conn
	localConn   net.Conn
}

// NewTunnel creates a Tunnel in the connecting state.
func NewTunnel(logger share.Logger, proxyAddr, appAddr string, secret share.SecretSource, challengeTimeout time.Duration, encryption share.EncryptionConfig) *Tunnel {
	t := &Tunnel{
		proxyAddr:        proxyAddr,
		appAddr:          appAddr,
		secret:           secret,
		challengeTimeout: challengeTimeout,
		encryption:       encryption,
		state:            tunnelConnecting,
		connectedCh:      make(chan struct{}),
	}
	t.InitShutdownHelper(logger.Fork("tunnel"), t)
	return t
}

// HandleOnceShutdown closes whichever sockets are currently open. This is
// what lets an externally-triggered shutdown (Pool.Close) interrupt a
// Tunnel blocked inside Run once its remote socket is up, whether it's
// handshaking, waiting for the local dial, or already piping. A dial still
// in progress is not interrupted; only the ctx passed to Run ends it.
func (t *Tunnel) HandleOnceShutdown(completionErr error) error {
	t.Lock.Lock()
	remote, local := t.remoteConn, t.localConn
	t.Lock.Unlock()
	if remote != nil {
		remote.Close()
	}
	if local != nil {
		local.Close()
	}
	return completionErr
}

// Connected returns a channel closed once both sockets are up and verified
// (or no secret is configured) — the `connect` event of spec §4.6. The Pool
// uses this to know when to advance from boot/probe to fill.
func (t *Tunnel) Connected() <-chan struct{} {
	return t.connectedCh
}

// Run dials both sockets in parallel, performs the handshake if configured,
// splices once both are ready, and blocks until the pairing ends. It always
// returns via t.Shutdown so ShutdownDoneChan fires exactly once, whatever
// the outcome.
func (t *Tunnel) Run(ctx context.Context) error {
	remoteCh := make(chan dialResult, 1)
	localCh := make(chan dialResult, 1)

	go func() { remoteCh <- dialOne(ctx, t.proxyAddr) }()
	go func() { localCh <- dialOne(ctx, t.appAddr) }()
	discardLocal := func() {
		go func() {
			if l := <-localCh; l.conn != nil {
				l.conn.Close()
			}
		}()
	}

	remote := <-remoteCh
	if remote.err != nil {
		discardLocal()
		return t.Shutdown(t.Errorf("dial proxy %s: %s", t.proxyAddr, remote.err))
	}
	t.Lock.Lock()
	t.remoteConn = remote.conn
	t.Lock.Unlock()

	verified := true
	if t.secret != nil {
		t.Lock.Lock()
		t.state = tunnelHandshaking
		t.Lock.Unlock()
		var err error
		verified, err = share.DialHandshake(remote.conn, t.secret.Get(), t.challengeTimeout)
		if err != nil || !verified {
			discardLocal()
			return t.Shutdown(t.Errorf("handshake with %s failed: verified=%v err=%v", t.proxyAddr, verified, err))
		}
	}

	t.Lock.Lock()
	t.state = tunnelLocalWait
	t.Lock.Unlock()

	local := <-localCh
	if local.err != nil {
		return t.Shutdown(t.Errorf("dial app %s: %s", t.appAddr, local.err))
	}
	t.Lock.Lock()
	t.localConn = local.conn
	t.Lock.Unlock()

	if err := share.MakeLongLived(remote.conn); err != nil {
		t.WLogf("failed to mark tunnel long-lived: %s", err)
	}

	t.Lock.Lock()
	t.state = tunnelPiping
	t.Lock.Unlock()
	close(t.connectedCh)

	sent, received := splicePair(remote.conn, local.conn, t.encryption)
	t.DLogf("tunnel finished (sent %s received %s)", sizestr.ToString(sent), sizestr.ToString(received))

	t.Lock.Lock()
	t.state = tunnelClosed
	t.Lock.Unlock()

	return t.Shutdown(nil)
}

type dialResult struct {
	conn net.Conn
	err  error
}

func dialOne(ctx context.Context, addr string) dialResult {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return dialResult{err: fmt.Errorf("dial %s: %w", addr, err)}
	}
	return dialResult{conn: conn}
}
