package proxy

import (
	"net"

	"github.com/relaynet/revtun/share"
)

// tunnelState mirrors the Tunnel (Proxy side) entity's states from spec §3.
type tunnelState int

const (
	tunnelPendingAuth tunnelState = iota
	tunnelIdle
	tunnelPaired
	tunnelClosing
)

// Tunnel is a single accepted inbound connection from a Client, after
// handshake (spec §3). It owns exactly one socket.
type Tunnel struct {
	share.ShutdownHelper

	conn  net.Conn
	state tunnelState
}

// NewTunnel wraps an accepted tunnel-listener connection in pending-auth.
func NewTunnel(logger share.Logger, conn net.Conn) *Tunnel {
	t := &Tunnel{
		conn:  conn,
		state: tunnelPendingAuth,
	}
	t.InitShutdownHelper(logger.Fork("tunnel(%s)", conn.RemoteAddr()), t)
	return t
}

// HandleOnceShutdown closes the underlying socket exactly once.
func (t *Tunnel) HandleOnceShutdown(completionErr error) error {
	t.DLogf("closing")
	err := t.conn.Close()
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// Conn returns the underlying socket.
func (t *Tunnel) Conn() net.Conn {
	return t.conn
}

// MarkIdle moves a verified tunnel into the idle state, ready for the
// Dispatcher's idleTunnels queue.
func (t *Tunnel) MarkIdle() {
	t.Lock.Lock()
	t.state = tunnelIdle
	t.Lock.Unlock()
}
