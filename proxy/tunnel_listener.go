package proxy

import (
	"context"
	"net"
	"time"

	"github.com/relaynet/revtun/share"
)

// TunnelListener accepts reverse-tunnel connections on tunnelPort, runs the
// handshake when a secret is configured, and hands verified tunnels to the
// Dispatcher (spec §4.2).
type TunnelListener struct {
	share.ShutdownHelper

	addr             string
	secret           share.SecretSource
	challengeTimeout time.Duration
	dispatcher       *Dispatcher

	listener net.Listener
}

// NewTunnelListener creates a TunnelListener. secret may be nil to disable
// the handshake entirely.
func NewTunnelListener(logger share.Logger, addr string, secret share.SecretSource, challengeTimeout time.Duration, dispatcher *Dispatcher) *TunnelListener {
	l := &TunnelListener{
		addr:             addr,
		secret:           secret,
		challengeTimeout: challengeTimeout,
		dispatcher:       dispatcher,
	}
	l.InitShutdownHelper(logger.Fork("tunnelListener"), l)
	return l
}

// HandleOnceShutdown closes the listener, ending the accept loop.
func (l *TunnelListener) HandleOnceShutdown(completionErr error) error {
	err := l.listener.Close()
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// Run binds addr and accepts tunnel connections until ctx is cancelled or
// Close is called.
func (l *TunnelListener) Run(ctx context.Context) error {
	err := l.DoOnceActivate(func() error {
		l.ShutdownOnContext(ctx)
		if err := l.listen(); err != nil {
			return err
		}
		go l.acceptLoop(ctx)
		return nil
	}, true)
	if err == nil {
		err = l.WaitShutdown()
	}
	return err
}

func (l *TunnelListener) listen() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return l.Errorf("tunnel listen on %s: %s", l.addr, err)
	}
	l.listener = ln
	l.ILogf("listening for tunnel connections on %s", l.addr)
	return nil
}

func (l *TunnelListener) acceptLoop(ctx context.Context) {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-l.ShutdownStartedChan():
				return
			default:
			}
			l.WLogf("tunnel accept error, restarting listener: %s", err)
			l.listener.Close()
			if err := l.listen(); err != nil {
				l.ELogf("tunnel listener restart failed: %s", err)
				l.StartShutdown(err)
				return
			}
			continue
		}
		go l.handleConn(conn)
	}
}

func (l *TunnelListener) handleConn(conn net.Conn) {
	if l.secret != nil {
		verified, err := share.ServeHandshake(conn, l.secret.Get(), l.challengeTimeout)
		if err != nil || !verified {
			l.ILogf("handshake failed from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}
	}
	if err := share.MakeLongLived(conn); err != nil {
		l.WLogf("failed to mark tunnel long-lived: %s", err)
	}
	t := NewTunnel(l.Logger, conn)
	l.dispatcher.OfferTunnel(t)
}
