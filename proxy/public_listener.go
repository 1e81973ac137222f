package proxy

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/relaynet/revtun/share"
)

// PublicListener accepts public-side traffic on proxyPort and hands each
// connection to the Dispatcher as a Request (spec §4.1).
type PublicListener struct {
	share.ShutdownHelper

	addr           string
	tlsConfig      *tls.Config
	requestTimeout time.Duration
	dispatcher     *Dispatcher

	listener net.Listener
}

// NewPublicListener creates a PublicListener. tlsConfig may be nil for plain TCP.
func NewPublicListener(logger share.Logger, addr string, tlsConfig *tls.Config, requestTimeout time.Duration, dispatcher *Dispatcher) *PublicListener {
	l := &PublicListener{
		addr:           addr,
		tlsConfig:      tlsConfig,
		requestTimeout: requestTimeout,
		dispatcher:     dispatcher,
	}
	l.InitShutdownHelper(logger.Fork("publicListener"), l)
	return l
}

// HandleOnceShutdown closes the listener, ending the accept loop.
func (l *PublicListener) HandleOnceShutdown(completionErr error) error {
	err := l.listener.Close()
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// Run binds addr and accepts connections until ctx is cancelled or Close is
// called. A listener-level error restarts the listener (close-then-relisten)
// exactly once per failure, per spec §4.1. Only a failed initial bind or a
// failed restart ends the listener, and Run then returns that error.
func (l *PublicListener) Run(ctx context.Context) error {
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

func (l *PublicListener) listen() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return l.Errorf("public listen on %s: %s", l.addr, err)
	}
	if l.tlsConfig != nil {
		ln = tls.NewListener(ln, l.tlsConfig)
	}
	l.listener = ln
	l.ILogf("listening for public connections on %s", l.addr)
	return nil
}

func (l *PublicListener) acceptLoop(ctx context.Context) {
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
			l.WLogf("public accept error, restarting listener: %s", err)
			l.listener.Close()
			if err := l.listen(); err != nil {
				l.ELogf("public listener restart failed: %s", err)
				l.StartShutdown(err)
				return
			}
			continue
		}
		go l.handleConn(conn)
	}
}

func (l *PublicListener) handleConn(conn net.Conn) {
	r := NewRequest(l.Logger, conn, l.requestTimeout)
	l.dispatcher.OfferRequest(r)
}
