package proxy

import (
	"net"
	"time"

	"github.com/relaynet/revtun/share"
)

// requestState mirrors the Request entity's states from spec §3.
type requestState int

const (
	requestQueued requestState = iota
	requestPaired
	requestClosing
)

// Request is a single accepted public-side connection (spec §3). It owns
// exactly one socket and is bound to at most one Tunnel for its lifetime.
type Request struct {
	share.ShutdownHelper

	conn         net.Conn
	state        requestState
	timeoutTimer *time.Timer
}

// NewRequest wraps an accepted public-listener connection. The request
// starts in the queued state; the Dispatcher transitions it to paired.
//
// requestTimeout, if positive, arms a one-shot timer that tears the request
// down if it is still queued (unpaired) when it fires. Nothing ever reads
// from a queued request's socket, so a net.Conn deadline alone can't enforce
// this; the timer is the only thing that can. CancelTimeout disarms it once
// the request is paired.
func NewRequest(logger share.Logger, conn net.Conn, requestTimeout time.Duration) *Request {
	r := &Request{
		conn:  conn,
		state: requestQueued,
	}
	r.InitShutdownHelper(logger.Fork("request(%s)", conn.RemoteAddr()), r)
	if requestTimeout > 0 {
		r.timeoutTimer = time.AfterFunc(requestTimeout, func() {
			r.StartShutdown(r.Errorf("request timed out after %s while queued", requestTimeout))
		})
	}
	return r
}

// CancelTimeout disarms the queued-request timeout timer, if any. Safe to
// call more than once and safe to call after shutdown has already started.
func (r *Request) CancelTimeout() {
	r.Lock.Lock()
	defer r.Lock.Unlock()
	if r.timeoutTimer != nil {
		r.timeoutTimer.Stop()
	}
}

// HandleOnceShutdown closes the underlying socket exactly once.
func (r *Request) HandleOnceShutdown(completionErr error) error {
	r.CancelTimeout()
	r.DLogf("closing")
	err := r.conn.Close()
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// Conn returns the underlying socket.
func (r *Request) Conn() net.Conn {
	return r.conn
}
