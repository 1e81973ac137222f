package share

import (
	"io"
	"time"
)

// Splice concurrently copies in both directions between two connections (a
// public request and a tunnel on the Proxy, a tunnel and the local app on
// the Client). When one direction reaches EOF, the write half of its
// destination is closed; if the other direction has not finished within a
// 500ms grace window after that, both sides are closed to end it. Splice
// returns once both directions have stopped and both sides have been
// closed. This is the data-plane core of a paired Request/Tunnel (spec
// §4.4): once paired, the Dispatcher no longer looks at the bytes flowing
// through, it just waits for Splice to return before tearing the pair down.
func Splice(a io.ReadWriteCloser, b io.ReadWriteCloser) (sent int64, received int64) {
	const grace = 500 * time.Millisecond
	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		sent, _ = io.Copy(b, a)
		if whc, ok := b.(WriteHalfCloser); ok {
			whc.CloseWrite()
		}
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		received, _ = io.Copy(a, b)
		if whc, ok := a.(WriteHalfCloser); ok {
			whc.CloseWrite()
		}
	}()
	<-done
	select {
	case <-done:
	case <-time.After(grace):
		a.Close()
		b.Close()
		<-done
	}
	a.Close()
	b.Close()
	return sent, received
}
