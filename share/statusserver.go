package share

import (
	"context"
	"net"
	"net/http"

	"github.com/jpillora/requestlog"
)

// StatusServer is a small HTTP server exposing read-only liveness and
// connection-count information (spec §4.9). Proxy and Client each start one
// when configured with a statusAddr. It follows the same activate-once,
// listener-owning, context-cancellable shutdown shape as every other
// long-lived entity here.
type StatusServer struct {
	ShutdownHelper
	server   *http.Server
	listener net.Listener
}

// NewStatusServer creates a StatusServer that will serve handler once
// ListenAndServe is called. The handler is wrapped with request logging in
// the teacher's style via jpillora/requestlog.
func NewStatusServer(logger Logger, handler http.Handler) *StatusServer {
	s := &StatusServer{
		server: &http.Server{
			Handler: requestlog.Wrap(handler),
		},
	}
	s.InitShutdownHelper(logger, s)
	return s
}

// HandleOnceShutdown closes the listener, which causes Serve to return.
func (s *StatusServer) HandleOnceShutdown(completionErr error) error {
	s.DLogf("status server shutting down")
	err := s.listener.Close()
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// ListenAndServe binds addr and serves until shut down, either by the
// passed context being cancelled or by an explicit Shutdown/Close call.
func (s *StatusServer) ListenAndServe(ctx context.Context, addr string) error {
	err := s.DoOnceActivate(
		func() error {
			s.ShutdownOnContext(ctx)

			l, err := net.Listen("tcp", addr)
			if err != nil {
				return s.Errorf("status listen failed: %s", err)
			}
			s.listener = l
			s.ILogf("status endpoint listening on %s", addr)

			go func() {
				s.Shutdown(s.server.Serve(l))
			}()
			return nil
		},
		true,
	)
	if err == nil {
		err = s.WaitShutdown()
	}
	return err
}
