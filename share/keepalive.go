package share

import (
	"net"
	"time"
)

// TunnelKeepAlivePeriod is the TCP keep-alive probe interval applied to
// verified tunnel sockets once they become long-lived (spec §4.8).
const TunnelKeepAlivePeriod = 10 * time.Second

// MakeLongLived disables the idle read/write deadline and enables TCP
// keep-alive on a tunnel socket once it has been paired or verified. Tunnel
// sockets live far longer than a single request and must not be torn down
// by an idle timeout the way a request socket is.
func MakeLongLived(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetDeadline(time.Time{}); err != nil {
		return err
	}
	if err := tc.SetKeepAlive(true); err != nil {
		return err
	}
	return tc.SetKeepAlivePeriod(TunnelKeepAlivePeriod)
}
