package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/relaynet/revtun/share"
)

// acceptAndHold runs a bare TCP listener that accepts and holds connections
// open (no handshake), standing in for an always-available Proxy tunnel
// port for Pool-level tests that don't need the real Dispatcher.
func acceptAndHold(t *testing.T) (port int, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	var conns []net.Conn
	done := make(chan struct{})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, func() {
		close(done)
		ln.Close()
		for _, c := range conns {
			c.Close()
		}
	}
}

func testPoolConfig(proxyPort, appPort, poolSize int) Config {
	cfg := Config{
		ProxyHost:      "127.0.0.1",
		TunnelPort:     proxyPort,
		AppHost:        "127.0.0.1",
		AppPort:        appPort,
		PoolSize:       poolSize,
		ReconnectDelay: 200 * time.Millisecond,
	}
	cfg.ApplyDefaults()
	return cfg
}

// TestPoolFillsToTargetSize covers the boot-then-fill half of spec §4.7:
// a pool against an always-accepting Proxy port and app port reaches
// poolSize.
func TestPoolFillsToTargetSize(t *testing.T) {
	proxyPort, closeProxy := acceptAndHold(t)
	defer closeProxy()
	appPort, closeApp := acceptAndHold(t)
	defer closeApp()

	cfg := testPoolConfig(proxyPort, appPort, 3)
	p := NewPool(share.NewLogger("pool", share.LogLevelError), cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	defer p.StartShutdown(nil)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && p.Size() < 3 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := p.Size(); got != 3 {
		t.Fatalf("pool size = %d, want 3", got)
	}
}

// TestPoolRefillsAfterClose covers the debounce/refill half of spec §4.7:
// closing one tunnel's underlying proxy-side socket should cause the pool
// to detect the close and refill back to poolSize.
func TestPoolRefillsAfterClose(t *testing.T) {
	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	defer proxyLn.Close()

	acceptedCh := make(chan net.Conn, 16)
	go func() {
		for {
			conn, err := proxyLn.Accept()
			if err != nil {
				return
			}
			acceptedCh <- conn
		}
	}()

	appPort, closeApp := acceptAndHold(t)
	defer closeApp()

	proxyPort := proxyLn.Addr().(*net.TCPAddr).Port
	cfg := testPoolConfig(proxyPort, appPort, 2)
	p := NewPool(share.NewLogger("pool", share.LogLevelError), cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	defer p.StartShutdown(nil)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && p.Size() < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := p.Size(); got != 2 {
		t.Fatalf("pool size before close = %d, want 2", got)
	}

	select {
	case c := <-acceptedCh:
		c.Close()
	case <-time.After(time.Second):
		t.Fatal("no accepted proxy-side connection to close")
	}

	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && (p.Size() < 2 || p.TotalOpened() < 3) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := p.Size(); got != 2 {
		t.Fatalf("pool size after refill = %d, want 2", got)
	}
	if got := p.TotalOpened(); got < 3 {
		t.Fatalf("TotalOpened = %d, want at least 3 (2 initial + 1 replacement)", got)
	}
}
