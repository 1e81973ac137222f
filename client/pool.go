package client

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/relaynet/revtun/share"
)

// debounceDelay coalesces the burst of closes that follows a Proxy outage
// before the Pool re-evaluates whether it needs to refill (spec §4.7).
const debounceDelay = 300 * time.Millisecond

// Pool maintains poolSize open Tunnels against the Proxy (spec §3/§4.7): it
// boots a probe tunnel, fills to target size on success, and on any tunnel
// close debounces then either refills or, if the pool went fully empty,
// backs off for a full reconnectDelay before retrying.
type Pool struct {
	share.ShutdownHelper

	proxyAddr        string
	appAddr          string
	secret           share.SecretSource
	challengeTimeout time.Duration
	encryption       share.EncryptionConfig
	poolSize         int
	reconnectDelay   time.Duration

	mu            sync.Mutex
	tunnels       map[*Tunnel]struct{}
	stats         share.ConnStats
	debounceTimer *time.Timer
	retryTimer    *time.Timer
}

// NewPool creates a Pool. Call Run to start it.
func NewPool(logger share.Logger, config Config, secret share.SecretSource) *Pool {
	p := &Pool{
		proxyAddr:        net.JoinHostPort(config.ProxyHost, strconv.Itoa(config.TunnelPort)),
		appAddr:          net.JoinHostPort(config.AppHost, strconv.Itoa(config.AppPort)),
		secret:           secret,
		challengeTimeout: config.ChallengeTimeout,
		encryption:       config.Encryption,
		poolSize:         config.PoolSize,
		reconnectDelay:   config.ReconnectDelay,
		tunnels:          make(map[*Tunnel]struct{}),
	}
	p.InitShutdownHelper(logger.Fork("pool"), p)
	return p
}

// HandleOnceShutdown stops pending timers and closes every open tunnel.
func (p *Pool) HandleOnceShutdown(completionErr error) error {
	p.mu.Lock()
	if p.debounceTimer != nil {
		p.debounceTimer.Stop()
	}
	if p.retryTimer != nil {
		p.retryTimer.Stop()
	}
	tunnels := make([]*Tunnel, 0, len(p.tunnels))
	for t := range p.tunnels {
		tunnels = append(tunnels, t)
	}
	p.mu.Unlock()

	for _, t := range tunnels {
		t.StartShutdown(nil)
	}
	return completionErr
}

// Size returns the current number of open tunnels, used by the status
// endpoint (§4.9).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tunnels)
}

// TotalOpened returns the number of tunnels ever opened by this pool,
// including ones that have since closed, used by the status endpoint.
func (p *Pool) TotalOpened() int32 {
	_, total := p.stats.Counts()
	return total
}

// Run starts the boot sequence in the background and blocks while the pool
// manages itself, returning once the pool has shut down (ctx cancelled or
// Close called).
func (p *Pool) Run(ctx context.Context) error {
	err := p.DoOnceActivate(func() error {
		p.ShutdownOnContext(ctx)
		go p.bootLoop(ctx)
		return nil
	}, true)
	if err == nil {
		err = p.WaitShutdown()
	}
	return err
}

// bootLoop opens a single probe tunnel and retries with a fixed
// reconnectDelay backoff until one connects, then hands off to fill.
func (p *Pool) bootLoop(ctx context.Context) {
	b := &backoff.Backoff{Min: p.reconnectDelay, Max: p.reconnectDelay}
	for {
		if isDone(ctx) || p.IsStartedShutdown() {
			return
		}
		t := p.openTunnel(ctx)
		select {
		case <-t.Connected():
			p.ILogf("probe tunnel connected")
			p.fill(ctx)
			return
		case <-t.ShutdownDoneChan():
			// fell through to retry below
		case <-ctx.Done():
			return
		}

		delay := b.Duration()
		p.ILogf("probe tunnel failed, retrying in %s", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// fill opens tunnels until the pool reaches poolSize.
func (p *Pool) fill(ctx context.Context) {
	for {
		if isDone(ctx) || p.IsStartedShutdown() {
			return
		}
		p.mu.Lock()
		n := len(p.tunnels)
		p.mu.Unlock()
		if n >= p.poolSize {
			return
		}
		p.openTunnel(ctx)
	}
}

// openTunnel creates a Tunnel, registers it in the pool, starts it running
// in the background, and arms the close handler that drives debounced
// refill / outage backoff.
func (p *Pool) openTunnel(ctx context.Context) *Tunnel {
	t := NewTunnel(p.Logger, p.proxyAddr, p.appAddr, p.secret, p.challengeTimeout, p.encryption)

	p.stats.New()
	p.stats.Open()
	p.mu.Lock()
	p.tunnels[t] = struct{}{}
	p.mu.Unlock()

	go func() {
		t.Run(ctx)
	}()
	go func() {
		<-t.ShutdownDoneChan()
		p.onTunnelClosed(t, ctx)
	}()
	return t
}

// onTunnelClosed removes t from the pool and debounces a re-evaluation: an
// empty pool schedules a full reconnectDelay backoff via bootLoop; a
// non-empty pool just refills back up to poolSize.
func (p *Pool) onTunnelClosed(t *Tunnel, ctx context.Context) {
	p.stats.Close()
	p.mu.Lock()
	delete(p.tunnels, t)
	if p.debounceTimer != nil {
		p.debounceTimer.Stop()
	}
	p.debounceTimer = time.AfterFunc(debounceDelay, func() { p.reevaluate(ctx) })
	p.mu.Unlock()
}

func (p *Pool) reevaluate(ctx context.Context) {
	if isDone(ctx) || p.IsStartedShutdown() {
		return
	}
	p.mu.Lock()
	empty := len(p.tunnels) == 0
	p.mu.Unlock()

	if empty {
		p.ILogf("all tunnels are down")
		p.mu.Lock()
		if p.retryTimer != nil {
			p.retryTimer.Stop()
		}
		p.retryTimer = time.AfterFunc(p.reconnectDelay, func() { p.bootLoop(ctx) })
		p.mu.Unlock()
		return
	}
	p.fill(ctx)
}

func isDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
