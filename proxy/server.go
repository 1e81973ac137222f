package proxy

import (
	"context"
	"crypto/tls"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/relaynet/revtun/share"
)

// Proxy ties together the public listener, tunnel listener, dispatcher, and
// optional status server (spec §2).
type Proxy struct {
	share.ShutdownHelper

	config Config

	dispatcher     *Dispatcher
	publicListener *PublicListener
	tunnelListener *TunnelListener
	statusServer   *share.StatusServer
}

// New constructs a Proxy from config. config must already have had
// ApplyDefaults called and Validate return nil.
func New(logger share.Logger, config Config) (*Proxy, error) {
	logger = logger.Fork("proxy")

	var secret share.SecretSource
	var err error
	switch {
	case config.SecretFile != "":
		secret, err = share.NewFileSecretSource(logger, config.SecretFile)
		if err != nil {
			return nil, err
		}
	case len(config.Secret) > 0:
		secret = share.NewLiteralSecretSource(config.Secret)
	}

	p := &Proxy{
		config: config,
	}
	p.InitShutdownHelper(logger, p)

	p.dispatcher = NewDispatcher(logger, config.Encryption)

	var tlsConfig *tls.Config
	if config.TLSEnabled() {
		cert, err := tls.X509KeyPair(config.TLSCert, config.TLSKey)
		if err != nil {
			return nil, logger.Errorf("loading tls key pair: %s", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	p.publicListener = NewPublicListener(logger, addrForPort(config.ProxyPort), tlsConfig, config.RequestTimeout, p.dispatcher)
	p.tunnelListener = NewTunnelListener(logger, addrForPort(config.TunnelPort), secret, config.ChallengeTimeout, p.dispatcher)

	if config.StatusAddr != "" {
		p.statusServer = share.NewStatusServer(logger, p.statusHandler())
	}

	return p, nil
}

// HandleOnceShutdown tears down the listeners and status server.
func (p *Proxy) HandleOnceShutdown(completionErr error) error {
	p.publicListener.Close()
	p.tunnelListener.Close()
	p.dispatcher.Close()
	if p.statusServer != nil {
		p.statusServer.Close()
	}
	return completionErr
}

// Run starts both listeners (and the status server, if configured) and
// blocks until ctx is cancelled or one of them fails unrecoverably.
func (p *Proxy) Run(ctx context.Context) error {
	err := p.DoOnceActivate(func() error {
		p.ShutdownOnContext(ctx)

		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(func() error { return p.publicListener.Run(egCtx) })
		eg.Go(func() error { return p.tunnelListener.Run(egCtx) })
		if p.statusServer != nil {
			eg.Go(func() error { return p.statusServer.ListenAndServe(egCtx, p.config.StatusAddr) })
		}

		go func() {
			p.Shutdown(eg.Wait())
		}()
		return nil
	}, true)
	if err == nil {
		err = p.WaitShutdown()
	}
	return err
}

func addrForPort(port int) string {
	return fmt.Sprintf(":%d", port)
}
