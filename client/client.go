package client

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/relaynet/revtun/share"
)

// Client runs the Tunnel Pool Manager and, if configured, a status server
// (spec §2).
type Client struct {
	share.ShutdownHelper

	config Config

	pool         *Pool
	statusServer *share.StatusServer
}

// New constructs a Client from config. config must already have had
// ApplyDefaults called and Validate return nil.
func New(logger share.Logger, config Config) (*Client, error) {
	logger = logger.Fork("client")

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

	c := &Client{config: config}
	c.InitShutdownHelper(logger, c)

	c.pool = NewPool(logger, config, secret)

	if config.StatusAddr != "" {
		c.statusServer = share.NewStatusServer(logger, c.statusHandler())
	}

	return c, nil
}

// HandleOnceShutdown tears down the pool and status server.
func (c *Client) HandleOnceShutdown(completionErr error) error {
	c.pool.Close()
	if c.statusServer != nil {
		c.statusServer.Close()
	}
	return completionErr
}

// Run starts the pool (and status server, if configured) and returns once
// they are started; the Client shuts down in the background when ctx is
// cancelled or one of them fails unrecoverably. WaitShutdown waits for that.
func (c *Client) Run(ctx context.Context) error {
	return c.DoOnceActivate(func() error {
		c.ShutdownOnContext(ctx)

		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(func() error { return c.pool.Run(egCtx) })
		if c.statusServer != nil {
			eg.Go(func() error { return c.statusServer.ListenAndServe(egCtx, c.config.StatusAddr) })
		}

		go func() {
			c.Shutdown(eg.Wait())
		}()
		return nil
	}, true)
}
