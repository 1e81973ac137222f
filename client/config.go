package client

import (
	"fmt"
	"time"

	"github.com/relaynet/revtun/share"
)

// Config is the Client's Configuration entity (spec §3/§6). ProxyHost,
// TunnelPort and AppPort are required; AppHost defaults to "localhost" and
// everything else has a default or is optional.
type Config struct {
	share.CommonOptions

	ProxyHost  string
	TunnelPort int
	AppHost    string
	AppPort    int

	PoolSize       int
	ReconnectDelay time.Duration
}

// Validate checks the Client's required fields.
func (c *Config) Validate() error {
	if c.ProxyHost == "" {
		return fmt.Errorf("revtun: client: proxyHost is required")
	}
	if c.TunnelPort == 0 {
		return fmt.Errorf("revtun: client: tunnelPort is required")
	}
	if c.AppPort == 0 {
		return fmt.Errorf("revtun: client: appPort is required")
	}
	return nil
}

// ApplyDefaults fills in unset optional fields.
func (c *Config) ApplyDefaults() {
	c.CommonOptions.ApplyDefaults()
	if c.AppHost == "" {
		c.AppHost = share.DefaultAppHost
	}
	if c.PoolSize <= 0 {
		c.PoolSize = share.DefaultPoolSize
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = share.DefaultReconnectDelay
	}
}
