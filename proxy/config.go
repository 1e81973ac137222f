package proxy

import (
	"fmt"
	"time"

	"github.com/relaynet/revtun/share"
)

// Config is the Proxy's Configuration entity (spec §3/§6). ProxyPort and
// TunnelPort are the only required fields; everything else has a default or
// is optional.
type Config struct {
	share.CommonOptions

	ProxyPort  int
	TunnelPort int

	RequestTimeout time.Duration
}

// Validate checks the required fields and the one cross-cutting invariant
// named in the Configuration entities: the two listen ports must differ.
func (c *Config) Validate() error {
	if c.ProxyPort == 0 {
		return fmt.Errorf("revtun: proxy: proxyPort is required")
	}
	if c.TunnelPort == 0 {
		return fmt.Errorf("revtun: proxy: tunnelPort is required")
	}
	return share.ValidatePorts(c.ProxyPort, c.TunnelPort)
}

// ApplyDefaults fills in unset optional fields. Call once after parsing
// flags/env, before Validate.
func (c *Config) ApplyDefaults() {
	c.CommonOptions.ApplyDefaults()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = share.DefaultRequestTimeout
	}
}
