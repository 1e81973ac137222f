package share

import (
	"fmt"
	"time"
)

// Defaults for the Configuration entity fields shared by Proxy and Client
// (spec §3/§6, §9.3).
const (
	DefaultChallengeTimeout = 4000 * time.Millisecond
	DefaultRequestTimeout   = 5000 * time.Millisecond
	DefaultPoolSize         = 20
	DefaultReconnectDelay   = 5000 * time.Millisecond
	DefaultAppHost          = "localhost"
)

// CommonOptions holds the configuration fields that both the Proxy and the
// Client accept and validate the same way. Each side embeds this alongside
// its own required fields rather than duplicating the merge/default logic.
type CommonOptions struct {
	TLSKey     []byte
	TLSCert    []byte
	Encryption EncryptionConfig
	Secret     []byte
	SecretFile string

	ChallengeTimeout time.Duration
	StatusAddr       string
	LogLevel         LogLevel
}

// ApplyDefaults fills zero-valued duration fields with their spec defaults.
// Called once by each side's config constructor after flags/env have been
// parsed, mirroring the teacher's settings-merge step.
func (o *CommonOptions) ApplyDefaults() {
	if o.ChallengeTimeout <= 0 {
		o.ChallengeTimeout = DefaultChallengeTimeout
	}
	if o.LogLevel == LogLevelUnknown {
		o.LogLevel = LogLevelInfo
	}
}

// TLSEnabled reports whether both a key and a cert were supplied.
func (o *CommonOptions) TLSEnabled() bool {
	return len(o.TLSKey) > 0 && len(o.TLSCert) > 0
}

// ValidatePorts rejects the case where the Proxy's two listen ports collide,
// the one cross-cutting invariant named directly in the Configuration
// entities (spec §3).
func ValidatePorts(proxyPort, tunnelPort int) error {
	if proxyPort == tunnelPort {
		return fmt.Errorf("revtun: proxyPort and tunnelPort must differ (both %d)", proxyPort)
	}
	return nil
}
