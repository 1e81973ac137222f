package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaynet/revtun/client"
	"github.com/relaynet/revtun/proxy"
	"github.com/relaynet/revtun/share"
)

var help = `
  Usage: revtun [command] [--help]

  Version: ` + share.BuildVersion + `

  Commands:
    proxy  - runs revtun in proxy mode (public side)
    client - runs revtun in client mode (private side)

`

func sigIntHandler(ctx context.Context, cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT)
	for {
		select {
		case <-sig:
			log.Printf("SIGINT received; cancelling main ctx")
		case <-ctx.Done():
		}
		signal.Stop(sig)
		cancel()
	}
}

func main() {
	ctx, ctxCancel := context.WithCancel(context.Background())
	defer ctxCancel()
	version := flag.Bool("version", false, "")
	v := flag.Bool("v", false, "")
	flag.Bool("help", false, "")
	flag.Bool("h", false, "")
	flag.Usage = func() {}
	flag.Parse()

	if *version || *v {
		fmt.Println(share.BuildVersion)
		os.Exit(0)
	}

	args := flag.Args()

	subcmd := ""
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "proxy":
		go sigIntHandler(ctx, ctxCancel)
		runProxy(ctx, args)
		log.Printf("exiting proxy")
	case "client":
		go sigIntHandler(ctx, ctxCancel)
		runClient(ctx, args)
		log.Printf("exiting client")
	default:
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
}

var proxyHelp = `
  Usage: revtun proxy [options]

  Options:

    --proxy-port, Public-facing TCP port that application traffic connects
    to (required; defaults to the PROXY_PORT environment variable).

    --tunnel-port, TCP port that Client processes dial to establish reverse
    tunnels (required, must differ from --proxy-port; defaults to the
    TUNNEL_PORT environment variable).

    --secret, Shared secret the Client must present on every new tunnel
    (defaults to the REVTUN_SECRET environment variable). Omit to disable
    the handshake entirely.

    --secret-file, Path to a file holding the shared secret; reloaded on
    write. Takes precedence over --secret when both are given.

    --cipher, Tunnel-encryption cipher: "aes-256-ctr" (default) or
    "chacha20". Only meaningful alongside --key/--iv.

    --key, --iv, Encryption key/IV, hex-encoded. Both sides must match.

    --cert, --key-file, TLS certificate/key files for the public listener.
    Omit for plain TCP.

    --challenge-timeout, Handshake idle timeout (default 4s).

    --request-timeout, Idle timeout for queued/unpaired public connections
    (default 5s).

    --status-addr, Optional address for a read-only status HTTP endpoint.

    -v, Enable debug logging.
`

func runProxy(ctx context.Context, args []string) {
	flags := flag.NewFlagSet("proxy", flag.ContinueOnError)

	proxyPort := flags.Int("proxy-port", envInt("PROXY_PORT", 0), "")
	tunnelPort := flags.Int("tunnel-port", envInt("TUNNEL_PORT", 0), "")
	secret := flags.String("secret", os.Getenv("REVTUN_SECRET"), "")
	secretFile := flags.String("secret-file", "", "")
	cipherName := flags.String("cipher", "", "")
	key := flags.String("key", "", "")
	iv := flags.String("iv", "", "")
	certFile := flags.String("cert", "", "")
	keyFile := flags.String("key-file", "", "")
	challengeTimeout := flags.Duration("challenge-timeout", 0, "")
	requestTimeout := flags.Duration("request-timeout", 0, "")
	statusAddr := flags.String("status-addr", "", "")
	verbose := flags.Bool("v", false, "")

	flags.Usage = func() {
		fmt.Print(proxyHelp)
		os.Exit(1)
	}
	if err := flags.Parse(args); err != nil {
		log.Fatal(err)
	}

	logLevel := share.LogLevelInfo
	if *verbose {
		logLevel = share.LogLevelDebug
	}
	logger := share.NewLogger("revtun", logLevel)

	config := proxy.Config{
		ProxyPort:      *proxyPort,
		TunnelPort:     *tunnelPort,
		RequestTimeout: *requestTimeout,
	}
	config.Secret = []byte(*secret)
	config.SecretFile = *secretFile
	config.ChallengeTimeout = *challengeTimeout
	config.StatusAddr = *statusAddr
	config.LogLevel = logLevel
	config.Encryption = parseEncryption(*cipherName, *key, *iv)
	if *certFile != "" && *keyFile != "" {
		config.TLSCert = mustReadFile(*certFile)
		config.TLSKey = mustReadFile(*keyFile)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		log.Fatal(err)
	}

	p, err := proxy.New(logger, config)
	if err != nil {
		log.Fatal(err)
	}
	if err := p.Run(ctx); err != nil {
		log.Printf("proxy run failed: %s", err)
	}
	if err := p.WaitShutdown(); err != nil {
		log.Printf("proxy exited with: %s", err)
	}
}

var clientHelp = `
  Usage: revtun client [options]

  Options:

    --proxy-host, Hostname of the Proxy (required; defaults to the
    PROXY_HOST environment variable).

    --tunnel-port, Proxy's tunnel port (required; defaults to the
    TUNNEL_PORT environment variable).

    --app-host, Local application hostname (default "localhost").

    --app-port, Local application port (required).

    --secret, --secret-file, --cipher, --key, --iv, --challenge-timeout,
    --status-addr: same as revtun proxy, and must match the Proxy's values.

    --pool-size, Target number of concurrent tunnels (default 20).

    --reconnect-delay, Backoff applied on total outage (default 5s).

    -v, Enable debug logging.
`

func runClient(ctx context.Context, args []string) {
	flags := flag.NewFlagSet("client", flag.ContinueOnError)

	proxyHost := flags.String("proxy-host", os.Getenv("PROXY_HOST"), "")
	tunnelPort := flags.Int("tunnel-port", envInt("TUNNEL_PORT", 0), "")
	appHost := flags.String("app-host", "", "")
	appPort := flags.Int("app-port", 0, "")
	secret := flags.String("secret", os.Getenv("REVTUN_SECRET"), "")
	secretFile := flags.String("secret-file", "", "")
	cipherName := flags.String("cipher", "", "")
	key := flags.String("key", "", "")
	iv := flags.String("iv", "", "")
	challengeTimeout := flags.Duration("challenge-timeout", 0, "")
	statusAddr := flags.String("status-addr", "", "")
	poolSize := flags.Int("pool-size", 0, "")
	reconnectDelay := flags.Duration("reconnect-delay", 0, "")
	verbose := flags.Bool("v", false, "")

	flags.Usage = func() {
		fmt.Print(clientHelp)
		os.Exit(1)
	}
	if err := flags.Parse(args); err != nil {
		log.Fatal(err)
	}

	logLevel := share.LogLevelInfo
	if *verbose {
		logLevel = share.LogLevelDebug
	}
	logger := share.NewLogger("revtun", logLevel)

	config := client.Config{
		ProxyHost:      *proxyHost,
		TunnelPort:     *tunnelPort,
		AppHost:        *appHost,
		AppPort:        *appPort,
		PoolSize:       *poolSize,
		ReconnectDelay: *reconnectDelay,
	}
	config.Secret = []byte(*secret)
	config.SecretFile = *secretFile
	config.ChallengeTimeout = *challengeTimeout
	config.StatusAddr = *statusAddr
	config.LogLevel = logLevel
	config.Encryption = parseEncryption(*cipherName, *key, *iv)
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		log.Fatal(err)
	}

	c, err := client.New(logger, config)
	if err != nil {
		log.Fatal(err)
	}
	if err := c.Run(ctx); err != nil {
		log.Printf("client run failed: %s", err)
	}
	if err := c.WaitShutdown(); err != nil {
		log.Printf("client exited with: %s", err)
	}
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}

func mustReadFile(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal(err)
	}
	return data
}

func parseEncryption(cipherName, keyHex, ivHex string) share.EncryptionConfig {
	if keyHex == "" || ivHex == "" {
		return share.EncryptionConfig{}
	}
	if cipherName == "" {
		cipherName = string(share.CipherAES256CTR)
	}
	key := mustDecodeHex(keyHex)
	iv := mustDecodeHex(ivHex)
	return share.EncryptionConfig{
		Cipher: share.CipherName(cipherName),
		Key:    key,
		IV:     iv,
	}
}

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		log.Fatal(err)
	}
	return b
}
