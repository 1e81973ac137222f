package proxy

import (
	"net"

	"github.com/relaynet/revtun/share"
)

// splicePair bridges a paired request and tunnel socket (spec §4.4). With no
// encryption configured this is a raw byte-identical splice. With encryption
// configured, the tunnel socket is wrapped so writes to it are encrypted and
// reads from it are decrypted, while the request socket stays raw — this is
// exactly the Proxy-side half of the shared cipher contract described in §6.
func splicePair(requestConn, tunnelConn net.Conn, encryption share.EncryptionConfig) (int64, int64) {
	if !encryption.Active() {
		return share.Splice(requestConn, tunnelConn)
	}
	enc, dec, err := encryption.StreamPair()
	if err != nil {
		requestConn.Close()
		tunnelConn.Close()
		return 0, 0
	}
	cipherConn := share.NewCipherConn(tunnelConn, enc, dec)
	return share.Splice(requestConn, cipherConn)
}
