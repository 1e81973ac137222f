package client

import (
	"net"

	"github.com/relaynet/revtun/share"
)

// splicePair bridges the remote (tunnel) socket and the local (app) socket
// once both are ready (spec §4.4, §4.6). With encryption configured, the
// remote socket is wrapped so writes to it are encrypted and reads from it
// are decrypted — the mirror image of the Proxy's half of the same
// contract, so both ends agree on which bytes are ciphertext.
func splicePair(remoteConn, localConn net.Conn, encryption share.EncryptionConfig) (int64, int64) {
	if !encryption.Active() {
		return share.Splice(remoteConn, localConn)
	}
	enc, dec, err := encryption.StreamPair()
	if err != nil {
		remoteConn.Close()
		localConn.Close()
		return 0, 0
	}
	cipherConn := share.NewCipherConn(remoteConn, enc, dec)
	return share.Splice(cipherConn, localConn)
}
