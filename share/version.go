package share

// BuildVersion is the wire protocol / build version advertised by this
// package. The CLI prints it for --version and in its help text; it has no effect on
// interoperability since the wire protocol here is a handful of raw bytes,
// not a negotiated subprotocol.
const BuildVersion = "1.0.0"

// ProtocolVersion identifies the tunnel wire protocol described in spec §6.
// Bumped only if the handshake byte codes or framing contract change.
const ProtocolVersion = "revtun-1"
