package engine

// BEP20Prefix identifies this implementation in the 8-byte client tag
// embedded in the BitTorrent peer id (BEP 20), e.g. "-BW0100-" followed
// by twelve random bytes. Bump it when wire-visible behavior changes
// in a way other peers might reasonably care about.
const BEP20Prefix = "-BW0100-"

// ExtendedHandshakeClientVersion is advertised in the BEP 10 extension
// handshake's "v" key.
const ExtendedHandshakeClientVersion = "torrentd 1.0.0"
