// Package transport provides the TCP listener and dialer the engine
// consumes as its peer I/O collaborator: already-
// negotiated sessions are handed to DownloadCore, which does not
// initiate connections itself. Grounded on socket.go/
// dialer.go split; uTP support is dropped (see DESIGN.md) since it
// depends on anacrolix/go-libutp, which wasn't wired into
// SPEC_FULL.md's scope.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound connections, matching the net package's dialer
// interface shape.
type Dialer interface {
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

// TCPDialer dials plain TCP, disabling fallback and keepalive the way
// listenTcp does — BitTorrent connections manage their
// own keepalives via wire-protocol keepalive messages.
type TCPDialer struct {
	net.Dialer
}

// NewTCPDialer returns a Dialer tuned for BitTorrent peer connections.
func NewTCPDialer() *TCPDialer {
	return &TCPDialer{Dialer: net.Dialer{
		FallbackDelay: -1,
		KeepAlive:     -1,
	}}
}

func (d *TCPDialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	return d.Dialer.DialContext(ctx, "tcp", addr)
}

// DefaultDialer is a ready-to-use TCPDialer, mirroring a
// package-level DefaultNetDialer.
var DefaultDialer = NewTCPDialer()
