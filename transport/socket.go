package transport

import (
	"context"
	"net"
	"syscall"

	"github.com/anacrolix/log"
)

// Listener accepts incoming peer connections, matching socket.go's
// socket.go Listener interface.
type Listener interface {
	Accept() (net.Conn, error)
	Addr() net.Addr
	Close() error
}

// tcpListenConfig disables the kernel keepalive the way socket.go's
// does, since the wire protocol's own keepalive message is what peers
// actually expect within their read timeout.
var tcpListenConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) (err error) {
		return c.Control(func(fd uintptr) {
			if lingerErr := setSockNoLinger(fd); lingerErr != nil {
				log.Levelf(log.Debug, "error disabling linger on tcp socket: %v", lingerErr)
			}
		})
	},
	KeepAlive: -1,
}

// Listen opens a TCP listener on addr (host:port, host may be empty
// for all interfaces).
func Listen(addr string) (Listener, error) {
	return tcpListenConfig.Listen(context.Background(), "tcp", addr)
}

// setSockNoLinger sets SO_LINGER on with a zero timeout, so closing a
// peer connection resets it at once instead of lingering on a graceful
// shutdown the remote end may never acknowledge. Failing to set it is
// logged, not fatal.
func setSockNoLinger(fd uintptr) error {
	return syscall.SetsockoptLinger(int(fd), syscall.SOL_SOCKET, syscall.SO_LINGER, &syscall.Linger{Onoff: 1, Linger: 0})
}
