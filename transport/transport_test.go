package transport

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestListenAndDialRoundTrip(t *testing.T) {
	c := qt.New(t)
	ln, err := Listen("127.0.0.1:0")
	c.Assert(err, qt.IsNil)
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		c.Check(err, qt.IsNil)
		if conn != nil {
			conn.Write([]byte("hello"))
			conn.Close()
		}
		close(accepted)
	}()

	dialer := NewTCPDialer()
	conn, err := dialer.Dial(context.Background(), ln.Addr().String())
	c.Assert(err, qt.IsNil)
	defer conn.Close()

	buf := make([]byte, 5)
	_, err = conn.Read(buf)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf), qt.Equals, "hello")
	<-accepted
}

func TestDefaultDialerIsUsable(t *testing.T) {
	c := qt.New(t)
	c.Assert(DefaultDialer, qt.IsNotNil)
	c.Assert(DefaultDialer.FallbackDelay < 0, qt.IsTrue)
	c.Assert(DefaultDialer.KeepAlive < 0, qt.IsTrue)
}
