package peerprotocol

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// writeBufferHighWaterLen caps how much outbound data a Writer will
// buffer before a Flush is required to actually hit the wire; past
// this, callers should stop enqueueing PIECE payloads for this peer.
const writeBufferHighWaterLen = 1 << 17 // 128 KiB

// Writer coalesces outbound messages into a single buffer so a burst
// of REQUEST/CANCEL/HAVE calls in one tick becomes one or few Write
// syscalls, and injects keepalives when nothing else has been sent
// within keepAliveTimeout. Grounded on
// peerConnMsgWriter, simplified to a single front buffer flushed
// explicitly by the caller's I/O loop rather than owning its own
// goroutine — PeerSession drives the suspension points per the
// cooperative concurrency model.
type Writer struct {
	w                 io.Writer
	keepAliveTimeout  time.Duration
	mu                sync.Mutex
	buf               bytes.Buffer
	lastWrite         time.Time
	totalBytesWritten int64
}

// NewWriter returns a Writer that flushes onto w.
func NewWriter(w io.Writer, keepAliveTimeout time.Duration) *Writer {
	return &Writer{w: w, keepAliveTimeout: keepAliveTimeout, lastWrite: time.Time{}}
}

// Enqueue appends msg's wire encoding to the pending buffer.
func (wr *Writer) Enqueue(msg Message) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.buf.Write(msg.MarshalBinary())
}

// Full reports whether the pending buffer has reached the high water
// mark, a signal to the caller to stop enqueueing PIECE messages for
// this peer until the next Flush.
func (wr *Writer) Full() bool {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return wr.buf.Len() >= writeBufferHighWaterLen
}

// MaybeKeepalive enqueues a keepalive if nothing has been written
// since keepAliveTimeout and the buffer is currently empty, returning
// whether it did so.
func (wr *Writer) MaybeKeepalive(now time.Time) bool {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if wr.buf.Len() != 0 {
		return false
	}
	if now.Sub(wr.lastWrite) < wr.keepAliveTimeout {
		return false
	}
	wr.buf.Write(Message{Keepalive: true}.MarshalBinary())
	return true
}

// Flush writes the pending buffer to the underlying writer in full or
// returns the first write error, leaving any unwritten tail buffered
// for the next call.
func (wr *Writer) Flush() (n int, err error) {
	wr.mu.Lock()
	if wr.buf.Len() == 0 {
		wr.mu.Unlock()
		return 0, nil
	}
	pending := append([]byte(nil), wr.buf.Bytes()...)
	wr.buf.Reset()
	wr.mu.Unlock()

	buf := pending
	for len(buf) > 0 {
		nn, werr := wr.w.Write(buf)
		n += nn
		if nn > 0 {
			buf = buf[nn:]
		}
		if werr != nil {
			// Re-buffer the unwritten remainder so a transient error
			// doesn't silently drop messages.
			wr.mu.Lock()
			var rebuilt bytes.Buffer
			rebuilt.Write(buf)
			rebuilt.Write(wr.buf.Bytes())
			wr.buf = rebuilt
			wr.mu.Unlock()
			return n, werr
		}
	}
	wr.mu.Lock()
	wr.lastWrite = time.Now()
	wr.totalBytesWritten += int64(n)
	wr.mu.Unlock()
	return n, nil
}

// Pending reports the number of bytes currently buffered awaiting
// Flush.
func (wr *Writer) Pending() int {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return wr.buf.Len()
}
