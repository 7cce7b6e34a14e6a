package peerprotocol

import (
	"bytes"
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestWriterCoalescesEnqueuedMessages(t *testing.T) {
	c := qt.New(t)
	var buf bytes.Buffer
	w := NewWriter(&buf, time.Minute)

	w.Enqueue(MakeHaveMessage(1))
	w.Enqueue(MakeHaveMessage(2))
	c.Assert(w.Pending(), qt.Equals, 2*(4+1+4))

	n, err := w.Flush()
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 2*(4+1+4))
	c.Assert(w.Pending(), qt.Equals, 0)

	got1, err := ReadMessage(&buf, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(got1.Index, qt.Equals, int64(1))
	got2, err := ReadMessage(&buf, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(got2.Index, qt.Equals, int64(2))
}

func TestWriterFlushOnEmptyBufferIsNoop(t *testing.T) {
	c := qt.New(t)
	var buf bytes.Buffer
	w := NewWriter(&buf, time.Minute)
	n, err := w.Flush()
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 0)
}

func TestWriterFullAtHighWaterMark(t *testing.T) {
	c := qt.New(t)
	var buf bytes.Buffer
	w := NewWriter(&buf, time.Minute)
	c.Assert(w.Full(), qt.IsFalse)

	big := make([]byte, writeBufferHighWaterLen)
	w.Enqueue(Message{ID: Piece, Index: 0, Begin: 0, Piece_: big})
	c.Assert(w.Full(), qt.IsTrue)
}

func TestWriterMaybeKeepaliveRespectsTimeoutAndEmptyBuffer(t *testing.T) {
	c := qt.New(t)
	var buf bytes.Buffer
	w := NewWriter(&buf, time.Minute)

	sent := w.MaybeKeepalive(time.Unix(0, 0))
	c.Assert(sent, qt.IsTrue, qt.Commentf("zero-value lastWrite means the timeout has already elapsed"))

	w.Flush()
	sent = w.MaybeKeepalive(time.Unix(1, 0))
	c.Assert(sent, qt.IsFalse, qt.Commentf("within the keepalive window since the last flush"))
}

type erroringWriter struct {
	errAfter int
}

func (e *erroringWriter) Write(p []byte) (int, error) {
	if e.errAfter <= 0 {
		return 0, errors.New("boom")
	}
	n := e.errAfter
	if n > len(p) {
		n = len(p)
	}
	e.errAfter -= n
	return n, nil
}

func TestWriterFlushRebuffersUnwrittenRemainderOnError(t *testing.T) {
	c := qt.New(t)
	ew := &erroringWriter{errAfter: 3}
	w := NewWriter(ew, time.Minute)
	w.Enqueue(MakeHaveMessage(7))

	n, err := w.Flush()
	c.Assert(err, qt.IsNotNil)
	c.Assert(n, qt.Equals, 3)
	c.Assert(w.Pending(), qt.Equals, 9-3, qt.Commentf("the unwritten tail must still be pending for the next flush"))
}
