package engine

import (
	"bytes"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	pp "github.com/bytewright/torrentd/peerprotocol"
)

func newTestSession(numPieces int) (*PeerSession, *bytes.Buffer) {
	var buf bytes.Buffer
	w := pp.NewWriter(&buf, time.Minute)
	return NewPeerSession("peerA", numPieces, w, time.Unix(0, 0)), &buf
}

func TestPeerSessionInitialState(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestSession(4)
	c.Assert(s.State, qt.Equals, StateHandshaking)
	c.Assert(s.AmChoking(), qt.IsTrue)
	c.Assert(s.PeerChoking(), qt.IsTrue)
	c.Assert(s.AmInterested(), qt.IsFalse)
	c.Assert(s.PipelineSlotsFree(), qt.Equals, 10)
}

func TestPeerSessionOnBitfieldTransitionsToSteady(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestSession(3)
	err := s.OnBitfield([]bool{true, false, true}, time.Unix(1, 0))
	c.Assert(err, qt.IsNil)
	c.Assert(s.State, qt.Equals, StateSteady)
	c.Assert(s.PeerBitfield().Has(0), qt.IsTrue)
	c.Assert(s.PeerBitfield().Has(1), qt.IsFalse)
}

func TestPeerSessionOnBitfieldRejectsLengthMismatch(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestSession(3)
	err := s.OnBitfield([]bool{true, false}, time.Unix(1, 0))
	c.Assert(err, qt.ErrorIs, ErrProtocolViolation)
}

func TestPeerSessionOnHaveOutOfRangeRejected(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestSession(3)
	err := s.OnHave(5, time.Unix(1, 0))
	c.Assert(err, qt.ErrorIs, ErrProtocolViolation)

	err = s.OnHave(1, time.Unix(1, 0))
	c.Assert(err, qt.IsNil)
	c.Assert(s.PeerBitfield().Has(1), qt.IsTrue)
}

func TestPeerSessionChokeClearsOutstanding(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestSession(1)
	s.RecordRequestSent()
	s.RecordRequestSent()
	c.Assert(s.PipelineSlotsFree(), qt.Equals, 8)

	s.OnChoke(time.Unix(1, 0))
	c.Assert(s.PeerChoking(), qt.IsTrue)
	c.Assert(s.PipelineSlotsFree(), qt.Equals, 10)
}

func TestPeerSessionPipelineDepthFloorsAtOne(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestSession(1)
	s.SetPipelineDepth(0)
	c.Assert(s.PipelineSlotsFree(), qt.Equals, 1)
	s.SetPipelineDepth(-5)
	c.Assert(s.PipelineSlotsFree(), qt.Equals, 1)
}

func TestPeerSessionRecordBlockReceivedUpdatesSpeedAndContribution(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestSession(1)
	s.RecordRequestSent()
	s.RecordBlockReceived(BlockSize, time.Unix(1, 0))

	c.Assert(s.ContributionBytesDown, qt.Equals, int64(BlockSize))
	c.Assert(s.PipelineSlotsFree(), qt.Equals, 10)
	c.Assert(s.DownloadSpeed() > 0, qt.IsTrue)
}

func TestPeerSessionEnqueueRequestWritesAndTracksOutstanding(t *testing.T) {
	c := qt.New(t)
	s, buf := newTestSession(1)
	s.EnqueueRequest(0, ChunkSpec{Begin: 0, Length: BlockSize})
	c.Assert(s.PipelineSlotsFree(), qt.Equals, 9)

	s.Writer.Flush()
	got, err := pp.ReadMessage(buf, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(got.ID, qt.Equals, pp.Request)
	c.Assert(got.Length, qt.Equals, int64(BlockSize))
}
