package engine

import (
	"time"

	"github.com/pkg/errors"

	pp "github.com/bytewright/torrentd/peerprotocol"
)

// ewma is a small windowed exponential moving average used for
// download/upload speed estimates, matching the smoothing factor the
// teacher's peer.go uses for per-connection throughput (see
// peer-conn-msg-writer.go's dataUploadRate, generalized into its own
// running estimate rather than a single last-write snapshot).
type ewma struct {
	value float64
	alpha float64
}

func newEWMA(alpha float64) ewma { return ewma{alpha: alpha} }

func (e *ewma) Update(sample float64) {
	if e.value == 0 {
		e.value = sample
		return
	}
	e.value = e.alpha*sample + (1-e.alpha)*e.value
}

func (e *ewma) Value() float64 { return e.value }

// SessionState is PeerSession's coarse wire-protocol phase.
type SessionState int

const (
	StateHandshaking SessionState = iota
	StateBitfieldExchanged
	StateSteady
)

// ErrProtocolViolation signals a malformed or out-of-contract message
// that must close the connection.
var ErrProtocolViolation = errors.New("engine: peer protocol violation")

// PeerSession is the per-connection wire-protocol state machine:
// handshake -> bitfield exchange -> steady choke/interest and
// request/piece/cancel traffic. It never mutates ActivePiece or
// Scheduler state directly — it reports events to DownloadCore and
// acts only on the commands DownloadCore hands back, keeping all
// shared state mutation on the single logical task per the
// concurrency model.
type PeerSession struct {
	ID   PeerID
	Fast bool

	State SessionState

	amChoking      bool
	amInterested   bool
	peerChoking    bool
	peerInterested bool

	peerBitfield *Bitfield

	pipelineDepth int
	outstanding   int

	downloadSpeed ewma
	uploadSpeed   ewma

	ContributionBytesDown int64
	ContributionBytesUp   int64

	Writer *pp.Writer

	ActivatedAt  time.Time
	LastActivity time.Time
}

// NewPeerSession constructs a session in the handshaking state. The
// caller supplies numPieces so the peer's bitfield can be sized before
// any BITFIELD message arrives (some peers send none, implying all
// zero until HAVEs arrive).
func NewPeerSession(id PeerID, numPieces int, writer *pp.Writer, now time.Time) *PeerSession {
	return &PeerSession{
		ID:            id,
		State:         StateHandshaking,
		amChoking:     true,
		peerChoking:   true,
		peerBitfield:  NewBitfield(numPieces),
		pipelineDepth: 10,
		Writer:        writer,
		ActivatedAt:   now,
		LastActivity:  now,
	}
}

func (s *PeerSession) AmChoking() bool      { return s.amChoking }
func (s *PeerSession) AmInterested() bool   { return s.amInterested }
func (s *PeerSession) PeerChoking() bool    { return s.peerChoking }
func (s *PeerSession) PeerInterested() bool { return s.peerInterested }
func (s *PeerSession) PeerBitfield() *Bitfield { return s.peerBitfield }

// PipelineSlotsFree reports how many more requests this session may
// have outstanding before hitting pipelineDepth.
func (s *PeerSession) PipelineSlotsFree() int {
	n := s.pipelineDepth - s.outstanding
	if n < 0 {
		return 0
	}
	return n
}

// SetPipelineDepth adjusts the requested pipeline depth, e.g. grown
// for a consistently-fast peer.
func (s *PeerSession) SetPipelineDepth(n int) {
	if n < 1 {
		n = 1
	}
	s.pipelineDepth = n
}

// OnHandshakeComplete transitions to StateBitfieldExchanged, the point
// at which the session is ready to send/receive BITFIELD.
func (s *PeerSession) OnHandshakeComplete(now time.Time) {
	s.State = StateBitfieldExchanged
	s.LastActivity = now
}

// OnBitfield records a peer's initial bitfield (or a later full
// resend, which some implementations do) and enters the steady state.
func (s *PeerSession) OnBitfield(bits []bool, now time.Time) error {
	if s.peerBitfield.NumPieces() != 0 && len(bits) != s.peerBitfield.NumPieces() {
		return errors.Wrap(ErrProtocolViolation, "bitfield length mismatch")
	}
	for i, has := range bits {
		if has {
			s.peerBitfield.Set(PieceIndex(i))
		} else {
			s.peerBitfield.Clear(PieceIndex(i))
		}
	}
	s.State = StateSteady
	s.LastActivity = now
	return nil
}

// OnHave marks a single piece present in the peer's bitfield.
func (s *PeerSession) OnHave(index PieceIndex, now time.Time) error {
	if int(index) < 0 || int(index) >= s.peerBitfield.NumPieces() {
		return errors.Wrapf(ErrProtocolViolation, "have index %d out of range", index)
	}
	s.peerBitfield.Set(index)
	s.LastActivity = now
	return nil
}

// SetChoking updates our choking state toward this peer.
func (s *PeerSession) SetChoking(choking bool) { s.amChoking = choking }

// SetInterested updates our interest toward this peer.
func (s *PeerSession) SetInterested(interested bool) { s.amInterested = interested }

// OnChoke records the peer choking us; per protocol all our
// outstanding requests are now presumed discarded by the peer, so the
// caller (DownloadCore) should clear them via PieceStore.
func (s *PeerSession) OnChoke(now time.Time) {
	s.peerChoking = true
	s.outstanding = 0
	s.LastActivity = now
}

func (s *PeerSession) OnUnchoke(now time.Time) {
	s.peerChoking = false
	s.LastActivity = now
}

func (s *PeerSession) OnInterested(now time.Time) {
	s.peerInterested = true
	s.LastActivity = now
}

func (s *PeerSession) OnNotInterested(now time.Time) {
	s.peerInterested = false
	s.LastActivity = now
}

// RecordRequestSent increments the outstanding-request counter, called
// once per REQUEST actually written.
func (s *PeerSession) RecordRequestSent() { s.outstanding++ }

// RecordBlockReceived credits contribution counters, updates the
// download-speed estimate, and decrements outstanding.
func (s *PeerSession) RecordBlockReceived(n int64, now time.Time) {
	if s.outstanding > 0 {
		s.outstanding--
	}
	s.ContributionBytesDown += n
	dt := now.Sub(s.LastActivity).Seconds()
	if dt > 0 {
		s.downloadSpeed.Update(float64(n) / dt)
	}
	s.LastActivity = now
}

// RecordBlockSent credits upload contribution counters.
func (s *PeerSession) RecordBlockSent(n int64, now time.Time) {
	s.ContributionBytesUp += n
	dt := now.Sub(s.LastActivity).Seconds()
	if dt > 0 {
		s.uploadSpeed.Update(float64(n) / dt)
	}
	s.LastActivity = now
}

func (s *PeerSession) DownloadSpeed() float64 { return s.downloadSpeed.Value() }
func (s *PeerSession) UploadSpeed() float64   { return s.uploadSpeed.Value() }

// EnqueueRequest writes a REQUEST for the given chunk and records it
// as outstanding.
func (s *PeerSession) EnqueueRequest(index PieceIndex, c ChunkSpec) {
	s.Writer.Enqueue(pp.MakeRequestMessage(int64(index), c.Begin, c.Length))
	s.RecordRequestSent()
}

// EnqueueCancel writes a CANCEL for the given chunk.
func (s *PeerSession) EnqueueCancel(index PieceIndex, c ChunkSpec) {
	s.Writer.Enqueue(pp.MakeCancelMessage(int64(index), c.Begin, c.Length))
}

// EnqueueHave announces a completed piece.
func (s *PeerSession) EnqueueHave(index PieceIndex) {
	s.Writer.Enqueue(pp.MakeHaveMessage(int64(index)))
}

// EnqueuePiece writes a PIECE message carrying data.
func (s *PeerSession) EnqueuePiece(index PieceIndex, begin int64, data []byte) {
	s.Writer.Enqueue(pp.Message{ID: pp.Piece, Index: int64(index), Begin: begin, Piece_: data})
}
