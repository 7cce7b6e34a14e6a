package engine

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func newTestScheduler(c *qt.C, numPieces int, maxActive int) *Scheduler {
	digests := make([]Digest, numPieces)
	layout := NewFileLayout([]FileEntry{{Length: int64(numPieces) * BlockSize, Priority: FileWanted}})
	store := NewPieceStore(maxActive, nil)
	return NewScheduler(SchedulerConfig{
		PieceLength:     BlockSize,
		LastPieceLength: BlockSize,
		Digests:         digests,
		Layout:          layout,
		Store:           store,
		MaxActivePieces: maxActive,
	})
}

func fullBitfield(numPieces int) *Bitfield {
	bf := NewBitfield(numPieces)
	for i := 0; i < numPieces; i++ {
		bf.Set(PieceIndex(i))
	}
	return bf
}

func TestSchedulerSelectPieceRarestFirst(t *testing.T) {
	c := qt.New(t)
	now := time.Unix(0, 0)
	s := newTestScheduler(c, 3, 0)

	// piece 2 is rarer (availability 1) than 0 and 1 (availability 2).
	s.IncAvailability(0)
	s.IncAvailability(0)
	s.IncAvailability(1)
	s.IncAvailability(1)
	s.IncAvailability(2)

	ap, err := s.SelectPiece("peerA", fullBitfield(3), false, now)
	c.Assert(err, qt.IsNil)
	c.Assert(ap.Index, qt.Equals, PieceIndex(2))
}

func TestSchedulerSelectPiecePrefersContinuingActivePiece(t *testing.T) {
	c := qt.New(t)
	now := time.Unix(0, 0)
	s := newTestScheduler(c, 2, 0)
	s.IncAvailability(0)
	s.IncAvailability(1)

	first, err := s.SelectPiece("peerA", fullBitfield(2), false, now)
	c.Assert(err, qt.IsNil)

	// Even though another piece may be rarer-or-equal, the peer should
	// keep contributing to an already-active, incomplete piece.
	second, err := s.SelectPiece("peerA", fullBitfield(2), false, now)
	c.Assert(err, qt.IsNil)
	c.Assert(second.Index, qt.Equals, first.Index)
}

func TestSchedulerSelectPieceRespectsCap(t *testing.T) {
	c := qt.New(t)
	now := time.Unix(0, 0)
	s := newTestScheduler(c, 2, 1)
	s.IncAvailability(0)
	s.IncAvailability(1)

	_, err := s.SelectPiece("peerA", fullBitfield(2), false, now)
	c.Assert(err, qt.IsNil)

	// peerB only advertises piece 1, which would need a new activation.
	onlyPiece1 := NewBitfield(2)
	onlyPiece1.Set(1)
	ap, err := s.SelectPiece("peerB", onlyPiece1, false, now)
	c.Assert(err, qt.IsNil)
	c.Assert(ap, qt.IsNil, qt.Commentf("cap reached, no continuing piece peerB can help with"))
}

func TestSchedulerExclusiveOwnerClaimedForFastPeer(t *testing.T) {
	c := qt.New(t)
	now := time.Unix(0, 0)
	s := newTestScheduler(c, 1, 0)
	s.IncAvailability(0)

	ap, err := s.SelectPiece("peerA", fullBitfield(1), true, now)
	c.Assert(err, qt.IsNil)
	owner, ok := ap.ExclusiveOwner()
	c.Assert(ok, qt.IsTrue)
	c.Assert(owner, qt.Equals, PeerID("peerA"))
}

func TestSchedulerMarkVerifiedRemovesFromOrder(t *testing.T) {
	c := qt.New(t)
	s := newTestScheduler(c, 2, 0)
	s.IncAvailability(0)
	s.IncAvailability(1)

	s.MarkVerified(0)
	c.Assert(s.Global().Has(0), qt.IsTrue)

	candidates := s.candidateScan(fullBitfield(2), 10)
	c.Assert(candidates, qt.DeepEquals, []PieceIndex{1})
}

func TestSchedulerRecomputeEndgameEntersAndExits(t *testing.T) {
	c := qt.New(t)
	now := time.Unix(0, 0)
	s := newTestScheduler(c, 1, 0)
	s.IncAvailability(0)

	state, changed := s.RecomputeEndgame()
	c.Assert(state, qt.IsFalse, qt.Commentf("no piece active yet"))
	c.Assert(changed, qt.IsFalse)

	ap, err := s.SelectPiece("peerA", fullBitfield(1), false, now)
	c.Assert(err, qt.IsNil)
	// request everything, draining unrequestedCount
	for _, b := range s.SelectBlocks(ap, "peerA", 100) {
		ap.AddRequest(BlockIndex(b.Begin/BlockSize), "peerA", now)
	}

	state, changed = s.RecomputeEndgame()
	c.Assert(state, qt.IsTrue)
	c.Assert(changed, qt.IsTrue)

	// A cancelled request leaves an unrequested block again.
	ap.CancelRequest(0, "peerA")
	state, changed = s.RecomputeEndgame()
	c.Assert(state, qt.IsFalse)
	c.Assert(changed, qt.IsTrue)
}

func TestSchedulerEndgameDuplicateCap(t *testing.T) {
	c := qt.New(t)
	now := time.Unix(0, 0)
	s := newTestScheduler(c, 1, 0)
	s.SetEndgameDuplicateCap(1)
	s.IncAvailability(0)

	ap, err := s.SelectPiece("peerA", fullBitfield(1), false, now)
	c.Assert(err, qt.IsNil)

	blocks := s.SelectBlocks(ap, "peerA", 100)
	c.Assert(blocks, qt.HasLen, 1)
	for _, b := range blocks {
		ap.AddRequest(BlockIndex(b.Begin/BlockSize), "peerA", now)
	}
	s.endgame = true

	// peerB's request for the same block must be capped out once
	// peerA already holds the lone allowed slot.
	blocks = s.SelectBlocks(ap, "peerB", 100)
	c.Assert(blocks, qt.HasLen, 0)
}

func TestSchedulerReclassifyAbandonsZeroProgressBlacklistedPiece(t *testing.T) {
	c := qt.New(t)
	now := time.Unix(0, 0)
	layout := NewFileLayout([]FileEntry{{Length: BlockSize, Priority: FileWanted}})
	store := NewPieceStore(0, nil)
	s := NewScheduler(SchedulerConfig{
		PieceLength:     BlockSize,
		LastPieceLength: BlockSize,
		Digests:         []Digest{{}},
		Layout:          layout,
		Store:           store,
		MaxActivePieces: 0,
	})
	s.IncAvailability(0)
	ap, err := s.SelectPiece("peerA", fullBitfield(1), false, now)
	c.Assert(err, qt.IsNil)
	c.Assert(ap, qt.IsNotNil)

	layout.SetPriority(0, FileSkipped)
	s.Reclassify()

	_, stillActive := store.Get(0)
	c.Assert(stillActive, qt.IsFalse, qt.Commentf("zero-progress piece must be abandoned once blacklisted"))
}
