package engine

import (
	"sort"
	"time"

	rs "github.com/bytewright/torrentd/internal/requeststrategy"
)

// DefaultEndgameDuplicateCap bounds how many peers may simultaneously
// hold a request for the same block once in endgame. 0 means
// unlimited; the default is 3.
const DefaultEndgameDuplicateCap = 3

// Scheduler drives piece selection (which piece a peer should work on
// next) and block selection (which blocks within it), including
// rarest-first ordering, active-piece-cap enforcement, speed-affinity
// exclusivity, and endgame duplication. Grounded on
// piece request order machinery (torrent-piece-request-order.go,
// client-piece-request-order.go) generalized from "track one global
// order the Client shares across torrents" down to "track one order
// per torrent", since this module is scoped to a single torrent's core.
type Scheduler struct {
	numPieces       int
	pieceLength     int64
	lastPieceLength int64
	digests         []Digest

	global *Bitfield
	layout *FileLayout

	classifications []PieceClassification
	availability    []int
	order           *rs.Order

	store           *PieceStore
	maxActivePieces int

	endgame              bool
	endgameDuplicateCap  int
}

// SchedulerConfig bundles the fixed per-torrent parameters Scheduler
// needs at construction.
type SchedulerConfig struct {
	PieceLength     int64
	LastPieceLength int64
	Digests         []Digest
	Layout          *FileLayout
	Store           *PieceStore
	MaxActivePieces int
}

// NewScheduler returns a Scheduler with every piece initially
// classified against layout and inserted into the rarest-first order
// if wanted.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	numPieces := len(cfg.Digests)
	s := &Scheduler{
		numPieces:           numPieces,
		pieceLength:         cfg.PieceLength,
		lastPieceLength:     cfg.LastPieceLength,
		digests:             cfg.Digests,
		global:              NewBitfield(numPieces),
		layout:              cfg.Layout,
		classifications:     make([]PieceClassification, numPieces),
		availability:        make([]int, numPieces),
		order:               rs.NewOrder(numPieces),
		store:               cfg.Store,
		maxActivePieces:     cfg.MaxActivePieces,
		endgameDuplicateCap: DefaultEndgameDuplicateCap,
	}
	s.Reclassify()
	return s
}

// pieceLengthFor returns the byte length of piece i, accounting for a
// possibly-shorter final piece.
func (s *Scheduler) pieceLengthFor(i PieceIndex) int64 {
	if int(i) == s.numPieces-1 {
		return s.lastPieceLength
	}
	return s.pieceLength
}

// Reclassify recomputes every piece's classification against the
// current file layout:
// newly blacklisted pieces that are active with zero progress are
// abandoned immediately; those with progress are left to finish
// rather than wasting the work already done.
func (s *Scheduler) Reclassify() {
	for i := 0; i < s.numPieces; i++ {
		idx := PieceIndex(i)
		newClass := s.layout.Classify(idx, s.pieceLength)
		oldClass := s.classifications[idx]
		s.classifications[idx] = newClass

		if newClass == ClassificationBlacklisted && oldClass != ClassificationBlacklisted {
			if ap, ok := s.store.Get(idx); ok && ap.ReceivedCount() == 0 {
				s.store.Retire(idx)
			}
		}
		s.refreshOrderEntry(idx)
	}
}

func (s *Scheduler) refreshOrderEntry(i PieceIndex) {
	wanted := s.classifications[i] != ClassificationBlacklisted && !s.global.Has(i)
	if _, active := s.store.Get(i); active {
		wanted = false // the order only holds inactive candidates
	}
	if !wanted {
		s.order.Delete(int(i))
		return
	}
	s.order.Upsert(int(i), s.availability[i], true)
}

// IncAvailability records that one more peer is known to have piece i
// (e.g. via HAVE or an initial BITFIELD), re-sorting the rarest-first
// order if this piece is still a candidate.
func (s *Scheduler) IncAvailability(i PieceIndex) {
	s.availability[i]++
	s.refreshOrderEntry(i)
}

// DecAvailability undoes IncAvailability, e.g. on peer disconnect.
func (s *Scheduler) DecAvailability(i PieceIndex) {
	if s.availability[i] > 0 {
		s.availability[i]--
	}
	s.refreshOrderEntry(i)
}

// ApplyPeerBitfield increments availability for every piece set in
// bits, for use when a peer's BITFIELD or full HAVE-derived state
// first becomes known.
func (s *Scheduler) ApplyPeerBitfield(bf *Bitfield) {
	bf.Iterate(func(i PieceIndex) bool {
		s.IncAvailability(i)
		return true
	})
}

// RemovePeerBitfield is ApplyPeerBitfield's inverse, called on
// disconnect.
func (s *Scheduler) RemovePeerBitfield(bf *Bitfield) {
	bf.Iterate(func(i PieceIndex) bool {
		s.DecAvailability(i)
		return true
	})
}

// MarkVerified updates the global bitfield and removes the piece from
// the selection order.
func (s *Scheduler) MarkVerified(i PieceIndex) {
	s.global.Set(i)
	s.order.Delete(int(i))
}

// NotifyRetired tells the Scheduler that piece i is no longer active
// without having been verified (a failed-verification or
// HealthMonitor abandonment), so it must be re-entered into the
// rarest-first order to remain selectable.
func (s *Scheduler) NotifyRetired(i PieceIndex) {
	s.refreshOrderEntry(i)
}

// Global exposes the verified-pieces bitfield.
func (s *Scheduler) Global() *Bitfield { return s.global }

// Classification returns piece i's current classification.
func (s *Scheduler) Classification(i PieceIndex) PieceClassification {
	return s.classifications[i]
}

// Endgame reports whether the scheduler is currently in endgame mode.
func (s *Scheduler) Endgame() bool { return s.endgame }

// SetEndgameDuplicateCap overrides DefaultEndgameDuplicateCap; 0 means
// unlimited.
func (s *Scheduler) SetEndgameDuplicateCap(n int) { s.endgameDuplicateCap = n }

// RecomputeEndgame re-evaluates entry/exit: endgame
// is entered when every still-missing piece is already active and no
// active piece has unrequested blocks; it exits whenever either
// condition becomes false. Returns (newState, changed) so the caller
// can log/emit an event only on an actual transition.
func (s *Scheduler) RecomputeEndgame() (newState bool, changed bool) {
	allActiveOrDone := true
	anyUnrequested := false
	for i := 0; i < s.numPieces; i++ {
		idx := PieceIndex(i)
		if s.classifications[idx] == ClassificationBlacklisted || s.global.Has(idx) {
			continue
		}
		ap, active := s.store.Get(idx)
		if !active {
			allActiveOrDone = false
			break
		}
		if ap.HasUnrequestedBlocks() {
			anyUnrequested = true
		}
	}
	want := allActiveOrDone && !anyUnrequested
	changed = want != s.endgame
	s.endgame = want
	return s.endgame, changed
}

// candidateScan collects up to n wanted, not-yet-complete pieces from
// the rarest-first order that peerBitfield advertises, preserving
// order (and thus rarest-first priority).
func (s *Scheduler) candidateScan(peerBitfield *Bitfield, n int) []PieceIndex {
	var out []PieceIndex
	s.order.Scan(func(item rs.Item) bool {
		idx := PieceIndex(item.Index)
		if !peerBitfield.Has(idx) {
			return true
		}
		out = append(out, idx)
		return len(out) < n
	})
	return out
}

// SelectPiece implements the piece-selection rules for one
// peer: prefer an already-active piece this peer may contribute to
// (respecting CanRequestFrom / the active-piece cap), else, if under
// cap, activate the rarest eligible piece the peer has, claiming
// exclusivity for a fast peer.
func (s *Scheduler) SelectPiece(peerID PeerID, peerBitfield *Bitfield, peerFast bool, now time.Time) (*ActivePiece, error) {
	// Prefer continuing an already-active piece the peer can help with.
	var eligible []*ActivePiece
	for _, idx := range s.store.Indices() {
		if !peerBitfield.Has(idx) {
			continue
		}
		ap, ok := s.store.Get(idx)
		if !ok || ap.HasAllBlocks() {
			continue
		}
		if ap.CanRequestFrom(peerID, peerFast) && ap.HasUnrequestedBlocks() {
			eligible = append(eligible, ap)
		}
	}
	if len(eligible) > 0 {
		sort.Slice(eligible, func(i, j int) bool { return eligible[i].Index < eligible[j].Index })
		return eligible[0], nil
	}

	if !s.store.HasCapacity() {
		return nil, nil
	}

	candidates := s.candidateScan(peerBitfield, 1)
	if len(candidates) == 0 {
		return nil, nil
	}
	idx := candidates[0]
	ap, err := s.store.Activate(idx, s.pieceLengthFor(idx), s.digests[idx], now)
	if err != nil {
		return nil, err
	}
	s.order.Delete(int(idx))
	if peerFast {
		ap.SetExclusiveOwner(peerID)
	}
	return ap, nil
}

// SelectBlocks returns the chunks a peer should next request from
// piece ap, honoring endgame duplication up to maxBlocks.
func (s *Scheduler) SelectBlocks(ap *ActivePiece, peerID PeerID, maxBlocks int) []ChunkSpec {
	if !s.endgame {
		return ap.GetNeededBlocks(maxBlocks)
	}
	blocks := ap.GetNeededBlocksEndgame(peerID, maxBlocks)
	if s.endgameDuplicateCap <= 0 {
		return blocks
	}
	out := blocks[:0:0]
	for _, c := range blocks {
		i := BlockIndex(c.Begin / BlockSize)
		if len(ap.GetOtherRequesters(i, peerID)) >= s.endgameDuplicateCap {
			continue
		}
		out = append(out, c)
	}
	return out
}
