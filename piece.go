package engine

import (
	"time"

	g "github.com/anacrolix/generics"
	"github.com/elliotchance/orderedmap"
)

// blockRequests is the per-block ordered set of outstanding requests,
// keyed by peer for O(1) lookup/removal while preserving insertion
// order for FIFO timeout scans and getOtherRequesters. This generalizes
// peer.go's map-of-lists request tracking (see
// requestState bookkeeping) into a struct that owns a
// small ordered map per block instead of a bare slice of records.
type blockRequests = orderedmap.OrderedMap[PeerID, time.Time]

// StaleRequest is one (block, peer) pair whose request record exceeded
// a HealthMonitor timeout.
type StaleRequest struct {
	Block BlockIndex
	Peer  PeerID
}

// ActivePiece is the state of a piece currently being downloaded: a
// pre-allocated buffer, per-block received flags, per-block ordered
// request records, and the bookkeeping (unrequestedCount,
// exclusivePeer) the Scheduler and HealthMonitor need to make O(1)
// decisions. It is mutated only from DownloadCore's single logical
// task; see the concurrency model in SPEC_FULL.md §5.
type ActivePiece struct {
	Index          PieceIndex
	Length         int64
	ExpectedDigest Digest

	buffer []byte

	received      []bool
	receivedCount int

	requests []*blockRequests
	senders  []g.Option[PeerID]

	// unrequestedCount caches |{ i : !received[i] && requests[i] empty }|
	// so hasUnrequestedBlocks is O(1). Every mutation that can change
	// whether block i has zero pending requests adjusts this exactly
	// once; see each method below.
	unrequestedCount int

	exclusivePeer g.Option[PeerID]

	ActivatedAt  time.Time
	LastActivity time.Time
}

// NewActivePiece activates a piece: buffer must already be sized to
// length and is written into in place as blocks arrive (no staging
// copies). The caller owns acquiring buffer from the PieceStore's pool.
func NewActivePiece(index PieceIndex, length int64, digest Digest, buffer []byte, now time.Time) *ActivePiece {
	blockCount := numBlocks(length)
	return &ActivePiece{
		Index:            index,
		Length:           length,
		ExpectedDigest:   digest,
		buffer:           buffer,
		received:         make([]bool, blockCount),
		requests:         make([]*blockRequests, blockCount),
		senders:          make([]g.Option[PeerID], blockCount),
		unrequestedCount: blockCount,
		ActivatedAt:      now,
		LastActivity:     now,
	}
}

// BlockCount returns the number of blocks in this piece.
func (p *ActivePiece) BlockCount() int { return len(p.received) }

// ReceivedCount returns the number of blocks already received, O(1).
func (p *ActivePiece) ReceivedCount() int { return p.receivedCount }

// HasAllBlocks is O(1): a count compare.
func (p *ActivePiece) HasAllBlocks() bool { return p.receivedCount == len(p.received) }

// HasUnrequestedBlocks is O(1): the cached counter.
func (p *ActivePiece) HasUnrequestedBlocks() bool { return p.unrequestedCount > 0 }

// UnrequestedCount exposes the cached counter for tests asserting the
// invariant directly.
func (p *ActivePiece) UnrequestedCount() int { return p.unrequestedCount }

// Progress returns the fraction of blocks received, used by
// HealthMonitor.shouldAbandon's minProgress check.
func (p *ActivePiece) Progress() float64 {
	if len(p.received) == 0 {
		return 1
	}
	return float64(p.receivedCount) / float64(len(p.received))
}

func (p *ActivePiece) reqMap(i BlockIndex) *blockRequests {
	if p.requests[i] == nil {
		p.requests[i] = orderedmap.NewOrderedMap[PeerID, time.Time]()
	}
	return p.requests[i]
}

// AddRequest appends a request record for (blockIndex, peerId). If the
// same peer already has an outstanding request for this block, the
// record is refreshed in place rather than duplicated: per DESIGN.md's
// decision, duplicate requests from the
// same peer are collapsed on insert so they don't skew timeout
// accounting with stale extra records.
func (p *ActivePiece) AddRequest(i BlockIndex, peer PeerID, now time.Time) {
	reqs := p.reqMap(i)
	wasEmpty := reqs.Len() == 0
	reqs.Set(peer, now)
	if wasEmpty && !p.received[i] {
		p.unrequestedCount--
	}
	p.LastActivity = now
}

// AddBlock writes data at the block's offset, marks it received, and
// clears any pending requests for it. Returns isNew=false if the block
// was already received (the benign-duplicate case from §7/§8).
func (p *ActivePiece) AddBlock(i BlockIndex, data []byte, peer PeerID, now time.Time) (isNew bool) {
	if p.received[i] {
		return false
	}
	span := blockSpan(p.Length, i)
	if int64(len(data)) != span.Length {
		panic("engine: block length mismatch, caller must validate before calling AddBlock")
	}
	copy(p.buffer[span.Begin:span.Begin+span.Length], data)
	p.received[i] = true
	p.receivedCount++
	p.senders[i] = g.Some(peer)

	reqs := p.requests[i]
	hadPending := reqs != nil && reqs.Len() > 0
	if reqs != nil {
		reqs.Clear()
	}
	p.LastActivity = now
	if !hadPending {
		p.unrequestedCount--
	}
	return true
}

// CancelRequest removes the matching (blockIndex, peerId) record. If
// the block's request list becomes empty and the block isn't received,
// unrequestedCount is incremented. If peerId was the exclusive owner,
// ownership is cleared.
func (p *ActivePiece) CancelRequest(i BlockIndex, peer PeerID) (removed bool) {
	reqs := p.requests[i]
	if reqs == nil {
		return false
	}
	if _, ok := reqs.Get(peer); !ok {
		return false
	}
	reqs.Delete(peer)
	if reqs.Len() == 0 && !p.received[i] {
		p.unrequestedCount++
	}
	if p.exclusivePeer.Ok && p.exclusivePeer.Value == peer {
		p.exclusivePeer = g.None[PeerID]()
	}
	return true
}

// ClearRequestsForPeer removes every record belonging to peer across
// all blocks, applying the single-cancel invariant maintenance per
// block. Used on disconnect.
func (p *ActivePiece) ClearRequestsForPeer(peer PeerID) (count int) {
	for i := range p.requests {
		if p.CancelRequest(BlockIndex(i), peer) {
			count++
		}
	}
	return
}

// GetStaleRequests clears every request older than timeout and returns
// the (block, peer) pairs that were cleared, for HealthMonitor to emit
// CANCEL messages from. CheckTimeouts is built on top of this.
func (p *ActivePiece) GetStaleRequests(now time.Time, timeout time.Duration) []StaleRequest {
	var stale []StaleRequest
	for i := range p.requests {
		reqs := p.requests[i]
		if reqs == nil || reqs.Len() == 0 {
			continue
		}
		var expired []PeerID
		for el := reqs.Front(); el != nil; el = el.Next() {
			if now.Sub(el.Value) >= timeout {
				expired = append(expired, el.Key)
			}
		}
		for _, peer := range expired {
			reqs.Delete(peer)
			stale = append(stale, StaleRequest{Block: BlockIndex(i), Peer: peer})
			if p.exclusivePeer.Ok && p.exclusivePeer.Value == peer {
				p.exclusivePeer = g.None[PeerID]()
			}
		}
		if reqs.Len() == 0 && !p.received[i] {
			p.unrequestedCount++
		}
	}
	return stale
}

// CheckTimeouts clears stale requests and returns per-peer strike
// counts driving the session layer's strike counters.
func (p *ActivePiece) CheckTimeouts(now time.Time, timeout time.Duration) map[PeerID]int {
	counts := map[PeerID]int{}
	for _, s := range p.GetStaleRequests(now, timeout) {
		counts[s.Peer]++
	}
	return counts
}

// GetNeededBlocks emits, in block order, blocks with no received data
// and no pending requests, stopping at maxBlocks.
func (p *ActivePiece) GetNeededBlocks(maxBlocks int) []ChunkSpec {
	var out []ChunkSpec
	for i := 0; i < len(p.received) && len(out) < maxBlocks; i++ {
		if p.received[i] {
			continue
		}
		if reqs := p.requests[i]; reqs != nil && reqs.Len() > 0 {
			continue
		}
		out = append(out, blockSpan(p.Length, BlockIndex(i)))
	}
	return out
}

// GetNeededBlocksEndgame is the same traversal as GetNeededBlocks but
// only skips blocks already received or already requested from peer,
// allowing the scheduler to legitimately double-request near the end
// of a download.
func (p *ActivePiece) GetNeededBlocksEndgame(peer PeerID, maxBlocks int) []ChunkSpec {
	var out []ChunkSpec
	for i := 0; i < len(p.received) && len(out) < maxBlocks; i++ {
		if p.received[i] {
			continue
		}
		if reqs := p.requests[i]; reqs != nil {
			if _, ok := reqs.Get(peer); ok {
				continue
			}
		}
		out = append(out, blockSpan(p.Length, BlockIndex(i)))
	}
	return out
}

// GetOtherRequesters enumerates peers (other than excludePeerId) with an
// outstanding request for blockIndex, for the caller to send CANCEL to
// when a duplicate-requested block arrives.
func (p *ActivePiece) GetOtherRequesters(i BlockIndex, excludePeerID PeerID) []PeerID {
	reqs := p.requests[i]
	if reqs == nil {
		return nil
	}
	var out []PeerID
	for el := reqs.Front(); el != nil; el = el.Next() {
		if el.Key != excludePeerID {
			out = append(out, el.Key)
		}
	}
	return out
}

// CanRequestFrom implements speed-affinity: true if the piece has no
// exclusive owner, peer is the owner, or peer is fast (fast peers never
// fragment another fast peer's piece).
func (p *ActivePiece) CanRequestFrom(peer PeerID, peerIsFast bool) bool {
	if !p.exclusivePeer.Ok {
		return true
	}
	if p.exclusivePeer.Value == peer {
		return true
	}
	return peerIsFast
}

// SetExclusiveOwner claims the piece for a fast peer. Per DESIGN.md's
// resolution, the Scheduler only calls
// this when activating a new piece for a fast peer; it never
// reassigns an already-owned piece opportunistically.
func (p *ActivePiece) SetExclusiveOwner(peer PeerID) { p.exclusivePeer = g.Some(peer) }

// ClearExclusiveOwner drops ownership, e.g. when HealthMonitor detects
// the owner is no longer connected.
func (p *ActivePiece) ClearExclusiveOwner() { p.exclusivePeer = g.None[PeerID]() }

// ExclusiveOwner returns the current owner, if any.
func (p *ActivePiece) ExclusiveOwner() (PeerID, bool) {
	return p.exclusivePeer.Value, p.exclusivePeer.Ok
}

// Assemble returns the owned buffer directly (no copy). Valid only once
// HasAllBlocks is true; calling earlier is a programmer error.
func (p *ActivePiece) Assemble() []byte {
	if !p.HasAllBlocks() {
		panic("engine: Assemble called before piece complete")
	}
	return p.buffer
}

// Buffer exposes the raw buffer so PieceStore can return it to the pool
// on retirement (verified or abandoned), unzeroed — the next owner
// overwrites every byte it exposes before reading it back.
func (p *ActivePiece) Buffer() []byte { return p.buffer }

// GetContributingPeers returns the set of peers credited with supplying
// at least one block of this piece, consulted on hash-verify failure.
func (p *ActivePiece) GetContributingPeers() map[PeerID]struct{} {
	out := make(map[PeerID]struct{})
	for _, s := range p.senders {
		if s.Ok {
			out[s.Value] = struct{}{}
		}
	}
	return out
}
