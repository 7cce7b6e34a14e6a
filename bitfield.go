package engine

import (
	"github.com/RoaringBitmap/roaring"
)

// Bitfield is a compact bitset over pieces, indicating verified
// completions. Used by the Scheduler to skip completed pieces and by
// the session layer to gate which blocks may be sent. Grounded on
// peer.go's use of RoaringBitmap/roaring for peerPieces()/newPeerPieces().
type Bitfield struct {
	bm        *roaring.Bitmap
	numPieces int
}

// NewBitfield returns an empty bitfield sized for numPieces.
func NewBitfield(numPieces int) *Bitfield {
	return &Bitfield{bm: roaring.New(), numPieces: numPieces}
}

// Has reports whether piece i is marked complete.
func (b *Bitfield) Has(i PieceIndex) bool {
	return b.bm.Contains(uint32(i))
}

// Set marks piece i complete.
func (b *Bitfield) Set(i PieceIndex) {
	b.bm.Add(uint32(i))
}

// Clear unmarks piece i, used when a verified-in-memory piece's
// persistence ultimately fails hard enough to require re-download
// (persistence-failure handling normally just
// retries without clearing; Clear exists for that escalation path).
func (b *Bitfield) Clear(i PieceIndex) {
	b.bm.Remove(uint32(i))
}

// Count returns the number of pieces marked complete.
func (b *Bitfield) Count() int {
	return int(b.bm.GetCardinality())
}

// NumPieces returns the torrent's total piece count.
func (b *Bitfield) NumPieces() int { return b.numPieces }

// Complete reports whether every piece is marked.
func (b *Bitfield) Complete() bool {
	return b.Count() == b.numPieces
}

// Clone returns an independent copy, used when diffing a peer's
// advertised bitfield against ours for interest recomputation.
func (b *Bitfield) Clone() *Bitfield {
	return &Bitfield{bm: b.bm.Clone(), numPieces: b.numPieces}
}

// Iterate calls f for every set piece index in ascending order,
// stopping early if f returns false.
func (b *Bitfield) Iterate(f func(PieceIndex) bool) {
	it := b.bm.Iterator()
	for it.HasNext() {
		if !f(PieceIndex(it.Next())) {
			return
		}
	}
}
