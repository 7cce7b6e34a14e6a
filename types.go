package engine

// BlockSize is the fixed sub-piece request unit, B, per the BitTorrent
// peer-wire protocol. The last block of the last piece may be shorter.
const BlockSize = 16384

// PeerID identifies a connected remote peer for the lifetime of a
// session. The core never interprets it beyond equality.
type PeerID string

// PieceIndex identifies a fixed-index download unit within a torrent.
type PieceIndex int

// BlockIndex identifies a block within a piece, i.e. begin == index*BlockSize.
type BlockIndex int

// Digest is a fixed-width piece hash. BitTorrent v1 (BEP3) piece hashes
// are SHA-1, hence the 20-byte width; see DESIGN.md for why this isn't
// pulled from a third-party digest library.
type Digest [20]byte

// ChunkSpec identifies a byte range within a piece by (begin, length),
// matching the wire REQUEST/CANCEL/PIECE message fields.
type ChunkSpec struct {
	Begin  int64
	Length int64
}

// numBlocks returns the number of BlockSize-wide blocks needed to cover
// a piece of the given length, the last one possibly shorter.
func numBlocks(length int64) int {
	if length <= 0 {
		return 0
	}
	return int((length + BlockSize - 1) / BlockSize)
}

// blockSpan returns the (begin, length) of block i within a piece of the
// given total length.
func blockSpan(length int64, i BlockIndex) ChunkSpec {
	begin := int64(i) * BlockSize
	blen := int64(BlockSize)
	if remaining := length - begin; remaining < blen {
		blen = remaining
	}
	return ChunkSpec{Begin: begin, Length: blen}
}

// PieceClassification is the Scheduler's view of why a piece is or
// isn't eligible for download, derived from file priorities once
// metadata is known.
type PieceClassification int

const (
	// ClassificationWanted pieces are downloaded in full and persisted.
	ClassificationWanted PieceClassification = iota
	// ClassificationBlacklisted pieces overlap only skipped files and are
	// never selected by the Scheduler.
	ClassificationBlacklisted
	// ClassificationBoundary pieces span wanted and skipped files; they
	// must be downloaded to serve the wanted portion but are only
	// persisted over their wanted extent.
	ClassificationBoundary
)
