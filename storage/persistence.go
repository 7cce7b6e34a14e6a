// Package storage implements the persistence collaborator the core
// hands verified piece data to: persistPiece(index, buffer,
// offsetWithinPiece, length) -> ack. The offset/length pair exists so
// boundary pieces (spanning a wanted and a skipped file) only
// persist their wanted extent. Two real backends are provided —
// boltdb for random-access key/value storage and mmap for direct
// file-backed writes — plus an in-memory double for tests, mirroring
// the storage package split (storage/bolt-piece_test.go,
// storage/mmap_test.go name the same two backends).
package storage

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// ErrClosed is returned by any operation on a Persistence after Close.
var ErrClosed = errors.New("storage: persistence closed")

// Persistence is what Verifier's success path writes completed pieces
// through, and what a seeding session reads blocks back from.
type Persistence interface {
	// PersistPiece writes length bytes from buffer[offsetWithinPiece:]
	// at the torrent-relative byte position
	// (index*pieceLength)+offsetWithinPiece. It must not retain buffer
	// past return.
	PersistPiece(ctx context.Context, index int, buffer []byte, offsetWithinPiece, length int64) error

	// ReadAt reads length bytes starting at the given torrent-relative
	// byte offset, for serving REQUEST messages for pieces we hold.
	ReadAt(ctx context.Context, off, length int64) ([]byte, error)

	io.Closer
}

// Layout carries the fixed geometry a Persistence backend needs to
// translate (index, offsetWithinPiece) into an absolute file offset.
type Layout struct {
	PieceLength     int64
	LastPieceLength int64
	NumPieces       int
	TotalLength     int64
}

func (l Layout) byteOffset(index int, offsetWithinPiece int64) int64 {
	return int64(index)*l.PieceLength + offsetWithinPiece
}
