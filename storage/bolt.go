package storage

import (
	"context"
	"encoding/binary"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var piecesBucket = []byte("pieces")

// Bolt persists pieces as individual values in a boltdb database file,
// keyed by their absolute torrent byte offset. It trades sequential
// write throughput for crash-safe, transactional random access —
// suited to a seeding node that's frequently serving partial-file
// reads rather than writing once sequentially. Mirrors the backend the
// teacher names storage.NewBoltDB.
type Bolt struct {
	db     *bolt.DB
	layout Layout
}

// NewBolt opens (creating if absent) a boltdb database under dir for a
// torrent with the given layout.
func NewBolt(dir string, layout Layout) (*Bolt, error) {
	db, err := bolt.Open(filepath.Join(dir, "pieces.bolt"), 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(piecesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db, layout: layout}, nil
}

func offsetKey(off int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(off))
	return b[:]
}

func (b *Bolt) PersistPiece(ctx context.Context, index int, buffer []byte, offsetWithinPiece, length int64) error {
	off := b.layout.byteOffset(index, offsetWithinPiece)
	chunk := make([]byte, length)
	copy(chunk, buffer[offsetWithinPiece:offsetWithinPiece+length])
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(piecesBucket).Put(offsetKey(off), chunk)
	})
}

// ReadAt reassembles length bytes starting at off from whatever
// previously-written chunks overlap the range. Chunk boundaries in
// this backend always align to persisted PersistPiece calls, so a
// single-chunk fast path covers the common case of reading back
// exactly what was written; partial overlaps fall back to a bucket
// scan.
func (b *Bolt) ReadAt(ctx context.Context, off, length int64) ([]byte, error) {
	out := make([]byte, length)
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(piecesBucket)
		if v := bkt.Get(offsetKey(off)); v != nil && int64(len(v)) == length {
			copy(out, v)
			return nil
		}
		c := bkt.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			chunkOff := int64(binary.BigEndian.Uint64(k))
			chunkEnd := chunkOff + int64(len(v))
			reqEnd := off + length
			if chunkEnd <= off || chunkOff >= reqEnd {
				continue
			}
			ovStart := max64(chunkOff, off)
			ovEnd := min64(chunkEnd, reqEnd)
			copy(out[ovStart-off:ovEnd-off], v[ovStart-chunkOff:ovEnd-chunkOff])
		}
		return nil
	})
	return out, err
}

func (b *Bolt) Close() error { return b.db.Close() }

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
