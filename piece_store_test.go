package engine

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestPieceStoreCapacityEnforced(t *testing.T) {
	c := qt.New(t)
	now := time.Unix(0, 0)
	store := NewPieceStore(2, nil)

	c.Assert(store.HasCapacity(), qt.IsTrue)
	_, err := store.Activate(0, BlockSize, Digest{}, now)
	c.Assert(err, qt.IsNil)
	_, err = store.Activate(1, BlockSize, Digest{}, now)
	c.Assert(err, qt.IsNil)
	c.Assert(store.HasCapacity(), qt.IsFalse)

	_, err = store.Activate(2, BlockSize, Digest{}, now)
	c.Assert(err, qt.Equals, ErrActivePieceCapExceeded)
	c.Assert(store.Len(), qt.Equals, 2)
}

func TestPieceStoreActivateDuplicateIndexErrors(t *testing.T) {
	c := qt.New(t)
	now := time.Unix(0, 0)
	store := NewPieceStore(0, nil)
	_, err := store.Activate(0, BlockSize, Digest{}, now)
	c.Assert(err, qt.IsNil)
	_, err = store.Activate(0, BlockSize, Digest{}, now)
	c.Assert(err, qt.IsNotNil)
}

func TestPieceStoreRetireReturnsBufferToPool(t *testing.T) {
	c := qt.New(t)
	now := time.Unix(0, 0)
	pool := NewSharedBufferPool()
	store := NewPieceStore(0, pool)

	ap, err := store.Activate(0, BlockSize, Digest{}, now)
	c.Assert(err, qt.IsNil)
	buf := ap.Buffer()
	store.Retire(0)
	_, ok := store.Get(0)
	c.Assert(ok, qt.IsFalse)

	// The pool should hand the same backing buffer back out for the
	// same length class; assert on length rather than identity since
	// sync.Pool offers no strict reuse guarantee.
	reused := pool.get(BlockSize)
	c.Assert(len(reused), qt.Equals, len(buf))
}

func TestPieceStoreEachAndIndices(t *testing.T) {
	c := qt.New(t)
	now := time.Unix(0, 0)
	store := NewPieceStore(0, nil)
	store.Activate(0, BlockSize, Digest{}, now)
	store.Activate(1, BlockSize, Digest{}, now)

	seen := map[PieceIndex]bool{}
	store.Each(func(ap *ActivePiece) { seen[ap.Index] = true })
	c.Assert(seen, qt.HasLen, 2)

	indices := store.Indices()
	c.Assert(indices, qt.HasLen, 2)
}

func TestBufferPoolBucketsByLength(t *testing.T) {
	c := qt.New(t)
	pool := newBufferPool()
	small := pool.get(1024)
	large := pool.get(BlockSize)
	c.Assert(len(small), qt.Equals, 1024)
	c.Assert(len(large), qt.Equals, BlockSize)
	pool.put(small)
	pool.put(large)
}
