package engine

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// ErrActivePieceCapExceeded signals a configuration error: the caller
// asked PieceStore to exceed its fixed cap on simultaneously active
// pieces. Callers are expected to check HasCapacity before activating.
var ErrActivePieceCapExceeded = errors.New("engine: active piece cap exceeded")

// bufferPool hands out fixed-size byte buffers for ActivePiece, keyed
// by piece length (a torrent has at most two lengths: regular and
// last). Returned buffers are not zeroed: the invariant is that every
// byte a buffer exposes is overwritten before it's read, the same
// "unzeroed reuse" rationale as retiring an ActivePiece. Bucket keys are hashed
// with xxhash so one pool can be shared, bucketed, across every
// concurrently-active torrent in a process without a bespoke
// map[int64]*sync.Pool per torrent.
type bufferPool struct {
	mu      sync.Mutex
	buckets map[uint64]*sync.Pool
}

func newBufferPool() *bufferPool {
	return &bufferPool{buckets: make(map[uint64]*sync.Pool)}
}

func poolKey(length int64) uint64 {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(length >> (8 * i))
	}
	return xxhash.Sum64(b[:])
}

func (bp *bufferPool) get(length int64) []byte {
	key := poolKey(length)
	bp.mu.Lock()
	pool, ok := bp.buckets[key]
	if !ok {
		l := length
		pool = &sync.Pool{New: func() any { return make([]byte, l) }}
		bp.buckets[key] = pool
	}
	bp.mu.Unlock()
	buf := pool.Get().([]byte)
	if int64(len(buf)) != length {
		// Pool collision across a rare xxhash bucket clash, or the
		// buffer was allocated for a different length class. Fall
		// through to a fresh allocation rather than risk corrupting
		// neighboring piece data.
		return make([]byte, length)
	}
	return buf
}

// put returns buf to its bucket unzeroed. If the bucket is exhausted or
// was never created (buf came from the "pool miss" fallback above),
// sync.Pool's own Put silently absorbs it or it's simply dropped; both
// are fine since allocation falls through to fresh buffers on a miss.
func (bp *bufferPool) put(buf []byte) {
	key := poolKey(int64(len(buf)))
	bp.mu.Lock()
	pool, ok := bp.buckets[key]
	bp.mu.Unlock()
	if !ok {
		return
	}
	pool.Put(buf) //nolint:staticcheck // intentionally not zeroed, see package doc
}

// PieceStore owns the set of currently-active pieces for a torrent,
// keyed by piece index, plus the buffer pool they draw from. It
// enforces a fixed upper bound on simultaneously active pieces to cap
// memory.
type PieceStore struct {
	pool   *bufferPool
	maxCap int

	pieces map[PieceIndex]*ActivePiece
}

// NewPieceStore returns a PieceStore capped at maxActivePieces
// simultaneously active pieces, sharing pool across callers (e.g.
// other torrents in the same process) if non-nil, or creating its own.
func NewPieceStore(maxActivePieces int, pool *bufferPool) *PieceStore {
	if pool == nil {
		pool = newBufferPool()
	}
	return &PieceStore{
		pool:   pool,
		maxCap: maxActivePieces,
		pieces: make(map[PieceIndex]*ActivePiece),
	}
}

// NewSharedBufferPool constructs a pool suitable for passing to
// multiple PieceStores, e.g. one per torrent in a client, the way the
// teacher's clientPieceRequestOrderKey shares one ordering structure
// across torrents keyed by storage capacity (client-piece-request-order.go).
func NewSharedBufferPool() *bufferPool { return newBufferPool() }

// Len returns the number of currently active pieces.
func (s *PieceStore) Len() int { return len(s.pieces) }

// HasCapacity reports whether another piece may be activated without
// exceeding the configured cap.
func (s *PieceStore) HasCapacity() bool {
	return s.maxCap <= 0 || len(s.pieces) < s.maxCap
}

// Get returns the active piece at index, if any.
func (s *PieceStore) Get(index PieceIndex) (*ActivePiece, bool) {
	p, ok := s.pieces[index]
	return p, ok
}

// Activate creates a new ActivePiece for index, acquiring a buffer from
// the pool. Returns ErrActivePieceCapExceeded if the cap is already
// reached; callers must check HasCapacity first in the common path and
// treat this as a configuration error, not a retryable condition.
func (s *PieceStore) Activate(index PieceIndex, length int64, digest Digest, now time.Time) (*ActivePiece, error) {
	if !s.HasCapacity() {
		return nil, ErrActivePieceCapExceeded
	}
	if _, exists := s.pieces[index]; exists {
		return nil, errors.Errorf("engine: piece %d already active", index)
	}
	buf := s.pool.get(length)
	ap := NewActivePiece(index, length, digest, buf, now)
	s.pieces[index] = ap
	return ap, nil
}

// Retire removes the active piece at index and returns its buffer to
// the pool unzeroed, regardless of whether it completed (verified) or
// was abandoned. Verified pieces must only be retired after
// persistence acknowledges the write.
func (s *PieceStore) Retire(index PieceIndex) {
	p, ok := s.pieces[index]
	if !ok {
		return
	}
	delete(s.pieces, index)
	s.pool.put(p.Buffer())
}

// Each calls f for every currently active piece. f must not mutate the
// map (add/remove pieces); callers wanting to retire while iterating
// should collect indices first.
func (s *PieceStore) Each(f func(*ActivePiece)) {
	for _, p := range s.pieces {
		f(p)
	}
}

// Indices returns a snapshot of active piece indices, safe to iterate
// while retiring pieces.
func (s *PieceStore) Indices() []PieceIndex {
	out := make([]PieceIndex, 0, len(s.pieces))
	for i := range s.pieces {
		out = append(out, i)
	}
	return out
}
