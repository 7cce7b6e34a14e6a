// Package smartban corroborates hash-verify failures across the
// peers that contributed blocks to a failed piece: it fingerprints
// every block as it arrives, and once a piece fails verification,
// compares fingerprints for the same block from different peers to
// find disagreement, which is stronger evidence than "contributed to
// a failed piece" alone. Grounded on
// recordBlockForSmartBan call site in peer.go, which names the shape
// (peer address, request, block bytes) without shipping the cache
// implementation in the retrieved pack.
package smartban

import (
	"sync"

	"lukechampine.com/blake3"
)

// BlockKey identifies a block within a torrent by piece index and
// byte offset, independent of which peer sent it.
type BlockKey struct {
	PieceIndex int
	Begin      int64
}

type fingerprint = [32]byte

// Cache holds per-block, per-peer fingerprints for pieces currently in
// flight. Entries are cheap (32 bytes per observation) and must be
// forgotten once a piece resolves (verified or abandoned) to bound
// memory; Forget does that.
type Cache struct {
	mu      sync.Mutex
	records map[BlockKey]map[string]fingerprint
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{records: make(map[BlockKey]map[string]fingerprint)}
}

// RecordBlock fingerprints data and stores it against (key, peerAddr).
// Safe to call for every block received, verified piece or not. Every
// call hashes data; fingerprints are only compared (Corroborate) for
// blocks belonging to pieces that later fail.
func (c *Cache) RecordBlock(peerAddr string, key BlockKey, data []byte) {
	fp := blake3.Sum256(data)
	c.mu.Lock()
	defer c.mu.Unlock()
	peers, ok := c.records[key]
	if !ok {
		peers = make(map[string]fingerprint)
		c.records[key] = peers
	}
	peers[peerAddr] = fp
}

// Corroborate returns the peer addresses whose fingerprint for key
// disagrees with the majority fingerprint recorded for it. An empty
// result with len(records) > 1 means every peer sent identical bytes
// for this block, so the disagreement (if any) lies elsewhere in the
// piece. Called once per block of a piece that failed verification.
func (c *Cache) Corroborate(key BlockKey) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	peers, ok := c.records[key]
	if !ok || len(peers) < 2 {
		return nil
	}
	counts := make(map[fingerprint]int, len(peers))
	for _, fp := range peers {
		counts[fp]++
	}
	var majority fingerprint
	best := -1
	for fp, n := range counts {
		if n > best {
			best, majority = n, fp
		}
	}
	var dissenters []string
	for addr, fp := range peers {
		if fp != majority {
			dissenters = append(dissenters, addr)
		}
	}
	return dissenters
}

// Forget discards all recorded fingerprints for key, called once the
// owning piece is retired (verified or abandoned).
func (c *Cache) Forget(key BlockKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, key)
}

// ForgetPiece discards every recorded block belonging to pieceIndex in
// one pass, used on piece retirement instead of enumerating blocks.
func (c *Cache) ForgetPiece(pieceIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.records {
		if k.PieceIndex == pieceIndex {
			delete(c.records, k)
		}
	}
}
