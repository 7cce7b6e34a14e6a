// Package requeststrategy holds the rarest-first piece ordering used
// by the Scheduler: a btree keyed by (availability, piece index) so
// "next candidate piece" is a tree minimum lookup rather than a scan.
// Grounded on the internal/request-strategy package, which
// backs the same idea with github.com/ajwerner/btree.
package requeststrategy

import "github.com/ajwerner/btree"

// Item is one piece's position in the ordering: its index and the
// mutable state that determines sort order (availability) plus
// whether it's eligible at all (wanted).
type Item struct {
	Index        int
	Availability int // number of connected peers known to have this piece
	Wanted       bool
}

// less implements rarest-first with a deterministic tie-break: lower
// availability sorts first; ties break by ascending piece index.
func less(a, b *Item) int {
	if a.Availability != b.Availability {
		if a.Availability < b.Availability {
			return -1
		}
		return 1
	}
	if a.Index != b.Index {
		if a.Index < b.Index {
			return -1
		}
		return 1
	}
	return 0
}

// Order is a mutable rarest-first ordering over a torrent's wanted
// pieces, backed by an ajwerner/btree.Set so insert/update/delete and
// in-order scan are all O(log n).
type Order struct {
	tree  btree.Set[Item]
	byIdx map[int]Item
}

// NewOrder returns an empty ordering for a torrent with numPieces
// pieces (capacity hint only, the tree grows as needed).
func NewOrder(numPieces int) *Order {
	return &Order{
		tree:  btree.MakeSet(less),
		byIdx: make(map[int]Item, numPieces),
	}
}

// Upsert inserts or updates the ordering entry for index, returning
// whether this call changed the piece's prior state.
func (o *Order) Upsert(index, availability int, wanted bool) (changed bool) {
	newItem := Item{Index: index, Availability: availability, Wanted: wanted}
	if old, ok := o.byIdx[index]; ok {
		if old == newItem {
			return false
		}
		o.tree.Delete(old)
	}
	o.byIdx[index] = newItem
	o.tree.Upsert(newItem)
	return true
}

// Delete removes index from the ordering entirely, e.g. once a piece
// is verified and no longer a download candidate.
func (o *Order) Delete(index int) {
	old, ok := o.byIdx[index]
	if !ok {
		return
	}
	delete(o.byIdx, index)
	o.tree.Delete(old)
}

// Len returns the number of pieces currently tracked.
func (o *Order) Len() int { return len(o.byIdx) }

// Scan calls f for every tracked piece in rarest-first order, stopping
// early if f returns false. Non-wanted pieces are still visited; the
// caller filters, matching the pattern of letting callers
// apply current eligibility rather than baking it into iteration.
func (o *Order) Scan(f func(Item) bool) {
	it := o.tree.Iterator()
	for it.First(); it.Valid(); it.Next() {
		if !f(it.Cur()) {
			return
		}
	}
}
