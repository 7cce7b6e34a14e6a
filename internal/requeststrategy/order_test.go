package requeststrategy

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestOrderRarestFirst(t *testing.T) {
	c := qt.New(t)
	o := NewOrder(4)
	o.Upsert(0, 5, true)
	o.Upsert(1, 1, true)
	o.Upsert(2, 3, true)
	o.Upsert(3, 1, true)

	var order []int
	o.Scan(func(it Item) bool {
		order = append(order, it.Index)
		return true
	})
	// availability 1 pieces (1, 3) sort before availability 3 (2) before
	// availability 5 (0); ties break by ascending index.
	c.Assert(order, qt.DeepEquals, []int{1, 3, 2, 0})
}

func TestOrderUpsertNoopWhenUnchanged(t *testing.T) {
	c := qt.New(t)
	o := NewOrder(1)
	changed := o.Upsert(0, 2, true)
	c.Assert(changed, qt.IsTrue)
	changed = o.Upsert(0, 2, true)
	c.Assert(changed, qt.IsFalse)
}

func TestOrderDeleteRemovesFromScan(t *testing.T) {
	c := qt.New(t)
	o := NewOrder(2)
	o.Upsert(0, 1, true)
	o.Upsert(1, 2, true)
	o.Delete(0)
	c.Assert(o.Len(), qt.Equals, 1)

	var order []int
	o.Scan(func(it Item) bool {
		order = append(order, it.Index)
		return true
	})
	c.Assert(order, qt.DeepEquals, []int{1})
}

func TestOrderScanEarlyStop(t *testing.T) {
	c := qt.New(t)
	o := NewOrder(3)
	o.Upsert(0, 1, true)
	o.Upsert(1, 2, true)
	o.Upsert(2, 3, true)

	var seen []int
	o.Scan(func(it Item) bool {
		seen = append(seen, it.Index)
		return len(seen) < 2
	})
	c.Assert(seen, qt.DeepEquals, []int{0, 1})
}
