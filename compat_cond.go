package engine

import "sync"

// compatCond is a condition variable matching sync.Cond's contract,
// reimplemented so Wait can special-case lockWithDeferreds: it must
// release the underlying mutex without running deferred actions while
// parked, then reacquire it the same way on wake.
type compatCond struct {
	L sync.Locker

	mu      sync.Mutex
	waiters []chan struct{} // LIFO stack
}

// newCompatCond returns a condition variable associated with l. Panics
// if l is nil, mirroring sync.NewCond.
func newCompatCond(l sync.Locker) *compatCond {
	if l == nil {
		panic("engine: nil Locker passed to newCompatCond")
	}
	return &compatCond{L: l}
}

// Wait atomically unlocks c.L and suspends the caller until Signal or
// Broadcast wakes it, then relocks c.L before returning. The caller
// must hold c.L.
func (c *compatCond) Wait() {
	ch := make(chan struct{})

	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	if lwd, ok := c.L.(*lockWithDeferreds); ok {
		lwd.SafeUnlock()
		<-ch
		lwd.SafeLock()
	} else {
		c.L.Unlock()
		<-ch
		c.L.Lock()
	}
}

// Signal wakes the most recently blocked waiter, if any.
func (c *compatCond) Signal() {
	c.mu.Lock()
	n := len(c.waiters)
	if n > 0 {
		ch := c.waiters[n-1]
		c.waiters = c.waiters[:n-1]
		close(ch)
	}
	c.mu.Unlock()
}

// Broadcast wakes every waiter.
func (c *compatCond) Broadcast() {
	c.mu.Lock()
	for _, ch := range c.waiters {
		close(ch)
	}
	c.waiters = nil
	c.mu.Unlock()
}
