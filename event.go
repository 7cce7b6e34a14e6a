package engine

import "sync"

// broadcastEvent is a broadcast-only condition variable, used where
// callers only ever need to wake everyone waiting (e.g. "piece count
// changed") and never a single specific waiter the way
// compatCond.Signal targets. Kept distinct from compatCond because its
// callers pass an ordinary sync.Locker, not necessarily a
// *lockWithDeferreds. The exported name Event belongs to the outward
// event type in events.go.
type broadcastEvent struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

// Wait blocks until Broadcast is called, releasing and reacquiring l
// around the wait the way sync.Cond.Wait does.
func (e *broadcastEvent) Wait(l sync.Locker) {
	e.mu.Lock()
	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	e.mu.Unlock()

	l.Unlock()
	<-ch
	l.Lock()
}

// Broadcast wakes every current waiter.
func (e *broadcastEvent) Broadcast() {
	e.mu.Lock()
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}
