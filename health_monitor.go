package engine

import (
	"time"

	"github.com/bytewright/torrentd/clock"
)

// HealthMonitorConfig holds the periodic health pass's tunables, with their
// defaults.
type HealthMonitorConfig struct {
	TickInterval     time.Duration // recommended 1s
	RequestTimeout   time.Duration // default ~30s
	AbandonTimeout   time.Duration // default 2min
	AbandonMinProgress float64     // default 0.5
}

// DefaultHealthMonitorConfig returns the recommended
// defaults.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		TickInterval:       time.Second,
		RequestTimeout:     30 * time.Second,
		AbandonTimeout:     2 * time.Minute,
		AbandonMinProgress: 0.5,
	}
}

// TimeoutEvent is one stale request HealthMonitor found, for
// DownloadCore to turn into an outbound CANCEL.
type TimeoutEvent struct {
	Piece PieceIndex
	Block BlockIndex
	Peer  PeerID
}

// AbandonEvent reports a piece given up on for insufficient progress.
type AbandonEvent struct {
	Piece    PieceIndex
	Progress float64
}

// HealthMonitor runs the periodic tick: it
// clears stale per-block requests (emitting TimeoutEvents so the
// caller can send CANCEL), abandons pieces stuck below
// AbandonMinProgress for longer than AbandonTimeout, and clears
// exclusive ownership when the owning peer is no longer connected.
// Driven by an injected clock.Clock so tests can advance time
// deterministically instead of sleeping.
type HealthMonitor struct {
	cfg   HealthMonitorConfig
	clock clock.Clock
}

// NewHealthMonitor returns a HealthMonitor using cfg and clk.
func NewHealthMonitor(cfg HealthMonitorConfig, clk clock.Clock) *HealthMonitor {
	return &HealthMonitor{cfg: cfg, clock: clk}
}

// Tick runs one health pass over every active piece in store.
// isConnected reports whether a peer is currently connected, used to
// clear ownership for peers that disconnected without ever timing out
// a request. Returns the timeout and abandon events produced.
func (h *HealthMonitor) Tick(store *PieceStore, isConnected func(PeerID) bool) ([]TimeoutEvent, []AbandonEvent) {
	now := h.clock.Now()
	var timeouts []TimeoutEvent
	var abandoned []AbandonEvent

	for _, idx := range store.Indices() {
		ap, ok := store.Get(idx)
		if !ok {
			continue
		}
		for _, s := range ap.GetStaleRequests(now, h.cfg.RequestTimeout) {
			timeouts = append(timeouts, TimeoutEvent{Piece: idx, Block: s.Block, Peer: s.Peer})
		}
		if owner, hasOwner := ap.ExclusiveOwner(); hasOwner && !isConnected(owner) {
			ap.ClearExclusiveOwner()
		}
		if h.shouldAbandon(ap, now) {
			abandoned = append(abandoned, AbandonEvent{Piece: idx, Progress: ap.Progress()})
			store.Retire(idx)
		}
	}
	return timeouts, abandoned
}

// shouldAbandon reports
// true if the piece has been active longer than AbandonTimeout and
// its progress is still below AbandonMinProgress.
func (h *HealthMonitor) shouldAbandon(ap *ActivePiece, now time.Time) bool {
	if now.Sub(ap.ActivatedAt) < h.cfg.AbandonTimeout {
		return false
	}
	return ap.Progress() < h.cfg.AbandonMinProgress
}
