// Package swarm tracks known remote peers for a torrent independent
// of whether a live connection currently exists: discovery source,
// connection state, attempt counts, ban reason, lifetime transfer
// totals, and the strike counters that feed ban decisions. Grounded on
// peer.go's bookkeeping (contribution counters, strike
// thresholds) generalized out of the per-connection type into a
// standalone registry so DownloadCore can consult it for peers it
// isn't currently talking to.
package swarm

import (
	"net"
	"time"
)

// DiscoverySource records how an address was learned.
type DiscoverySource int

const (
	SourceUnknown DiscoverySource = iota
	SourceTracker
	SourceDHT
	SourcePEX
	SourceLPD
	SourceWebseed
)

// ConnState is a known peer's current connection lifecycle state.
type ConnState int

const (
	StateNotConnected ConnState = iota
	StateConnecting
	StateConnected
	StateBanned
)

// Entry is one known remote peer, keyed by network address in the
// Registry. PeerID is only populated once a handshake completes.
type Entry struct {
	Addr      net.Addr
	PeerID    string
	Source    DiscoverySource
	State     ConnState
	CountryHint string

	AttemptCount    int
	LastAttempt     time.Time
	BanReason       string

	BytesIn  int64
	BytesOut int64

	HashFailStrikes int
	TimeoutStrikes  int

	Fast bool // speed-affinity input, computed outside the core
}

// Registry is the set of known peers for one torrent. It is not
// goroutine-safe on its own; callers hold DownloadCore's lock while
// touching it, consistent with the single-logical-task concurrency
// model the rest of the engine package follows.
type Registry struct {
	entries map[string]*Entry

	hashFailBanThreshold int
	timeoutBanThreshold  int
}

// NewRegistry returns an empty Registry. Peers whose HashFailStrikes
// reach hashFailBanThreshold, or TimeoutStrikes reach
// timeoutBanThreshold, are banned for this torrent on the next
// RecordHashFailure/RecordTimeout call that crosses it. A threshold of
// 0 disables that ban path.
func NewRegistry(hashFailBanThreshold, timeoutBanThreshold int) *Registry {
	return &Registry{
		entries:               make(map[string]*Entry),
		hashFailBanThreshold:  hashFailBanThreshold,
		timeoutBanThreshold:   timeoutBanThreshold,
	}
}

func key(addr net.Addr) string { return addr.String() }

// Observe records (or updates) a discovered address, leaving existing
// state untouched beyond the source if the entry already exists.
func (r *Registry) Observe(addr net.Addr, source DiscoverySource) *Entry {
	k := key(addr)
	e, ok := r.entries[k]
	if !ok {
		e = &Entry{Addr: addr, Source: source}
		r.entries[k] = e
	}
	return e
}

// Get returns the entry for addr, if known.
func (r *Registry) Get(addr net.Addr) (*Entry, bool) {
	e, ok := r.entries[key(addr)]
	return e, ok
}

// GetByPeerID linearly scans for an entry with the given peer id. The
// registry is keyed by address because that's what's known before a
// handshake; this lookup exists for the rarer case of correlating a
// banned peer id across reconnect attempts from a different address.
func (r *Registry) GetByPeerID(peerID string) (*Entry, bool) {
	for _, e := range r.entries {
		if e.PeerID == peerID {
			return e, true
		}
	}
	return nil, false
}

// MarkConnecting transitions an entry to StateConnecting and records
// the attempt.
func (r *Registry) MarkConnecting(addr net.Addr, now time.Time) {
	e := r.Observe(addr, SourceUnknown)
	e.State = StateConnecting
	e.AttemptCount++
	e.LastAttempt = now
}

// MarkConnected transitions an entry to StateConnected and records the
// negotiated peer id.
func (r *Registry) MarkConnected(addr net.Addr, peerID string) {
	e := r.Observe(addr, SourceUnknown)
	e.State = StateConnected
	e.PeerID = peerID
}

// MarkDisconnected transitions an entry back to StateNotConnected
// unless it is banned.
func (r *Registry) MarkDisconnected(addr net.Addr) {
	e, ok := r.Get(addr)
	if !ok || e.State == StateBanned {
		return
	}
	e.State = StateNotConnected
}

// Ban marks addr permanently ineligible for reconnection within this
// torrent's registry, recording reason for diagnostics.
func (r *Registry) Ban(addr net.Addr, reason string) {
	e := r.Observe(addr, SourceUnknown)
	e.State = StateBanned
	e.BanReason = reason
}

// IsBanned reports whether addr is currently banned.
func (r *Registry) IsBanned(addr net.Addr) bool {
	e, ok := r.Get(addr)
	return ok && e.State == StateBanned
}

// RecordHashFailure increments addr's hash-failure strike counter,
// banning it if the threshold is reached. Returns true if this call
// caused a ban.
func (r *Registry) RecordHashFailure(addr net.Addr) (banned bool) {
	e := r.Observe(addr, SourceUnknown)
	e.HashFailStrikes++
	if r.hashFailBanThreshold > 0 && e.HashFailStrikes >= r.hashFailBanThreshold {
		e.State = StateBanned
		e.BanReason = "hash failure strikes exceeded"
		return true
	}
	return false
}

// RecordTimeout increments addr's timeout strike counter, banning it
// if the threshold is reached. Returns true if this call caused a ban.
func (r *Registry) RecordTimeout(addr net.Addr) (banned bool) {
	e := r.Observe(addr, SourceUnknown)
	e.TimeoutStrikes++
	if r.timeoutBanThreshold > 0 && e.TimeoutStrikes >= r.timeoutBanThreshold {
		e.State = StateBanned
		e.BanReason = "timeout strikes exceeded"
		return true
	}
	return false
}

// CreditTransfer adds to an entry's lifetime byte counters.
func (r *Registry) CreditTransfer(addr net.Addr, in, out int64) {
	e := r.Observe(addr, SourceUnknown)
	e.BytesIn += in
	e.BytesOut += out
}

// SetFast updates the speed-affinity input for addr, computed outside
// the core from an observed throughput window.
func (r *Registry) SetFast(addr net.Addr, fast bool) {
	e := r.Observe(addr, SourceUnknown)
	e.Fast = fast
}

// Len returns the number of known entries, connected or not.
func (r *Registry) Len() int { return len(r.entries) }

// Each calls f for every known entry.
func (r *Registry) Each(f func(*Entry)) {
	for _, e := range r.entries {
		f(e)
	}
}
