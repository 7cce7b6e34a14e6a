package swarm

import (
	"net"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func addr(s string) net.Addr {
	a, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestRegistryObserveIsIdempotent(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry(0, 0)
	a := addr("1.2.3.4:6881")

	e1 := r.Observe(a, SourceTracker)
	e2 := r.Observe(a, SourceDHT)
	c.Assert(e1, qt.Equals, e2, qt.Commentf("second Observe must not replace the existing entry"))
	c.Assert(e1.Source, qt.Equals, SourceTracker)
}

func TestRegistryConnectionLifecycle(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry(0, 0)
	a := addr("1.2.3.4:6881")
	now := time.Unix(0, 0)

	r.MarkConnecting(a, now)
	e, ok := r.Get(a)
	c.Assert(ok, qt.IsTrue)
	c.Assert(e.State, qt.Equals, StateConnecting)
	c.Assert(e.AttemptCount, qt.Equals, 1)

	r.MarkConnected(a, "peer-id")
	e, _ = r.Get(a)
	c.Assert(e.State, qt.Equals, StateConnected)
	c.Assert(e.PeerID, qt.Equals, "peer-id")

	found, ok := r.GetByPeerID("peer-id")
	c.Assert(ok, qt.IsTrue)
	c.Assert(found, qt.Equals, e)

	r.MarkDisconnected(a)
	e, _ = r.Get(a)
	c.Assert(e.State, qt.Equals, StateNotConnected)
}

func TestRegistryBanPreventsReconnectStateReset(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry(0, 0)
	a := addr("1.2.3.4:6881")

	r.Ban(a, "malicious payload")
	c.Assert(r.IsBanned(a), qt.IsTrue)

	r.MarkDisconnected(a)
	e, _ := r.Get(a)
	c.Assert(e.State, qt.Equals, StateBanned, qt.Commentf("disconnect must not clear a ban"))
}

func TestRegistryHashFailureBanThreshold(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry(3, 0)
	a := addr("1.2.3.4:6881")

	c.Assert(r.RecordHashFailure(a), qt.IsFalse)
	c.Assert(r.RecordHashFailure(a), qt.IsFalse)
	c.Assert(r.RecordHashFailure(a), qt.IsTrue)
	c.Assert(r.IsBanned(a), qt.IsTrue)
}

func TestRegistryTimeoutBanThresholdZeroDisabled(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry(0, 0)
	a := addr("1.2.3.4:6881")

	for i := 0; i < 100; i++ {
		c.Assert(r.RecordTimeout(a), qt.IsFalse)
	}
	c.Assert(r.IsBanned(a), qt.IsFalse)
}

func TestRegistryCreditTransferAccumulates(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry(0, 0)
	a := addr("1.2.3.4:6881")

	r.CreditTransfer(a, 100, 50)
	r.CreditTransfer(a, 20, 5)
	e, _ := r.Get(a)
	c.Assert(e.BytesIn, qt.Equals, int64(120))
	c.Assert(e.BytesOut, qt.Equals, int64(55))
}

func TestRegistryEachAndLen(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry(0, 0)
	r.Observe(addr("1.2.3.4:6881"), SourceTracker)
	r.Observe(addr("5.6.7.8:6881"), SourceWebseed)
	c.Assert(r.Len(), qt.Equals, 2)

	count := 0
	r.Each(func(*Entry) { count++ })
	c.Assert(count, qt.Equals, 2)
}
