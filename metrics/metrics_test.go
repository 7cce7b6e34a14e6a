package metrics

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorAccumulatesCounters(t *testing.T) {
	c := qt.New(t)
	reg := prometheus.NewRegistry()
	col := NewCollector(reg, prometheus.Labels{"torrent": "test"})

	col.AddBytesDownloaded(100)
	col.AddBytesDownloaded(50)
	col.IncPiecesVerified()
	col.IncPiecesFailed()
	col.SetPiecesComplete(3)
	col.SetPiecesTotal(10)
	col.SetActivePeers(2)

	c.Assert(testutil.ToFloat64(col.bytesDownloaded), qt.Equals, float64(150))
	c.Assert(testutil.ToFloat64(col.piecesVerified), qt.Equals, float64(1))
	c.Assert(testutil.ToFloat64(col.piecesFailed), qt.Equals, float64(1))
	c.Assert(testutil.ToFloat64(col.piecesComplete), qt.Equals, float64(3))
	c.Assert(testutil.ToFloat64(col.piecesTotal), qt.Equals, float64(10))
	c.Assert(testutil.ToFloat64(col.activePeers), qt.Equals, float64(2))
}

func TestCollectorRegistersAllMetrics(t *testing.T) {
	c := qt.New(t)
	reg := prometheus.NewRegistry()
	NewCollector(reg, prometheus.Labels{"torrent": "test"})

	families, err := reg.Gather()
	c.Assert(err, qt.IsNil)
	c.Assert(families, qt.HasLen, 8)
}
