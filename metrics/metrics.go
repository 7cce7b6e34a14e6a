// Package metrics exposes per-torrent progress counters (pieces,
// bytes, per-peer down/up) to the UI/telemetry layer named in
// the UI/telemetry layer as Prometheus collectors. Grounded
// on prometheus/client_golang's client-wide counter pattern, scoped
// counters, scoped here to one torrent via constant labels.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector registers and updates the gauges/counters for one
// torrent's download progress. Callers feed it snapshots taken from
// engine.TransferStats and engine.Bitfield rather than it reaching
// into engine state itself, keeping this package dependency-free of
// the core.
type Collector struct {
	bytesDownloaded prometheus.Counter
	bytesUploaded   prometheus.Counter
	bytesWasted     prometheus.Counter
	piecesVerified  prometheus.Counter
	piecesFailed    prometheus.Counter
	piecesComplete  prometheus.Gauge
	piecesTotal     prometheus.Gauge
	activePeers     prometheus.Gauge
}

// NewCollector builds a Collector with the given constant labels
// (typically {"torrent": <info hash or name>}) and registers it with
// reg.
func NewCollector(reg prometheus.Registerer, constLabels prometheus.Labels) *Collector {
	c := &Collector{
		bytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "torrentd_bytes_downloaded_total", ConstLabels: constLabels,
		}),
		bytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "torrentd_bytes_uploaded_total", ConstLabels: constLabels,
		}),
		bytesWasted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "torrentd_bytes_wasted_total", ConstLabels: constLabels,
		}),
		piecesVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "torrentd_pieces_verified_total", ConstLabels: constLabels,
		}),
		piecesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "torrentd_pieces_failed_total", ConstLabels: constLabels,
		}),
		piecesComplete: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "torrentd_pieces_complete", ConstLabels: constLabels,
		}),
		piecesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "torrentd_pieces_total", ConstLabels: constLabels,
		}),
		activePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "torrentd_active_peers", ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(
		c.bytesDownloaded, c.bytesUploaded, c.bytesWasted,
		c.piecesVerified, c.piecesFailed, c.piecesComplete, c.piecesTotal, c.activePeers,
	)
	return c
}

// AddBytesDownloaded increments the downloaded-bytes counter by n.
func (c *Collector) AddBytesDownloaded(n int64) { c.bytesDownloaded.Add(float64(n)) }

// AddBytesUploaded increments the uploaded-bytes counter by n.
func (c *Collector) AddBytesUploaded(n int64) { c.bytesUploaded.Add(float64(n)) }

// AddBytesWasted increments the wasted-bytes counter by n, for blocks
// belonging to pieces that later failed verification.
func (c *Collector) AddBytesWasted(n int64) { c.bytesWasted.Add(float64(n)) }

// IncPiecesVerified increments the verified-piece counter.
func (c *Collector) IncPiecesVerified() { c.piecesVerified.Inc() }

// IncPiecesFailed increments the failed-verification counter.
func (c *Collector) IncPiecesFailed() { c.piecesFailed.Inc() }

// SetPiecesComplete sets the current count of verified pieces.
func (c *Collector) SetPiecesComplete(n int) { c.piecesComplete.Set(float64(n)) }

// SetPiecesTotal sets the torrent's total piece count, a constant
// after metadata is known but simplest to expose as a gauge.
func (c *Collector) SetPiecesTotal(n int) { c.piecesTotal.Set(float64(n)) }

// SetActivePeers sets the current number of connected peer sessions.
func (c *Collector) SetActivePeers(n int) { c.activePeers.Set(float64(n)) }
