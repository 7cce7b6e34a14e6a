// Command download-engine runs a single-torrent download against a
// small JSON metadata sidecar and a fixed peer list, exercising the
// core engine package end to end without a tracker/DHT stack. Full
// bencode .torrent parsing and peer discovery are outside the core's
// scope, so this command takes pre-resolved metadata and addresses
// instead: alexflint/go-arg for flag parsing, anacrolix/envpprof for
// opt-in profiling via environment variables, anacrolix/log for
// structured logging, dustin/go-humanize for human-readable progress
// output, prometheus/client_golang (via the metrics package) for an
// opt-in /metrics endpoint.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	engine "github.com/bytewright/torrentd"
	"github.com/bytewright/torrentd/clock"
	"github.com/bytewright/torrentd/metrics"
	pp "github.com/bytewright/torrentd/peerprotocol"
	"github.com/bytewright/torrentd/storage"
	"github.com/bytewright/torrentd/swarm"
)

type args struct {
	Metadata        string        `arg:"positional,required" help:"path to a JSON metadata sidecar describing the torrent"`
	DataDir         string        `arg:"--data-dir" default:"." help:"directory to persist downloaded data into"`
	MaxActivePieces int           `arg:"--max-active-pieces" default:"32"`
	TickInterval    time.Duration `arg:"--tick-interval" default:"1s"`
	Backend         string        `arg:"--backend" default:"mmap" help:"mmap, bolt, or memory"`
	Peer            []string      `arg:"--peer" help:"host:port of a peer to dial; may be repeated"`
	MetricsAddr     string        `arg:"--metrics-addr" help:"if set, serve Prometheus metrics at this address, e.g. :9100"`
}

// metadataFile is the sidecar format this command reads in place of
// real bencode metainfo. A real embedding application constructs
// engine.Config directly from parsed metainfo instead.
type metadataFile struct {
	PieceLength     int64    `json:"piece_length"`
	LastPieceLength int64    `json:"last_piece_length"`
	Digests         []string `json:"digests"` // hex-encoded SHA-1, one per piece
	Files           []struct {
		Length  int64 `json:"length"`
		Skipped bool  `json:"skipped"`
	} `json:"files"`
}

func main() {
	var a args
	arg.MustParse(&a)
	defer envpprof.Stop()

	logger := log.Default.WithNames("download-engine")
	if err := run(a, logger); err != nil {
		logger.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(a args, logger log.Logger) error {
	meta, err := loadMetadata(a.Metadata)
	if err != nil {
		return fmt.Errorf("loading metadata: %w", err)
	}

	layout := storage.Layout{
		PieceLength:     meta.PieceLength,
		LastPieceLength: meta.LastPieceLength,
		NumPieces:       len(meta.Digests),
		TotalLength:     totalLength(meta),
	}
	persistence, err := newPersistence(a.Backend, a.DataDir, layout)
	if err != nil {
		return err
	}
	defer persistence.Close()

	digests, err := decodeDigests(meta.Digests)
	if err != nil {
		return err
	}
	files := make([]engine.FileEntry, len(meta.Files))
	for i, f := range meta.Files {
		priority := engine.FileWanted
		if f.Skipped {
			priority = engine.FileSkipped
		}
		files[i] = engine.FileEntry{Length: f.Length, Priority: priority}
	}

	core := engine.NewDownloadCore(engine.Config{
		PieceLength:          meta.PieceLength,
		LastPieceLength:      meta.LastPieceLength,
		Digests:              digests,
		Files:                files,
		MaxActivePieces:      a.MaxActivePieces,
		Persistence:          persistence,
		Clock:                clock.NewSystem(),
		HealthMonitor:        engine.DefaultHealthMonitorConfig(),
		HashFailBanThreshold: 3,
		TimeoutBanThreshold:  10,
	})

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg, prometheus.Labels{"torrent": a.Metadata})
	collector.SetPiecesTotal(len(digests))
	if a.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: a.MetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server: %v", err)
			}
		}()
		defer server.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, addr := range a.Peer {
		go dialPeer(ctx, core, addr, len(digests), logger)
	}

	ticker := time.NewTicker(a.TickInterval)
	defer ticker.Stop()
	var prev engine.TransferStats
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-core.Events():
			logEvent(logger, ev)
		case <-ticker.C:
			core.Tick()
			stats := core.Stats()
			reportDelta(collector, prev, stats)
			collector.SetPiecesComplete(core.Global().Count())
			prev = stats
			logger.Printf("progress: %d/%d pieces, %s downloaded, %s uploaded",
				core.Global().Count(), core.Global().NumPieces(),
				humanize.Bytes(uint64(stats.BytesDownloaded.Int64())),
				humanize.Bytes(uint64(stats.BytesUploaded.Int64())))
		}
	}
}

// reportDelta feeds the monotonic TransferStats counters into
// collector's Prometheus counters, which only support Add/Inc, as the
// increase since the previous tick.
func reportDelta(collector *metrics.Collector, prev, cur engine.TransferStats) {
	collector.AddBytesDownloaded(cur.BytesDownloaded.Int64() - prev.BytesDownloaded.Int64())
	collector.AddBytesUploaded(cur.BytesUploaded.Int64() - prev.BytesUploaded.Int64())
	collector.AddBytesWasted(cur.BytesWasted.Int64() - prev.BytesWasted.Int64())
	for i := prev.PiecesVerified.Int64(); i < cur.PiecesVerified.Int64(); i++ {
		collector.IncPiecesVerified()
	}
	for i := prev.PiecesFailed.Int64(); i < cur.PiecesFailed.Int64(); i++ {
		collector.IncPiecesFailed()
	}
}

func dialPeer(ctx context.Context, core *engine.DownloadCore, addr string, numPieces int, logger log.Logger) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		logger.Printf("dial %s: %v", addr, err)
		return
	}
	defer conn.Close()

	writer := pp.NewWriter(conn, 2*time.Minute)
	session := engine.NewPeerSession(engine.PeerID(addr), numPieces, writer, time.Now())
	core.OnPeerConnected(engine.PeerID(addr), conn.RemoteAddr(), session, swarm.SourceUnknown)
	defer core.OnPeerDisconnected(engine.PeerID(addr))

	for {
		msg, err := pp.ReadMessage(conn, numPieces)
		if err != nil {
			logger.Printf("peer %s: read error: %v", addr, err)
			return
		}
		if msg.Keepalive {
			continue
		}
		now := time.Now()
		switch msg.ID {
		case pp.Bitfield:
			core.OnBitfield(engine.PeerID(addr), msg.BitfieldBits, now)
		case pp.Have:
			core.OnHave(engine.PeerID(addr), engine.PieceIndex(msg.Index), now)
		case pp.Unchoke:
			session.OnUnchoke(now)
			core.PumpRequests(engine.PeerID(addr), now)
		case pp.Choke:
			session.OnChoke(now)
		case pp.Piece:
			core.OnPieceReceived(ctx, engine.PeerID(addr), engine.PieceIndex(msg.Index), msg.Begin, msg.Piece_, now)
			core.PumpRequests(engine.PeerID(addr), now)
		case pp.Interested:
			session.OnInterested(now)
		case pp.NotInterested:
			session.OnNotInterested(now)
		case pp.Request:
			core.OnRequest(ctx, engine.PeerID(addr), engine.PieceIndex(msg.Index), msg.Begin, msg.Length, now)
		case pp.Cancel:
			// No outbound piece queue to cancel from: OnRequest answers a
			// REQUEST synchronously into the writer's coalescing buffer
			// before the next Flush, so a CANCEL arriving after that can't
			// un-send it.
		}
		if n, err := writer.Flush(); err != nil {
			logger.Printf("peer %s: write error after %d bytes: %v", addr, n, err)
			return
		}
	}
}

func logEvent(logger log.Logger, ev engine.Event) {
	switch e := ev.(type) {
	case engine.PieceVerifiedEvent:
		logger.Printf("piece %d verified", e.Index)
	case engine.PieceFailedEvent:
		logger.Printf("piece %d failed verification, %d contributors", e.Index, len(e.BlameSet))
	case engine.PieceAbandonedEvent:
		logger.Printf("piece %d abandoned at %.0f%% progress", e.Index, e.Progress*100)
	case engine.EndgameChangedEvent:
		logger.Printf("endgame: %v", e.Endgame)
	}
}

func newPersistence(backend, dataDir string, layout storage.Layout) (storage.Persistence, error) {
	switch backend {
	case "mmap":
		return storage.NewMMap(dataDir, layout)
	case "bolt":
		return storage.NewBolt(dataDir, layout)
	case "memory":
		return storage.NewMemory(layout), nil
	default:
		return nil, fmt.Errorf("download-engine: unknown backend %q", backend)
	}
}

func loadMetadata(path string) (*metadataFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var m metadataFile
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func decodeDigests(hexDigests []string) ([]engine.Digest, error) {
	out := make([]engine.Digest, len(hexDigests))
	for i, h := range hexDigests {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("digest %d: %w", i, err)
		}
		if len(b) != len(engine.Digest{}) {
			return nil, fmt.Errorf("digest %d: expected %d bytes, got %d", i, len(engine.Digest{}), len(b))
		}
		copy(out[i][:], b)
	}
	return out, nil
}

func totalLength(m *metadataFile) int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Length
	}
	return total
}
