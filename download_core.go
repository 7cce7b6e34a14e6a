package engine

import (
	"context"
	"net"
	"time"

	"github.com/bytewright/torrentd/clock"
	"github.com/bytewright/torrentd/smartban"
	"github.com/bytewright/torrentd/storage"
	"github.com/bytewright/torrentd/swarm"
)

// Config bundles everything DownloadCore needs to own a single
// torrent's download: immutable metadata plus the collaborators it
// drives (persistence, smart-ban cache, clock, health-monitor tuning).
type Config struct {
	PieceLength     int64
	LastPieceLength int64
	Digests         []Digest
	Files           []FileEntry

	MaxActivePieces int
	Persistence     storage.Persistence
	SmartBan        *smartban.Cache // optional
	Clock           clock.Clock

	HealthMonitor HealthMonitorConfig

	HashFailBanThreshold int
	TimeoutBanThreshold  int
}

// DownloadCore owns the Scheduler, PieceStore, swarm Registry, every
// connected PeerSession, the Verifier, and the HealthMonitor for one
// torrent. All mutation of that state happens with lock held, matching
// the single-logical-task
// concurrency model; digest computation and persistence writes are
// the only work this type hands off the calling goroutine (inside
// Verifier.Verify, over an already-detached buffer).
type DownloadCore struct {
	lock lockWithDeferreds

	cfg      Config
	layout   *FileLayout
	store    *PieceStore
	sched    *Scheduler
	registry *swarm.Registry
	health   *HealthMonitor
	verifier *Verifier

	sessions map[PeerID]*PeerSession
	addrs    map[PeerID]net.Addr

	stats  TransferStats
	events chan Event
}

// NewDownloadCore constructs a DownloadCore ready to accept peer
// sessions. The event channel is buffered modestly; callers that fall
// behind draining it will block DownloadCore's mutating calls, by
// design — it keeps backpressure visible rather than silently
// dropping events.
func NewDownloadCore(cfg Config) *DownloadCore {
	layout := NewFileLayout(cfg.Files)
	pool := NewSharedBufferPool()
	store := NewPieceStore(cfg.MaxActivePieces, pool)
	sched := NewScheduler(SchedulerConfig{
		PieceLength:     cfg.PieceLength,
		LastPieceLength: cfg.LastPieceLength,
		Digests:         cfg.Digests,
		Layout:          layout,
		Store:           store,
		MaxActivePieces: cfg.MaxActivePieces,
	})
	dc := &DownloadCore{
		cfg:      cfg,
		layout:   layout,
		store:    store,
		sched:    sched,
		registry: swarm.NewRegistry(cfg.HashFailBanThreshold, cfg.TimeoutBanThreshold),
		health:   NewHealthMonitor(cfg.HealthMonitor, cfg.Clock),
		verifier: NewVerifier(cfg.Persistence, layout, cfg.PieceLength, cfg.SmartBan),
		sessions: make(map[PeerID]*PeerSession),
		addrs:    make(map[PeerID]net.Addr),
		events:   make(chan Event, 256),
	}
	return dc
}

// Events returns the channel PieceVerifiedEvent, PieceFailedEvent,
// HaveBroadcastEvent, EndgameChangedEvent, and PieceAbandonedEvent are
// delivered on. REQUEST and CANCEL go straight to the session's
// outbound queue and are not sent on this channel.
func (dc *DownloadCore) Events() <-chan Event { return dc.events }

func (dc *DownloadCore) emit(e Event) {
	dc.lock.Defer(func() { dc.events <- e })
}

// Stats returns a point-in-time snapshot of transfer counters.
func (dc *DownloadCore) Stats() TransferStats { return dc.stats.Snapshot() }

// Global exposes the verified-pieces bitfield, e.g. for building our
// own outbound BITFIELD message.
func (dc *DownloadCore) Global() *Bitfield { return dc.sched.Global() }

// OnPeerConnected registers a new session and credits its discovered
// address/source into the swarm registry.
func (dc *DownloadCore) OnPeerConnected(id PeerID, addr net.Addr, session *PeerSession, source swarm.DiscoverySource) {
	dc.lock.Lock()
	defer dc.lock.Unlock()
	dc.sessions[id] = session
	dc.addrs[id] = addr
	dc.registry.Observe(addr, source)
	dc.registry.MarkConnected(addr, string(id))
	dc.registry.SetFast(addr, session.Fast)
}

// OnPeerDisconnected clears every outstanding request this peer held
// across all active pieces and removes the session.
func (dc *DownloadCore) OnPeerDisconnected(id PeerID) {
	dc.lock.Lock()
	defer dc.lock.Unlock()
	session, ok := dc.sessions[id]
	if !ok {
		return
	}
	for _, idx := range dc.store.Indices() {
		if ap, ok := dc.store.Get(idx); ok {
			ap.ClearRequestsForPeer(id)
		}
	}
	dc.sched.RemovePeerBitfield(session.PeerBitfield())
	if addr, ok := dc.addrs[id]; ok {
		dc.registry.MarkDisconnected(addr)
	}
	delete(dc.sessions, id)
	delete(dc.addrs, id)
}

// OnBitfield applies a peer's initial BITFIELD to both the session and
// the scheduler's availability counts.
func (dc *DownloadCore) OnBitfield(id PeerID, bits []bool, now time.Time) error {
	dc.lock.Lock()
	defer dc.lock.Unlock()
	session, ok := dc.sessions[id]
	if !ok {
		return ErrUnknownPeer
	}
	if err := session.OnBitfield(bits, now); err != nil {
		return err
	}
	dc.sched.ApplyPeerBitfield(session.PeerBitfield())
	return nil
}

// OnHave applies a single HAVE to both the session and scheduler
// availability.
func (dc *DownloadCore) OnHave(id PeerID, index PieceIndex, now time.Time) error {
	dc.lock.Lock()
	defer dc.lock.Unlock()
	session, ok := dc.sessions[id]
	if !ok {
		return ErrUnknownPeer
	}
	if session.PeerBitfield().Has(index) {
		return nil // benign repeat HAVE
	}
	if err := session.OnHave(index, now); err != nil {
		return err
	}
	dc.sched.IncAvailability(index)
	return nil
}

// PumpRequests asks the Scheduler for work on behalf of id and enqueues
// REQUEST messages up to its free pipeline slots, the caller's
// "when unchoked by the peer" responsibility.
func (dc *DownloadCore) PumpRequests(id PeerID, now time.Time) error {
	dc.lock.Lock()
	defer dc.lock.Unlock()
	session, ok := dc.sessions[id]
	if !ok {
		return ErrUnknownPeer
	}
	if session.PeerChoking() {
		return nil
	}
	for {
		free := session.PipelineSlotsFree()
		if free <= 0 {
			return nil
		}
		ap, err := dc.sched.SelectPiece(id, session.PeerBitfield(), session.Fast, now)
		if err != nil {
			return err
		}
		if ap == nil {
			return nil
		}
		chunks := dc.sched.SelectBlocks(ap, id, free)
		if len(chunks) == 0 {
			return nil
		}
		for _, c := range chunks {
			ap.AddRequest(BlockIndex(c.Begin/BlockSize), id, now)
			session.EnqueueRequest(ap.Index, c)
		}
		if endgame, changed := dc.sched.RecomputeEndgame(); changed {
			dc.emit(EndgameChangedEvent{Endgame: endgame})
		}
	}
}

// OnPieceReceived records a PIECE payload against its ActivePiece,
// cancels any duplicate outstanding requests from other peers, credits
// the sender, fingerprints the block for smartban if configured, and
// triggers verification once the piece is complete.
func (dc *DownloadCore) OnPieceReceived(ctx context.Context, id PeerID, index PieceIndex, begin int64, data []byte, now time.Time) error {
	dc.lock.Lock()
	session, ok := dc.sessions[id]
	if !ok {
		dc.lock.Unlock()
		return ErrUnknownPeer
	}
	ap, active := dc.store.Get(index)
	if !active {
		dc.lock.Unlock()
		return ErrUnexpectedPiece
	}
	blockIdx := BlockIndex(begin / BlockSize)
	if begin < 0 || begin%BlockSize != 0 || int(blockIdx) >= ap.BlockCount() ||
		int64(len(data)) != blockSpan(ap.Length, blockIdx).Length {
		dc.lock.Unlock()
		return ErrBadBlockLength
	}
	classification := dc.sched.Classification(index)

	if dc.cfg.SmartBan != nil {
		if addr, ok := dc.addrs[id]; ok {
			dc.cfg.SmartBan.RecordBlock(addr.String(), smartban.BlockKey{PieceIndex: int(index), Begin: begin}, data)
		}
	}

	// Collected before AddBlock, which clears the block's request records.
	others := ap.GetOtherRequesters(blockIdx, id)
	isNew := ap.AddBlock(blockIdx, data, id, now)
	if isNew {
		session.RecordBlockReceived(int64(len(data)), now)
		dc.stats.BytesDownloaded.Add(int64(len(data)))
		dc.stats.ChunksReceived.Add(1)
		for _, peer := range others {
			if other, ok := dc.sessions[peer]; ok {
				chunk := blockSpan(ap.Length, blockIdx)
				other.EnqueueCancel(index, chunk)
			}
			ap.CancelRequest(blockIdx, peer)
		}
	}

	complete := ap.HasAllBlocks()
	dc.lock.Unlock()

	if !complete {
		return nil
	}
	return dc.verifyPiece(ctx, ap, classification)
}

// OnRequest serves peer id's REQUEST for (index, begin, length) with an
// outbound PIECE when we hold the verified piece, we are not choking
// the peer, and the peer has signaled interest; otherwise the request
// is silently dropped, matching the read-only upload-reciprocity rule.
// The persistence read happens off the lock, mirroring verifyPiece's
// carve-out for I/O.
func (dc *DownloadCore) OnRequest(ctx context.Context, id PeerID, index PieceIndex, begin, length int64, now time.Time) error {
	dc.lock.Lock()
	session, ok := dc.sessions[id]
	if !ok {
		dc.lock.Unlock()
		return ErrUnknownPeer
	}
	if session.AmChoking() || !session.PeerInterested() || !dc.sched.Global().Has(index) {
		dc.lock.Unlock()
		return nil
	}
	dc.lock.Unlock()

	offset := int64(index)*dc.cfg.PieceLength + begin
	data, err := dc.cfg.Persistence.ReadAt(ctx, offset, length)
	if err != nil {
		return err
	}

	dc.lock.Lock()
	defer dc.lock.Unlock()
	session, ok = dc.sessions[id]
	if !ok {
		return nil
	}
	session.EnqueuePiece(index, begin, data)
	session.RecordBlockSent(length, now)
	dc.stats.BytesUploaded.Add(length)
	dc.stats.ChunksSent.Add(1)
	return nil
}

// verifyPiece runs the digest and persistence on the caller's
// goroutine without holding the lock, per the concurrency model's
// digest/persistence carve-out, then re-takes the lock only to apply
// the outcome to shared state.
func (dc *DownloadCore) verifyPiece(ctx context.Context, ap *ActivePiece, classification PieceClassification) error {
	result, err := dc.verifier.Verify(ctx, ap, classification)
	if err != nil {
		return err
	}

	dc.lock.Lock()
	defer dc.lock.Unlock()

	if result.OK {
		dc.sched.MarkVerified(ap.Index)
		dc.store.Retire(ap.Index)
		dc.stats.PiecesVerified.Add(1)
		if dc.cfg.SmartBan != nil {
			dc.cfg.SmartBan.ForgetPiece(int(ap.Index))
		}
		dc.emit(PieceVerifiedEvent{Index: ap.Index})
		dc.emit(HaveBroadcastEvent{Index: ap.Index})
		return nil
	}

	dc.stats.PiecesFailed.Add(1)
	dc.stats.BytesWasted.Add(ap.Length)
	for peer := range result.BlameSet {
		if addr, ok := dc.addrs[peer]; ok {
			dc.registry.RecordHashFailure(addr)
		}
	}
	dc.store.Retire(ap.Index)
	dc.sched.NotifyRetired(ap.Index)
	if dc.cfg.SmartBan != nil {
		dc.cfg.SmartBan.ForgetPiece(int(ap.Index))
	}
	dc.emit(PieceFailedEvent{Index: ap.Index, BlameSet: result.BlameSet, Dissenters: result.Dissenters})
	return nil
}

// Tick runs the periodic health pass, emitting CANCEL
// commands for timed-out requests and PieceAbandonedEvent for
// abandoned pieces.
func (dc *DownloadCore) Tick() {
	dc.lock.Lock()
	defer dc.lock.Unlock()

	isConnected := func(p PeerID) bool { _, ok := dc.sessions[p]; return ok }
	timeouts, abandoned := dc.health.Tick(dc.store, isConnected)

	for _, t := range timeouts {
		dc.registry.RecordTimeout(dc.addrs[t.Peer])
		if session, ok := dc.sessions[t.Peer]; ok {
			ap, active := dc.store.Get(t.Piece)
			if active {
				session.EnqueueCancel(t.Piece, blockSpan(ap.Length, t.Block))
			}
		}
	}
	for _, a := range abandoned {
		dc.sched.NotifyRetired(a.Piece)
		dc.emit(PieceAbandonedEvent{Index: a.Piece, Progress: a.Progress})
	}
	if endgame, changed := dc.sched.RecomputeEndgame(); changed {
		dc.emit(EndgameChangedEvent{Endgame: endgame})
	}
}

// ApplyFilePriority changes one file's priority and reclassifies
// pieces to match the new priority.
func (dc *DownloadCore) ApplyFilePriority(fileIndex int, priority FilePriority) {
	dc.lock.Lock()
	defer dc.lock.Unlock()
	dc.layout.SetPriority(fileIndex, priority)
	dc.sched.Reclassify()
}
