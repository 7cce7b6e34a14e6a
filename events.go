package engine

// Event is the sum of outward notifications DownloadCore emits, per
// the outward notification list. Consumers (UI,
// telemetry, the transport layer) receive these over the channel
// DownloadCore.Events returns, rather than through callbacks, keeping
// DownloadCore itself free of knowledge about who's listening.
type Event interface{ isEvent() }

// PieceVerifiedEvent fires once a piece's digest matches and its
// wanted extent has been persisted.
type PieceVerifiedEvent struct {
	Index PieceIndex
}

// PieceFailedEvent fires when a piece's digest didn't match.
// BlameSet names every peer that contributed at least one block;
// Dissenters (if smartban is wired in) narrows that to peers whose
// block-level fingerprint disagreed with the majority.
type PieceFailedEvent struct {
	Index      PieceIndex
	BlameSet   map[PeerID]struct{}
	Dissenters []string
}

// RequestCommand tells a PeerSession to send REQUEST.
type RequestCommand struct {
	Peer  PeerID
	Piece PieceIndex
	Chunk ChunkSpec
}

// CancelCommand tells a PeerSession to send CANCEL.
type CancelCommand struct {
	Peer  PeerID
	Piece PieceIndex
	Chunk ChunkSpec
}

// HaveBroadcastEvent tells every connected session to send HAVE.
type HaveBroadcastEvent struct {
	Index PieceIndex
}

// EndgameChangedEvent fires whenever the Scheduler's endgame state
// transitions, for the surrounding system to log.
type EndgameChangedEvent struct {
	Endgame bool
}

// PieceAbandonedEvent fires when HealthMonitor gives up on a
// low-progress piece.
type PieceAbandonedEvent struct {
	Index    PieceIndex
	Progress float64
}

func (PieceVerifiedEvent) isEvent()   {}
func (PieceFailedEvent) isEvent()     {}
func (RequestCommand) isEvent()       {}
func (CancelCommand) isEvent()        {}
func (HaveBroadcastEvent) isEvent()   {}
func (EndgameChangedEvent) isEvent()  {}
func (PieceAbandonedEvent) isEvent()  {}
