package engine

import "github.com/pkg/errors"

// Standard-library-plus-pkg/errors justification: the core's error
// taxonomy is a handful of sentinel values distinguished by
// errors.Is, wrapped with call-site context via github.com/pkg/errors
// the way storage and protocol errors are wrapped elsewhere in this
// module; no dedicated
// multi-error or error-group library in the retrieved pack fits this
// better than sentinels + Wrap/Wrapf (see DESIGN.md).
var (
	// PieceStore.Activate's cap error, ErrActivePieceCapExceeded, is
	// defined in piece_store.go, kept alongside the type it guards.

	// ErrBadBlockLength signals a PIECE payload whose declared length
	// doesn't match the block's expected span — a protocol violation.
	ErrBadBlockLength = errors.Wrap(ErrProtocolViolation, "block length mismatch")

	// ErrUnknownPiece signals a REQUEST or CANCEL referencing a
	// piece index we don't have active (and, for REQUEST, don't hold).
	ErrUnknownPiece = errors.Wrap(ErrProtocolViolation, "unknown piece index")

	// ErrUnexpectedPiece signals a PIECE for a piece we don't have
	// active — distinct from ErrUnknownPiece's REQUEST/CANCEL case
	// because a PIECE for an inactive index is a distinct violation from a REQUEST/CANCEL one.
	ErrUnexpectedPiece = errors.Wrap(ErrProtocolViolation, "unexpected piece for inactive piece index")

	// ErrUnknownPeer is returned when a caller references a PeerID with
	// no active session, e.g. a late event arriving after disconnect.
	ErrUnknownPeer = errors.New("engine: unknown peer")
)
