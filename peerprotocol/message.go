// Package peerprotocol implements the BitTorrent peer-wire message
// set: framing (4-byte big-endian length prefix, 1-byte id, payload),
// the core message types, and the extension-protocol envelope. It is
// deliberately standalone from the engine package so it can be tested
// and reused without pulling in download-state concerns, mirroring the
// teacher's split between its root package and peer_protocol.
package peerprotocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// ID identifies a peer-wire message's type, the single byte following
// the length prefix.
type ID byte

const (
	Choke ID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
	Port
	// Extended is BEP 10's extension-protocol envelope: a payload of
	// (extendedID byte, bencoded-or-raw body).
	Extended ID = 20
)

func (id ID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Port:
		return "port"
	case Extended:
		return "extended"
	default:
		return fmt.Sprintf("unknown(%d)", byte(id))
	}
}

// MaxLength bounds a single message's declared length, rejecting
// peers that advertise implausible frame sizes before we try to
// allocate a buffer for them.
const MaxLength = 1 << 23 // 8 MiB, comfortably above any real piece*overhead

// ErrKeepAlive names the zero-length keepalive frame for callers that
// want to report one as an error value. ReadMessage itself does not
// return it: it returns a Message with Keepalive set and a nil error.
var ErrKeepAlive = errors.New("peerprotocol: keepalive")

// Message is a decoded peer-wire message. Only the fields relevant to
// ID are populated; this mirrors peer_protocol.Message's
// tagged-union-by-convention rather than a Go sum type, since the wire
// format itself is a tagged union keyed by ID.
type Message struct {
	Keepalive bool
	ID        ID

	Index, Begin, Length int64 // Have/Request/Piece/Cancel
	BitfieldBits         []bool
	Piece_               []byte // Piece payload; named with underscore to avoid shadowing the ID constant
	Port                 uint16

	ExtendedID      byte
	ExtendedPayload []byte
}

// WriteTo encodes m onto w in wire format, returning the number of
// bytes written.
func (m Message) WriteTo(w io.Writer) (n int64, err error) {
	buf := m.MarshalBinary()
	nn, err := w.Write(buf)
	return int64(nn), err
}

// MarshalBinary encodes m including its 4-byte length prefix.
func (m Message) MarshalBinary() []byte {
	if m.Keepalive {
		return []byte{0, 0, 0, 0}
	}
	var payload []byte
	switch m.ID {
	case Choke, Unchoke, Interested, NotInterested:
	case Have:
		payload = make([]byte, 4)
		binary.BigEndian.PutUint32(payload, uint32(m.Index))
	case Bitfield:
		payload = bitsToBytes(m.BitfieldBits)
	case Request, Cancel:
		payload = make([]byte, 12)
		binary.BigEndian.PutUint32(payload[0:4], uint32(m.Index))
		binary.BigEndian.PutUint32(payload[4:8], uint32(m.Begin))
		binary.BigEndian.PutUint32(payload[8:12], uint32(m.Length))
	case Piece:
		payload = make([]byte, 8+len(m.Piece_))
		binary.BigEndian.PutUint32(payload[0:4], uint32(m.Index))
		binary.BigEndian.PutUint32(payload[4:8], uint32(m.Begin))
		copy(payload[8:], m.Piece_)
	case Port:
		payload = make([]byte, 2)
		binary.BigEndian.PutUint16(payload, m.Port)
	case Extended:
		payload = make([]byte, 1+len(m.ExtendedPayload))
		payload[0] = m.ExtendedID
		copy(payload[1:], m.ExtendedPayload)
	}
	out := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(1+len(payload)))
	out[4] = byte(m.ID)
	copy(out[5:], payload)
	return out
}

// MakeCancelMessage builds a Cancel message for the given chunk.
func MakeCancelMessage(index, begin, length int64) Message {
	return Message{ID: Cancel, Index: index, Begin: begin, Length: length}
}

// MakeRequestMessage builds a Request message for the given chunk.
func MakeRequestMessage(index, begin, length int64) Message {
	return Message{ID: Request, Index: index, Begin: begin, Length: length}
}

// MakeHaveMessage builds a Have message announcing index.
func MakeHaveMessage(index int64) Message {
	return Message{ID: Have, Index: index}
}

func bitsToBytes(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return out
}

func bytesToBits(b []byte, numBits int) []bool {
	out := make([]bool, numBits)
	for i := range out {
		out[i] = b[i/8]&(1<<(7-uint(i%8))) != 0
	}
	return out
}

// ReadMessage reads and decodes one frame from r. numPieces is needed
// to size a Bitfield payload's bit count; pass 0 if not decoding
// bitfields in this context (the raw bytes are still available via a
// caller-side re-read, which we don't need here).
func ReadMessage(r io.Reader, numPieces int) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, errors.Wrap(err, "reading length prefix")
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return Message{Keepalive: true}, nil
	}
	if length > MaxLength {
		return Message{}, errors.Errorf("peerprotocol: declared length %d exceeds max %d", length, MaxLength)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, errors.Wrap(err, "reading message body")
	}
	return decode(ID(body[0]), body[1:], numPieces)
}

func decode(id ID, payload []byte, numPieces int) (Message, error) {
	m := Message{ID: id}
	switch id {
	case Choke, Unchoke, Interested, NotInterested:
		if len(payload) != 0 {
			return m, errors.Errorf("peerprotocol: %v with non-empty payload", id)
		}
	case Have:
		if len(payload) != 4 {
			return m, errors.Errorf("peerprotocol: have with bad payload length %d", len(payload))
		}
		m.Index = int64(binary.BigEndian.Uint32(payload))
	case Bitfield:
		n := numPieces
		if n == 0 {
			n = len(payload) * 8
		}
		if len(payload) != (n+7)/8 {
			return m, errors.Errorf("peerprotocol: bitfield length %d doesn't match piece count %d", len(payload), n)
		}
		m.BitfieldBits = bytesToBits(payload, n)
	case Request, Cancel:
		if len(payload) != 12 {
			return m, errors.Errorf("peerprotocol: %v with bad payload length %d", id, len(payload))
		}
		m.Index = int64(binary.BigEndian.Uint32(payload[0:4]))
		m.Begin = int64(binary.BigEndian.Uint32(payload[4:8]))
		m.Length = int64(binary.BigEndian.Uint32(payload[8:12]))
	case Piece:
		if len(payload) < 8 {
			return m, errors.Errorf("peerprotocol: piece payload too short: %d", len(payload))
		}
		m.Index = int64(binary.BigEndian.Uint32(payload[0:4]))
		m.Begin = int64(binary.BigEndian.Uint32(payload[4:8]))
		m.Piece_ = payload[8:]
	case Port:
		if len(payload) != 2 {
			return m, errors.Errorf("peerprotocol: port with bad payload length %d", len(payload))
		}
		m.Port = binary.BigEndian.Uint16(payload)
	case Extended:
		if len(payload) < 1 {
			return m, errors.Errorf("peerprotocol: extended message with empty payload")
		}
		m.ExtendedID = payload[0]
		m.ExtendedPayload = payload[1:]
	default:
		return m, errors.Errorf("peerprotocol: unknown message id %d", byte(id))
	}
	return m, nil
}
