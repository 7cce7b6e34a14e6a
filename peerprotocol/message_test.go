package peerprotocol

import (
	"bytes"
	"testing"

	qt "github.com/frankban/quicktest"
)

func roundTrip(c *qt.C, m Message, numPieces int) Message {
	buf := bytes.NewBuffer(m.MarshalBinary())
	got, err := ReadMessage(buf, numPieces)
	c.Assert(err, qt.IsNil)
	return got
}

func TestMessageRoundTripHave(t *testing.T) {
	c := qt.New(t)
	got := roundTrip(c, MakeHaveMessage(42), 0)
	c.Assert(got.ID, qt.Equals, Have)
	c.Assert(got.Index, qt.Equals, int64(42))
}

func TestMessageRoundTripRequestAndCancel(t *testing.T) {
	c := qt.New(t)
	req := MakeRequestMessage(1, 16384, 16384)
	got := roundTrip(c, req, 0)
	c.Assert(got.ID, qt.Equals, Request)
	c.Assert(got.Index, qt.Equals, int64(1))
	c.Assert(got.Begin, qt.Equals, int64(16384))
	c.Assert(got.Length, qt.Equals, int64(16384))

	cancel := MakeCancelMessage(1, 16384, 16384)
	got = roundTrip(c, cancel, 0)
	c.Assert(got.ID, qt.Equals, Cancel)
}

func TestMessageRoundTripPiece(t *testing.T) {
	c := qt.New(t)
	payload := []byte("some block bytes")
	m := Message{ID: Piece, Index: 3, Begin: 0, Piece_: payload}
	got := roundTrip(c, m, 0)
	c.Assert(got.Index, qt.Equals, int64(3))
	c.Assert(got.Piece_, qt.DeepEquals, payload)
}

func TestMessageRoundTripBitfield(t *testing.T) {
	c := qt.New(t)
	bits := []bool{true, false, true, true, false, false, false, false, true}
	m := Message{ID: Bitfield, BitfieldBits: bits}
	got := roundTrip(c, m, len(bits))
	c.Assert(got.BitfieldBits, qt.DeepEquals, bits)
}

func TestMessageRoundTripExtended(t *testing.T) {
	c := qt.New(t)
	m := Message{ID: Extended, ExtendedID: 1, ExtendedPayload: []byte("d1:md11:ut_metadatai3eee")}
	got := roundTrip(c, m, 0)
	c.Assert(got.ExtendedID, qt.Equals, byte(1))
	c.Assert(got.ExtendedPayload, qt.DeepEquals, m.ExtendedPayload)
}

func TestReadMessageKeepalive(t *testing.T) {
	c := qt.New(t)
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0})
	got, err := ReadMessage(buf, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Keepalive, qt.IsTrue)
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	c := qt.New(t)
	var lenBuf [4]byte
	lenBuf[0] = 0xFF // declares an absurd length
	buf := bytes.NewBuffer(lenBuf[:])
	_, err := ReadMessage(buf, 0)
	c.Assert(err, qt.IsNotNil)
}

func TestDecodeRejectsBadPayloadLengths(t *testing.T) {
	c := qt.New(t)
	_, err := decode(Have, []byte{1, 2, 3}, 0)
	c.Assert(err, qt.IsNotNil)

	_, err = decode(Choke, []byte{1}, 0)
	c.Assert(err, qt.IsNotNil)

	_, err = decode(ID(99), nil, 0)
	c.Assert(err, qt.IsNotNil)
}

func TestIDString(t *testing.T) {
	c := qt.New(t)
	c.Assert(Choke.String(), qt.Equals, "choke")
	c.Assert(Extended.String(), qt.Equals, "extended")
	c.Assert(ID(200).String(), qt.Equals, "unknown(200)")
}
