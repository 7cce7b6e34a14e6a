package storage

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestMemoryPersistAndReadAt(t *testing.T) {
	c := qt.New(t)
	layout := Layout{PieceLength: 100, LastPieceLength: 100, NumPieces: 2, TotalLength: 200}
	m := NewMemory(layout)

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	err := m.PersistPiece(context.Background(), 1, data, 0, 100)
	c.Assert(err, qt.IsNil)

	readBack, err := m.ReadAt(context.Background(), 100, 100)
	c.Assert(err, qt.IsNil)
	c.Assert(readBack, qt.DeepEquals, data)
}

func TestMemoryPersistPartialExtent(t *testing.T) {
	c := qt.New(t)
	layout := Layout{PieceLength: 100, NumPieces: 1, TotalLength: 100}
	m := NewMemory(layout)

	data := make([]byte, 100)
	for i := range data {
		data[i] = 0xAA
	}
	err := m.PersistPiece(context.Background(), 0, data, 50, 50)
	c.Assert(err, qt.IsNil)

	readBack, err := m.ReadAt(context.Background(), 0, 100)
	c.Assert(err, qt.IsNil)
	for i := 0; i < 50; i++ {
		c.Assert(readBack[i], qt.Equals, byte(0))
	}
	for i := 50; i < 100; i++ {
		c.Assert(readBack[i], qt.Equals, byte(0xAA))
	}
}

func TestMemoryOperationsErrorAfterClose(t *testing.T) {
	c := qt.New(t)
	m := NewMemory(Layout{PieceLength: 10, NumPieces: 1, TotalLength: 10})
	c.Assert(m.Close(), qt.IsNil)

	err := m.PersistPiece(context.Background(), 0, make([]byte, 10), 0, 10)
	c.Assert(err, qt.Equals, ErrClosed)

	_, err = m.ReadAt(context.Background(), 0, 10)
	c.Assert(err, qt.Equals, ErrClosed)
}
