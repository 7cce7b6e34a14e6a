package storage

import (
	"context"
	"sync"
)

// Memory is an in-memory Persistence double backed by a single
// contiguous byte slice sized to the torrent's total length, used by
// tests that need a real Persistence without touching disk.
type Memory struct {
	mu     sync.Mutex
	layout Layout
	data   []byte
	closed bool
}

// NewMemory returns a Memory sized per layout.
func NewMemory(layout Layout) *Memory {
	return &Memory{layout: layout, data: make([]byte, layout.TotalLength)}
}

func (m *Memory) PersistPiece(ctx context.Context, index int, buffer []byte, offsetWithinPiece, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	off := m.layout.byteOffset(index, offsetWithinPiece)
	copy(m.data[off:off+length], buffer[offsetWithinPiece:offsetWithinPiece+length])
	return nil
}

func (m *Memory) ReadAt(ctx context.Context, off, length int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]byte, length)
	copy(out, m.data[off:off+length])
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
