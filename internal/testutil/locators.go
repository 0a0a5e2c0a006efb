package testutil

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

// SequentialLocators generates predictable UUIDs for container and object
// locators: 00000000-0000-7000-8000-000000000001, ...002, and so on.
//
// Pass its Next method to persist.WithUUIDGenerator so ObjectIDs are stable
// across runs and golden snapshots compare byte for byte.
//
// Thread-safety: Next is safe for concurrent use.
type SequentialLocators struct {
	mu  sync.Mutex
	seq uint64
}

// NewSequentialLocators creates a generator whose first value ends in 1.
func NewSequentialLocators() *SequentialLocators {
	return &SequentialLocators{}
}

// Next returns the next UUID. Version and variant bits are set so the
// values parse as version 7 UUIDs.
func (g *SequentialLocators) Next() uuid.UUID {
	g.mu.Lock()
	g.seq++
	seq := g.seq
	g.mu.Unlock()

	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], seq)
	id[6] = 0x70
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}

// Reset restarts the sequence.
func (g *SequentialLocators) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
