// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"sort"
	"sync"
	"time"

	"github.com/meshdrop/meshdrop/lib/clock"
)

// DefaultTTL is the staleness window for registry entries. An entry
// not refreshed within it is swept on the next read.
const DefaultTTL = time.Hour

// PeerRecord is one registry entry.
type PeerRecord struct {
	PeerID    string
	Name      string
	UpdatedAt time.Time
}

// Store holds the registry state: roomId → peerId → record. The
// server sweeps before every read, so implementations do not need
// their own timers.
type Store interface {
	// Put upserts a peer entry, refreshing its UpdatedAt stamp. The
	// room record is created on first use.
	Put(roomID, peerID, name string)

	// Get returns the entries for a room, sorted by peer ID. A room
	// with no entries yields an empty slice.
	Get(roomID string) []PeerRecord

	// Delete removes a peer entry. Removing the last entry of a room
	// removes the room record itself.
	Delete(roomID, peerID string)

	// Sweep removes every entry older than the staleness window, and
	// any room record left empty by that.
	Sweep()
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is the process-wide map backend.
type MemoryStore struct {
	clock clock.Clock
	ttl   time.Duration

	mu    sync.Mutex
	rooms map[string]map[string]PeerRecord
}

// NewMemoryStore creates a store pruning entries older than ttl.
func NewMemoryStore(clk clock.Clock, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		clock: clk,
		ttl:   ttl,
		rooms: make(map[string]map[string]PeerRecord),
	}
}

func (s *MemoryStore) Put(roomID, peerID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		room = make(map[string]PeerRecord)
		s.rooms[roomID] = room
	}
	room[peerID] = PeerRecord{
		PeerID:    peerID,
		Name:      name,
		UpdatedAt: s.clock.Now(),
	}
}

func (s *MemoryStore) Get(roomID string) []PeerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.rooms[roomID]
	records := make([]PeerRecord, 0, len(room))
	for _, record := range room {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].PeerID < records[j].PeerID
	})
	return records
}

func (s *MemoryStore) Delete(roomID, peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return
	}
	delete(room, peerID)
	if len(room) == 0 {
		delete(s.rooms, roomID)
	}
}

func (s *MemoryStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-s.ttl)
	for roomID, room := range s.rooms {
		for peerID, record := range room {
			if record.UpdatedAt.Before(cutoff) {
				delete(room, peerID)
			}
		}
		if len(room) == 0 {
			delete(s.rooms, roomID)
		}
	}
}
