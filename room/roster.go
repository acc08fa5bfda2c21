// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"sort"
	"sync"

	"github.com/meshdrop/meshdrop/wire"
)

// Roster is the set of room participants known to the local process,
// excluding self. Mutated only by the membership Engine; read by
// anything that needs the current fan-out.
type Roster struct {
	mu    sync.Mutex
	users map[string]wire.RoomUser
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{users: make(map[string]wire.RoomUser)}
}

// Add inserts user if absent. Returns true when the roster changed.
// An existing entry keeps its original name; identity is by peer ID.
func (r *Roster) Add(user wire.RoomUser) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.PeerID]; ok {
		return false
	}
	r.users[user.PeerID] = user
	return true
}

// Remove deletes the entry for peerID. Returns true when the roster
// changed.
func (r *Roster) Remove(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[peerID]; !ok {
		return false
	}
	delete(r.users, peerID)
	return true
}

// Contains reports whether peerID is a known member.
func (r *Roster) Contains(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[peerID]
	return ok
}

// Users returns the members sorted by peer ID.
func (r *Roster) Users() []wire.RoomUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]wire.RoomUser, 0, len(r.users))
	for _, user := range r.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].PeerID < users[j].PeerID
	})
	return users
}

// Len returns the member count.
func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// Clear empties the roster.
func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.users)
}
