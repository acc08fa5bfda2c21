// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"testing"

	"github.com/meshdrop/meshdrop/wire"
)

func TestRosterAddRemove(t *testing.T) {
	roster := NewRoster()

	if !roster.Add(wire.RoomUser{PeerID: "p1", Name: "Alice"}) {
		t.Fatal("first Add returned false")
	}
	if roster.Add(wire.RoomUser{PeerID: "p1", Name: "Alice again"}) {
		t.Fatal("duplicate Add returned true")
	}
	if got := roster.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	if name := roster.Users()[0].Name; name != "Alice" {
		t.Fatalf("duplicate Add overwrote name: got %q", name)
	}

	if !roster.Remove("p1") {
		t.Fatal("Remove of present peer returned false")
	}
	if roster.Remove("p1") {
		t.Fatal("Remove of absent peer returned true")
	}
	if roster.Contains("p1") {
		t.Fatal("Contains true after Remove")
	}
}

func TestRosterUsersSorted(t *testing.T) {
	roster := NewRoster()
	roster.Add(wire.RoomUser{PeerID: "zz", Name: "Zed"})
	roster.Add(wire.RoomUser{PeerID: "aa", Name: "Ann"})
	roster.Add(wire.RoomUser{PeerID: "mm", Name: "Mia"})

	users := roster.Users()
	if len(users) != 3 {
		t.Fatalf("Users() returned %d entries, want 3", len(users))
	}
	for i, want := range []string{"aa", "mm", "zz"} {
		if users[i].PeerID != want {
			t.Errorf("users[%d].PeerID = %q, want %q", i, users[i].PeerID, want)
		}
	}
}

func TestRosterClear(t *testing.T) {
	roster := NewRoster()
	roster.Add(wire.RoomUser{PeerID: "p1"})
	roster.Add(wire.RoomUser{PeerID: "p2"})
	roster.Clear()
	if roster.Len() != 0 {
		t.Fatalf("Len() = %d after Clear, want 0", roster.Len())
	}
}
