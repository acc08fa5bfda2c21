// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"testing"

	"github.com/meshdrop/meshdrop/lib/clock"
)

func TestClientAnnouncePeersDepart(t *testing.T) {
	ts := newTestServer(t, clock.Fake(epoch))
	ctx := context.Background()

	alice := NewClient(ts.URL, "room-1")
	bob := NewClient(ts.URL, "room-1")

	peers, err := alice.Announce(ctx, "peer-a", "alice")
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if len(peers) != 1 || peers[0].PeerID != "peer-a" {
		t.Errorf("announce response = %+v", peers)
	}

	if _, err := bob.Announce(ctx, "peer-b", "bob"); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	peers, err = alice.Peers(ctx)
	if err != nil {
		t.Fatalf("Peers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("roster size = %d, want 2", len(peers))
	}

	if err := alice.Depart(ctx, "peer-a"); err != nil {
		t.Fatalf("Depart: %v", err)
	}
	peers, err = bob.Peers(ctx)
	if err != nil {
		t.Fatalf("Peers: %v", err)
	}
	if len(peers) != 1 || peers[0].PeerID != "peer-b" {
		t.Errorf("roster after depart = %+v, want only peer-b", peers)
	}
}

func TestClientSurfacesServerErrors(t *testing.T) {
	ts := newTestServer(t, clock.Fake(epoch))
	ctx := context.Background()

	client := NewClient(ts.URL, "room-1")
	if _, err := client.Announce(ctx, "", "nameless"); err == nil {
		t.Error("Announce with empty peerId succeeded; the 400 was not surfaced")
	}
}

func TestClientUnreachableRegistry(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "room-1")
	if _, err := client.Peers(context.Background()); err == nil {
		t.Error("Peers against an unreachable registry succeeded")
	}
}
