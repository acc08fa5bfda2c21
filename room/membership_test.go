// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/meshdrop/meshdrop/discovery"
	"github.com/meshdrop/meshdrop/lib/clock"
	"github.com/meshdrop/meshdrop/lib/testutil"
	"github.com/meshdrop/meshdrop/transport"
	"github.com/meshdrop/meshdrop/wire"
)

// fileEvent records one FileHandler invocation.
type fileEvent struct {
	kind   string
	peerID string
	fileID string
}

type recordingFiles struct {
	events chan fileEvent
}

func (f *recordingFiles) HandleMetadata(peerID string, metadata *wire.FileMetadata) {
	f.events <- fileEvent{kind: "metadata", peerID: peerID, fileID: metadata.FileID}
}

func (f *recordingFiles) HandleChunk(peerID string, chunk *wire.FileChunk) {
	f.events <- fileEvent{kind: "chunk", peerID: peerID, fileID: chunk.FileID}
}

func (f *recordingFiles) HandleEnd(peerID string, end *wire.FileEnd) {
	f.events <- fileEvent{kind: "end", peerID: peerID, fileID: end.FileID}
}

// testNode bundles one participant's full stack for engine tests.
type testNode struct {
	engine   *Engine
	registry *Registry
	files    *recordingFiles
}

func newTestNode(t *testing.T, ctx context.Context, network *transport.MemoryNetwork, registryURL, peerID, name string) *testNode {
	t.Helper()
	node := network.Node(peerID)
	registry := NewRegistry(peerID, node, clock.Real(), testLogger())
	files := &recordingFiles{events: make(chan fileEvent, 64)}
	client := discovery.NewClient(registryURL, "test-room")
	engine := NewEngine(wire.RoomUser{PeerID: peerID, Name: name}, registry, client, files, testLogger())
	go registry.AcceptLoop(ctx, node)
	return &testNode{engine: engine, registry: registry, files: files}
}

func startDiscovery(t *testing.T) *httptest.Server {
	t.Helper()
	store := discovery.NewMemoryStore(clock.Real(), discovery.DefaultTTL)
	server := httptest.NewServer(discovery.NewServer(store, clock.Real(), testLogger()).Handler())
	t.Cleanup(server.Close)
	return server
}

func rosterHas(engine *Engine, peerIDs ...string) bool {
	users := engine.Roster()
	if len(users) != len(peerIDs) {
		return false
	}
	present := make(map[string]bool, len(users))
	for _, user := range users {
		present[user.PeerID] = true
	}
	for _, id := range peerIDs {
		if !present[id] {
			return false
		}
	}
	return true
}

func TestEngineThreeNodeConvergence(t *testing.T) {
	server := startDiscovery(t)
	network := transport.NewMemoryNetwork()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestNode(t, ctx, network, server.URL, "a", "Alice")
	b := newTestNode(t, ctx, network, server.URL, "b", "Bob")
	c := newTestNode(t, ctx, network, server.URL, "c", "Carol")

	if err := a.engine.Join(ctx); err != nil {
		t.Fatalf("a.Join: %v", err)
	}
	if got := a.engine.State(); got != Joined {
		t.Fatalf("a state = %v, want joined", got)
	}
	if len(a.engine.Roster()) != 0 {
		t.Fatalf("first joiner has non-empty roster: %v", a.engine.Roster())
	}

	if err := b.engine.Join(ctx); err != nil {
		t.Fatalf("b.Join: %v", err)
	}
	if err := c.engine.Join(ctx); err != nil {
		t.Fatalf("c.Join: %v", err)
	}

	testutil.Eventually(t, 2*time.Second, func() bool {
		return rosterHas(a.engine, "b", "c") &&
			rosterHas(b.engine, "a", "c") &&
			rosterHas(c.engine, "a", "b")
	}, "rosters did not converge")

	testutil.Eventually(t, 2*time.Second, func() bool {
		return len(a.registry.OpenPeers()) == 2 &&
			len(b.registry.OpenPeers()) == 2 &&
			len(c.registry.OpenPeers()) == 2
	}, "mesh did not fully connect")
}

func TestEngineRosterSnapshotConnectsUnknownPeers(t *testing.T) {
	server := startDiscovery(t)
	network := transport.NewMemoryNetwork()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestNode(t, ctx, network, server.URL, "a", "Alice")
	b := newTestNode(t, ctx, network, server.URL, "b", "Bob")
	// c never announces to discovery; a can only learn about it
	// through a roster snapshot.
	c := newTestNode(t, ctx, network, server.URL, "c", "Carol")

	if err := a.engine.Join(ctx); err != nil {
		t.Fatalf("a.Join: %v", err)
	}
	if err := b.engine.Join(ctx); err != nil {
		t.Fatalf("b.Join: %v", err)
	}
	testutil.Eventually(t, 2*time.Second, func() bool {
		return rosterHas(a.engine, "b")
	}, "a did not learn b")

	payload, err := wire.Encode(wire.UserList{Users: []wire.RoomUser{
		{PeerID: "b", Name: "Bob"},
		{PeerID: "c", Name: "Carol"},
	}})
	if err != nil {
		t.Fatalf("encoding user-list: %v", err)
	}
	if err := b.registry.SendToOne("a", payload); err != nil {
		t.Fatalf("sending user-list: %v", err)
	}

	testutil.Eventually(t, 2*time.Second, func() bool {
		return rosterHas(a.engine, "b", "c") && rosterHas(c.engine, "a", "b")
	}, "snapshot did not trigger a connection to c")
}

func TestEngineFileMessagesRouted(t *testing.T) {
	server := startDiscovery(t)
	network := transport.NewMemoryNetwork()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestNode(t, ctx, network, server.URL, "a", "Alice")
	b := newTestNode(t, ctx, network, server.URL, "b", "Bob")

	if err := a.engine.Join(ctx); err != nil {
		t.Fatalf("a.Join: %v", err)
	}
	if err := b.engine.Join(ctx); err != nil {
		t.Fatalf("b.Join: %v", err)
	}
	testutil.Eventually(t, 2*time.Second, func() bool {
		return rosterHas(a.engine, "b") && rosterHas(b.engine, "a")
	}, "rosters did not converge")

	for _, message := range []wire.Message{
		wire.FileMetadata{FileID: "f1", Name: "x.txt", Size: 3, SenderID: "b"},
		wire.FileChunk{FileID: "f1", Payload: []byte("abc")},
		wire.FileEnd{FileID: "f1"},
	} {
		payload, err := wire.Encode(message)
		if err != nil {
			t.Fatalf("encoding %T: %v", message, err)
		}
		if err := b.registry.SendToOne("a", payload); err != nil {
			t.Fatalf("sending %T: %v", message, err)
		}
	}

	for _, want := range []string{"metadata", "chunk", "end"} {
		event := testutil.RequireReceive(t, a.files.events, time.Second, "waiting for %s", want)
		if event.kind != want || event.peerID != "b" || event.fileID != "f1" {
			t.Fatalf("file event = %+v, want %s from b for f1", event, want)
		}
	}
}

func TestEngineLeaveNotifiesPeers(t *testing.T) {
	server := startDiscovery(t)
	network := transport.NewMemoryNetwork()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestNode(t, ctx, network, server.URL, "a", "Alice")
	b := newTestNode(t, ctx, network, server.URL, "b", "Bob")

	if err := a.engine.Join(ctx); err != nil {
		t.Fatalf("a.Join: %v", err)
	}
	if err := b.engine.Join(ctx); err != nil {
		t.Fatalf("b.Join: %v", err)
	}
	testutil.Eventually(t, 2*time.Second, func() bool {
		return rosterHas(a.engine, "b") && rosterHas(b.engine, "a")
	}, "rosters did not converge")

	b.engine.Leave(ctx)
	if got := b.engine.State(); got != Left {
		t.Fatalf("b state = %v after Leave, want left", got)
	}
	if len(b.engine.Roster()) != 0 {
		t.Fatalf("b roster not cleared: %v", b.engine.Roster())
	}

	testutil.Eventually(t, 2*time.Second, func() bool {
		return len(a.engine.Roster()) == 0
	}, "a did not remove b after its leave")

	// The departed peer is gone from discovery too.
	client := discovery.NewClient(server.URL, "test-room")
	peers, err := client.Peers(ctx)
	if err != nil {
		t.Fatalf("listing peers: %v", err)
	}
	for _, peer := range peers {
		if peer.PeerID == "b" {
			t.Fatal("b still registered after Leave")
		}
	}

	// Leave twice is a no-op.
	b.engine.Leave(ctx)
}

func TestEnginePassiveLeaveRebroadcast(t *testing.T) {
	server := startDiscovery(t)
	network := transport.NewMemoryNetwork()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestNode(t, ctx, network, server.URL, "a", "Alice")
	b := newTestNode(t, ctx, network, server.URL, "b", "Bob")
	c := newTestNode(t, ctx, network, server.URL, "c", "Carol")

	for _, node := range []*testNode{a, b, c} {
		if err := node.engine.Join(ctx); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}
	testutil.Eventually(t, 2*time.Second, func() bool {
		return rosterHas(a.engine, "b", "c") &&
			rosterHas(b.engine, "a", "c") &&
			rosterHas(c.engine, "a", "b")
	}, "rosters did not converge")

	// b's channels die without a user-left announcement. The
	// survivors notice the closed channels, drop b, and rebroadcast
	// the departure on its behalf.
	b.registry.CloseAll()

	testutil.Eventually(t, 2*time.Second, func() bool {
		return rosterHas(a.engine, "c") && rosterHas(c.engine, "a")
	}, "survivors did not drop the vanished peer")
}

func TestEngineJoinFailsWhenDiscoveryUnreachable(t *testing.T) {
	network := transport.NewMemoryNetwork()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node := newTestNode(t, ctx, network, "http://127.0.0.1:1", "a", "Alice")
	if err := node.engine.Join(ctx); err == nil {
		t.Fatal("Join succeeded against unreachable discovery")
	}
	if got := node.engine.State(); got != Uninitialized {
		t.Fatalf("state = %v after failed Join, want uninitialized", got)
	}
}

func TestEngineJoinTwice(t *testing.T) {
	server := startDiscovery(t)
	network := transport.NewMemoryNetwork()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node := newTestNode(t, ctx, network, server.URL, "a", "Alice")
	if err := node.engine.Join(ctx); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := node.engine.Join(ctx); !errors.Is(err, ErrNotJoinable) {
		t.Fatalf("second Join = %v, want ErrNotJoinable", err)
	}

	node.engine.Leave(ctx)
	if err := node.engine.Join(ctx); !errors.Is(err, ErrNotJoinable) {
		t.Fatalf("Join after Leave = %v, want ErrNotJoinable", err)
	}
}
