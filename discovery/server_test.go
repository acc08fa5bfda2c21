// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/meshdrop/meshdrop/lib/clock"
	"github.com/meshdrop/meshdrop/transport"
)

func newTestServer(t *testing.T, fake *clock.FakeClock) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	server := NewServer(NewMemoryStore(fake, DefaultTTL), fake, logger)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postPeer(t *testing.T, base, room string, peer Peer) *http.Response {
	t.Helper()
	body, _ := json.Marshal(peer)
	response, err := http.Post(base+"/rooms/"+room+"/peers", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	return response
}

func getPeers(t *testing.T, base, room string) []Peer {
	t.Helper()
	response, err := http.Get(base + "/rooms/" + room + "/peers")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d", response.StatusCode)
	}
	var decoded peersResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		t.Fatalf("decoding GET response: %v", err)
	}
	return decoded.Peers
}

func TestServerPostThenGet(t *testing.T) {
	ts := newTestServer(t, clock.Fake(epoch))

	response := postPeer(t, ts.URL, "room-1", Peer{PeerID: "peer-a", Name: "alice"})
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("POST status = %d", response.StatusCode)
	}
	var posted peersResponse
	if err := json.NewDecoder(response.Body).Decode(&posted); err != nil {
		t.Fatalf("decoding POST response: %v", err)
	}
	if len(posted.Peers) != 1 || posted.Peers[0].PeerID != "peer-a" {
		t.Errorf("POST response peers = %+v", posted.Peers)
	}

	peers := getPeers(t, ts.URL, "room-1")
	if len(peers) != 1 || peers[0] != (Peer{PeerID: "peer-a", Name: "alice"}) {
		t.Errorf("GET peers = %+v", peers)
	}

	// Other rooms are isolated.
	if other := getPeers(t, ts.URL, "room-2"); len(other) != 0 {
		t.Errorf("room-2 peers = %+v, want none", other)
	}
}

func TestServerValidation(t *testing.T) {
	ts := newTestServer(t, clock.Fake(epoch))

	// POST without a name.
	response := postPeer(t, ts.URL, "room-1", Peer{PeerID: "peer-a"})
	response.Body.Close()
	if response.StatusCode != http.StatusBadRequest {
		t.Errorf("POST without name: status = %d, want 400", response.StatusCode)
	}

	// POST without a peerId.
	response = postPeer(t, ts.URL, "room-1", Peer{Name: "alice"})
	response.Body.Close()
	if response.StatusCode != http.StatusBadRequest {
		t.Errorf("POST without peerId: status = %d, want 400", response.StatusCode)
	}

	// DELETE without a peerId.
	request, _ := http.NewRequest(http.MethodDelete, ts.URL+"/rooms/room-1/peers", bytes.NewReader([]byte(`{}`)))
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusBadRequest {
		t.Errorf("DELETE without peerId: status = %d, want 400", response.StatusCode)
	}
}

func TestServerDeleteRemovesPeer(t *testing.T) {
	ts := newTestServer(t, clock.Fake(epoch))

	postPeer(t, ts.URL, "room-1", Peer{PeerID: "peer-a", Name: "alice"}).Body.Close()
	postPeer(t, ts.URL, "room-1", Peer{PeerID: "peer-b", Name: "bob"}).Body.Close()

	body, _ := json.Marshal(map[string]string{"peerId": "peer-a"})
	request, _ := http.NewRequest(http.MethodDelete, ts.URL+"/rooms/room-1/peers", bytes.NewReader(body))
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer response.Body.Close()

	var remaining peersResponse
	if err := json.NewDecoder(response.Body).Decode(&remaining); err != nil {
		t.Fatalf("decoding DELETE response: %v", err)
	}
	if len(remaining.Peers) != 1 || remaining.Peers[0].PeerID != "peer-b" {
		t.Errorf("peers after DELETE = %+v, want only peer-b", remaining.Peers)
	}
}

func TestServerPrunesStaleEntriesOnGet(t *testing.T) {
	fake := clock.Fake(epoch)
	ts := newTestServer(t, fake)

	postPeer(t, ts.URL, "room-1", Peer{PeerID: "peer-gone", Name: "gone"}).Body.Close()
	fake.Advance(59 * time.Minute)
	if peers := getPeers(t, ts.URL, "room-1"); len(peers) != 1 {
		t.Fatalf("peer pruned before the staleness window: %+v", peers)
	}

	fake.Advance(2 * time.Minute)
	if peers := getPeers(t, ts.URL, "room-1"); len(peers) != 0 {
		t.Errorf("stale peer still present after %v: %+v", 61*time.Minute, peers)
	}
}

// TestHTTPSignalerRoundTrip drives the transport package's HTTP
// signaler against the server's signaling endpoints.
func TestHTTPSignalerRoundTrip(t *testing.T) {
	ts := newTestServer(t, clock.Fake(epoch))
	ctx := context.Background()

	alpha := transport.NewHTTPSignaler(ts.URL, "room-1")
	beta := transport.NewHTTPSignaler(ts.URL, "room-1")

	if err := alpha.PublishOffer(ctx, "peer-a", "peer-b", "offer-sdp"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}

	offers, err := beta.PollOffers(ctx, "peer-b")
	if err != nil {
		t.Fatalf("PollOffers: %v", err)
	}
	if len(offers) != 1 || offers[0].PeerID != "peer-a" || offers[0].SDP != "offer-sdp" {
		t.Fatalf("offers = %+v", offers)
	}

	// Consumed on read.
	offers, err = beta.PollOffers(ctx, "peer-b")
	if err != nil {
		t.Fatalf("PollOffers: %v", err)
	}
	if len(offers) != 0 {
		t.Errorf("second poll returned %d offers, want 0", len(offers))
	}

	if err := beta.PublishAnswer(ctx, "peer-a", "peer-b", "answer-sdp"); err != nil {
		t.Fatalf("PublishAnswer: %v", err)
	}
	answers, err := alpha.PollAnswers(ctx, "peer-a")
	if err != nil {
		t.Fatalf("PollAnswers: %v", err)
	}
	if len(answers) != 1 || answers[0].PeerID != "peer-b" || answers[0].SDP != "answer-sdp" {
		t.Fatalf("answers = %+v", answers)
	}

	// Signals in another room are invisible.
	other := transport.NewHTTPSignaler(ts.URL, "room-2")
	if err := other.PublishOffer(ctx, "peer-x", "peer-b", "cross-room"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}
	offers, _ = beta.PollOffers(ctx, "peer-b")
	if len(offers) != 0 {
		t.Errorf("poll leaked a signal across rooms: %+v", offers)
	}
}
