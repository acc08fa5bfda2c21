// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/meshdrop/meshdrop/lib/clock"
)

// Peer is the JSON shape of one registry entry.
type Peer struct {
	PeerID string `json:"peerId"`
	Name   string `json:"name"`
}

// peersResponse is the body of every peer endpoint response.
type peersResponse struct {
	Peers []Peer `json:"peers"`
}

// Server is the discovery registry plus signaling relay. Zero-state
// beyond its Store and signal boxes; run it behind a plain
// http.Server.
type Server struct {
	store   Store
	clock   clock.Clock
	logger  *slog.Logger
	signals *signalBox
}

// NewServer creates a registry server backed by store.
func NewServer(store Store, clk clock.Clock, logger *slog.Logger) *Server {
	return &Server{
		store:   store,
		clock:   clk,
		logger:  logger,
		signals: newSignalBox(clk, DefaultTTL),
	}
}

// Handler returns the HTTP routes:
//
//	GET    /rooms/{room}/peers           current roster (after sweep)
//	POST   /rooms/{room}/peers           upsert {peerId, name}
//	DELETE /rooms/{room}/peers           remove {peerId}
//	POST   /rooms/{room}/signal/offers   publish an SDP offer
//	GET    /rooms/{room}/signal/offers   consume offers for ?peer=
//	POST   /rooms/{room}/signal/answers  publish an SDP answer
//	GET    /rooms/{room}/signal/answers  consume answers for ?peer=
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rooms/{room}/peers", s.handleGetPeers)
	mux.HandleFunc("POST /rooms/{room}/peers", s.handlePostPeer)
	mux.HandleFunc("DELETE /rooms/{room}/peers", s.handleDeletePeer)
	mux.HandleFunc("POST /rooms/{room}/signal/offers", s.handlePostSignal("offers"))
	mux.HandleFunc("GET /rooms/{room}/signal/offers", s.handleGetSignals("offers"))
	mux.HandleFunc("POST /rooms/{room}/signal/answers", s.handlePostSignal("answers"))
	mux.HandleFunc("GET /rooms/{room}/signal/answers", s.handleGetSignals("answers"))
	return mux
}

func (s *Server) handleGetPeers(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	s.store.Sweep()
	s.writePeers(w, roomID)
}

func (s *Server) handlePostPeer(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")

	var body Peer
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.PeerID == "" || body.Name == "" {
		http.Error(w, "peerId and name are required", http.StatusBadRequest)
		return
	}

	s.store.Sweep()
	s.store.Put(roomID, body.PeerID, body.Name)
	s.logger.Info("peer announced", "room", roomID, "peer", body.PeerID, "name", body.Name)
	s.writePeers(w, roomID)
}

func (s *Server) handleDeletePeer(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")

	var body struct {
		PeerID string `json:"peerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.PeerID == "" {
		http.Error(w, "peerId is required", http.StatusBadRequest)
		return
	}

	s.store.Sweep()
	s.store.Delete(roomID, body.PeerID)
	s.logger.Info("peer departed", "room", roomID, "peer", body.PeerID)
	s.writePeers(w, roomID)
}

func (s *Server) writePeers(w http.ResponseWriter, roomID string) {
	records := s.store.Get(roomID)
	response := peersResponse{Peers: make([]Peer, 0, len(records))}
	for _, record := range records {
		response.Peers = append(response.Peers, Peer{PeerID: record.PeerID, Name: record.Name})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Warn("writing peers response failed", "room", roomID, "error", err)
	}
}

// --- Signaling relay ---

// signalRecord is one stored SDP payload awaiting pickup.
type signalRecord struct {
	from    string
	sdp     string
	created time.Time
}

// signalEnvelope is the POST body for both signal boxes.
type signalEnvelope struct {
	From string `json:"from"`
	To   string `json:"to"`
	SDP  string `json:"sdp"`
}

// signalMessage is one entry of a poll response.
type signalMessage struct {
	PeerID string `json:"peerId"`
	SDP    string `json:"sdp"`
}

func (s *Server) handlePostSignal(box string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.PathValue("room")

		var body signalEnvelope
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if body.From == "" || body.To == "" || body.SDP == "" {
			http.Error(w, "from, to and sdp are required", http.StatusBadRequest)
			return
		}

		s.signals.put(roomID, box, body)
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleGetSignals(box string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.PathValue("room")
		peerID := r.URL.Query().Get("peer")
		if peerID == "" {
			http.Error(w, "peer query parameter is required", http.StatusBadRequest)
			return
		}

		pending := s.signals.consume(roomID, box, peerID)
		signals := make([]signalMessage, 0, len(pending))
		for _, record := range pending {
			signals = append(signals, signalMessage{PeerID: record.from, SDP: record.sdp})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string][]signalMessage{"signals": signals}); err != nil {
			s.logger.Warn("writing signals response failed", "room", roomID, "error", err)
		}
	}
}

// signalBox stores pending offers and answers per room, keyed by the
// recipient peer. Entries are consumed on read and swept on the same
// staleness window as peer entries.
type signalBox struct {
	clock clock.Clock
	ttl   time.Duration

	mu sync.Mutex
	// key: roomID + "\x00" + box + "\x00" + recipient
	pending map[string][]signalRecord
}

func newSignalBox(clk clock.Clock, ttl time.Duration) *signalBox {
	return &signalBox{
		clock:   clk,
		ttl:     ttl,
		pending: make(map[string][]signalRecord),
	}
}

func (b *signalBox) key(roomID, box, recipient string) string {
	return roomID + "\x00" + box + "\x00" + recipient
}

func (b *signalBox) put(roomID, box string, envelope signalEnvelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepLocked()

	key := b.key(roomID, box, envelope.To)
	b.pending[key] = append(b.pending[key], signalRecord{
		from:    envelope.From,
		sdp:     envelope.SDP,
		created: b.clock.Now(),
	})
}

func (b *signalBox) consume(roomID, box, recipient string) []signalRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepLocked()

	key := b.key(roomID, box, recipient)
	pending := b.pending[key]
	delete(b.pending, key)
	return pending
}

func (b *signalBox) sweepLocked() {
	cutoff := b.clock.Now().Add(-b.ttl)
	for key, records := range b.pending {
		live := records[:0]
		for _, record := range records {
			if !record.created.Before(cutoff) {
				live = append(live, record)
			}
		}
		if len(live) == 0 {
			delete(b.pending, key)
		} else {
			b.pending[key] = live
		}
	}
}
