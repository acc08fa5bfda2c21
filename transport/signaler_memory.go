// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"
)

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler is an in-process Signaler for tests. Offers and
// answers pass through internal maps, bypassing the network entirely.
// Two WebRTCTransport instances sharing the same MemorySignaler can
// establish PeerConnections without a registry server.
type MemorySignaler struct {
	mu      sync.Mutex
	offers  map[string][]SignalMessage // key: target peer ID
	answers map[string][]SignalMessage // key: offerer peer ID
}

// NewMemorySignaler creates an empty in-process signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		offers:  make(map[string][]SignalMessage),
		answers: make(map[string][]SignalMessage),
	}
}

func (s *MemorySignaler) PublishOffer(_ context.Context, peerID, targetID, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[targetID] = append(s.offers[targetID], SignalMessage{PeerID: peerID, SDP: sdp})
	return nil
}

func (s *MemorySignaler) PublishAnswer(_ context.Context, offererID, peerID, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[offererID] = append(s.answers[offererID], SignalMessage{PeerID: peerID, SDP: sdp})
	return nil
}

func (s *MemorySignaler) PollOffers(_ context.Context, peerID string) ([]SignalMessage, error) {
	return s.consume(s.offers, peerID), nil
}

func (s *MemorySignaler) PollAnswers(_ context.Context, peerID string) ([]SignalMessage, error) {
	return s.consume(s.answers, peerID), nil
}

func (s *MemorySignaler) consume(store map[string][]SignalMessage, peerID string) []SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := store[peerID]
	delete(store, peerID)
	return pending
}
