// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "context"

// Signaler abstracts the mechanism for exchanging WebRTC session
// descriptions between peers. The production implementation polls the
// registry server's signaling endpoints; tests use in-process maps.
//
// The signaling model is vanilla ICE: all ICE candidates are gathered
// before the SDP is published, so connection establishment requires
// exactly one signaling round-trip (offer → answer). Signals are
// consumed on read — polling the same signal twice returns it once.
type Signaler interface {
	// PublishOffer publishes a complete SDP offer from peerID to
	// targetID.
	PublishOffer(ctx context.Context, peerID, targetID, sdp string) error

	// PublishAnswer publishes a complete SDP answer from peerID in
	// response to an offer originated by offererID.
	PublishAnswer(ctx context.Context, offererID, peerID, sdp string) error

	// PollOffers returns and consumes all pending offers directed at
	// peerID.
	PollOffers(ctx context.Context, peerID string) ([]SignalMessage, error)

	// PollAnswers returns and consumes all pending answers to offers
	// originated by peerID.
	PollAnswers(ctx context.Context, peerID string) ([]SignalMessage, error)
}

// SignalMessage is one signaling payload (offer or answer).
type SignalMessage struct {
	// PeerID is the other party: the offerer for received offers,
	// the answerer for received answers.
	PeerID string `json:"peerId"`

	// SDP is the complete session description with all ICE
	// candidates embedded.
	SDP string `json:"sdp"`
}
