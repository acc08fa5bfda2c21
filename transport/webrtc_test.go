// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/meshdrop/meshdrop/lib/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestWebRTCDialAndAccept connects two transports through an
// in-process MemorySignaler and verifies that messages round-trip
// over a real data channel in both directions.
func TestWebRTCDialAndAccept(t *testing.T) {
	signaler := NewMemorySignaler()
	logger := discardLogger()

	// Empty ICE config: host candidates only (loopback).
	config := ICEConfig{}

	alpha := NewWebRTCTransport(signaler, "peer-alpha", config, logger)
	defer alpha.Close()
	beta := NewWebRTCTransport(signaler, "peer-beta", config, logger)
	defer beta.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Beta polls for offers and accepts the inbound channel.
	go beta.Run(ctx)

	accepted := make(chan PeerConn, 1)
	go func() {
		conn, err := beta.Accept(ctx)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		accepted <- conn
	}()

	alphaConn, err := alpha.Dial(ctx, "peer-beta")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	betaConn := testutil.RequireReceive(t, accepted, 60*time.Second, "inbound conn on beta")

	if alphaConn.PeerID() != "peer-beta" {
		t.Errorf("alpha conn PeerID = %q, want peer-beta", alphaConn.PeerID())
	}
	if betaConn.PeerID() != "peer-alpha" {
		t.Errorf("beta conn PeerID = %q, want peer-alpha", betaConn.PeerID())
	}

	fromAlpha := make(chan string, 1)
	betaConn.SetHandlers(func(payload []byte) {
		fromAlpha <- string(payload)
	}, nil)
	fromBeta := make(chan string, 1)
	alphaConn.SetHandlers(func(payload []byte) {
		fromBeta <- string(payload)
	}, nil)

	if err := alphaConn.Send([]byte("hello from alpha")); err != nil {
		t.Fatalf("alpha Send: %v", err)
	}
	if got := testutil.RequireReceive(t, fromAlpha, 30*time.Second, "message on beta"); got != "hello from alpha" {
		t.Errorf("beta received %q", got)
	}

	if err := betaConn.Send([]byte("hello from beta")); err != nil {
		t.Fatalf("beta Send: %v", err)
	}
	if got := testutil.RequireReceive(t, fromBeta, 30*time.Second, "message on alpha"); got != "hello from beta" {
		t.Errorf("alpha received %q", got)
	}
}

func TestMemorySignalerConsumesOnRead(t *testing.T) {
	signaler := NewMemorySignaler()
	ctx := context.Background()

	if err := signaler.PublishOffer(ctx, "peer-a", "peer-b", "sdp-offer"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}

	offers, err := signaler.PollOffers(ctx, "peer-b")
	if err != nil {
		t.Fatalf("PollOffers: %v", err)
	}
	if len(offers) != 1 || offers[0].PeerID != "peer-a" || offers[0].SDP != "sdp-offer" {
		t.Fatalf("offers = %+v", offers)
	}

	offers, err = signaler.PollOffers(ctx, "peer-b")
	if err != nil {
		t.Fatalf("PollOffers: %v", err)
	}
	if len(offers) != 0 {
		t.Errorf("second poll returned %d offers, want 0", len(offers))
	}

	// Offers for another peer are invisible.
	if err := signaler.PublishOffer(ctx, "peer-a", "peer-c", "other"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}
	offers, _ = signaler.PollOffers(ctx, "peer-b")
	if len(offers) != 0 {
		t.Errorf("poll for peer-b returned peer-c's offer")
	}
}

func TestICEConfigFromURLs(t *testing.T) {
	if servers := ICEConfigFromURLs(nil).Servers; len(servers) != 0 {
		t.Errorf("empty URL list produced %d servers", len(servers))
	}

	config := ICEConfigFromURLs([]string{"stun:stun.example.org:3478"})
	if len(config.Servers) != 1 {
		t.Fatalf("server count = %d, want 1", len(config.Servers))
	}
	if len(config.Servers[0].URLs) != 1 || config.Servers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Errorf("server URLs = %v", config.Servers[0].URLs)
	}
}
