// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport establishes the pairwise data channels that room
// protocol messages ride on. Everything above this package sees only
// [PeerConn]: an open, reliable, ordered, message-oriented connection
// to one remote peer, obtained either by dialing ([Dialer]) or by
// accepting an inbound connection ([Acceptor]).
//
// The production implementation, [WebRTCTransport], uses pion/webrtc
// data channels. Each remote peer gets one PeerConnection carrying a
// single ordered data channel. Connection establishment uses vanilla
// ICE: all candidates are gathered before the SDP is published, so
// signaling needs exactly one round-trip (offer → answer).
//
// Signaling is abstracted behind the [Signaler] interface.
// [HTTPSignaler] polls the meshdrop registry server's signaling
// endpoints in production; [MemorySignaler] exchanges SDP through an
// in-process map for tests.
//
// When two peers dial each other simultaneously, a deterministic
// tie-break resolves the glare: the peer with the lexicographically
// smaller ID is the canonical offerer, and the other side abandons
// its own attempt in favor of the incoming offer.
//
// [MemoryNetwork] is an in-process transport used by tests in other
// packages: it hands out connected PeerConn pairs without any ICE or
// signaling, preserving per-connection message order.
package transport
