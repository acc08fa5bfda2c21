// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery implements the HTTP registry that bootstraps room
// membership. A joining participant POSTs its {peerId, name} pair to
// the registry, GETs the current peer list to learn who to connect
// to, and DELETEs its entry on departure. After that initial exchange
// the room maintains itself peer-to-peer; the registry is never on
// the file transfer path.
//
// [Server] is the registry itself. Peer entries live in a [Store]
// (in-memory [MemoryStore] by default, any backend satisfying the
// interface is a valid substitution). Entries untouched for longer
// than the staleness window (one hour by default) are pruned by a
// sweep that runs before every read, which recovers from processes
// that vanished without sending any departure signal. A room record
// is created on its first POST and deleted when its last peer entry
// goes away.
//
// The server also hosts the SDP signaling boxes that
// transport.HTTPSignaler polls, scoped per room and swept on the same
// staleness window. Signals are consumed on read.
//
// [Client] is the participant-side counterpart used by the membership
// engine: Announce (POST), Peers (GET), and Depart (DELETE, called
// best-effort during teardown).
package discovery
