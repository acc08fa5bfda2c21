// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package room implements the room membership protocol: who is in the
// room, and one open channel to each of them.
//
// [Registry] owns the set of open peer channels for the local
// participant, keyed by peer ID. It enforces at most one channel per
// peer, applies a fixed connection-open timeout, and exposes
// send-to-one and send-to-all-except primitives. Each channel owns a
// bounded outbound queue drained by its own writer goroutine, so a
// slow peer exerts backpressure through its own queue instead of
// growing memory without bound. A broadcast silently skips channels
// that are not open; a channel whose queue stays full past the send
// timeout is killed rather than left with a gap in its stream, since
// the transfer protocol depends on every surviving channel seeing the
// complete message sequence.
//
// [Engine] maintains the roster and runs the join/announce/leave
// protocol on top of the registry. Two rules drive the mesh to full
// convergence without any relay: every freshly opened channel
// receives a join announcement plus a full roster snapshot, and every
// roster merge is followed by connecting to any member we are not yet
// connected to. A participant that joins late therefore learns the
// whole room from its first contact and dials the rest itself.
// Departures propagate both actively (a user-left broadcast from the
// departing peer) and passively (a peer observing a dead channel
// removes the member and rebroadcasts user-left on its behalf).
package room
