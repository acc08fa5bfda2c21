// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package transfer implements chunked file distribution over the room
// mesh.
//
// The sender side reads a source in fixed-size chunks and broadcasts
// a metadata/chunk.../end message sequence to every open channel.
// Sends are strictly sequential: one file's full chunk stream
// completes before the next locally initiated file begins. A resend
// reuses the original file ID, which lets receivers that already hold
// the file ignore the repeat.
//
// The receiver side reassembles incoming streams keyed by file ID. A
// stream is sealed on its end message; chunks and end messages for
// unknown or already-sealed file IDs are dropped silently. A stream
// whose sender disconnects before end stays in the receiving state
// forever, which is deliberate: the absence of end is the abort
// signal.
package transfer
