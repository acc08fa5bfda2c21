// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "context"

// PeerConn is an open, reliable, ordered, message-oriented connection
// to one remote peer. Messages sent on one side arrive on the other
// exactly once and in send order, or the connection dies.
//
// Implementations buffer messages that arrive before SetHandlers is
// called and flush them, in order, once handlers are installed.
type PeerConn interface {
	// PeerID identifies the remote peer.
	PeerID() string

	// Send transmits one message. It returns an error once the
	// connection is closed.
	Send(payload []byte) error

	// SetHandlers installs the message and close callbacks. onClose
	// receives nil for a clean shutdown and the transport error
	// otherwise; it fires at most once.
	SetHandlers(onMessage func(payload []byte), onClose func(err error))

	// Close tears the connection down. The remote side observes its
	// onClose callback.
	Close() error
}

// Dialer opens connections to remote peers by ID.
type Dialer interface {
	Dial(ctx context.Context, peerID string) (PeerConn, error)
}

// Acceptor yields connections initiated by remote peers.
type Acceptor interface {
	// Accept blocks until an inbound connection is available, or ctx
	// is cancelled, or the transport is closed.
	Accept(ctx context.Context) (PeerConn, error)
}
