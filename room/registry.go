// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/meshdrop/meshdrop/lib/clock"
	"github.com/meshdrop/meshdrop/transport"
)

// connectTimeout is how long a connection attempt may take to reach
// Open before the registry abandons it. There is no automatic retry
// of the attempt; retrying is the membership engine's decision.
const connectTimeout = 10 * time.Second

// sendQueueCapacity bounds each channel's outbound queue. A channel
// whose queue is full has a peer that cannot keep up; senders block
// on queue space up to the send timeout.
const sendQueueCapacity = 64

// sendTimeout is how long a send waits for queue space before giving
// up on the channel.
const sendTimeout = 5 * time.Second

// ErrChannelNotOpen is returned by SendToOne when no open channel to
// the peer exists.
var ErrChannelNotOpen = errors.New("room: channel not open")

// ErrSendQueueFull reports a peer whose queue stayed full past the
// send timeout. SendToOne returns it; a broadcast kills the stalled
// channel with it.
var ErrSendQueueFull = errors.New("room: send queue full")

// errConnectTimeout reports an attempt that never reached Open.
var errConnectTimeout = errors.New("room: connection attempt timed out")

// ChannelState is the lifecycle state of one peer channel.
type ChannelState int

const (
	// StateConnecting: dialing, not yet usable.
	StateConnecting ChannelState = iota
	// StateOpen: messages flow.
	StateOpen
	// StateClosed: dead; the registry forgets closed channels.
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Callbacks is the registry's event surface. All callbacks fire
// outside the registry lock. OnMessage delivers messages of one
// channel in arrival order.
type Callbacks struct {
	OnOpen    func(peerID string)
	OnMessage func(peerID string, payload []byte)
	OnClose   func(peerID string)
	OnError   func(peerID string, err error)
}

// Registry owns every peer channel of the local participant. At most
// one channel per peer ID exists at any time. When both sides dial
// each other simultaneously, the conn dialed by the lexicographically
// smaller peer ID is canonical on both ends, so exactly one of the
// two conn pairs survives.
type Registry struct {
	localID   string
	dialer    transport.Dialer
	clock     clock.Clock
	logger    *slog.Logger
	callbacks Callbacks

	mu       sync.Mutex
	channels map[string]*PeerChannel
}

// PeerChannel is the registry's handle on one peer connection.
type PeerChannel struct {
	peerID string

	// state and outbound are guarded by the owning registry's mu.
	state ChannelState
	// outbound marks a channel that originated from our own dial
	// rather than an adopted inbound conn. Used by the simultaneous
	// dial tie-break.
	outbound bool
	conn     transport.PeerConn

	queue chan []byte
	quit  chan struct{}
}

// PeerID returns the remote peer's identifier.
func (ch *PeerChannel) PeerID() string { return ch.peerID }

// NewRegistry creates an empty registry for the participant
// identified by localID. SetCallbacks must be called before Open or
// AcceptLoop.
func NewRegistry(localID string, dialer transport.Dialer, clk clock.Clock, logger *slog.Logger) *Registry {
	return &Registry{
		localID:  localID,
		dialer:   dialer,
		clock:    clk,
		logger:   logger,
		channels: make(map[string]*PeerChannel),
	}
}

// SetCallbacks installs the event surface. Not safe to call once
// channels exist.
func (r *Registry) SetCallbacks(callbacks Callbacks) {
	r.callbacks = callbacks
}

// Open starts a connection attempt to peerID. Idempotent: if a
// channel already exists (connecting or open) it is returned
// unchanged. The attempt is abandoned, and the channel removed, if it
// does not reach Open within the connection timeout.
func (r *Registry) Open(peerID string) *PeerChannel {
	r.mu.Lock()
	if existing, ok := r.channels[peerID]; ok {
		r.mu.Unlock()
		return existing
	}

	ch := &PeerChannel{
		peerID:   peerID,
		state:    StateConnecting,
		outbound: true,
		queue:    make(chan []byte, sendQueueCapacity),
		quit:     make(chan struct{}),
	}
	r.channels[peerID] = ch
	r.mu.Unlock()

	go r.connect(ch, ch.quit)
	return ch
}

// connect dials the peer and attaches the resulting connection,
// racing the connection timeout. quit is the attempt token: Adopt
// replaces it when an inbound connection supersedes this dial, which
// both aborts the select below and invalidates a late fail.
func (r *Registry) connect(ch *PeerChannel, quit chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type dialResult struct {
		conn transport.PeerConn
		err  error
	}
	done := make(chan dialResult, 1)
	go func() {
		conn, err := r.dialer.Dial(ctx, ch.peerID)
		done <- dialResult{conn: conn, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			r.fail(ch, quit, result.err)
			return
		}
		if !r.attach(ch, result.conn) {
			result.conn.Close()
		}
	case <-r.clock.After(connectTimeout):
		cancel()
		// If the dial completes after all, discard its connection.
		go func() {
			if result := <-done; result.err == nil {
				result.conn.Close()
			}
		}()
		r.fail(ch, quit, errConnectTimeout)
	case <-quit:
		cancel()
		go func() {
			if result := <-done; result.err == nil {
				result.conn.Close()
			}
		}()
	}
}

// AcceptLoop adopts inbound connections until ctx is cancelled.
func (r *Registry) AcceptLoop(ctx context.Context, acceptor transport.Acceptor) {
	for {
		conn, err := acceptor.Accept(ctx)
		if err != nil {
			return
		}
		r.Adopt(conn)
	}
}

// Adopt registers a connection initiated by the remote peer.
//
// When our own dial to the same peer exists, the tie-break decides
// which conn survives: the conn dialed by the lexicographically
// smaller peer ID is canonical. Both sides apply the same rule, so a
// simultaneous mutual dial always converges on exactly one conn pair
// instead of each side destroying the conn the other adopted.
func (r *Registry) Adopt(conn transport.PeerConn) {
	peerID := conn.PeerID()

	r.mu.Lock()
	existing, ok := r.channels[peerID]
	if ok && existing.outbound && r.localID < peerID {
		// Our dial is canonical regardless of how far it has
		// progressed; the remote discards its own attempt under the
		// same rule.
		r.mu.Unlock()
		r.logger.Debug("discarding inbound channel, local dial is canonical", "peer", peerID)
		conn.Close()
		return
	}

	var ch *PeerChannel
	var replaced transport.PeerConn
	if ok && existing.state == StateConnecting {
		// Abandon the dial, keep the channel handle.
		close(existing.quit)
		existing.quit = make(chan struct{})
		existing.outbound = false
		ch = existing
	} else {
		if ok {
			// An open channel loses to the inbound conn: either our
			// non-canonical dial attached first, or the remote
			// re-established after losing the old conn. Tear the old
			// one down silently and adopt the new one.
			existing.state = StateClosed
			close(existing.quit)
			replaced = existing.conn
		}
		ch = &PeerChannel{
			peerID: peerID,
			state:  StateConnecting,
			queue:  make(chan []byte, sendQueueCapacity),
			quit:   make(chan struct{}),
		}
		r.channels[peerID] = ch
	}
	r.mu.Unlock()

	if replaced != nil {
		replaced.Close()
	}
	if !r.attach(ch, conn) {
		conn.Close()
	}
}

// attach binds conn to ch, transitions it to Open, starts the writer,
// and fires OnOpen. Returns false if the channel was closed (or
// already open) in the meantime.
func (r *Registry) attach(ch *PeerChannel, conn transport.PeerConn) bool {
	r.mu.Lock()
	if r.channels[ch.peerID] != ch || ch.state != StateConnecting {
		r.mu.Unlock()
		return false
	}
	ch.conn = conn
	ch.state = StateOpen
	quit := ch.quit
	r.mu.Unlock()

	conn.SetHandlers(
		func(payload []byte) {
			if r.callbacks.OnMessage != nil {
				r.callbacks.OnMessage(ch.peerID, payload)
			}
		},
		func(err error) {
			r.channelGone(ch, err)
		},
	)

	go r.writer(ch, conn, quit)

	r.logger.Info("channel open", "peer", ch.peerID)
	if r.callbacks.OnOpen != nil {
		r.callbacks.OnOpen(ch.peerID)
	}
	return true
}

// writer drains the channel's outbound queue. One writer per open
// channel; a send failure kills the channel.
func (r *Registry) writer(ch *PeerChannel, conn transport.PeerConn, quit chan struct{}) {
	for {
		select {
		case payload := <-ch.queue:
			if err := conn.Send(payload); err != nil {
				r.channelGone(ch, err)
				return
			}
		case <-quit:
			return
		}
	}
}

// fail removes a channel that never reached Open and reports the
// error. It is a no-op when the attempt token no longer matches (an
// inbound connection took over the channel).
func (r *Registry) fail(ch *PeerChannel, quit chan struct{}, err error) {
	r.mu.Lock()
	if r.channels[ch.peerID] != ch || ch.state != StateConnecting || ch.quit != quit {
		r.mu.Unlock()
		return
	}
	ch.state = StateClosed
	delete(r.channels, ch.peerID)
	r.mu.Unlock()

	r.logger.Warn("connection attempt failed", "peer", ch.peerID, "error", err)
	if r.callbacks.OnError != nil {
		r.callbacks.OnError(ch.peerID, err)
	}
}

// channelGone handles a channel that died underneath us (remote
// close, transport error, send failure).
func (r *Registry) channelGone(ch *PeerChannel, err error) {
	r.mu.Lock()
	if r.channels[ch.peerID] != ch || ch.state != StateOpen {
		r.mu.Unlock()
		return
	}
	ch.state = StateClosed
	close(ch.quit)
	delete(r.channels, ch.peerID)
	conn := ch.conn
	r.mu.Unlock()

	conn.Close()

	if err != nil {
		r.logger.Warn("channel error", "peer", ch.peerID, "error", err)
		if r.callbacks.OnError != nil {
			r.callbacks.OnError(ch.peerID, err)
		}
	} else {
		r.logger.Info("channel closed by peer", "peer", ch.peerID)
	}
	if r.callbacks.OnClose != nil {
		r.callbacks.OnClose(ch.peerID)
	}
}

// Close tears down the channel to peerID, if any. No callbacks fire
// for a locally initiated close.
func (r *Registry) Close(peerID string) {
	r.mu.Lock()
	ch, ok := r.channels[peerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	wasOpen := ch.state == StateOpen
	ch.state = StateClosed
	close(ch.quit)
	delete(r.channels, peerID)
	conn := ch.conn
	r.mu.Unlock()

	if wasOpen && conn != nil {
		conn.Close()
	}
}

// CloseAll tears down every channel.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	channels := make([]*PeerChannel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.Unlock()

	for _, ch := range channels {
		r.Close(ch.peerID)
	}
}

// State returns the channel state for peerID. Unknown peers report
// StateClosed.
func (r *Registry) State(peerID string) ChannelState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[peerID]; ok {
		return ch.state
	}
	return StateClosed
}

// OpenPeers returns the IDs of all channels currently in Open state.
func (r *Registry) OpenPeers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers := make([]string, 0, len(r.channels))
	for peerID, ch := range r.channels {
		if ch.state == StateOpen {
			peers = append(peers, peerID)
		}
	}
	return peers
}

// SendToOne queues one message for peerID. Fails if the channel is
// not open or its queue stays full past the send timeout.
func (r *Registry) SendToOne(peerID string, payload []byte) error {
	r.mu.Lock()
	ch, ok := r.channels[peerID]
	if !ok || ch.state != StateOpen {
		r.mu.Unlock()
		return ErrChannelNotOpen
	}
	r.mu.Unlock()

	select {
	case ch.queue <- payload:
		return nil
	case <-ch.quit:
		return ErrChannelNotOpen
	case <-r.clock.After(sendTimeout):
		return ErrSendQueueFull
	}
}

// SendToAllExcept queues one message for every open channel except
// excludedPeerID (empty string excludes nobody). Channels that are
// not open are silently skipped. A full queue exerts backpressure on
// the caller: the enqueue blocks up to the send timeout, and a
// channel whose queue is still full after that is killed rather than
// left with a gap in its message stream.
func (r *Registry) SendToAllExcept(excludedPeerID string, payload []byte) {
	r.mu.Lock()
	targets := make([]*PeerChannel, 0, len(r.channels))
	for peerID, ch := range r.channels {
		if peerID == excludedPeerID || ch.state != StateOpen {
			continue
		}
		targets = append(targets, ch)
	}
	r.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch.queue <- payload:
		case <-ch.quit:
			// Channel died under the broadcast; skip it.
		case <-r.clock.After(sendTimeout):
			// Dropping one message mid-stream would corrupt anything
			// the peer is reassembling, so a stalled channel dies
			// instead.
			r.logger.Warn("send queue stalled, closing channel", "peer", ch.peerID)
			r.channelGone(ch, ErrSendQueueFull)
		}
	}
}
