// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// MemoryNetwork is an in-process transport for tests. Each node dials
// other nodes registered on the same network and receives connected
// PeerConn pairs with no signaling or ICE involved. Per-connection
// message order is preserved: each conn delivers messages from a
// single goroutine draining a FIFO inbox.
type MemoryNetwork struct {
	mu    sync.Mutex
	nodes map[string]*MemoryNode
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{nodes: make(map[string]*MemoryNode)}
}

// Node registers (or returns) the node with the given peer ID.
func (n *MemoryNetwork) Node(peerID string) *MemoryNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	if node, ok := n.nodes[peerID]; ok {
		return node
	}
	node := &MemoryNode{
		network: n,
		peerID:  peerID,
		inbound: make(chan PeerConn, 16),
		closed:  make(chan struct{}),
	}
	n.nodes[peerID] = node
	return node
}

func (n *MemoryNetwork) lookup(peerID string) *MemoryNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nodes[peerID]
}

// Compile-time interface checks.
var (
	_ Dialer   = (*MemoryNode)(nil)
	_ Acceptor = (*MemoryNode)(nil)
)

// MemoryNode is one endpoint on a MemoryNetwork.
type MemoryNode struct {
	network *MemoryNetwork
	peerID  string
	inbound chan PeerConn

	closed    chan struct{}
	closeOnce sync.Once
}

// PeerID returns the node's identifier.
func (m *MemoryNode) PeerID() string { return m.peerID }

// Dial connects to another node on the same network. The far side
// receives the mirror conn through Accept.
func (m *MemoryNode) Dial(ctx context.Context, peerID string) (PeerConn, error) {
	select {
	case <-m.closed:
		return nil, net.ErrClosed
	default:
	}

	remote := m.network.lookup(peerID)
	if remote == nil {
		return nil, fmt.Errorf("no such peer %q on memory network", peerID)
	}

	local, far := newMemoryConnPair(m.peerID, peerID)

	select {
	case remote.inbound <- far:
	case <-remote.closed:
		return nil, fmt.Errorf("peer %q is closed", peerID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return local, nil
}

// Accept blocks until another node has dialed this one.
func (m *MemoryNode) Accept(ctx context.Context) (PeerConn, error) {
	select {
	case conn := <-m.inbound:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, net.ErrClosed
	}
}

// Close stops the node accepting new connections. Existing conns are
// unaffected.
func (m *MemoryNode) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// memoryConn is one direction of an in-process conn pair.
type memoryConn struct {
	localID  string
	remoteID string
	peer     *memoryConn

	inbox chan []byte

	mu           sync.Mutex
	onMessage    func([]byte)
	onClose      func(error)
	handlerReady chan struct{}
	handlersSet  bool

	closed    chan struct{}
	closeOnce sync.Once
}

// Compile-time interface check.
var _ PeerConn = (*memoryConn)(nil)

// newMemoryConnPair builds two connected conns and starts their
// delivery goroutines.
func newMemoryConnPair(dialerID, acceptorID string) (dialer, acceptor *memoryConn) {
	dialer = &memoryConn{
		localID:      dialerID,
		remoteID:     acceptorID,
		inbox:        make(chan []byte, 256),
		handlerReady: make(chan struct{}),
		closed:       make(chan struct{}),
	}
	acceptor = &memoryConn{
		localID:      acceptorID,
		remoteID:     dialerID,
		inbox:        make(chan []byte, 256),
		handlerReady: make(chan struct{}),
		closed:       make(chan struct{}),
	}
	dialer.peer = acceptor
	acceptor.peer = dialer

	go dialer.deliverLoop()
	go acceptor.deliverLoop()
	return dialer, acceptor
}

func (c *memoryConn) PeerID() string { return c.remoteID }

func (c *memoryConn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	// Copy so the caller can reuse its buffer, matching what a real
	// network write would guarantee.
	owned := make([]byte, len(payload))
	copy(owned, payload)

	select {
	case c.peer.inbox <- owned:
		return nil
	case <-c.peer.closed:
		return ErrConnClosed
	case <-c.closed:
		return ErrConnClosed
	}
}

func (c *memoryConn) SetHandlers(onMessage func([]byte), onClose func(error)) {
	c.mu.Lock()
	c.onMessage = onMessage
	c.onClose = onClose
	if !c.handlersSet {
		c.handlersSet = true
		close(c.handlerReady)
	}
	c.mu.Unlock()
}

func (c *memoryConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	c.peer.closeOnce.Do(func() { close(c.peer.closed) })
	return nil
}

// deliverLoop waits for handlers, then drains the inbox in order.
// After close it flushes whatever was already queued, then fires
// onClose once.
func (c *memoryConn) deliverLoop() {
	<-c.handlerReady

	for {
		select {
		case payload := <-c.inbox:
			c.handle(payload)
		case <-c.closed:
			// Flush messages that were queued before the close.
			for {
				select {
				case payload := <-c.inbox:
					c.handle(payload)
				default:
					c.mu.Lock()
					onClose := c.onClose
					c.mu.Unlock()
					if onClose != nil {
						onClose(nil)
					}
					return
				}
			}
		}
	}
}

func (c *memoryConn) handle(payload []byte) {
	c.mu.Lock()
	handler := c.onMessage
	c.mu.Unlock()
	if handler != nil {
		handler(payload)
	}
}
