// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrConnClosed is returned by Send after the connection has closed.
var ErrConnClosed = errors.New("transport: connection closed")

// Compile-time interface check.
var _ PeerConn = (*dataChannelConn)(nil)

// dataChannelConn adapts a pion data channel to PeerConn. Messages
// that arrive before SetHandlers are buffered and flushed in order;
// pion delivers OnMessage callbacks serially per channel, so order is
// preserved end to end.
type dataChannelConn struct {
	peerID string
	dc     *webrtc.DataChannel

	mu        sync.Mutex
	onMessage func([]byte)
	onClose   func(error)
	pending   [][]byte
	closed    bool
	closeErr  error
	closeSent bool
}

// newDataChannelConn wraps dc. Must be called before the channel
// delivers its first message, i.e. during OnDataChannel or right
// after CreateDataChannel.
func newDataChannelConn(dc *webrtc.DataChannel, peerID string) *dataChannelConn {
	conn := &dataChannelConn{peerID: peerID, dc: dc}

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		conn.deliver(msg.Data)
	})
	dc.OnClose(func() {
		conn.closeWith(nil)
	})
	dc.OnError(func(err error) {
		conn.closeWith(err)
	})

	return conn
}

func (c *dataChannelConn) PeerID() string { return c.peerID }

func (c *dataChannelConn) Send(payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}
	if err := c.dc.Send(payload); err != nil {
		return err
	}
	return nil
}

func (c *dataChannelConn) SetHandlers(onMessage func([]byte), onClose func(error)) {
	c.mu.Lock()
	c.onMessage = onMessage
	c.onClose = onClose

	// Flush anything that arrived before the handlers existed.
	pending := c.pending
	c.pending = nil
	for _, payload := range pending {
		onMessage(payload)
	}

	// The channel may already have died.
	fireClose := c.closed && !c.closeSent
	closeErr := c.closeErr
	if fireClose {
		c.closeSent = true
	}
	c.mu.Unlock()

	if fireClose && onClose != nil {
		onClose(closeErr)
	}
}

func (c *dataChannelConn) Close() error {
	err := c.dc.Close()
	c.closeWith(nil)
	return err
}

func (c *dataChannelConn) deliver(payload []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.onMessage == nil {
		c.pending = append(c.pending, payload)
		c.mu.Unlock()
		return
	}
	handler := c.onMessage
	c.mu.Unlock()
	handler(payload)
}

func (c *dataChannelConn) closeWith(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err

	fire := c.onClose != nil && !c.closeSent
	handler := c.onClose
	if fire {
		c.closeSent = true
	}
	c.mu.Unlock()

	if fire {
		handler(err)
	}
}
