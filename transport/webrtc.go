// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// Compile-time interface checks.
var (
	_ Dialer   = (*WebRTCTransport)(nil)
	_ Acceptor = (*WebRTCTransport)(nil)
)

// signalingPollInterval is how often the transport polls for inbound
// signaling offers.
const signalingPollInterval = 1 * time.Second

// iceGatherTimeout is the maximum time to wait for ICE candidate
// gathering to complete before publishing the SDP.
const iceGatherTimeout = 15 * time.Second

// answerPollInterval is how often the dialer polls for an SDP answer
// after publishing an offer.
const answerPollInterval = 500 * time.Millisecond

// answerTimeout is the maximum time to wait for an SDP answer before
// giving up.
const answerTimeout = 30 * time.Second

// meshChannelLabel is the label of the single data channel each peer
// pair shares. All room protocol traffic for the pair flows over it.
const meshChannelLabel = "mesh"

// ICEConfig holds ICE server configuration for PeerConnections.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN + TURN) used during
	// candidate gathering. Empty means host candidates only, which is
	// sufficient for same-machine and same-LAN use.
	Servers []webrtc.ICEServer
}

// ICEConfigFromURLs builds an ICEConfig from plain STUN/TURN URLs
// (e.g. "stun:stun.l.google.com:19302").
func ICEConfigFromURLs(urls []string) ICEConfig {
	if len(urls) == 0 {
		return ICEConfig{}
	}
	return ICEConfig{Servers: []webrtc.ICEServer{{URLs: urls}}}
}

// WebRTCTransport provides peer-to-peer message channels over WebRTC.
// It implements both Dialer and Acceptor because both directions share
// the same pool of PeerConnections: each remote peer gets exactly one
// PeerConnection carrying one ordered, reliable data channel.
type WebRTCTransport struct {
	signaler Signaler
	localID  string
	logger   *slog.Logger

	configMu  sync.RWMutex
	iceConfig ICEConfig

	// peers maps remote peer ID → peerLink.
	mu    sync.Mutex
	peers map[string]*peerLink

	// inbound carries data channels opened by remote peers.
	inbound chan PeerConn

	// stashed holds answers consumed from the signaler on behalf of a
	// dial that was waiting for a different peer. Concurrent dials
	// share one signaling mailbox, so a poll can drain answers that
	// belong to another dial in flight.
	stashMu sync.Mutex
	stashed map[string]string

	closed    chan struct{}
	closeOnce sync.Once
}

// peerLink tracks the PeerConnection to a single remote peer.
type peerLink struct {
	connection  *webrtc.PeerConnection
	peerID      string
	established chan struct{} // closed when ICE reaches Connected/Completed

	// dialerConn wraps the mesh data channel created by the dialing
	// side. Nil on links created by answerOffer; those receive the
	// channel via OnDataChannel instead. The wrapper is attached at
	// channel creation so messages arriving right after open are
	// buffered, never dropped.
	dialerConnMu sync.Mutex
	dialerConn   *dataChannelConn
}

// NewWebRTCTransport creates a WebRTC transport identified by localID
// in signaling.
func NewWebRTCTransport(signaler Signaler, localID string, iceConfig ICEConfig, logger *slog.Logger) *WebRTCTransport {
	return &WebRTCTransport{
		signaler:  signaler,
		localID:   localID,
		iceConfig: iceConfig,
		logger:    logger,
		peers:     make(map[string]*peerLink),
		inbound:   make(chan PeerConn, 16),
		stashed:   make(map[string]string),
		closed:    make(chan struct{}),
	}
}

// Run polls for inbound signaling offers until ctx is cancelled or
// Close is called. It must be running for the transport to accept
// connections from peers that dial first.
func (wt *WebRTCTransport) Run(ctx context.Context) {
	ticker := time.NewTicker(signalingPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wt.closed:
			return
		case <-ticker.C:
			wt.processInboundOffers(ctx)
		}
	}
}

// Accept blocks until a remote peer has opened a data channel to us.
func (wt *WebRTCTransport) Accept(ctx context.Context) (PeerConn, error) {
	select {
	case conn := <-wt.inbound:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wt.closed:
		return nil, net.ErrClosed
	}
}

// Close shuts down all PeerConnections and stops the offer poller.
func (wt *WebRTCTransport) Close() error {
	wt.closeOnce.Do(func() {
		close(wt.closed)
	})

	wt.mu.Lock()
	defer wt.mu.Unlock()
	for peerID, link := range wt.peers {
		link.connection.Close()
		delete(wt.peers, peerID)
	}
	return nil
}

// UpdateICEConfig replaces the ICE configuration for new
// PeerConnections. Existing connections keep their current config.
func (wt *WebRTCTransport) UpdateICEConfig(config ICEConfig) {
	wt.configMu.Lock()
	defer wt.configMu.Unlock()
	wt.iceConfig = config
}

// Dial opens the data channel to the named peer, establishing a
// PeerConnection by SDP offer/answer if none exists yet.
func (wt *WebRTCTransport) Dial(ctx context.Context, peerID string) (PeerConn, error) {
	select {
	case <-wt.closed:
		return nil, net.ErrClosed
	default:
	}

	link, err := wt.getOrCreateLink(ctx, peerID)
	if err != nil {
		return nil, fmt.Errorf("establishing peer connection to %s: %w", peerID, err)
	}

	select {
	case <-link.established:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wt.closed:
		return nil, net.ErrClosed
	}

	return wt.openMeshChannel(link)
}

// getOrCreateLink returns the peerLink for peerID, creating and
// signaling a new PeerConnection if necessary. Concurrent callers
// find the map entry and wait on link.established instead of starting
// duplicate signaling.
func (wt *WebRTCTransport) getOrCreateLink(ctx context.Context, peerID string) (*peerLink, error) {
	wt.mu.Lock()

	if link, ok := wt.peers[peerID]; ok {
		state := link.connection.ICEConnectionState()
		if state != webrtc.ICEConnectionStateFailed &&
			state != webrtc.ICEConnectionStateClosed {
			wt.mu.Unlock()
			return link, nil
		}
		// Connection is dead. Tear down and re-establish.
		link.connection.Close()
		delete(wt.peers, peerID)
	}

	pc, err := wt.newPeerConnection()
	if err != nil {
		wt.mu.Unlock()
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	link := &peerLink{
		connection:  pc,
		peerID:      peerID,
		established: make(chan struct{}),
	}
	wt.peers[peerID] = link
	wt.mu.Unlock()

	// Signaling runs outside the lock. On failure, remove the map
	// entry so the next caller retries.
	if err := wt.establishOutbound(ctx, link); err != nil {
		wt.mu.Lock()
		if current, ok := wt.peers[peerID]; ok && current == link {
			delete(wt.peers, peerID)
		}
		wt.mu.Unlock()
		pc.Close()
		return nil, err
	}

	return link, nil
}

// establishOutbound performs SDP signaling for a PeerConnection that
// is already stored in the peers map. On success link.established is
// closed by the ICE state handler.
func (wt *WebRTCTransport) establishOutbound(ctx context.Context, link *peerLink) error {
	peerID := link.peerID
	pc := link.connection

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		wt.handleInboundChannel(dc, peerID)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		wt.handleICEStateChange(peerID, link, state)
	})

	// The dialer's mesh channel is created before the offer so the
	// SDP includes a data channel section.
	meshChannel, err := pc.CreateDataChannel(meshChannelLabel, orderedChannelInit())
	if err != nil {
		return fmt.Errorf("creating mesh data channel: %w", err)
	}
	link.storeDialerConn(newDataChannelConn(meshChannel, peerID))

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating SDP offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}

	// Vanilla ICE: wait for gathering before publishing.
	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	completeSDP := pc.LocalDescription().SDP
	if err := wt.signaler.PublishOffer(ctx, wt.localID, peerID, completeSDP); err != nil {
		return fmt.Errorf("publishing SDP offer: %w", err)
	}

	wt.logger.Info("offer published", "peer", peerID)

	answerSDP, err := wt.waitForAnswer(ctx, peerID)
	if err != nil {
		return fmt.Errorf("waiting for SDP answer from %s: %w", peerID, err)
	}

	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}

	wt.logger.Info("outbound connection established", "peer", peerID)
	return nil
}

// waitForAnswer polls the signaler for an SDP answer from peerID.
// Answers for other peers drained by the same poll are stashed for
// the dials that are waiting on them.
func (wt *WebRTCTransport) waitForAnswer(ctx context.Context, peerID string) (string, error) {
	deadline := time.After(answerTimeout)
	ticker := time.NewTicker(answerPollInterval)
	defer ticker.Stop()

	for {
		if sdp, ok := wt.takeStashedAnswer(peerID); ok {
			return sdp, nil
		}

		select {
		case <-deadline:
			return "", fmt.Errorf("timed out after %s", answerTimeout)
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wt.closed:
			return "", net.ErrClosed
		case <-ticker.C:
			answers, err := wt.signaler.PollAnswers(ctx, wt.localID)
			if err != nil {
				wt.logger.Warn("polling for SDP answer failed", "error", err)
				continue
			}
			wt.stashMu.Lock()
			for _, answer := range answers {
				wt.stashed[answer.PeerID] = answer.SDP
			}
			wt.stashMu.Unlock()
		}
	}
}

func (wt *WebRTCTransport) takeStashedAnswer(peerID string) (string, bool) {
	wt.stashMu.Lock()
	defer wt.stashMu.Unlock()
	sdp, ok := wt.stashed[peerID]
	if ok {
		delete(wt.stashed, peerID)
	}
	return sdp, ok
}

// processInboundOffers checks for new SDP offers and answers them.
func (wt *WebRTCTransport) processInboundOffers(ctx context.Context) {
	offers, err := wt.signaler.PollOffers(ctx, wt.localID)
	if err != nil {
		wt.logger.Warn("polling for SDP offers failed", "error", err)
		return
	}

	for _, offer := range offers {
		wt.mu.Lock()
		existing, hasExisting := wt.peers[offer.PeerID]
		wt.mu.Unlock()

		if hasExisting {
			state := existing.connection.ICEConnectionState()
			if state != webrtc.ICEConnectionStateFailed &&
				state != webrtc.ICEConnectionStateClosed {
				// Glare: both sides dialed. The lexicographically
				// smaller peer ID is the canonical offerer.
				if offer.PeerID > wt.localID {
					// We are the canonical offerer; ignore theirs.
					continue
				}
				// They are the canonical offerer; drop our attempt.
				wt.mu.Lock()
				existing.connection.Close()
				delete(wt.peers, offer.PeerID)
				wt.mu.Unlock()
			} else {
				// Existing connection is dead. Clean it up.
				wt.mu.Lock()
				existing.connection.Close()
				delete(wt.peers, offer.PeerID)
				wt.mu.Unlock()
			}
		}

		if err := wt.answerOffer(ctx, offer); err != nil {
			wt.logger.Error("answering offer failed",
				"peer", offer.PeerID,
				"error", err,
			)
		}
	}
}

// answerOffer creates a PeerConnection in response to an inbound SDP
// offer.
func (wt *WebRTCTransport) answerOffer(ctx context.Context, offer SignalMessage) error {
	pc, err := wt.newPeerConnection()
	if err != nil {
		return fmt.Errorf("creating PeerConnection: %w", err)
	}

	link := &peerLink{
		connection:  pc,
		peerID:      offer.PeerID,
		established: make(chan struct{}),
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		wt.handleInboundChannel(dc, offer.PeerID)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		wt.handleICEStateChange(offer.PeerID, link, state)
	})

	remoteOffer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		pc.Close()
		return fmt.Errorf("setting remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("creating SDP answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		pc.Close()
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		pc.Close()
		return ctx.Err()
	}

	completeSDP := pc.LocalDescription().SDP
	if err := wt.signaler.PublishAnswer(ctx, offer.PeerID, wt.localID, completeSDP); err != nil {
		pc.Close()
		return fmt.Errorf("publishing SDP answer: %w", err)
	}

	wt.mu.Lock()
	wt.peers[offer.PeerID] = link
	wt.mu.Unlock()

	wt.logger.Info("inbound connection answered", "peer", offer.PeerID)
	return nil
}

// handleInboundChannel wraps a data channel opened by the remote peer
// and queues it for Accept.
func (wt *WebRTCTransport) handleInboundChannel(dc *webrtc.DataChannel, peerID string) {
	// Wrap before open so early messages are buffered, not lost.
	conn := newDataChannelConn(dc, peerID)

	dc.OnOpen(func() {
		wt.logger.Debug("inbound data channel opened",
			"peer", peerID,
			"label", dc.Label(),
		)
		select {
		case wt.inbound <- conn:
		case <-wt.closed:
			conn.Close()
		}
	})
}

// handleICEStateChange monitors PeerConnection state and manages the
// established signal.
func (wt *WebRTCTransport) handleICEStateChange(peerID string, link *peerLink, state webrtc.ICEConnectionState) {
	wt.logger.Debug("ICE state change", "peer", peerID, "state", state.String())

	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		select {
		case <-link.established:
			// Already signaled.
		default:
			close(link.established)
		}

	case webrtc.ICEConnectionStateFailed:
		wt.logger.Warn("peer connection failed, will re-establish on next dial",
			"peer", peerID,
		)
		// Left in the map: Dial checks the state and re-establishes.

	case webrtc.ICEConnectionStateClosed:
		wt.mu.Lock()
		if current, ok := wt.peers[peerID]; ok && current == link {
			delete(wt.peers, peerID)
		}
		wt.mu.Unlock()
	}
}

// openMeshChannel returns the dialer-side mesh channel once it is
// open.
func (wt *WebRTCTransport) openMeshChannel(link *peerLink) (PeerConn, error) {
	conn := link.loadDialerConn()
	if conn == nil {
		return nil, fmt.Errorf("no dialer channel on link to %s", link.peerID)
	}

	// Register the handler before checking state so an open that
	// lands between the two is not missed.
	openChan := make(chan struct{})
	conn.dc.OnOpen(func() { close(openChan) })
	if conn.dc.ReadyState() == webrtc.DataChannelStateOpen {
		return conn, nil
	}

	select {
	case <-openChan:
	case <-time.After(10 * time.Second):
		conn.Close()
		return nil, fmt.Errorf("mesh channel to %s did not open within 10s", link.peerID)
	case <-wt.closed:
		conn.Close()
		return nil, net.ErrClosed
	}

	return conn, nil
}

// newPeerConnection creates a pion PeerConnection with the current
// ICE config. Loopback candidates are enabled so same-machine and
// test setups work without STUN.
func (wt *WebRTCTransport) newPeerConnection() (*webrtc.PeerConnection, error) {
	wt.configMu.RLock()
	config := webrtc.Configuration{
		ICEServers: wt.iceConfig.Servers,
	}
	wt.configMu.RUnlock()

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

// orderedChannelInit returns the init options for the mesh channel:
// ordered and fully reliable, matching the protocol's assumption of
// in-order exactly-once delivery.
func orderedChannelInit() *webrtc.DataChannelInit {
	ordered := true
	return &webrtc.DataChannelInit{Ordered: &ordered}
}

func (l *peerLink) storeDialerConn(conn *dataChannelConn) {
	l.dialerConnMu.Lock()
	defer l.dialerConnMu.Unlock()
	l.dialerConn = conn
}

func (l *peerLink) loadDialerConn() *dataChannelConn {
	l.dialerConnMu.Lock()
	defer l.dialerConnMu.Unlock()
	return l.dialerConn
}
