// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/meshdrop/meshdrop/discovery"
	"github.com/meshdrop/meshdrop/wire"
)

// EngineState is the local process's position in the room lifecycle.
type EngineState int

const (
	// Uninitialized: Join has not been called.
	Uninitialized EngineState = iota
	// Joining: Join is registering with discovery and dialing.
	Joining
	// Joined: in the room.
	Joined
	// Left: departed; the engine is done.
	Left
)

func (s EngineState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case Left:
		return "left"
	}
	return "unknown"
}

// ErrNotJoinable is returned by Join when the engine has already
// joined or left.
var ErrNotJoinable = errors.New("room: engine is not in a joinable state")

// FileHandler consumes file-transfer envelopes received from peers.
// The membership engine routes metadata/chunk/end messages here and
// handles everything else itself.
type FileHandler interface {
	HandleMetadata(peerID string, metadata *wire.FileMetadata)
	HandleChunk(peerID string, chunk *wire.FileChunk)
	HandleEnd(peerID string, end *wire.FileEnd)
}

// Engine runs the membership protocol. It owns both the
// connect-to-peer operation and the channel message handler, the two
// mutually referential halves of the gossip: handling a message can
// require a new connection, and every new connection triggers
// messages.
type Engine struct {
	self      wire.RoomUser
	registry  *Registry
	discovery *discovery.Client
	files     FileHandler
	logger    *slog.Logger

	// onRosterChange, when set, fires after every roster mutation
	// with the new membership.
	onRosterChange func(users []wire.RoomUser)

	mu     sync.Mutex
	state  EngineState
	roster *Roster
}

// NewEngine creates a membership engine for the given identity and
// wires itself in as the registry's event surface.
func NewEngine(self wire.RoomUser, registry *Registry, client *discovery.Client, files FileHandler, logger *slog.Logger) *Engine {
	engine := &Engine{
		self:      self,
		registry:  registry,
		discovery: client,
		files:     files,
		logger:    logger,
		state:     Uninitialized,
		roster:    NewRoster(),
	}
	registry.SetCallbacks(Callbacks{
		OnOpen:    engine.handleChannelOpen,
		OnMessage: engine.handleMessage,
		OnClose:   engine.handleChannelGone,
		OnError:   engine.handleChannelError,
	})
	return engine
}

// Self returns the local participant's identity.
func (e *Engine) Self() wire.RoomUser { return e.self }

// State returns the engine's lifecycle state.
func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Roster returns the current known membership, excluding self.
func (e *Engine) Roster() []wire.RoomUser {
	return e.roster.Users()
}

// SetRosterCallback installs a listener fired after every roster
// change. Call before Join.
func (e *Engine) SetRosterCallback(callback func(users []wire.RoomUser)) {
	e.onRosterChange = callback
}

// Join enters the room: register with the discovery registry, fetch
// the current roster, and start a direct connection to every listed
// participant. Channels opening later drive the rest of the protocol.
// A discovery failure aborts the join and is returned to the caller.
func (e *Engine) Join(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Uninitialized {
		e.mu.Unlock()
		return ErrNotJoinable
	}
	e.state = Joining
	e.mu.Unlock()

	if _, err := e.discovery.Announce(ctx, e.self.PeerID, e.self.Name); err != nil {
		e.setState(Uninitialized)
		return fmt.Errorf("registering with discovery: %w", err)
	}

	peers, err := e.discovery.Peers(ctx)
	if err != nil {
		e.setState(Uninitialized)
		return fmt.Errorf("fetching initial roster: %w", err)
	}

	for _, peer := range peers {
		if peer.PeerID == e.self.PeerID {
			continue
		}
		e.admit(wire.RoomUser{PeerID: peer.PeerID, Name: peer.Name})
	}

	e.setState(Joined)
	e.logger.Info("joined room", "peer", e.self.PeerID, "known_peers", len(peers)-1)
	return nil
}

// Leave departs the room: announce user-left to every open channel,
// best-effort deregister from discovery, close all channels, and
// clear the roster. Safe to call once; subsequent calls are no-ops.
func (e *Engine) Leave(ctx context.Context) {
	e.mu.Lock()
	if e.state == Left {
		e.mu.Unlock()
		return
	}
	e.state = Left
	e.mu.Unlock()

	if payload, err := wire.Encode(wire.UserLeft{PeerID: e.self.PeerID}); err == nil {
		e.registry.SendToAllExcept("", payload)
	}

	// Best-effort: the process is leaving either way, and the
	// registry's staleness sweep cleans up after us eventually.
	if err := e.discovery.Depart(ctx, e.self.PeerID); err != nil {
		e.logger.Warn("discovery deregistration failed", "error", err)
	}

	e.registry.CloseAll()
	e.roster.Clear()
	e.notifyRoster()
	e.logger.Info("left room", "peer", e.self.PeerID)
}

// admit adds a participant to the roster if absent and ensures a
// channel to it exists. The registry's Open is idempotent, so calling
// this from every code path that learns about a peer is safe.
func (e *Engine) admit(user wire.RoomUser) {
	if user.PeerID == e.self.PeerID {
		return
	}
	if e.roster.Add(user) {
		e.logger.Info("roster add", "peer", user.PeerID, "name", user.Name)
		e.notifyRoster()
	}
	e.registry.Open(user.PeerID)
}

// handleChannelOpen announces self on the fresh channel and sends a
// full roster snapshot. The snapshot is what makes late joiners
// converge: one open channel to one member teaches them the whole
// room.
func (e *Engine) handleChannelOpen(peerID string) {
	if payload, err := wire.Encode(wire.Join{PeerID: e.self.PeerID, Name: e.self.Name}); err == nil {
		if err := e.registry.SendToOne(peerID, payload); err != nil {
			e.logger.Warn("sending join failed", "peer", peerID, "error", err)
		}
	}

	snapshot := wire.UserList{Users: []wire.RoomUser{e.self}}
	for _, user := range e.roster.Users() {
		if user.PeerID == peerID {
			continue
		}
		snapshot.Users = append(snapshot.Users, user)
	}
	if payload, err := wire.Encode(snapshot); err == nil {
		if err := e.registry.SendToOne(peerID, payload); err != nil {
			e.logger.Warn("sending roster snapshot failed", "peer", peerID, "error", err)
		}
	}
}

// handleMessage decodes one envelope and dispatches it. Malformed
// envelopes are logged and dropped; the channel stays up.
func (e *Engine) handleMessage(peerID string, payload []byte) {
	message, err := wire.Decode(payload)
	if err != nil {
		e.logger.Warn("dropping undecodable message", "peer", peerID, "error", err)
		return
	}

	switch msg := message.(type) {
	case *wire.Join:
		e.admit(wire.RoomUser{PeerID: msg.PeerID, Name: msg.Name})

	case *wire.UserList:
		// Roster reconciliation: union by peer ID, then connect to
		// every member we are not connected to yet. Never drops
		// members we already know.
		for _, user := range msg.Users {
			e.admit(user)
		}

	case *wire.UserJoined:
		e.admit(msg.User)

	case *wire.UserLeft:
		e.dismiss(msg.PeerID)

	case *wire.FileMetadata:
		if e.files != nil {
			e.files.HandleMetadata(peerID, msg)
		}
	case *wire.FileChunk:
		if e.files != nil {
			e.files.HandleChunk(peerID, msg)
		}
	case *wire.FileEnd:
		if e.files != nil {
			e.files.HandleEnd(peerID, msg)
		}
	}
}

// dismiss removes a departed participant and discards its channel.
func (e *Engine) dismiss(peerID string) {
	if e.roster.Remove(peerID) {
		e.logger.Info("roster remove", "peer", peerID)
		e.notifyRoster()
	}
	e.registry.Close(peerID)
}

// handleChannelGone reacts to a channel dying without a user-left:
// remove the member locally and rebroadcast user-left on its behalf,
// so the departure propagates even though the peer could not send it.
func (e *Engine) handleChannelGone(peerID string) {
	if !e.roster.Remove(peerID) {
		return
	}
	e.logger.Info("roster remove (channel lost)", "peer", peerID)
	e.notifyRoster()

	if payload, err := wire.Encode(wire.UserLeft{PeerID: peerID}); err == nil {
		e.registry.SendToAllExcept(peerID, payload)
	}
}

// handleChannelError covers both failed connection attempts and
// errors on established channels. Established channels also get a
// close event, so membership cleanup happens there; this is the
// user-facing status surface.
func (e *Engine) handleChannelError(peerID string, err error) {
	e.logger.Warn("peer channel error", "peer", peerID, "error", err)
	e.handleChannelGone(peerID)
}

func (e *Engine) setState(state EngineState) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

func (e *Engine) notifyRoster() {
	if e.onRosterChange != nil {
		e.onRosterChange(e.roster.Users())
	}
}
