// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the peer-to-peer message envelope exchanged
// over room data channels. Every channel message is one CBOR-encoded
// [Envelope]: a kind tag plus a kind-specific payload. Four kinds
// carry the membership protocol (join, user-list, user-joined,
// user-left) and three carry chunked file transfer (metadata, chunk,
// end). Chunk payloads are raw CBOR byte strings, never base64.
package wire

import (
	"fmt"

	"github.com/meshdrop/meshdrop/lib/codec"
)

// Kind discriminates the envelope payload.
type Kind string

// Envelope kinds. The values are the wire tags; changing one breaks
// protocol compatibility with deployed peers.
const (
	KindJoin       Kind = "join"
	KindUserList   Kind = "user-list"
	KindUserJoined Kind = "user-joined"
	KindUserLeft   Kind = "user-left"
	KindMetadata   Kind = "metadata"
	KindChunk      Kind = "chunk"
	KindEnd        Kind = "end"
)

// Envelope is the single value sent per channel message.
type Envelope struct {
	Kind    Kind             `cbor:"kind"`
	Payload codec.RawMessage `cbor:"payload,omitempty"`
}

// Message is implemented by every payload type.
type Message interface {
	Kind() Kind
}

// RoomUser identifies one room participant.
type RoomUser struct {
	PeerID string `cbor:"peer_id"`
	Name   string `cbor:"name"`
}

// Join announces the sender on a freshly opened channel.
type Join struct {
	PeerID string `cbor:"peer_id"`
	Name   string `cbor:"name"`
}

// UserList is a roster snapshot: everything the sender knows,
// including itself, minus the recipient. Receivers merge it by
// peerId union and never drop members they already know.
type UserList struct {
	Users []RoomUser `cbor:"users"`
}

// UserJoined propagates a newly seen participant. A receiver that is
// not yet connected to the subject initiates a direct connection.
type UserJoined struct {
	User RoomUser `cbor:"user"`
}

// UserLeft propagates a departure, either announced by the departing
// peer itself or rebroadcast by a peer that observed its channel die.
type UserLeft struct {
	PeerID string `cbor:"peer_id"`
}

// FileMetadata opens a transfer. FileID is unique to one logical
// send and stable across resends of that send.
type FileMetadata struct {
	FileID     string `cbor:"file_id"`
	Name       string `cbor:"name"`
	Size       uint64 `cbor:"size"`
	MimeType   string `cbor:"mime_type,omitempty"`
	SenderID   string `cbor:"sender_id"`
	SenderName string `cbor:"sender_name"`

	// Digest is the optional BLAKE3 hex digest of the complete file.
	// Receivers verify it on seal when present; a mismatch is
	// recorded but does not reject the transfer.
	Digest string `cbor:"digest,omitempty"`
}

// FileChunk carries one in-order slice of file content.
type FileChunk struct {
	FileID  string `cbor:"file_id"`
	Payload []byte `cbor:"payload"`
}

// FileEnd seals a transfer.
type FileEnd struct {
	FileID string `cbor:"file_id"`
}

func (Join) Kind() Kind         { return KindJoin }
func (UserList) Kind() Kind     { return KindUserList }
func (UserJoined) Kind() Kind   { return KindUserJoined }
func (UserLeft) Kind() Kind     { return KindUserLeft }
func (FileMetadata) Kind() Kind { return KindMetadata }
func (FileChunk) Kind() Kind    { return KindChunk }
func (FileEnd) Kind() Kind      { return KindEnd }

// Encode wraps msg in an Envelope and encodes it to CBOR.
func Encode(msg Message) ([]byte, error) {
	payload, err := codec.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", msg.Kind(), err)
	}
	data, err := codec.Marshal(Envelope{Kind: msg.Kind(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", msg.Kind(), err)
	}
	return data, nil
}

// Decode parses one envelope and returns its typed payload. An
// unknown kind is an error: the caller decides whether to drop the
// message or surface the problem.
func Decode(data []byte) (Message, error) {
	var envelope Envelope
	if err := codec.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	var msg Message
	switch envelope.Kind {
	case KindJoin:
		msg = &Join{}
	case KindUserList:
		msg = &UserList{}
	case KindUserJoined:
		msg = &UserJoined{}
	case KindUserLeft:
		msg = &UserLeft{}
	case KindMetadata:
		msg = &FileMetadata{}
	case KindChunk:
		msg = &FileChunk{}
	case KindEnd:
		msg = &FileEnd{}
	default:
		return nil, fmt.Errorf("unknown envelope kind %q", envelope.Kind)
	}

	if err := codec.Unmarshal(envelope.Payload, msg); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", envelope.Kind, err)
	}
	return msg, nil
}
