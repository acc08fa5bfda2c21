// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeJoin(t *testing.T) {
	data, err := Encode(Join{PeerID: "peer-a", Name: "alice"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	join, ok := msg.(*Join)
	if !ok {
		t.Fatalf("decoded type = %T, want *Join", msg)
	}
	if join.PeerID != "peer-a" || join.Name != "alice" {
		t.Errorf("decoded join = %+v", join)
	}
}

func TestEncodeDecodeChunkRawBytes(t *testing.T) {
	payload := make([]byte, 65536)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	data, err := Encode(FileChunk{FileID: "f1", Payload: payload})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// CBOR byte strings carry content verbatim plus a small header.
	// A base64 or hex representation would blow well past this bound.
	if len(data) > len(payload)+64 {
		t.Errorf("encoded chunk is %d bytes for a %d byte payload; payload is not raw", len(data), len(payload))
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	chunk := msg.(*FileChunk)
	if chunk.FileID != "f1" {
		t.Errorf("FileID = %q, want f1", chunk.FileID)
	}
	if !bytes.Equal(chunk.Payload, payload) {
		t.Error("chunk payload corrupted in round trip")
	}
}

func TestDecodeUserList(t *testing.T) {
	users := []RoomUser{
		{PeerID: "peer-a", Name: "alice"},
		{PeerID: "peer-b", Name: "bob"},
	}
	data, err := Encode(UserList{Users: users})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	list := msg.(*UserList)
	if len(list.Users) != 2 || list.Users[0] != users[0] || list.Users[1] != users[1] {
		t.Errorf("decoded users = %+v, want %+v", list.Users, users)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	data, err := Encode(FileEnd{FileID: "f1"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Corrupt the kind by re-encoding an envelope with a bogus tag.
	bogus := bytes.Replace(data, []byte("end"), []byte("nah"), 1)

	if _, err := Decode(bogus); err == nil {
		t.Error("Decode accepted an unknown envelope kind")
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0x00, 0x13}); err == nil {
		t.Error("Decode accepted garbage input")
	}
}

func TestMetadataKindTags(t *testing.T) {
	// The wire tags are protocol constants; a rename must not leak
	// into the encoding.
	cases := []struct {
		msg  Message
		want Kind
	}{
		{Join{}, "join"},
		{UserList{}, "user-list"},
		{UserJoined{}, "user-joined"},
		{UserLeft{}, "user-left"},
		{FileMetadata{}, "metadata"},
		{FileChunk{}, "chunk"},
		{FileEnd{}, "end"},
	}
	for _, tc := range cases {
		if tc.msg.Kind() != tc.want {
			t.Errorf("%T.Kind() = %q, want %q", tc.msg, tc.msg.Kind(), tc.want)
		}
	}
}
