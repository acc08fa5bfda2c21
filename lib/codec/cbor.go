// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec wraps the CBOR library with Meshdrop's standard
// encoder and decoder configuration. Every message that crosses a
// peer channel is encoded through this package, so the same logical
// value always produces identical bytes (Core Deterministic Encoding,
// RFC 8949 §4.2) and unknown fields are ignored on decode for
// forward compatibility.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Wire payloads only ever use string map keys. When decoding
		// into an any-typed target, produce map[string]any instead of
		// the CBOR default map[interface{}]interface{}.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value. It delays decoding of a
// payload until its kind is known.
type RawMessage = cbor.RawMessage
