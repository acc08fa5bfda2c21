// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the registry server for one room. Announce and
// Peers failures during join are real errors the caller surfaces;
// Depart failures during teardown are for the caller to swallow (the
// registry sweep cleans up behind a vanished peer anyway).
type Client struct {
	baseURL string
	roomID  string
	client  *http.Client
}

// NewClient creates a registry client for the given room.
func NewClient(baseURL, roomID string) *Client {
	return &Client{
		baseURL: baseURL,
		roomID:  roomID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Announce upserts this peer's registry entry and returns the room's
// current roster.
func (c *Client) Announce(ctx context.Context, peerID, name string) ([]Peer, error) {
	body, err := json.Marshal(Peer{PeerID: peerID, Name: name})
	if err != nil {
		return nil, fmt.Errorf("encoding announce body: %w", err)
	}
	return c.roundTrip(ctx, http.MethodPost, bytes.NewReader(body))
}

// Peers fetches the room's current roster.
func (c *Client) Peers(ctx context.Context) ([]Peer, error) {
	return c.roundTrip(ctx, http.MethodGet, nil)
}

// Depart removes this peer's registry entry.
func (c *Client) Depart(ctx context.Context, peerID string) error {
	body, err := json.Marshal(struct {
		PeerID string `json:"peerId"`
	}{PeerID: peerID})
	if err != nil {
		return fmt.Errorf("encoding depart body: %w", err)
	}
	_, err = c.roundTrip(ctx, http.MethodDelete, bytes.NewReader(body))
	return err
}

func (c *Client) roundTrip(ctx context.Context, method string, body io.Reader) ([]Peer, error) {
	endpoint := fmt.Sprintf("%s/rooms/%s/peers", c.baseURL, url.PathEscape(c.roomID))
	request, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("building registry request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("registry %s: %w", method, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		io.Copy(io.Discard, response.Body)
		return nil, fmt.Errorf("registry %s: server returned %s", method, response.Status)
	}

	var decoded peersResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding registry response: %w", err)
	}
	return decoded.Peers, nil
}
