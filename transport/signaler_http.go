// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transport

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

// Compile-time interface check.
var _ Signaler = (*HTTPSignaler)(nil)

// HTTPSignaler exchanges SDP through the registry server's signaling
// endpoints. Offers and answers are posted as JSON and polled with a
// consuming GET, scoped to one room.
type HTTPSignaler struct {
	baseURL string
	roomID  string
	client  *http.Client
}

// NewHTTPSignaler creates a signaler talking to the registry server
// at baseURL (e.g. "http://registry.example:8137") for the given room.
func NewHTTPSignaler(baseURL, roomID string) *HTTPSignaler {
	return &HTTPSignaler{
		baseURL: baseURL,
		roomID:  roomID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// signalEnvelope is the POST body for both offers and answers.
type signalEnvelope struct {
	From string `json:"from"`
	To   string `json:"to"`
	SDP  string `json:"sdp"`
}

// signalList is the poll response for both offers and answers.
type signalList struct {
	Signals []SignalMessage `json:"signals"`
}

func (s *HTTPSignaler) PublishOffer(ctx context.Context, peerID, targetID, sdp string) error {
	return s.publish(ctx, "offers", signalEnvelope{From: peerID, To: targetID, SDP: sdp})
}

func (s *HTTPSignaler) PublishAnswer(ctx context.Context, offererID, peerID, sdp string) error {
	return s.publish(ctx, "answers", signalEnvelope{From: peerID, To: offererID, SDP: sdp})
}

func (s *HTTPSignaler) PollOffers(ctx context.Context, peerID string) ([]SignalMessage, error) {
	return s.poll(ctx, "offers", peerID)
}

func (s *HTTPSignaler) PollAnswers(ctx context.Context, peerID string) ([]SignalMessage, error) {
	return s.poll(ctx, "answers", peerID)
}

func (s *HTTPSignaler) publish(ctx context.Context, box string, envelope signalEnvelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encoding signal: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(box), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building signal request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("posting %s signal: %w", box, err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, response.Body)

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("posting %s signal: registry returned %s", box, response.Status)
	}
	return nil
}

func (s *HTTPSignaler) poll(ctx context.Context, box, peerID string) ([]SignalMessage, error) {
	endpoint := s.endpoint(box) + "?peer=" + url.QueryEscape(peerID)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building poll request: %w", err)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("polling %s: %w", box, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		io.Copy(io.Discard, response.Body)
		return nil, fmt.Errorf("polling %s: registry returned %s", box, response.Status)
	}

	var list signalList
	if err := json.NewDecoder(response.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding %s poll response: %w", box, err)
	}
	return list.Signals, nil
}

func (s *HTTPSignaler) endpoint(box string) string {
	return fmt.Sprintf("%s/rooms/%s/signal/%s", s.baseURL, url.PathEscape(s.roomID), box)
}
