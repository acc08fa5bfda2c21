// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/meshdrop/meshdrop/lib/clock"
	"github.com/meshdrop/meshdrop/wire"
)

// ChunkSize is the fixed chunk payload size. The receiver accepts
// whatever chunk sizes arrive; this is the sender's contract.
const ChunkSize = 64 * 1024

// Broadcaster sends one payload to every open peer channel. The room
// channel registry satisfies this.
type Broadcaster interface {
	SendToAllExcept(excludedPeerID string, payload []byte)
}

// OutgoingState is the sender-side lifecycle of one file.
type OutgoingState int

const (
	// Idle: created, not yet announced.
	Idle OutgoingState = iota
	// Announcing: metadata is being broadcast.
	Announcing
	// Streaming: chunks are flowing.
	Streaming
	// Completed: end has been broadcast.
	Completed
	// Aborted: a source read failed mid-stream; no end was sent.
	Aborted
)

func (s OutgoingState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Announcing:
		return "announcing"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Progress is one progress report for a transfer in flight.
type Progress struct {
	FileID     string
	SentBytes  uint64
	TotalBytes uint64
	Percent    float64
}

// OutgoingTransfer tracks one locally initiated file send.
type OutgoingTransfer struct {
	fileID string
	source Source
	digest string

	mu        sync.Mutex
	state     OutgoingState
	sentBytes uint64
}

// FileID returns the transfer's identifier. Stable across resends.
func (t *OutgoingTransfer) FileID() string { return t.fileID }

// Digest returns the hex BLAKE3 digest of the source.
func (t *OutgoingTransfer) Digest() string { return t.digest }

// State returns the transfer's lifecycle state.
func (t *OutgoingTransfer) State() OutgoingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Percent returns the fraction of the source streamed so far, 0-100.
func (t *OutgoingTransfer) Percent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Completed {
		return 100
	}
	return percent(t.sentBytes, t.source.Size())
}

func (t *OutgoingTransfer) setState(state OutgoingState) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

// ErrUnknownTransfer is returned by Resend for a file ID this sender
// never sent.
var ErrUnknownTransfer = errors.New("transfer: unknown file id")

// Sender broadcasts files to the room. Sends are strictly sequential:
// a Send or Resend call blocks until every earlier one has finished
// streaming.
type Sender struct {
	self        wire.RoomUser
	broadcaster Broadcaster
	clock       clock.Clock
	logger      *slog.Logger

	// onProgress, when set, fires after every streamed chunk.
	onProgress func(Progress)

	// streamMu serializes entire chunk streams.
	streamMu sync.Mutex

	mu        sync.Mutex
	transfers map[string]*OutgoingTransfer
}

// NewSender creates a sender identified as self on the wire.
func NewSender(self wire.RoomUser, broadcaster Broadcaster, clk clock.Clock, logger *slog.Logger) *Sender {
	return &Sender{
		self:        self,
		broadcaster: broadcaster,
		clock:       clk,
		logger:      logger,
		transfers:   make(map[string]*OutgoingTransfer),
	}
}

// SetProgressCallback installs a per-chunk progress listener. Call
// before the first Send.
func (s *Sender) SetProgressCallback(callback func(Progress)) {
	s.onProgress = callback
}

// Send digests the source, announces it to the room under a fresh
// file ID, and streams its chunks. Blocks until the stream completes
// or aborts.
func (s *Sender) Send(source Source) (*OutgoingTransfer, error) {
	digest, err := digestSource(source)
	if err != nil {
		return nil, fmt.Errorf("digesting %q: %w", source.Name(), err)
	}

	transfer := &OutgoingTransfer{
		fileID: fmt.Sprintf("%s-%d-%s", s.self.PeerID, s.clock.Now().UnixMilli(), source.Name()),
		source: source,
		digest: digest,
		state:  Idle,
	}
	s.mu.Lock()
	s.transfers[transfer.fileID] = transfer
	s.mu.Unlock()

	if err := s.stream(transfer); err != nil {
		return transfer, err
	}
	return transfer, nil
}

// Resend streams a previously sent file again under its original file
// ID. Receivers that already sealed the file ignore the repeat;
// receivers that missed it (or joined late) get a full copy.
func (s *Sender) Resend(fileID string) error {
	s.mu.Lock()
	transfer, ok := s.transfers[fileID]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownTransfer
	}
	return s.stream(transfer)
}

// Transfer returns the transfer for fileID, if this sender owns it.
func (s *Sender) Transfer(fileID string) (*OutgoingTransfer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	transfer, ok := s.transfers[fileID]
	return transfer, ok
}

func (s *Sender) stream(t *OutgoingTransfer) error {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	source := t.source
	t.mu.Lock()
	t.state = Announcing
	t.sentBytes = 0
	t.mu.Unlock()

	if err := s.broadcast(wire.FileMetadata{
		FileID:     t.fileID,
		Name:       source.Name(),
		Size:       source.Size(),
		MimeType:   source.MimeType(),
		SenderID:   s.self.PeerID,
		SenderName: s.self.Name,
		Digest:     t.digest,
	}); err != nil {
		t.setState(Aborted)
		return err
	}

	reader, err := source.Open()
	if err != nil {
		t.setState(Aborted)
		return fmt.Errorf("opening %q: %w", source.Name(), err)
	}
	defer reader.Close()

	t.setState(Streaming)
	s.logger.Info("streaming file", "file_id", t.fileID, "size", source.Size())

	buf := make([]byte, ChunkSize)
	for {
		n, err := io.ReadFull(reader, buf)
		if n > 0 {
			// The broadcast queues the payload; it must not alias the
			// reused read buffer.
			payload := make([]byte, n)
			copy(payload, buf[:n])
			if err := s.broadcast(wire.FileChunk{FileID: t.fileID, Payload: payload}); err != nil {
				t.setState(Aborted)
				return err
			}

			t.mu.Lock()
			t.sentBytes += uint64(n)
			sent := t.sentBytes
			t.mu.Unlock()
			if s.onProgress != nil {
				s.onProgress(Progress{
					FileID:     t.fileID,
					SentBytes:  sent,
					TotalBytes: source.Size(),
					Percent:    percent(sent, source.Size()),
				})
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			// Read failure mid-stream: abort without end. Receivers
			// never seal a stream that gets no end message.
			t.setState(Aborted)
			s.logger.Warn("transfer aborted", "file_id", t.fileID, "error", err)
			return fmt.Errorf("reading %q: %w", source.Name(), err)
		}
	}

	if err := s.broadcast(wire.FileEnd{FileID: t.fileID}); err != nil {
		t.setState(Aborted)
		return err
	}
	t.setState(Completed)
	s.logger.Info("transfer completed", "file_id", t.fileID)
	return nil
}

func (s *Sender) broadcast(message wire.Message) error {
	payload, err := wire.Encode(message)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", message.Kind(), err)
	}
	s.broadcaster.SendToAllExcept("", payload)
	return nil
}

// digestSource hashes the full source contents.
func digestSource(source Source) (string, error) {
	reader, err := source.Open()
	if err != nil {
		return "", err
	}
	defer reader.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, reader); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func percent(done, total uint64) float64 {
	if total == 0 {
		if done == 0 {
			return 0
		}
		return 100
	}
	return float64(done) / float64(total) * 100
}
