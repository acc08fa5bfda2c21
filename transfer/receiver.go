// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/meshdrop/meshdrop/lib/clock"
	"github.com/meshdrop/meshdrop/wire"
)

// IncomingState is the receiver-side lifecycle of one file.
type IncomingState int

const (
	// Receiving: metadata seen, chunks accumulating.
	Receiving IncomingState = iota
	// Sealed: end seen, artifact assembled. Terminal.
	Sealed
)

func (s IncomingState) String() string {
	switch s {
	case Receiving:
		return "receiving"
	case Sealed:
		return "sealed"
	}
	return "unknown"
}

// IncomingTransfer is a snapshot of one incoming file's state.
type IncomingTransfer struct {
	FileID         string
	Name           string
	Size           uint64
	MimeType       string
	SenderID       string
	SenderName     string
	State          IncomingState
	ReceivedBytes  uint64
	Percent        float64
	SealedAt       time.Time
	DigestMismatch bool
}

// incoming is the receiver's mutable record, guarded by Receiver.mu.
type incoming struct {
	metadata wire.FileMetadata
	state    IncomingState
	chunks   [][]byte
	received uint64
	artifact []byte
	sealedAt time.Time
	mismatch bool
}

// Receiver reassembles files broadcast into the room. It is the room
// engine's file handler: metadata opens a transfer, chunks accumulate
// in arrival order, end seals. Messages referencing an unknown or
// already-sealed file ID are dropped without comment, which is what
// makes resends idempotent and stragglers harmless.
type Receiver struct {
	clock  clock.Clock
	logger *slog.Logger

	// onSealed, when set, fires once per transfer when it seals.
	onSealed func(IncomingTransfer, []byte)
	// onProgress, when set, fires after every accepted chunk.
	onProgress func(Progress)

	mu        sync.Mutex
	transfers map[string]*incoming
}

// NewReceiver creates an empty receiver.
func NewReceiver(clk clock.Clock, logger *slog.Logger) *Receiver {
	return &Receiver{
		clock:     clk,
		logger:    logger,
		transfers: make(map[string]*incoming),
	}
}

// SetSealedCallback installs a listener fired with the transfer
// snapshot and the assembled artifact when a transfer seals. Call
// before the receiver is wired into the room engine.
func (r *Receiver) SetSealedCallback(callback func(IncomingTransfer, []byte)) {
	r.onSealed = callback
}

// SetProgressCallback installs a per-chunk progress listener.
func (r *Receiver) SetProgressCallback(callback func(Progress)) {
	r.onProgress = callback
}

// HandleMetadata opens a transfer for a newly announced file. A
// metadata message for a sealed file ID is ignored: a resend must not
// disturb an existing artifact. For a file ID still receiving it
// restarts the transfer, discarding chunks from the interrupted
// attempt so the resent stream reassembles cleanly.
func (r *Receiver) HandleMetadata(peerID string, metadata *wire.FileMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.transfers[metadata.FileID]; ok {
		if existing.state == Sealed {
			return
		}
		existing.metadata = *metadata
		existing.chunks = nil
		existing.received = 0
		r.logger.Info("restarting incoming file", "file_id", metadata.FileID,
			"name", metadata.Name, "sender", metadata.SenderID)
		return
	}
	r.transfers[metadata.FileID] = &incoming{
		metadata: *metadata,
		state:    Receiving,
	}
	r.logger.Info("incoming file", "file_id", metadata.FileID, "name", metadata.Name,
		"size", metadata.Size, "sender", metadata.SenderID)
}

// HandleChunk appends one chunk to its transfer. Chunks for unknown
// or sealed file IDs are dropped.
func (r *Receiver) HandleChunk(peerID string, chunk *wire.FileChunk) {
	r.mu.Lock()
	transfer, ok := r.transfers[chunk.FileID]
	if !ok || transfer.state != Receiving {
		r.mu.Unlock()
		return
	}
	transfer.chunks = append(transfer.chunks, chunk.Payload)
	transfer.received += uint64(len(chunk.Payload))
	progress := Progress{
		FileID:     chunk.FileID,
		SentBytes:  transfer.received,
		TotalBytes: transfer.metadata.Size,
		Percent:    percent(transfer.received, transfer.metadata.Size),
	}
	r.mu.Unlock()

	if r.onProgress != nil {
		r.onProgress(progress)
	}
}

// HandleEnd seals a transfer: the chunks are concatenated in arrival
// order into the final artifact. End messages for unknown or sealed
// file IDs are dropped, so a sealed transfer's artifact and seal
// timestamp survive any number of resends unchanged.
func (r *Receiver) HandleEnd(peerID string, end *wire.FileEnd) {
	r.mu.Lock()
	transfer, ok := r.transfers[end.FileID]
	if !ok || transfer.state != Receiving {
		r.mu.Unlock()
		return
	}

	artifact := make([]byte, 0, transfer.received)
	for _, chunk := range transfer.chunks {
		artifact = append(artifact, chunk...)
	}
	transfer.artifact = artifact
	transfer.chunks = nil
	transfer.state = Sealed
	transfer.sealedAt = r.clock.Now()

	if transfer.metadata.Digest != "" {
		sum := blake3.Sum256(artifact)
		if hex.EncodeToString(sum[:]) != transfer.metadata.Digest {
			transfer.mismatch = true
		}
	}
	snapshot := snapshotLocked(end.FileID, transfer)
	mismatch := transfer.mismatch
	r.mu.Unlock()

	if mismatch {
		r.logger.Warn("sealed artifact digest mismatch", "file_id", end.FileID)
	} else {
		r.logger.Info("file sealed", "file_id", end.FileID, "bytes", len(artifact))
	}
	if r.onSealed != nil {
		r.onSealed(snapshot, artifact)
	}
}

// Transfer returns a snapshot of the transfer for fileID.
func (r *Receiver) Transfer(fileID string) (IncomingTransfer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	transfer, ok := r.transfers[fileID]
	if !ok {
		return IncomingTransfer{}, false
	}
	return snapshotLocked(fileID, transfer), true
}

// Artifact returns the assembled bytes of a sealed transfer.
func (r *Receiver) Artifact(fileID string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	transfer, ok := r.transfers[fileID]
	if !ok || transfer.state != Sealed {
		return nil, false
	}
	return transfer.artifact, true
}

func snapshotLocked(fileID string, transfer *incoming) IncomingTransfer {
	snapshot := IncomingTransfer{
		FileID:         fileID,
		Name:           transfer.metadata.Name,
		Size:           transfer.metadata.Size,
		MimeType:       transfer.metadata.MimeType,
		SenderID:       transfer.metadata.SenderID,
		SenderName:     transfer.metadata.SenderName,
		State:          transfer.state,
		ReceivedBytes:  transfer.received,
		Percent:        percent(transfer.received, transfer.metadata.Size),
		SealedAt:       transfer.sealedAt,
		DigestMismatch: transfer.mismatch,
	}
	if transfer.state == Sealed {
		snapshot.Percent = 100
	}
	return snapshot
}
