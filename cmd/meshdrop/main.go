// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

// meshdrop joins a room and exchanges files with its other members
// over direct peer-to-peer channels.
//
// The process registers with the discovery registry, connects to
// every current member, and stays in the room until interrupted.
// Files named with --send are broadcast once the mesh has settled;
// files received from other members are written to the download
// directory as they seal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/meshdrop/meshdrop/discovery"
	"github.com/meshdrop/meshdrop/lib/clock"
	"github.com/meshdrop/meshdrop/lib/config"
	"github.com/meshdrop/meshdrop/lib/version"
	"github.com/meshdrop/meshdrop/room"
	"github.com/meshdrop/meshdrop/transfer"
	"github.com/meshdrop/meshdrop/transport"
	"github.com/meshdrop/meshdrop/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var roomID string
	var registryURL string
	var displayName string
	var downloadDir string
	var sendPaths []string
	var settle time.Duration
	var showVersion bool

	flagSet := pflag.NewFlagSet("meshdrop", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $MESHDROP_CONFIG)")
	flagSet.StringVar(&roomID, "room", "", "room identifier to join (required)")
	flagSet.StringVar(&registryURL, "registry", "", "discovery registry base URL (overrides config)")
	flagSet.StringVar(&displayName, "name", "", "display name shown to other members (overrides config)")
	flagSet.StringVar(&downloadDir, "download-dir", "", "directory for received files (overrides config)")
	flagSet.StringSliceVar(&sendPaths, "send", nil, "file to broadcast after joining (repeatable)")
	flagSet.DurationVar(&settle, "settle", 2*time.Second, "delay between joining and the first send")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if showVersion {
		version.Print("meshdrop")
		return nil
	}
	if roomID == "" {
		return fmt.Errorf("--room is required")
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if registryURL != "" {
		cfg.Registry = registryURL
	}
	if displayName != "" {
		cfg.DisplayName = displayName
	}
	if downloadDir != "" {
		cfg.DownloadDir = downloadDir
	}
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	self := wire.RoomUser{PeerID: uuid.NewString(), Name: cfg.DisplayName}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signaler := transport.NewHTTPSignaler(cfg.Registry, roomID)
	mesh := transport.NewWebRTCTransport(signaler, self.PeerID,
		transport.ICEConfigFromURLs(cfg.STUNURLs), logger)
	defer mesh.Close()
	go mesh.Run(ctx)

	registry := room.NewRegistry(self.PeerID, mesh, clock.Real(), logger)
	receiver := transfer.NewReceiver(clock.Real(), logger)
	receiver.SetSealedCallback(func(incoming transfer.IncomingTransfer, artifact []byte) {
		path := filepath.Join(cfg.DownloadDir, filepath.Base(incoming.Name))
		if err := os.WriteFile(path, artifact, 0o644); err != nil {
			logger.Error("writing received file", "file", incoming.Name, "error", err)
			return
		}
		logger.Info("received file", "path", path, "bytes", len(artifact),
			"from", incoming.SenderName)
	})

	client := discovery.NewClient(cfg.Registry, roomID)
	engine := room.NewEngine(self, registry, client, receiver, logger)
	go registry.AcceptLoop(ctx, mesh)

	if err := engine.Join(ctx); err != nil {
		return fmt.Errorf("joining room %q: %w", roomID, err)
	}

	sender := transfer.NewSender(self, registry, clock.Real(), logger)
	sender.SetProgressCallback(func(p transfer.Progress) {
		logger.Info("send progress", "file_id", p.FileID, "percent", fmt.Sprintf("%.1f", p.Percent))
	})

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- sendAll(ctx, sender, sendPaths, settle, logger)
	}()

	select {
	case err := <-sendDone:
		if err != nil {
			engine.Leave(context.Background())
			return err
		}
		// Stay in the room until interrupted so other members can
		// keep sending to us.
		<-ctx.Done()
	case <-ctx.Done():
	}

	// The interrupt cancelled ctx; use a fresh context so the
	// departure still reaches the registry.
	leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	engine.Leave(leaveCtx)
	return nil
}

// sendAll broadcasts each named file in order after the settle delay.
func sendAll(ctx context.Context, sender *transfer.Sender, paths []string, settle time.Duration, logger *slog.Logger) error {
	if len(paths) == 0 {
		return nil
	}
	select {
	case <-time.After(settle):
	case <-ctx.Done():
		return ctx.Err()
	}
	for _, path := range paths {
		source, err := transfer.NewFileSource(path)
		if err != nil {
			return err
		}
		transferred, err := sender.Send(source)
		if err != nil {
			return fmt.Errorf("sending %q: %w", path, err)
		}
		logger.Info("file broadcast", "path", path, "file_id", transferred.FileID())
	}
	return nil
}
