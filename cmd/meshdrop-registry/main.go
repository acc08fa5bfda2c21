// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

// meshdrop-registry is the room discovery and signaling server. It
// keeps an in-memory map of who is in which room and relays SDP
// offers and answers between peers that are establishing direct
// connections. All state is ephemeral: entries untouched for longer
// than the staleness window are pruned, and a restart simply empties
// every room.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/meshdrop/meshdrop/discovery"
	"github.com/meshdrop/meshdrop/lib/clock"
	"github.com/meshdrop/meshdrop/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var listen string
	var ttl time.Duration
	var showVersion bool

	flagSet := pflag.NewFlagSet("meshdrop-registry", pflag.ContinueOnError)
	flagSet.StringVar(&listen, "listen", ":8137", "address to listen on")
	flagSet.DurationVar(&ttl, "ttl", discovery.DefaultTTL,
		"staleness window after which registrations are pruned")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if showVersion {
		version.Print("meshdrop-registry")
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	store := discovery.NewMemoryStore(clock.Real(), ttl)
	server := discovery.NewServer(store, clock.Real(), logger)
	httpServer := &http.Server{Addr: listen, Handler: server.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- httpServer.ListenAndServe()
	}()
	logger.Info("registry listening", "addr", listen, "ttl", ttl)

	select {
	case err := <-serveDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	logger.Info("registry stopped")
	return nil
}
