// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Wombat-echo is a stand-in for the service behind an agent. It answers
// "Hello, World!" on every path, which is enough to check a tunnel end
// to end.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/hazelnutcloud/wombat/lib/process"
	"github.com/hazelnutcloud/wombat/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var listenAddr string
	var showVersion bool

	flagSet := pflag.NewFlagSet("wombat-echo", pflag.ContinueOnError)
	flagSet.StringVar(&listenAddr, "listen", "0.0.0.0:3000", "address to serve on")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("wombat-echo")
		return nil
	}

	logger := process.NewTextLogger(os.Stderr, slog.LevelInfo)
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           newHandler(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("echo service listening", "listen_addr", listenAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving on %s: %w", listenAddr, err)
	}
	return nil
}

func newHandler(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("request", "method", r.Method, "path", r.URL.Path)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "Hello, World!")
	})
}
