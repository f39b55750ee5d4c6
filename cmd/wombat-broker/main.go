// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Wombat-broker is the public end of the reverse tunnel. Agents dial
// its tunnel port and authenticate with a secret key; front ends submit
// requests for an identity on the local relay socket, and the broker
// forwards each one to that identity's agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/hazelnutcloud/wombat/broker"
	"github.com/hazelnutcloud/wombat/keystore"
	"github.com/hazelnutcloud/wombat/lib/config"
	"github.com/hazelnutcloud/wombat/lib/process"
	"github.com/hazelnutcloud/wombat/lib/version"
	"github.com/hazelnutcloud/wombat/registry"
	"github.com/hazelnutcloud/wombat/relay"
	"github.com/hazelnutcloud/wombat/relayapi"
	"github.com/hazelnutcloud/wombat/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		listenAddr  string
		relaySocket string
		database    string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("wombat-broker", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&listenAddr, "listen", "", "tunnel listen address, overrides listen_addr")
	flagSet.StringVar(&relaySocket, "relay-socket", "", "relay socket path, overrides relay_socket")
	flagSet.StringVar(&database, "database", "", "key store path, overrides database")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error, overrides log_level")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintf(os.Stderr, "Usage: wombat-broker [flags]\n\n%s", flagSet.FlagUsages())
		return nil
	}
	if showVersion {
		version.Print("wombat-broker")
		return nil
	}

	cfg, err := config.LoadBroker(config.ResolvePath(configPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	override(&cfg.ListenAddr, listenAddr)
	override(&cfg.RelaySocket, relaySocket)
	override(&cfg.Database, database)
	override(&cfg.LogLevel, logLevel)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := process.NewLogger(os.Stderr, level)

	logger.Info("starting wombat-broker", "version", version.Info())

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o700); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	keys, err := keystore.Open(keystore.Config{Path: cfg.Database, Logger: logger})
	if err != nil {
		return err
	}
	defer keys.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tunnels := registry.New()
	router := relay.NewRouter(tunnels, logger.With("component", "relay"))
	routerDone := make(chan error, 1)
	go func() { routerDone <- router.Run(ctx) }()

	tunnelBroker := &broker.Broker{
		ListenAddr:       cfg.ListenAddr,
		Keys:             keys,
		Registry:         tunnels,
		HandshakeTimeout: cfg.HandshakeTimeout.Std(),
		PromoteTimeout:   cfg.PromoteTimeout.Std(),
		Promote: transport.PromoteConfig{
			PingInterval: cfg.PingInterval.Std(),
			PingTimeout:  cfg.PingTimeout.Std(),
		},
		Logger: logger.With("component", "broker"),
	}
	if err := tunnelBroker.Start(ctx); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.RelaySocket), 0o755); err != nil {
		tunnelBroker.Stop()
		return fmt.Errorf("creating relay socket directory: %w", err)
	}
	api := relayapi.New(cfg.RelaySocket, router, tunnels, logger.With("component", "relayapi"))
	serveErr := api.Serve(ctx)
	if serveErr != nil {
		stop()
	}

	tunnelBroker.Stop()
	<-routerDone
	logger.Info("wombat-broker stopped")
	return serveErr
}

func override(target *string, value string) {
	if value != "" {
		*target = value
	}
}
