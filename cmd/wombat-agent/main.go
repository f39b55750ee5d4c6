// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Wombat-agent runs on the machine whose service should be reachable.
// It dials the broker, authenticates with its secret key and relays
// every request the broker sends to a local HTTP endpoint.
//
// The key comes from secret_key_file, which may be plaintext or
// age-encrypted, or is typed at a hidden prompt when no file is
// configured.
//
// Without --config or $WOMBAT_CONFIG the agent reads agent.yaml from
// the user config directory. On the first interactive run, when that
// file does not exist, it asks for the settings no flag supplied and
// writes them there.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/hazelnutcloud/wombat/agent"
	"github.com/hazelnutcloud/wombat/lib/config"
	"github.com/hazelnutcloud/wombat/lib/process"
	"github.com/hazelnutcloud/wombat/lib/secret"
	"github.com/hazelnutcloud/wombat/lib/version"
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
		serverHost  string
		tunnelPort  int
		keyFile     string
		ageIdentity string
		upstream    string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("wombat-agent", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&serverHost, "server", "", "broker host, overrides server_host")
	flagSet.IntVar(&tunnelPort, "port", 0, "broker tunnel port, overrides tunnel_port")
	flagSet.StringVar(&keyFile, "key-file", "", "secret key file, overrides secret_key_file")
	flagSet.StringVar(&ageIdentity, "age-identity", "", "age identity for an encrypted key file, overrides age_identity_file")
	flagSet.StringVar(&upstream, "upstream", "", "local endpoint to relay to, overrides upstream")
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
		fmt.Fprintf(os.Stderr, "Usage: wombat-agent [flags]\n\n%s", flagSet.FlagUsages())
		return nil
	}
	if showVersion {
		version.Print("wombat-agent")
		return nil
	}

	path := config.ResolvePath(configPath)
	setupPath, err := firstRunPath(path)
	if err != nil {
		return err
	}
	if path == "" {
		path = existingDefaultPath()
	}
	cfg, err := config.LoadAgent(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	override(&cfg.ServerHost, serverHost)
	override(&cfg.SecretKeyFile, keyFile)
	override(&cfg.AgeIdentityFile, ageIdentity)
	override(&cfg.Upstream, upstream)
	override(&cfg.LogLevel, logLevel)
	if tunnelPort != 0 {
		cfg.TunnelPort = tunnelPort
	}
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if setupPath != "" && interactive {
		if err := setup(os.Stdin, os.Stderr, cfg, flagSet.Changed); err != nil {
			return fmt.Errorf("setting up: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if setupPath != "" && interactive {
		if err := config.WriteAgent(setupPath, cfg); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", setupPath)
	}
	upstreamURL, _ := cfg.UpstreamURL()

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := process.NewTextLogger(os.Stderr, level)

	key, err := loadKey(cfg)
	if err != nil {
		return err
	}
	defer key.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting wombat-agent",
		"version", version.Info(),
		"broker", cfg.ServerAddress(),
		"upstream", upstreamURL.String(),
	)

	tunnelAgent := &agent.Agent{
		Address:  cfg.ServerAddress(),
		Dialer:   &transport.TCPDialer{Timeout: cfg.DialTimeout.Std()},
		Key:      key,
		Upstream: upstreamURL,
		Backoff: agent.Backoff{
			Min:    cfg.Reconnect.Min.Std(),
			Max:    cfg.Reconnect.Max.Std(),
			Factor: cfg.Reconnect.Factor,
		},
		Logger: logger,
	}
	if err := tunnelAgent.Run(ctx); err != nil {
		return err
	}
	logger.Info("wombat-agent stopped")
	return nil
}

func loadKey(cfg *config.Agent) (*secret.Buffer, error) {
	if cfg.SecretKeyFile != "" {
		return agent.LoadKey(cfg.SecretKeyFile, cfg.AgeIdentityFile)
	}
	key, err := secret.Prompt(os.Stdin, os.Stderr, "Secret key: ")
	if err != nil {
		return nil, fmt.Errorf("no secret_key_file configured and cannot prompt: %w", err)
	}
	if err := agent.CheckKey(key); err != nil {
		key.Close()
		return nil, err
	}
	return key, nil
}

func override(target *string, value string) {
	if value != "" {
		*target = value
	}
}
