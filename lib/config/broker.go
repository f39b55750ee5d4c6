// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Broker configures wombat-broker.
type Broker struct {
	// ListenAddr is the TCP address agents dial.
	ListenAddr string `yaml:"listen_addr"`

	// RelaySocket is the Unix socket serving the relay submission API.
	RelaySocket string `yaml:"relay_socket"`

	// Database is the SQLite key store path.
	Database string `yaml:"database"`

	// HandshakeTimeout bounds version negotiation plus authentication
	// on a new connection.
	HandshakeTimeout Duration `yaml:"handshake_timeout"`

	// PromoteTimeout bounds HTTP/2 promotion after authentication.
	PromoteTimeout Duration `yaml:"promote_timeout"`

	// PingInterval is the idle time after which a tunnel is pinged.
	// Zero disables keep-alive pings.
	PingInterval Duration `yaml:"ping_interval"`

	// PingTimeout is how long an unanswered ping may wait before the
	// tunnel is closed.
	PingTimeout Duration `yaml:"ping_timeout"`

	LogLevel string `yaml:"log_level"`
}

// DefaultBroker returns the broker defaults.
func DefaultBroker() *Broker {
	return &Broker{
		ListenAddr:       "0.0.0.0:9090",
		RelaySocket:      "/run/wombat/relay.sock",
		Database:         "${WOMBAT_STATE:-/var/lib/wombat}/wombat.db",
		HandshakeTimeout: Duration(10 * time.Second),
		PromoteTimeout:   Duration(10 * time.Second),
		PingInterval:     Duration(30 * time.Second),
		PingTimeout:      Duration(15 * time.Second),
		LogLevel:         "info",
	}
}

// LoadBroker loads the broker config from path, or returns the
// expanded defaults when path is empty.
func LoadBroker(path string) (*Broker, error) {
	cfg := DefaultBroker()
	if path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.ListenAddr = expandVars(cfg.ListenAddr)
	cfg.RelaySocket = expandVars(cfg.RelaySocket)
	cfg.Database = expandVars(cfg.Database)
	return cfg, nil
}

// Validate checks the broker config and reports every problem.
func (c *Broker) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("listen_addr %q: %w", c.ListenAddr, err))
	}
	if c.RelaySocket == "" {
		errs = append(errs, fmt.Errorf("relay_socket is required"))
	}
	if c.Database == "" {
		errs = append(errs, fmt.Errorf("database is required"))
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("handshake_timeout must be positive"))
	}
	if c.PromoteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("promote_timeout must be positive"))
	}
	if c.PingInterval < 0 || c.PingTimeout < 0 {
		errs = append(errs, fmt.Errorf("ping_interval and ping_timeout must not be negative"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	return errors.Join(errs...)
}
