// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Agent configures wombat-agent.
type Agent struct {
	// ServerHost is the broker's hostname or address.
	ServerHost string `yaml:"server_host"`

	// TunnelPort is the broker's tunnel port.
	TunnelPort int `yaml:"tunnel_port"`

	// SecretKeyFile holds the 32-character key, plain or age-encrypted.
	// Empty means prompt on the terminal.
	SecretKeyFile string `yaml:"secret_key_file"`

	// AgeIdentityFile decrypts an age-encrypted SecretKeyFile.
	AgeIdentityFile string `yaml:"age_identity_file"`

	// Upstream is the local HTTP endpoint relayed requests are sent to.
	Upstream string `yaml:"upstream"`

	DialTimeout Duration `yaml:"dial_timeout"`

	Reconnect Reconnect `yaml:"reconnect"`

	LogLevel string `yaml:"log_level"`
}

// Reconnect bounds the delay between redial attempts.
type Reconnect struct {
	Min    Duration `yaml:"min"`
	Max    Duration `yaml:"max"`
	Factor float64  `yaml:"factor"`
}

// DefaultAgent returns the agent defaults.
func DefaultAgent() *Agent {
	return &Agent{
		TunnelPort:  9090,
		Upstream:    "http://127.0.0.1:3000",
		DialTimeout: Duration(10 * time.Second),
		Reconnect: Reconnect{
			Min:    Duration(time.Second),
			Max:    Duration(time.Minute),
			Factor: 2,
		},
		LogLevel: "info",
	}
}

// LoadAgent loads the agent config from path, or returns the expanded
// defaults when path is empty.
func LoadAgent(path string) (*Agent, error) {
	cfg := DefaultAgent()
	if path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.ServerHost = expandVars(cfg.ServerHost)
	cfg.SecretKeyFile = expandVars(cfg.SecretKeyFile)
	cfg.AgeIdentityFile = expandVars(cfg.AgeIdentityFile)
	cfg.Upstream = expandVars(cfg.Upstream)
	return cfg, nil
}

// DefaultAgentPath is where wombat-agent keeps its config when neither
// --config nor $WOMBAT_CONFIG names a file.
func DefaultAgentPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "wombat", "agent.yaml"), nil
}

// WriteAgent saves cfg to path, creating its directory. The file is
// private to the user since it names the key file.
func WriteAgent(path string, cfg *Agent) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ServerAddress is the broker's host:port.
func (c *Agent) ServerAddress() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.TunnelPort))
}

// UpstreamURL parses Upstream.
func (c *Agent) UpstreamURL() (*url.URL, error) {
	upstream, err := url.Parse(c.Upstream)
	if err != nil {
		return nil, err
	}
	if upstream.Scheme != "http" && upstream.Scheme != "https" {
		return nil, fmt.Errorf("scheme must be http or https, got %q", upstream.Scheme)
	}
	if upstream.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	return upstream, nil
}

// Validate checks the agent config and reports every problem.
func (c *Agent) Validate() error {
	var errs []error

	if c.ServerHost == "" {
		errs = append(errs, fmt.Errorf("server_host is required"))
	}
	if c.TunnelPort <= 0 || c.TunnelPort > 65535 {
		errs = append(errs, fmt.Errorf("tunnel_port %d is out of range", c.TunnelPort))
	}
	if _, err := c.UpstreamURL(); err != nil {
		errs = append(errs, fmt.Errorf("upstream %q: %w", c.Upstream, err))
	}
	if c.Reconnect.Min <= 0 || c.Reconnect.Max < c.Reconnect.Min {
		errs = append(errs, fmt.Errorf("reconnect: need 0 < min <= max"))
	}
	if c.Reconnect.Factor < 1 {
		errs = append(errs, fmt.Errorf("reconnect.factor must be at least 1"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	return errors.Join(errs...)
}
