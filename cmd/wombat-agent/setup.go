// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/hazelnutcloud/wombat/lib/config"
)

// firstRunPath returns the default config path when no config was named
// and none exists there yet. It returns "" when setup should not run.
func firstRunPath(resolved string) (string, error) {
	if resolved != "" {
		return "", nil
	}
	path, err := config.DefaultAgentPath()
	if err != nil {
		return "", nil
	}
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking %s: %w", path, err)
	}
	return path, nil
}

// existingDefaultPath returns the default config path if a file is
// there, so a later run picks up what setup wrote.
func existingDefaultPath() string {
	path, err := config.DefaultAgentPath()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// setup asks for each setting the command line did not supply, offering
// the current value as the default. An empty answer keeps the default.
func setup(in io.Reader, out io.Writer, cfg *config.Agent, given func(flag string) bool) error {
	scanner := bufio.NewScanner(in)
	ask := func(prompt, current string) (string, error) {
		if current != "" {
			fmt.Fprintf(out, "%s [%s]: ", prompt, current)
		} else {
			fmt.Fprintf(out, "%s: ", prompt)
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", fmt.Errorf("reading answer: %w", err)
			}
			return "", fmt.Errorf("no answer for %q", prompt)
		}
		if answer := strings.TrimSpace(scanner.Text()); answer != "" {
			return answer, nil
		}
		return current, nil
	}

	fmt.Fprintln(out, "No wombat-agent config found; answer a few questions to create one.")

	if !given("server") {
		current := cfg.ServerHost
		if current == "" {
			current = "localhost"
		}
		host, err := ask("Broker host", current)
		if err != nil {
			return err
		}
		cfg.ServerHost = host
	}
	if !given("port") {
		answer, err := ask("Broker tunnel port", strconv.Itoa(cfg.TunnelPort))
		if err != nil {
			return err
		}
		port, err := strconv.Atoi(answer)
		if err != nil {
			return fmt.Errorf("tunnel port %q is not a number", answer)
		}
		cfg.TunnelPort = port
	}
	if !given("upstream") {
		upstream, err := ask("Local endpoint to relay to", cfg.Upstream)
		if err != nil {
			return err
		}
		cfg.Upstream = upstream
	}
	if !given("key-file") {
		fmt.Fprintln(out, "Leave the key file empty to type the key at every start.")
		keyFile, err := ask("Secret key file", cfg.SecretKeyFile)
		if err != nil {
			return err
		}
		cfg.SecretKeyFile = keyFile
	}
	return nil
}
