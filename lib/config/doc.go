// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration for wombat-broker and
// wombat-agent.
//
// Each binary has its own document ([Broker], [Agent]). Loading starts
// from the defaults, overlays the file, then expands ${VAR} and
// ${VAR:-default} references in path and address fields from the
// process environment. The file path comes from the --config flag, or
// from WOMBAT_CONFIG when the flag is absent; with neither, the
// defaults are used as-is.
//
// Validate reports every problem at once, joined with errors.Join.
package config
