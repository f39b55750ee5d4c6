// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for wombat binaries.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected with
// -ldflags -X and default to "unknown" and "0.1.0-dev" in development
// builds. [Info] includes the tunnel protocol version, which is what
// decides whether an agent and a broker can talk to each other.
package version
