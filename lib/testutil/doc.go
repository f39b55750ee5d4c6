// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Wombat packages.
//
// [RequireReceive], [RequireClosed] and [RequireNoReceive] wrap the
// select-with-timeout pattern so tests waiting on goroutines fail with
// a message instead of hanging. [SocketDir] returns a short directory
// for Unix sockets, whose paths are limited to 108 bytes.
package testutil
