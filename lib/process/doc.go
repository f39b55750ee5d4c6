// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers shared by the wombat
// binaries: reporting a fatal error before or after the logger exists,
// and building the process logger.
package process
