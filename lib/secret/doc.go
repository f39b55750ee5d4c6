// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret keeps key material out of the Go heap.
//
// [Buffer] holds bytes in an anonymous mmap region that is locked into
// RAM (no swap) and excluded from core dumps. Close zeroes and unmaps
// it; any later access panics. The agent keeps its tunnel key in a
// Buffer for the life of the process and copies it out only for the
// instant it takes to write the Auth packet.
//
// [ReadFile] and [Prompt] load a secret straight into a Buffer from a
// file or a terminal without echo.
package secret
