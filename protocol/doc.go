// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol implements the binary packets exchanged on a tunnel
// connection before it is promoted to HTTP/2.
//
// There are two sub-protocols. Agents send [ClientPacket] values (Hello,
// Auth) and the broker answers with [ServerPacket] values (Hello, Error,
// AuthSuccess, Unauthorized). Every packet starts with a 4-byte
// little-endian variant tag followed by the variant's fields, all of
// which are fixed width. There is no length prefix: the size of each
// variant is computed once, on first use, by encoding a sample value,
// and readers consume exactly that many bytes. Adding a variable-width
// field to any variant breaks framing for every peer and requires a new
// [CurrentVersion].
//
// The layout is byte-compatible with the Rust agents that speak
// protocol version 1.
package protocol
