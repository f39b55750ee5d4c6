// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by the relay
// socket server and its clients, so both ends encode identically.
//
// Tunnel traffic itself is HTTP/2 and the handshake uses the fixed
// binary layout in package protocol; CBOR is only for the local
// operator socket.
package codec
