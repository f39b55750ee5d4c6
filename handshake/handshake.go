// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package handshake drives a tunnel connection through version
// negotiation and key authentication.
//
// The broker calls [Accept] on every freshly accepted connection:
//
//	AwaitHello -> VersionMismatch                  (terminal)
//	AwaitHello -> AwaitAuth -> Unauthorized        (terminal)
//	AwaitHello -> AwaitAuth -> Authenticated
//
// The agent calls [Authenticate] on a freshly dialed connection, which
// walks the mirror image: send Hello, await the echo, send Auth, await
// AuthSuccess.
//
// Neither side retries. Any I/O error ends the handshake immediately;
// redialing is the caller's decision. Deadlines belong to the caller
// too, set on the connection before the handshake starts.
package handshake

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionMismatch matches any *VersionMismatchError. The agent
	// must stop and tell the operator to upgrade rather than redial.
	ErrVersionMismatch = errors.New("handshake: protocol version mismatch")

	// ErrUnauthorized means the presented key resolved to no identity.
	// The agent must stop and ask for a new key rather than redial.
	ErrUnauthorized = errors.New("handshake: unauthorized")

	// ErrInvalidPacket means the peer sent bytes that did not parse or
	// arrived out of order.
	ErrInvalidPacket = errors.New("handshake: invalid packet")
)

// VersionMismatchError carries both sides' versions.
type VersionMismatchError struct {
	// ClientVersion is what the agent presented. Meaningless when
	// FromServer is set.
	ClientVersion uint8
	ServerVersion uint8

	// FromServer is set on the agent side, which only learns the
	// server's version from the rejection.
	FromServer bool
}

func (e *VersionMismatchError) Error() string {
	if e.FromServer {
		return fmt.Sprintf("handshake: protocol version mismatch: server speaks version %d", e.ServerVersion)
	}
	return fmt.Sprintf("handshake: protocol version mismatch: client sent %d, server speaks %d",
		e.ClientVersion, e.ServerVersion)
}

// Is makes errors.Is(err, ErrVersionMismatch) hold.
func (e *VersionMismatchError) Is(target error) bool {
	return target == ErrVersionMismatch
}
