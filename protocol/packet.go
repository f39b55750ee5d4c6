// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "fmt"

// CurrentVersion is the protocol version this build speaks. Agents
// presenting any other version are rejected with
// ProtocolVersionMismatch.
const CurrentVersion uint8 = 1

// KeyWidth is the exact length of a secret key on the wire.
const KeyWidth = 32

// tagWidth is the encoded width of every variant tag.
const tagWidth = 4

// Client packet tags.
const (
	tagClientHello uint32 = 0
	tagClientAuth  uint32 = 1
)

// Server packet tags.
const (
	tagServerHello        uint32 = 0
	tagServerError        uint32 = 1
	tagServerAuthSuccess  uint32 = 2
	tagServerUnauthorized uint32 = 3
)

// WombatError tags, nested inside a server Error packet.
const (
	tagErrorVersionMismatch uint32 = 0
	tagErrorInvalidPacket   uint32 = 1
)

// ClientPacket is a packet sent by an agent. The set of implementations
// is closed: [Hello] and [Auth].
type ClientPacket interface {
	clientPacket()
}

// ServerPacket is a packet sent by the broker. The set of
// implementations is closed: [Hello], [Error], [AuthSuccess] and
// [Unauthorized].
type ServerPacket interface {
	serverPacket()
}

// WombatError is the payload of an [Error] packet: either
// [ProtocolVersionMismatch] or [InvalidPacket].
type WombatError interface {
	wombatError()
	Error() string
}

// Hello opens the handshake. The agent sends its version; the broker
// echoes its own when the versions agree.
type Hello struct {
	ProtocolVersion uint8
}

// Valid reports whether the hello carries the version this build speaks.
func (h Hello) Valid() bool {
	return h.ProtocolVersion == CurrentVersion
}

// Auth carries the agent's raw secret key.
type Auth struct {
	Key [KeyWidth]byte
}

// Error reports a protocol failure to the agent. The connection is
// closed after it is sent.
type Error struct {
	Err WombatError
}

// AuthSuccess acknowledges a key that resolved to an identity.
type AuthSuccess struct{}

// Unauthorized rejects a key that matched no identity.
type Unauthorized struct{}

// ProtocolVersionMismatch tells the agent which version the broker
// speaks.
type ProtocolVersionMismatch struct {
	ServerVersion uint8
}

func (e ProtocolVersionMismatch) Error() string {
	return fmt.Sprintf("protocol version mismatch: server speaks version %d", e.ServerVersion)
}

// InvalidPacket reports malformed or out-of-order input.
type InvalidPacket struct{}

func (InvalidPacket) Error() string { return "invalid packet" }

func (Hello) clientPacket() {}
func (Auth) clientPacket()  {}

func (Hello) serverPacket()        {}
func (Error) serverPacket()        {}
func (AuthSuccess) serverPacket()  {}
func (Unauthorized) serverPacket() {}

func (ProtocolVersionMismatch) wombatError() {}
func (InvalidPacket) wombatError()           {}
