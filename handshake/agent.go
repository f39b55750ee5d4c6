// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"fmt"
	"io"

	"github.com/hazelnutcloud/wombat/protocol"
)

// Authenticate runs the agent side of the handshake on conn, presenting
// key. It returns nil once the broker answers AuthSuccess, after which
// conn is ready for transport promotion.
//
// A rejection by the broker returns an error wrapping
// ErrVersionMismatch (as a *VersionMismatchError), ErrUnauthorized or
// ErrInvalidPacket. Anything else is an I/O or framing failure.
func Authenticate(conn io.ReadWriter, key []byte) error {
	if len(key) != protocol.KeyWidth {
		return fmt.Errorf("handshake: key is %d bytes, want %d", len(key), protocol.KeyWidth)
	}

	if err := protocol.WriteClient(conn, protocol.Hello{ProtocolVersion: protocol.CurrentVersion}); err != nil {
		return err
	}
	reply, err := protocol.ReadServer(conn)
	if err != nil {
		return fmt.Errorf("awaiting hello: %w", err)
	}
	switch packet := reply.(type) {
	case protocol.Hello:
		if !packet.Valid() {
			return &VersionMismatchError{ServerVersion: packet.ProtocolVersion, FromServer: true}
		}
	case protocol.Error:
		return rejection(packet)
	default:
		return fmt.Errorf("awaiting hello: %w: got %T", ErrInvalidPacket, reply)
	}

	auth := protocol.Auth{}
	copy(auth.Key[:], key)
	encoded := protocol.EncodeClient(auth)
	clear(auth.Key[:])
	_, err = conn.Write(encoded)
	clear(encoded)
	if err != nil {
		return fmt.Errorf("writing auth: %w", err)
	}

	reply, err = protocol.ReadServer(conn)
	if err != nil {
		return fmt.Errorf("awaiting auth result: %w", err)
	}
	switch packet := reply.(type) {
	case protocol.AuthSuccess:
		return nil
	case protocol.Unauthorized:
		return ErrUnauthorized
	case protocol.Error:
		return rejection(packet)
	default:
		return fmt.Errorf("awaiting auth result: %w: got %T", ErrInvalidPacket, reply)
	}
}

func rejection(packet protocol.Error) error {
	switch e := packet.Err.(type) {
	case protocol.ProtocolVersionMismatch:
		return &VersionMismatchError{ServerVersion: e.ServerVersion, FromServer: true}
	default:
		return fmt.Errorf("%w: rejected by server", ErrInvalidPacket)
	}
}
