// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hazelnutcloud/wombat/keystore"
	"github.com/hazelnutcloud/wombat/protocol"
)

// KeyResolver resolves a key digest (see keystore.DigestKey) to the
// identity it was issued to. *keystore.Store implements it.
type KeyResolver interface {
	LookupIdentity(ctx context.Context, digest string) (identity string, found bool, err error)
}

// Accept runs the broker side of the handshake on conn and returns the
// authenticated identity.
//
// Every rejection is reported to the peer before Accept returns: a
// version mismatch as Error(ProtocolVersionMismatch), a malformed or
// out-of-order packet as Error(InvalidPacket), an unknown key as
// Unauthorized. The returned error then wraps ErrVersionMismatch,
// ErrInvalidPacket or ErrUnauthorized. I/O failures and resolver
// failures return without writing anything. In every failure case the
// caller must close conn.
func Accept(ctx context.Context, conn io.ReadWriter, keys KeyResolver) (string, error) {
	hello, err := protocol.ReadHello(conn)
	if err != nil {
		return "", rejectRead(conn, "awaiting hello", err)
	}
	if !hello.Valid() {
		mismatch := protocol.Error{Err: protocol.ProtocolVersionMismatch{ServerVersion: protocol.CurrentVersion}}
		if err := protocol.WriteServer(conn, mismatch); err != nil {
			return "", err
		}
		return "", &VersionMismatchError{
			ClientVersion: hello.ProtocolVersion,
			ServerVersion: protocol.CurrentVersion,
		}
	}
	if err := protocol.WriteServer(conn, protocol.Hello{ProtocolVersion: protocol.CurrentVersion}); err != nil {
		return "", err
	}

	key, err := protocol.ReadAuth(conn)
	if err != nil {
		return "", rejectRead(conn, "awaiting auth", err)
	}
	digest := keystore.DigestKey(key[:])
	clear(key[:])

	identity, found, err := keys.LookupIdentity(ctx, digest)
	if err != nil {
		return "", fmt.Errorf("resolving key: %w", err)
	}
	if !found {
		if err := protocol.WriteServer(conn, protocol.Unauthorized{}); err != nil {
			return "", err
		}
		return "", ErrUnauthorized
	}

	if err := protocol.WriteServer(conn, protocol.AuthSuccess{}); err != nil {
		return "", err
	}
	return identity, nil
}

// rejectRead reports a failed read to the peer. Deserialization and
// unexpected-variant failures are answered with InvalidPacket; I/O
// failures are returned as-is since the connection is already gone.
func rejectRead(conn io.Writer, stage string, readErr error) error {
	if protocol.IsKind(readErr, protocol.KindIO) {
		return fmt.Errorf("%s: %w", stage, readErr)
	}
	if err := protocol.WriteServer(conn, protocol.Error{Err: protocol.InvalidPacket{}}); err != nil {
		return fmt.Errorf("%s: reporting invalid packet: %w", stage, errors.Join(readErr, err))
	}
	return fmt.Errorf("%s: %w: %w", stage, ErrInvalidPacket, readErr)
}
