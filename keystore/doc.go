// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package keystore persists the secret keys that agents authenticate
// with.
//
// Keys are never stored. Each key is reduced to a BLAKE3 keyed digest
// ([DigestKey]) and the digest is stored against the identity it was
// issued to. The broker's handshake resolves a presented key by
// digesting it and calling [Store.LookupIdentity].
//
// The backing database is SQLite, accessed through a small pool of
// zombiezen connections in WAL mode:
//
//	store, err := keystore.Open(keystore.Config{Path: "/var/lib/wombat/wombat.db"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	key, err := store.Issue(ctx, "user-1234")
package keystore
