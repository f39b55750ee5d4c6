// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"

	"github.com/hazelnutcloud/wombat/lib/sealed"
	"github.com/hazelnutcloud/wombat/lib/secret"
	"github.com/hazelnutcloud/wombat/protocol"
)

// LoadKey reads the secret key from keyFile. A file holding age armor
// (as printed by wombat-keys issue --recipient) is decrypted with the
// identity in ageIdentityFile.
func LoadKey(keyFile, ageIdentityFile string) (*secret.Buffer, error) {
	contents, err := secret.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("reading secret key: %w", err)
	}
	if !sealed.IsSealed(contents.Bytes()) {
		return checked(contents)
	}
	defer contents.Close()

	if ageIdentityFile == "" {
		return nil, fmt.Errorf("secret key %s is age-encrypted but no age identity file is configured", keyFile)
	}
	identity, err := secret.ReadFile(ageIdentityFile)
	if err != nil {
		return nil, fmt.Errorf("reading age identity: %w", err)
	}
	defer identity.Close()

	key, err := sealed.Open(contents.Bytes(), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting secret key: %w", err)
	}
	return checked(key)
}

func checked(key *secret.Buffer) (*secret.Buffer, error) {
	if err := CheckKey(key); err != nil {
		key.Close()
		return nil, err
	}
	return key, nil
}

// CheckKey verifies key has the width the handshake requires.
func CheckKey(key *secret.Buffer) error {
	if key.Len() != protocol.KeyWidth {
		return fmt.Errorf("secret key is %d bytes, want %d", key.Len(), protocol.KeyWidth)
	}
	return nil
}
