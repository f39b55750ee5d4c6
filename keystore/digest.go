// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/hazelnutcloud/wombat/protocol"
)

// keyDomain is the BLAKE3 key for secret-key digests: the ASCII domain
// name zero-padded to 32 bytes. Changing it invalidates every stored
// digest.
var keyDomain = [32]byte{
	'w', 'o', 'm', 'b', 'a', 't', '.', 's', 'e', 'c', 'r', 'e', 't', '-', 'k', 'e',
	'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// DigestKey returns the hex digest stored for a secret key.
func DigestKey(key []byte) string {
	hasher, err := blake3.NewKeyed(keyDomain[:])
	if err != nil {
		panic("keystore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(key)
	return hex.EncodeToString(hasher.Sum(nil))
}

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateKey returns a new secret key of protocol.KeyWidth
// alphanumeric characters. The characters are the raw key bytes sent
// in the Auth packet, so a key can be pasted into a config file as-is.
func GenerateKey() ([protocol.KeyWidth]byte, error) {
	var key [protocol.KeyWidth]byte

	// Rejection sampling keeps the distribution uniform: 248 is the
	// largest multiple of 62 that fits in a byte.
	const limit = 256 - 256%len(keyAlphabet)
	random := make([]byte, 2*protocol.KeyWidth)
	filled := 0
	for filled < len(key) {
		if _, err := rand.Read(random); err != nil {
			return key, fmt.Errorf("reading random bytes: %w", err)
		}
		for _, value := range random {
			if int(value) >= limit {
				continue
			}
			key[filled] = keyAlphabet[int(value)%len(keyAlphabet)]
			filled++
			if filled == len(key) {
				break
			}
		}
	}
	return key, nil
}

// ValidKey reports whether key has the shape GenerateKey produces.
func ValidKey(key []byte) bool {
	if len(key) != protocol.KeyWidth {
		return false
	}
	for _, character := range key {
		isAlphanumeric := (character >= 'A' && character <= 'Z') ||
			(character >= 'a' && character <= 'z') ||
			(character >= '0' && character <= '9')
		if !isAlphanumeric {
			return false
		}
	}
	return true
}
