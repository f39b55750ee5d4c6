// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hazelnutcloud/wombat/lib/sealed"
)

const rawKey = "0123456789abcdefghijABCDEFGHIJkl"

func writeFile(t *testing.T, name string, contents []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, contents, 0600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadKey_Plain(t *testing.T) {
	key, err := LoadKey(writeFile(t, "key", []byte(rawKey+"\n")), "")
	if err != nil {
		t.Fatalf("LoadKey() error: %v", err)
	}
	defer key.Close()
	if string(key.Bytes()) != rawKey {
		t.Errorf("LoadKey() = %q", key.Bytes())
	}
}

func TestLoadKey_WrongWidth(t *testing.T) {
	if _, err := LoadKey(writeFile(t, "key", []byte("short")), ""); err == nil {
		t.Fatal("LoadKey() accepted a 5-byte key")
	}
}

func TestLoadKey_Sealed(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	ciphertext, err := sealed.Seal([]byte(rawKey), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	keyFile := writeFile(t, "key.age", ciphertext)
	identityFile := writeFile(t, "identity.txt", append([]byte("# created for test\n"), keypair.PrivateKey.Bytes()...))

	key, err := LoadKey(keyFile, identityFile)
	if err != nil {
		t.Fatalf("LoadKey() error: %v", err)
	}
	defer key.Close()
	if string(key.Bytes()) != rawKey {
		t.Errorf("LoadKey() = %q", key.Bytes())
	}

	if _, err := LoadKey(keyFile, ""); err == nil {
		t.Error("LoadKey() decrypted without an identity file")
	}
}
