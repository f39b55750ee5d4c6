// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazelnutcloud/wombat/keystore"
	"github.com/hazelnutcloud/wombat/lib/sealed"
)

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestIssueListRevoke(t *testing.T) {
	database := filepath.Join(t.TempDir(), "wombat.db")

	stdout, _, err := runCommand(t, "issue", "--database", database, "alice")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	key := strings.TrimSpace(stdout)
	if len(key) != 32 || !keystore.ValidKey([]byte(key)) {
		t.Fatalf("issued key %q is not a valid key", key)
	}

	store, err := keystore.Open(keystore.Config{Path: database})
	if err != nil {
		t.Fatalf("keystore.Open() error: %v", err)
	}
	identity, found, err := store.LookupIdentity(context.Background(), keystore.DigestKey([]byte(key)))
	store.Close()
	if err != nil || !found || identity != "alice" {
		t.Fatalf("LookupIdentity() = %q, %v, %v; want alice", identity, found, err)
	}

	stdout, _, err = runCommand(t, "list", "--database", database)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !strings.Contains(stdout, "alice") || !strings.Contains(stdout, "IDENTITY") {
		t.Errorf("list output = %q", stdout)
	}

	stdout, _, err = runCommand(t, "revoke", "--database", database, "alice")
	if err != nil {
		t.Fatalf("revoke error: %v", err)
	}
	if !strings.Contains(stdout, "revoked 1 key(s) for alice") {
		t.Errorf("revoke output = %q", stdout)
	}

	if _, _, err := runCommand(t, "revoke", "--database", database, "alice"); err == nil {
		t.Error("second revoke succeeded")
	}
}

func TestIssueSealed(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	database := filepath.Join(t.TempDir(), "wombat.db")
	stdout, _, err := runCommand(t, "issue", "--database", database, "--recipient", keypair.PublicKey, "bob")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	if !sealed.IsSealed([]byte(stdout)) {
		t.Fatalf("issue --recipient output is not age armor: %q", stdout)
	}

	key, err := sealed.Open([]byte(stdout), keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer key.Close()
	if !keystore.ValidKey(key.Bytes()) {
		t.Errorf("decrypted key %q is not valid", key.Bytes())
	}
}

func TestIssueRequiresIdentity(t *testing.T) {
	database := filepath.Join(t.TempDir(), "wombat.db")
	if _, _, err := runCommand(t, "issue", "--database", database); err == nil {
		t.Error("issue without identity succeeded")
	}
}

func TestKeygen(t *testing.T) {
	stdout, stderr, err := runCommand(t, "keygen")
	if err != nil {
		t.Fatalf("keygen error: %v", err)
	}
	if !strings.HasPrefix(stdout, "age1") {
		t.Errorf("public key = %q", stdout)
	}
	if !strings.Contains(stderr, "AGE-SECRET-KEY-1") {
		t.Errorf("private key output = %q", stderr)
	}
}

func TestUnknownSubcommand(t *testing.T) {
	if _, _, err := runCommand(t, "frobnicate"); err == nil {
		t.Error("unknown subcommand succeeded")
	}
}
