// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts issued agent keys for delivery and decrypts
// them on the agent host. It wraps filippo.io/age with ASCII armor so a
// sealed key is a small text file an operator can paste or copy.
//
// Decrypted keys and age identities are held in [secret.Buffer] values.
package sealed
