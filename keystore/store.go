// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hazelnutcloud/wombat/protocol"
)

// ErrNotFound is returned by Revoke when the identity holds no keys.
var ErrNotFound = errors.New("keystore: identity has no keys")

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the SQLite database file. The parent directory must
	// exist. ":memory:" opens a private in-memory database.
	Path string

	// PoolSize is the number of pooled connections. Zero selects a
	// default.
	PoolSize int

	// Logger receives open/close and issuance events. Nil discards.
	Logger *slog.Logger
}

// Store maps key digests to identities. It is safe for concurrent use.
type Store struct {
	pool   *pool
	logger *slog.Logger
	now    func() time.Time
}

// IdentitySummary describes one identity and how many keys it holds.
type IdentitySummary struct {
	Identity  string
	Keys      int
	CreatedAt time.Time
}

// Open opens (creating if needed) the database at cfg.Path and applies
// any pending schema migrations.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("keystore: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	connections, err := openPool(cfg.Path, cfg.PoolSize, logger)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}

	store := &Store{pool: connections, logger: logger, now: time.Now}

	conn, err := connections.take(context.Background())
	if err != nil {
		connections.close()
		return nil, fmt.Errorf("keystore: %w", err)
	}
	err = migrate(conn)
	connections.put(conn)
	if err != nil {
		connections.close()
		return nil, fmt.Errorf("keystore: %w", err)
	}
	return store, nil
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	if err := s.pool.close(); err != nil {
		return fmt.Errorf("keystore: %w", err)
	}
	return nil
}

// LookupIdentity returns the identity whose stored digest equals
// digest. The boolean is false when no key matches.
func (s *Store) LookupIdentity(ctx context.Context, digest string) (string, bool, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return "", false, fmt.Errorf("keystore: %w", err)
	}
	defer s.pool.put(conn)

	var identity string
	var found bool
	err = sqlitex.Execute(conn,
		"SELECT user_id FROM secret_keys WHERE secret_key_hash = ?",
		&sqlitex.ExecOptions{
			Args: []any{digest},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				identity = stmt.ColumnText(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return "", false, fmt.Errorf("keystore: looking up key digest: %w", err)
	}
	return identity, found, nil
}

// KeyDigests returns the digests of every key issued to identity, oldest
// first.
func (s *Store) KeyDigests(ctx context.Context, identity string) ([]string, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	defer s.pool.put(conn)

	var digests []string
	err = sqlitex.Execute(conn,
		"SELECT secret_key_hash FROM secret_keys WHERE user_id = ? ORDER BY id",
		&sqlitex.ExecOptions{
			Args: []any{identity},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				digests = append(digests, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("keystore: listing keys for %s: %w", identity, err)
	}
	return digests, nil
}

// Issue generates a new key for identity, creating the identity if it
// does not exist, and stores the key's digest. The plaintext key is
// returned once and never persisted.
func (s *Store) Issue(ctx context.Context, identity string) ([protocol.KeyWidth]byte, error) {
	if identity == "" {
		return [protocol.KeyWidth]byte{}, fmt.Errorf("keystore: identity is required")
	}
	key, err := GenerateKey()
	if err != nil {
		return key, fmt.Errorf("keystore: %w", err)
	}
	if err := s.addDigest(ctx, identity, DigestKey(key[:])); err != nil {
		return [protocol.KeyWidth]byte{}, err
	}
	s.logger.Info("key issued", "identity", identity)
	return key, nil
}

func (s *Store) addDigest(ctx context.Context, identity, digest string) (err error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return fmt.Errorf("keystore: %w", err)
	}
	defer s.pool.put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("keystore: starting transaction: %w", err)
	}
	defer endFn(&err)

	now := s.now().Unix()
	err = sqlitex.Execute(conn,
		"INSERT INTO users (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING",
		&sqlitex.ExecOptions{Args: []any{identity, now}})
	if err != nil {
		return fmt.Errorf("keystore: creating identity %s: %w", identity, err)
	}
	err = sqlitex.Execute(conn,
		"INSERT INTO secret_keys (secret_key_hash, user_id, created_at) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{digest, identity, now}})
	if err != nil {
		return fmt.Errorf("keystore: storing key for %s: %w", identity, err)
	}
	return nil
}

// Revoke deletes every key issued to identity and returns how many were
// removed. The identity itself is kept. Tunnels already authenticated
// with a revoked key stay up until they disconnect.
func (s *Store) Revoke(ctx context.Context, identity string) (int, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return 0, fmt.Errorf("keystore: %w", err)
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM secret_keys WHERE user_id = ?",
		&sqlitex.ExecOptions{Args: []any{identity}})
	if err != nil {
		return 0, fmt.Errorf("keystore: revoking keys for %s: %w", identity, err)
	}
	removed := conn.Changes()
	if removed == 0 {
		return 0, ErrNotFound
	}
	s.logger.Info("keys revoked", "identity", identity, "count", removed)
	return removed, nil
}

// Identities lists every known identity with its key count.
func (s *Store) Identities(ctx context.Context) ([]IdentitySummary, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	defer s.pool.put(conn)

	var summaries []IdentitySummary
	err = sqlitex.Execute(conn, `
		SELECT users.id, users.created_at, COUNT(secret_keys.id)
		FROM users LEFT JOIN secret_keys ON secret_keys.user_id = users.id
		GROUP BY users.id
		ORDER BY users.id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				summaries = append(summaries, IdentitySummary{
					Identity:  stmt.ColumnText(0),
					CreatedAt: time.Unix(stmt.ColumnInt64(1), 0),
					Keys:      stmt.ColumnInt(2),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("keystore: listing identities: %w", err)
	}
	return summaries, nil
}
