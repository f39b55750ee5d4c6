// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// migrations are applied in order. The database's user_version is the
// number of migrations already applied. Never edit an entry that has
// shipped; append a new one.
var migrations = []string{
	`
	CREATE TABLE users (
		id         TEXT PRIMARY KEY NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE secret_keys (
		id              INTEGER PRIMARY KEY,
		secret_key_hash TEXT NOT NULL UNIQUE,
		user_id         TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at      INTEGER NOT NULL
	);

	CREATE INDEX secret_keys_user ON secret_keys(user_id);
	`,
}

// migrate brings the schema up to date inside one transaction.
func migrate(conn *sqlite.Conn) (err error) {
	var version int
	err = sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", version, len(migrations))
	}
	if version == len(migrations) {
		return nil
	}

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("starting migration: %w", err)
	}
	defer endFn(&err)

	for index := version; index < len(migrations); index++ {
		if err := sqlitex.ExecuteScript(conn, migrations[index], nil); err != nil {
			return fmt.Errorf("applying migration %d: %w", index+1, err)
		}
	}
	// PRAGMA does not accept bound parameters.
	if err := sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version = %d", len(migrations)), nil); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return nil
}
