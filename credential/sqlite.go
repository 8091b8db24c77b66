package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_kv (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (namespace, key)
)`

// SQLiteMedium stores values in a local SQLite database.
type SQLiteMedium struct {
	db        *sql.DB
	namespace string
}

// OpenSQLiteMedium opens (creating if needed) the database at path.
func OpenSQLiteMedium(ctx context.Context, path, namespace string) (*SQLiteMedium, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection avoids SQLITE_BUSY between our own writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create session_kv table: %w", err)
	}
	return &SQLiteMedium{db: db, namespace: namespace}, nil
}

// Close releases the database handle.
func (m *SQLiteMedium) Close() error {
	return m.db.Close()
}

func (m *SQLiteMedium) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := m.db.QueryRowContext(ctx,
		`SELECT value FROM session_kv WHERE namespace = ? AND key = ?`,
		m.namespace, key,
	).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return v, nil
}

const sqliteUpsert = `
	INSERT INTO session_kv (namespace, key, value, updated_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT (namespace, key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

func (m *SQLiteMedium) Set(ctx context.Context, key, value string) error {
	if _, err := m.db.ExecContext(ctx, sqliteUpsert, m.namespace, key, value); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// SetMany upserts every value in a single transaction.
func (m *SQLiteMedium) SetMany(ctx context.Context, values map[string]string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", ErrStorageUnavailable, err)
	}
	defer stmt.Close()

	for k, v := range values {
		if _, err := stmt.ExecContext(ctx, m.namespace, k, v); err != nil {
			return fmt.Errorf("%w: write %s: %v", ErrStorageUnavailable, k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (m *SQLiteMedium) Remove(ctx context.Context, key string) error {
	_, err := m.db.ExecContext(ctx,
		`DELETE FROM session_kv WHERE namespace = ? AND key = ?`,
		m.namespace, key,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
