package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists records in a local SQLite database. One process per
// device owns the file; WAL mode plus a busy timeout covers concurrent
// goroutines within that process.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path cannot be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS records (
		kind       TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      BLOB NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now')),
		PRIMARY KEY (kind, key)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewSQLiteStore",
		"path":     path,
	}).Info("SQLite store opened")

	return &SQLiteStore{db: db}, nil
}

// Get returns the value for (kind, key), or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, kind, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM records WHERE kind = ? AND key = ?", kind, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return value, nil
}

// Put durably writes the value for (kind, key).
func (s *SQLiteStore) Put(ctx context.Context, kind, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (kind, key, value, updated_at)
		VALUES (?, ?, ?, strftime('%s','now'))
		ON CONFLICT (kind, key) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at`,
		kind, key, value)
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Delete removes the record for (kind, key).
func (s *SQLiteStore) Delete(ctx context.Context, kind, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE kind = ? AND key = ?", kind, key)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// List returns the keys present under kind.
func (s *SQLiteStore) List(ctx context.Context, kind string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM records WHERE kind = ?", kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Tx runs fn inside a database transaction. An error from fn rolls every
// write back, leaving the prior state entirely intact.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Tx",
				"error":    rbErr.Error(),
			}).Error("Transaction rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteTx adapts an open transaction to the Store contract so component
// code is identical inside and outside Tx.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Get(ctx context.Context, kind, key string) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRowContext(ctx,
		"SELECT value FROM records WHERE kind = ? AND key = ?", kind, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return value, nil
}

func (t *sqliteTx) Put(ctx context.Context, kind, key string, value []byte) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO records (kind, key, value, updated_at)
		VALUES (?, ?, ?, strftime('%s','now'))
		ON CONFLICT (kind, key) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at`,
		kind, key, value)
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func (t *sqliteTx) Delete(ctx context.Context, kind, key string) error {
	_, err := t.tx.ExecContext(ctx,
		"DELETE FROM records WHERE kind = ? AND key = ?", kind, key)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (t *sqliteTx) List(ctx context.Context, kind string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT key FROM records WHERE kind = ?", kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Tx on an already-open transaction just runs fn in place; SQLite does not
// support true nesting and the outer commit/rollback governs.
func (t *sqliteTx) Tx(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}
