package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/devblac/headwatch/internal/monitor"
)

// Store wraps SQLite-backed persistence of block headers, so a monitor can
// resume after a restart without re-downloading its buffer.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS headers (
  block_number  INTEGER PRIMARY KEY,
  block_hash    TEXT NOT NULL,
  timestamp     INTEGER NOT NULL,
  updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertHeader records one block header, replacing any previous row for the
// same block number (a reorg rewrites history at a height).
func (s *Store) UpsertHeader(ctx context.Context, h monitor.Header) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO headers (block_number, block_hash, timestamp, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(block_number) DO UPDATE SET
  block_hash=excluded.block_hash,
  timestamp=excluded.timestamp,
  updated_at=CURRENT_TIMESTAMP;
`, h.Number, h.Hash, h.Timestamp)
	if err != nil {
		return fmt.Errorf("upsert header %d: %w", h.Number, err)
	}
	return nil
}

// SaveHeaders upserts a batch of headers inside one transaction.
func (s *Store) SaveHeaders(ctx context.Context, headers []monitor.Header) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO headers (block_number, block_hash, timestamp, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(block_number) DO UPDATE SET
  block_hash=excluded.block_hash,
  timestamp=excluded.timestamp,
  updated_at=CURRENT_TIMESTAMP;
`)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer stmt.Close()
		for _, h := range headers {
			if _, err := stmt.ExecContext(ctx, h.Number, h.Hash, h.Timestamp); err != nil {
				return fmt.Errorf("upsert header %d: %w", h.Number, err)
			}
		}
		return nil
	})
}

// LoadHeaders reads every stored header, keyed by block number, for
// monitor.Restore.
func (s *Store) LoadHeaders(ctx context.Context) (map[uint64]monitor.Header, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT block_number, block_hash, timestamp FROM headers ORDER BY block_number;
`)
	if err != nil {
		return nil, fmt.Errorf("load headers: %w", err)
	}
	defer rows.Close()

	out := map[uint64]monitor.Header{}
	for rows.Next() {
		var h monitor.Header
		if err := rows.Scan(&h.Number, &h.Hash, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("scan header: %w", err)
		}
		out[h.Number] = h
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load headers: %w", err)
	}
	return out, nil
}

// TruncateAbove deletes every stored header strictly above block, mirroring
// the monitor's in-memory truncation after a reorg.
func (s *Store) TruncateAbove(ctx context.Context, block uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM headers WHERE block_number > ?;`, block)
	if err != nil {
		return fmt.Errorf("truncate headers above %d: %w", block, err)
	}
	return nil
}

// Range reports the stored block span and row count. ok is false when the
// store is empty.
func (s *Store) Range(ctx context.Context) (lowest, highest, count uint64, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COALESCE(MIN(block_number), 0), COALESCE(MAX(block_number), 0), COUNT(*) FROM headers;
`)
	if err := row.Scan(&lowest, &highest, &count); err != nil {
		return 0, 0, 0, false, fmt.Errorf("header range: %w", err)
	}
	return lowest, highest, count, count > 0, nil
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
