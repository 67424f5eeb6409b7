package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
    key        TEXT PRIMARY KEY,
    dim        INTEGER NOT NULL,
    vector     BLOB NOT NULL,
    created_at INTEGER NOT NULL
);
`

// maxParams bounds the IN list of a single lookup.
const maxParams = 500

// SQLiteStore persists vectors in their own SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the cache database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetMany(ctx context.Context, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))
	for start := 0; start < len(keys); start += maxParams {
		end := min(start+maxParams, len(keys))
		batch := keys[start:end]

		args := make([]any, len(batch))
		for i, k := range batch {
			args[i] = k
		}
		q := "SELECT key, vector FROM embeddings WHERE key IN (?" + strings.Repeat(",?", len(batch)-1) + ")"
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("query cache: %w", err)
		}
		for rows.Next() {
			var key string
			var blob []byte
			if err := rows.Scan(&key, &blob); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan cache row: %w", err)
			}
			v, err := decodeVector(blob)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("cache key %s: %w", key, err)
			}
			out[key] = v
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) PutMany(ctx context.Context, entries map[string][]float32) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (key, dim, vector, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET dim = excluded.dim, vector = excluded.vector`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for k, v := range entries {
		if _, err := stmt.ExecContext(ctx, k, len(v), encodeVector(v), now); err != nil {
			return fmt.Errorf("store cache key %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// Len returns the number of cached vectors.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
