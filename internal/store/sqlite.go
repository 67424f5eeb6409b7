package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"coderag/internal/types"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteIndex implements Index and FileTracker on SQLite, ranking with
// sqlite-vec's cosine distance.
type SQLiteIndex struct {
	db *sql.DB
}

var (
	_ Index       = (*SQLiteIndex)(nil)
	_ FileTracker = (*SQLiteIndex)(nil)
)

// OpenSQLite creates or opens the index database at dbPath.
func OpenSQLite(dbPath string) (*SQLiteIndex, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := Init(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

func (s *SQLiteIndex) Initialize(ctx context.Context, name, model string) (*types.Collection, error) {
	if name == "" || model == "" {
		return nil, fmt.Errorf("%w: collection name and model are required", types.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO collections (name, model) VALUES (?, ?) ON CONFLICT(name) DO NOTHING", name, model)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	col, err := s.GetCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	if col.Model != model {
		return nil, fmt.Errorf("%w: collection %q was built with %q, configured model is %q",
			types.ErrModelMismatch, name, col.Model, model)
	}
	return col, nil
}

func (s *SQLiteIndex) dimension(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, name string) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, "SELECT dimension FROM collections WHERE name = ?", name).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", types.ErrCollectionNotFound, name)
	}
	return dim, err
}

func (s *SQLiteIndex) Upsert(ctx context.Context, collection string, chunks []types.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks with %d vectors", types.ErrInvalidInput, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	dim, err := s.dimension(ctx, tx, collection)
	if err != nil {
		return err
	}
	want := dim
	if want == 0 {
		want = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) == 0 || len(v) != want {
			return fmt.Errorf("%w: chunk %s has %d dimensions, collection %q expects %d",
				types.ErrDimensionMismatch, chunks[i].ID, len(v), collection, want)
		}
	}
	if dim == 0 {
		if _, err := tx.ExecContext(ctx, "UPDATE collections SET dimension = ? WHERE name = ?", want, collection); err != nil {
			return fmt.Errorf("set dimension: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (collection, id, path, language, kind, name, start_line, end_line,
			content, content_hash, strategy, tokens, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			path = excluded.path, language = excluded.language, kind = excluded.kind,
			name = excluded.name, start_line = excluded.start_line, end_line = excluded.end_line,
			content = excluded.content, content_hash = excluded.content_hash,
			strategy = excluded.strategy, tokens = excluded.tokens, embedding = excluded.embedding`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, c := range chunks {
		blob, err := sqlite_vec.SerializeFloat32(vectors[i])
		if err != nil {
			return fmt.Errorf("serialize embedding: %w", err)
		}
		_, err = stmt.ExecContext(ctx, collection, c.ID, c.FilePath, c.Language, string(c.Kind), c.Name,
			c.StartLine, c.EndLine, c.Content, c.ContentHash, string(c.Strategy), c.Tokens, blob)
		if err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Search(ctx context.Context, collection string, vector []float32, topK int, filter types.Filter) ([]types.Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", types.ErrInvalidInput, topK)
	}
	dim, err := s.dimension(ctx, s.db, collection)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, nil
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection %q expects %d",
			types.ErrDimensionMismatch, len(vector), collection, dim)
	}

	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("serialize query: %w", err)
	}
	where, fargs := filterSQL(filter)
	q := "SELECT " + chunkColumns + ", 1.0 - vec_distance_cosine(embedding, ?) AS score" +
		" FROM chunks WHERE collection = ?" + where +
		" ORDER BY score DESC, path, start_line LIMIT ?"
	args := append([]any{blob, collection}, fargs...)
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []types.Match
	for rows.Next() {
		var score float64
		c, err := scanChunk(rows, collection, &score)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Match{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) PruneFile(ctx context.Context, collection, path string, keepIDs []string) (int, error) {
	q := "DELETE FROM chunks WHERE collection = ? AND path = ?"
	args := []any{collection, path}
	if len(keepIDs) > 0 {
		q += " AND id NOT IN (?" + strings.Repeat(",?", len(keepIDs)-1) + ")"
		for _, id := range keepIDs {
			args = append(args, id)
		}
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteIndex) DeleteCollection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", types.ErrCollectionNotFound, name)
	}
	for _, table := range []string{"chunks", "files"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE collection = ?", name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const collectionQuery = `
	SELECT c.name, c.model, c.dimension, c.created_at,
		(SELECT COUNT(*) FROM chunks WHERE collection = c.name),
		(SELECT COUNT(*) FROM files WHERE collection = c.name)
	FROM collections c`

func scanCollection(row scanner) (types.Collection, error) {
	var col types.Collection
	err := row.Scan(&col.Name, &col.Model, &col.Dimension, &col.CreatedAt, &col.Chunks, &col.Files)
	return col, err
}

func (s *SQLiteIndex) ListCollections(ctx context.Context) ([]types.Collection, error) {
	rows, err := s.db.QueryContext(ctx, collectionQuery+" ORDER BY c.name")
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []types.Collection
	for rows.Next() {
		col, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) GetCollection(ctx context.Context, name string) (*types.Collection, error) {
	col, err := scanCollection(s.db.QueryRowContext(ctx, collectionQuery+" WHERE c.name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get collection %s: %w", name, err)
	}
	return &col, nil
}

func (s *SQLiteIndex) GetFile(ctx context.Context, collection, path string) (*FileRecord, error) {
	var rec FileRecord
	err := s.db.QueryRowContext(ctx,
		"SELECT path, hash, fingerprint, language, size_bytes, indexed_at FROM files WHERE collection = ? AND path = ?",
		collection, path,
	).Scan(&rec.Path, &rec.Hash, &rec.Fingerprint, &rec.Language, &rec.SizeBytes, &rec.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteIndex) PutFile(ctx context.Context, collection string, rec FileRecord) error {
	if rec.IndexedAt.IsZero() {
		rec.IndexedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (collection, path, hash, fingerprint, language, size_bytes, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, path) DO UPDATE SET
			hash = excluded.hash, fingerprint = excluded.fingerprint, language = excluded.language,
			size_bytes = excluded.size_bytes, indexed_at = excluded.indexed_at`,
		collection, rec.Path, rec.Hash, rec.Fingerprint, rec.Language, rec.SizeBytes, rec.IndexedAt)
	if err != nil {
		return fmt.Errorf("record file %s: %w", rec.Path, err)
	}
	return nil
}

func (s *SQLiteIndex) ListFiles(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path FROM files WHERE collection = ? ORDER BY path", collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) DeleteFile(ctx context.Context, collection, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE collection = ? AND path = ?", collection, path); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE collection = ? AND path = ?", collection, path); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
