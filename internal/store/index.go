// Package store persists chunks and their vectors in named collections and
// answers similarity searches over them.
package store

import (
	"context"
	"time"

	"coderag/internal/types"
)

// Index is a vector index partitioned into collections.
type Index interface {
	// Initialize creates the collection if needed. An existing collection
	// built with another model yields types.ErrModelMismatch.
	Initialize(ctx context.Context, name, model string) (*types.Collection, error)
	// Upsert writes chunks with their vectors, overwriting by chunk ID. The
	// first upsert fixes the collection dimension.
	Upsert(ctx context.Context, collection string, chunks []types.Chunk, vectors [][]float32) error
	// Search returns up to topK matches by descending cosine similarity.
	Search(ctx context.Context, collection string, vector []float32, topK int, filter types.Filter) ([]types.Match, error)
	// PruneFile removes chunks of path whose IDs are not in keepIDs.
	PruneFile(ctx context.Context, collection, path string, keepIDs []string) (int, error)
	DeleteCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) ([]types.Collection, error)
	GetCollection(ctx context.Context, name string) (*types.Collection, error)
	Close() error
}

// FileRecord is the indexing state of one file in a collection.
type FileRecord struct {
	Path        string
	Hash        string
	Fingerprint string
	Language    string
	SizeBytes   int64
	IndexedAt   time.Time
}

// FileTracker is implemented by indexes that remember which files were
// indexed, so unchanged files can be skipped and deleted ones pruned.
type FileTracker interface {
	// GetFile returns nil when path has not been indexed.
	GetFile(ctx context.Context, collection, path string) (*FileRecord, error)
	PutFile(ctx context.Context, collection string, rec FileRecord) error
	ListFiles(ctx context.Context, collection string) ([]string, error)
	// DeleteFile forgets path and removes its chunks.
	DeleteFile(ctx context.Context, collection, path string) error
}
