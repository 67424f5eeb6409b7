package types

import (
	"errors"
	"fmt"
)

var (
	// ErrSkippedFile marks a file left out of indexing (unreadable, binary,
	// oversized, undecodable or an unsafe symlink).
	ErrSkippedFile = errors.New("file skipped")

	// ErrParse marks a structural parse failure; the file falls back to
	// unparsed chunking.
	ErrParse = errors.New("parse failed")

	// ErrEmbeddingBackend marks an embedding backend failure after retries.
	ErrEmbeddingBackend = errors.New("embedding backend error")

	// ErrDimensionMismatch means a vector does not match the dimension fixed
	// for its collection.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrModelMismatch means a collection was created with a different
	// embedding model than the one configured.
	ErrModelMismatch = errors.New("embedding model mismatch")

	// ErrCollectionNotFound is returned for operations on unknown collections.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidInput indicates malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// FileError ties an error to the file being processed.
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// IsConfigError reports whether err should abort an indexing run rather
// than be isolated to one file.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrModelMismatch)
}
