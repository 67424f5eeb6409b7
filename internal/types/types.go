// Package types holds the vocabulary shared by the indexing and retrieval
// pipeline: source files, declarations, chunks, matches and warnings.
package types

import (
	"fmt"
	"time"
)

// SourceFile is a discovered file after its text has been decoded.
type SourceFile struct {
	Path     string // slash-separated, relative to the repository root
	AbsPath  string
	Encoding string
	Language string
	Size     int64
	ModTime  time.Time
	Text     string
}

// DeclKind classifies a Declaration.
type DeclKind string

const (
	DeclFunction DeclKind = "function"
	DeclClass    DeclKind = "class"
	DeclModule   DeclKind = "module"
)

// Declaration is a named structural unit extracted from a file.
type Declaration struct {
	Kind      DeclKind
	Name      string
	StartLine int
	EndLine   int
	Doc       string
	// Parent is the enclosing class name for methods.
	Parent string
}

// QualifiedName returns Parent.Name for methods and Name otherwise.
func (d Declaration) QualifiedName() string {
	if d.Parent != "" {
		return d.Parent + "." + d.Name
	}
	return d.Name
}

// Import is a top-level import statement.
type Import struct {
	Line int
	Text string
}

// Extraction is the structural view of one file.
type Extraction struct {
	Declarations []Declaration
	Imports      []Import
}

// Empty reports whether nothing structural was found.
func (e *Extraction) Empty() bool {
	return e == nil || len(e.Declarations) == 0
}

// ChunkKind classifies a Chunk.
type ChunkKind string

const (
	ChunkFunction ChunkKind = "function"
	ChunkClass    ChunkKind = "class"
	ChunkModule   ChunkKind = "module"
	ChunkFile     ChunkKind = "file"
	ChunkWindow   ChunkKind = "window"
)

// Strategy selects how files are split into chunks.
type Strategy string

const (
	StrategyFunction Strategy = "function"
	StrategyClass    Strategy = "class"
	StrategyFile     Strategy = "file"
	StrategySliding  Strategy = "sliding"
)

// Strategies lists the valid strategies in display order.
var Strategies = []Strategy{StrategyFunction, StrategyClass, StrategyFile, StrategySliding}

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, s)
}

// Chunk is the atomic retrievable unit.
type Chunk struct {
	ID          string
	Collection  string
	FilePath    string
	Language    string
	Kind        ChunkKind
	Name        string
	StartLine   int
	EndLine     int
	Content     string
	ContentHash string
	Strategy    Strategy
	Tokens      int
}

// Filter restricts a search by chunk metadata. Zero fields match everything.
type Filter struct {
	FilePath   string
	PathPrefix string
	Kind       ChunkKind
	Language   string
	Name       string
}

// IsZero reports whether the filter has no predicates.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// Match is a chunk with its cosine similarity to the query.
type Match struct {
	Chunk Chunk
	Score float64
}

// QueryResult is ordered by descending score.
type QueryResult []Match

// Collection describes a named partition of the vector index.
type Collection struct {
	Name      string
	Model     string
	Dimension int // 0 until the first upsert
	Chunks    int
	Files     int
	CreatedAt time.Time
}

// WarningKind classifies a non-fatal pipeline problem.
type WarningKind string

const (
	WarnSkippedFile     WarningKind = "skipped-file"
	WarnParseDegraded   WarningKind = "parse-degradation"
	WarnEmbeddingFailed WarningKind = "embedding-failed"
	WarnStoreFailed     WarningKind = "store-failed"
)

// Warning ties a degraded or skipped operation to the file it affected.
type Warning struct {
	Path    string
	Kind    WarningKind
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s (%s)", w.Path, w.Message, w.Kind)
}
