// Package index runs the indexing pipeline: discover, read, extract, chunk,
// embed and store.
package index

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"

	"coderag/internal/chunker"
	"coderag/internal/embedder"
	"coderag/internal/extractor"
	"coderag/internal/store"
	"coderag/internal/types"
	"coderag/internal/walker"
)

// ProgressFunc is called as files complete with a stage label, the number of
// files done and the total.
type ProgressFunc func(stage string, current, total int)

// Embedder is the part of embedder.Embedder the pipeline needs.
type Embedder interface {
	Model() string
	EmbedChunks(ctx context.Context, chunks []types.Chunk) (*embedder.Result, error)
}

// Options configures one indexing run.
type Options struct {
	Collection string
	Strategy   types.Strategy
	MaxTokens  int
	Overlap    int
	// Workers bounds concurrent file processing; zero uses runtime.NumCPU.
	Workers int
	// Force re-indexes files whose content and chunking settings are unchanged.
	Force bool

	Extensions      map[string]bool
	MaxFileSize     int64
	ExtraIgnores    []string
	WriteIgnoreFile bool

	Progress ProgressFunc
}

// Summary reports the outcome of an indexing run.
type Summary struct {
	Collection      string
	FilesDiscovered int
	FilesProcessed  int
	FilesUnchanged  int
	FilesFailed     int
	FilesRemoved    int
	ChunksCreated   int
	ChunksEmbedded  int
	CacheHits       int
	Warnings        []types.Warning
	Duration        time.Duration
}

// Indexer indexes source trees into collections of an index.
type Indexer struct {
	idx store.Index
	emb Embedder
	reg *extractor.Registry
	log *zap.Logger
}

// New creates an Indexer. A nil registry chunks every file unparsed.
func New(idx store.Index, emb Embedder, reg *extractor.Registry, log *zap.Logger) *Indexer {
	if reg == nil {
		reg = extractor.NewRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Indexer{idx: idx, emb: emb, reg: reg, log: log.Named("index")}
}

// Index brings collection up to date with the tree at root. Per-file
// failures are recorded in the summary; a model or dimension mismatch, a
// missing root or cancellation ends the run with an error. Chunks written
// before the error remain in the index.
func (ix *Indexer) Index(ctx context.Context, root string, opts Options) (*Summary, error) {
	start := time.Now()
	if opts.Collection == "" {
		return nil, fmt.Errorf("%w: collection name is required", types.ErrInvalidInput)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	ch, err := chunker.New(chunker.Options{
		Strategy:   opts.Strategy,
		MaxTokens:  opts.MaxTokens,
		Overlap:    opts.Overlap,
		Collection: opts.Collection,
	})
	if err != nil {
		return nil, err
	}

	if _, err := ix.idx.Initialize(ctx, opts.Collection, ix.emb.Model()); err != nil {
		return nil, err
	}

	found, err := walker.Discover(ctx, root, walker.Options{
		Extensions:      opts.Extensions,
		MaxFileSize:     opts.MaxFileSize,
		ExtraIgnores:    opts.ExtraIgnores,
		WriteIgnoreFile: opts.WriteIgnoreFile,
	})
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Collection:      opts.Collection,
		FilesDiscovered: len(found.Files),
	}
	for _, w := range found.Warnings {
		ix.warn(sum, w)
	}
	ix.log.Info("indexing",
		zap.String("root", root),
		zap.String("collection", opts.Collection),
		zap.String("strategy", string(ch.Options().Strategy)),
		zap.Int("files", len(found.Files)))

	p := &pipeline{ix: ix, ch: ch, opts: opts, sum: sum}
	if t, ok := ix.idx.(store.FileTracker); ok {
		p.tracker = t
	}
	runErr := p.run(ctx, found.Files)

	if runErr == nil && p.tracker != nil {
		if err := ix.removeDeleted(ctx, p.tracker, opts.Collection, found.Files, sum); err != nil {
			runErr = err
		}
	}

	sort.SliceStable(sum.Warnings, func(i, j int) bool { return sum.Warnings[i].Path < sum.Warnings[j].Path })
	sum.Duration = time.Since(start)
	ix.log.Info("indexing finished",
		zap.Int("processed", sum.FilesProcessed),
		zap.Int("unchanged", sum.FilesUnchanged),
		zap.Int("failed", sum.FilesFailed),
		zap.Int("chunks", sum.ChunksCreated),
		zap.Int("embedded", sum.ChunksEmbedded),
		zap.Int("cache_hits", sum.CacheHits),
		zap.Duration("duration", sum.Duration))
	return sum, runErr
}

// removeDeleted forgets tracked files no longer present in the tree.
func (ix *Indexer) removeDeleted(ctx context.Context, t store.FileTracker, collection string, files []walker.FileInfo, sum *Summary) error {
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f.RelPath] = true
	}
	tracked, err := t.ListFiles(ctx, collection)
	if err != nil {
		return fmt.Errorf("list indexed files: %w", err)
	}
	for _, path := range tracked {
		if present[path] {
			continue
		}
		if err := t.DeleteFile(ctx, collection, path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		sum.FilesRemoved++
		ix.log.Debug("removed deleted file", zap.String("path", path))
	}
	return nil
}

func (ix *Indexer) warn(sum *Summary, w types.Warning) {
	sum.Warnings = append(sum.Warnings, w)
	ix.log.Warn(w.Message, zap.String("path", w.Path), zap.String("reason", string(w.Kind)))
}

func warningFor(path string, kind types.WarningKind, err error) types.Warning {
	var fe *types.FileError
	if errors.As(err, &fe) {
		err = fe.Err
	}
	return types.Warning{Path: path, Kind: kind, Message: err.Error()}
}
