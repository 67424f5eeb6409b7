package index

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coderag/internal/chunker"
	"coderag/internal/embedder"
	"coderag/internal/store"
	"coderag/internal/types"
	"coderag/internal/walker"
)

// fileResult is what a worker hands to the store stage for one file.
type fileResult struct {
	info      walker.FileInfo
	record    store.FileRecord
	unchanged bool
	chunks    []types.Chunk
	vectors   [][]float32
	cacheHits int
	embedded  int
	warnings  []types.Warning
	failed    bool
}

type pipeline struct {
	ix      *Indexer
	ch      *chunker.Chunker
	opts    Options
	sum     *Summary
	tracker store.FileTracker
}

// run processes files on a bounded worker pool and applies results from a
// single store goroutine.
func (p *pipeline) run(ctx context.Context, files []walker.FileInfo) error {
	// Finished files are written even after cancellation.
	storeCtx := context.WithoutCancel(ctx)
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := make(chan fileResult, p.opts.Workers)
	stored := make(chan struct{})
	go func() {
		defer close(stored)
		done := 0
		for r := range results {
			if fatal(ctx) != nil {
				continue
			}
			if err := p.store(storeCtx, r); err != nil {
				cancel(err)
				continue
			}
			done++
			if p.opts.Progress != nil {
				p.opts.Progress("Indexing files...", done, len(files))
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, fi := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r, err := p.process(gctx, fi)
			if err != nil {
				return err
			}
			select {
			case results <- r:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	werr := g.Wait()
	close(results)
	<-stored

	if err := fatal(ctx); err != nil {
		return err
	}
	if werr != nil {
		return werr
	}
	return ctx.Err()
}

// fatal returns the error the store stage aborted the run with, if any.
func fatal(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) &&
		!errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	return nil
}

// process reads, extracts, chunks and embeds one file. Only errors that
// must end the run are returned; everything else becomes a warning.
func (p *pipeline) process(ctx context.Context, fi walker.FileInfo) (fileResult, error) {
	r := fileResult{info: fi}

	src, err := walker.Read(fi)
	if err != nil {
		r.failed = true
		r.warnings = append(r.warnings, warningFor(fi.RelPath, types.WarnSkippedFile, err))
		return r, nil
	}

	fp := p.ch.Options().Fingerprint()
	r.record = store.FileRecord{
		Path:        src.Path,
		Hash:        embedder.ContentHash(src.Text),
		Fingerprint: fp,
		Language:    src.Language,
		SizeBytes:   src.Size,
	}
	if p.tracker != nil && !p.opts.Force {
		prev, err := p.tracker.GetFile(ctx, p.opts.Collection, src.Path)
		if err != nil {
			return r, fmt.Errorf("look up %s: %w", src.Path, err)
		}
		if prev != nil && prev.Hash == r.record.Hash && prev.Fingerprint == fp {
			r.unchanged = true
			return r, nil
		}
	}

	ex, err := p.ix.reg.Extract(ctx, src.Language, []byte(src.Text))
	if err != nil {
		if ctx.Err() != nil {
			return r, ctx.Err()
		}
		r.warnings = append(r.warnings, warningFor(src.Path, types.WarnParseDegraded, err))
		ex = nil
	}
	r.chunks = p.ch.Chunk(src, ex)
	if len(r.chunks) == 0 {
		return r, nil
	}

	res, err := p.ix.emb.EmbedChunks(ctx, r.chunks)
	switch {
	case err == nil:
	case types.IsConfigError(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return r, err
	default:
		r.failed = true
		r.warnings = append(r.warnings, warningFor(src.Path, types.WarnEmbeddingFailed, err))
		return r, nil
	}
	r.vectors = res.Vectors
	r.cacheHits = res.CacheHits
	r.embedded = res.Embedded
	return r, nil
}

// store applies one file result to the index and the summary. It runs on a
// single goroutine.
func (p *pipeline) store(ctx context.Context, r fileResult) error {
	for _, w := range r.warnings {
		p.ix.warn(p.sum, w)
	}
	switch {
	case r.unchanged:
		p.sum.FilesUnchanged++
		return nil
	case r.failed:
		p.sum.FilesFailed++
		return nil
	}

	col := p.opts.Collection
	if err := p.ix.idx.Upsert(ctx, col, r.chunks, r.vectors); err != nil {
		if types.IsConfigError(err) {
			return err
		}
		p.sum.FilesFailed++
		p.ix.warn(p.sum, warningFor(r.info.RelPath, types.WarnStoreFailed, err))
		return nil
	}

	keep := make([]string, len(r.chunks))
	for i, c := range r.chunks {
		keep[i] = c.ID
	}
	if n, err := p.ix.idx.PruneFile(ctx, col, r.info.RelPath, keep); err != nil {
		p.ix.warn(p.sum, warningFor(r.info.RelPath, types.WarnStoreFailed, err))
	} else if n > 0 {
		p.ix.log.Debug("pruned stale chunks", zap.String("path", r.info.RelPath), zap.Int("chunks", n))
	}

	if p.tracker != nil {
		if err := p.tracker.PutFile(ctx, col, r.record); err != nil {
			p.ix.warn(p.sum, warningFor(r.info.RelPath, types.WarnStoreFailed, err))
		}
	}

	p.sum.FilesProcessed++
	p.sum.ChunksCreated += len(r.chunks)
	p.sum.ChunksEmbedded += r.embedded
	p.sum.CacheHits += r.cacheHits
	return nil
}
