package index

import (
	"context"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"coderag/internal/cache"
	"coderag/internal/embedder"
	"coderag/internal/extractor/languages"
	"coderag/internal/store"
	"coderag/internal/types"
)

// hashBackend derives a vector from each text and fails on texts
// containing "EXPLODE".
type hashBackend struct {
	mu    sync.Mutex
	model string
	texts int
}

func (b *hashBackend) Model() string { return b.model }

func (b *hashBackend) Embed(_ context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "EXPLODE") {
			return nil, errors.New("backend unavailable")
		}
		h := sha256.Sum256([]byte(t))
		out[i] = []float32{float32(h[0]) + 1, float32(h[1]) + 1, float32(h[2]) + 1, float32(h[3]) + 1}
	}
	b.texts += len(texts)
	return out, nil
}

// cancellingBackend cancels the run when asked to embed its second batch.
type cancellingBackend struct {
	*hashBackend
	cancel context.CancelFunc
	calls  int
}

func (b *cancellingBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	b.calls++
	if b.calls == 2 {
		b.cancel()
	}
	return b.hashBackend.Embed(ctx, texts)
}

func (b *hashBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.texts
}

type fixture struct {
	root    string
	idx     *store.SQLiteIndex
	backend *hashBackend
	indexer *Indexer
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	idx, err := store.OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	reg, err := languages.NewRegistry()
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	backend := &hashBackend{model: "test-embed"}
	emb := embedder.New(backend, cache.NewMemoryStore(), embedder.Options{
		Retry: embedder.RetryConfig{MaxAttempts: 1},
	})
	return &fixture{
		root:    t.TempDir(),
		idx:     idx,
		backend: backend,
		indexer: New(idx, emb, reg, zap.New(core)),
		logs:    logs,
	}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func (f *fixture) run(t *testing.T, opts Options) *Summary {
	t.Helper()
	if opts.Collection == "" {
		opts.Collection = "proj"
	}
	sum, err := f.indexer.Index(context.Background(), f.root, opts)
	require.NoError(t, err)
	return sum
}

const fooBar = "def foo():\n    return 1\n\n\ndef bar():\n    return 2\n"

func TestIndex_FooBarScenario(t *testing.T) {
	f := newFixture(t)
	f.write(t, "mod.py", fooBar)

	sum := f.run(t, Options{})
	assert.Equal(t, 1, sum.FilesDiscovered)
	assert.Equal(t, 1, sum.FilesProcessed)
	assert.Equal(t, 2, sum.ChunksCreated)
	assert.Equal(t, 2, sum.ChunksEmbedded)
	assert.Empty(t, sum.Warnings)

	col, err := f.idx.GetCollection(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, 2, col.Chunks)
	assert.Equal(t, 1, col.Files)
	assert.Equal(t, 4, col.Dimension)
	assert.Equal(t, "test-embed", col.Model)
}

func TestIndex_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.write(t, "mod.py", fooBar)
	f.write(t, "pkg/util.go", "package pkg\n\n// Add sums.\nfunc Add(a, b int) int {\n\treturn a + b\n}\n")

	first := f.run(t, Options{})
	embedded := f.backend.count()

	second := f.run(t, Options{})
	assert.Equal(t, 2, second.FilesUnchanged)
	assert.Zero(t, second.FilesProcessed)
	assert.Zero(t, second.ChunksEmbedded)
	assert.Equal(t, embedded, f.backend.count())

	col, err := f.idx.GetCollection(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, first.ChunksCreated, col.Chunks)
}

func TestIndex_ChangedFunctionReembedsOnlyItsChunk(t *testing.T) {
	f := newFixture(t)
	f.write(t, "mod.py", fooBar)
	f.run(t, Options{})
	before := f.backend.count()

	f.write(t, "mod.py", strings.Replace(fooBar, "return 2", "return 3", 1))
	sum := f.run(t, Options{})

	assert.Equal(t, 1, sum.FilesProcessed)
	assert.Equal(t, 2, sum.ChunksCreated)
	assert.Equal(t, 1, sum.ChunksEmbedded)
	assert.Equal(t, 1, sum.CacheHits)
	assert.Equal(t, before+1, f.backend.count())

	col, err := f.idx.GetCollection(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, 2, col.Chunks)
}

func TestIndex_ForceAndStrategyChange(t *testing.T) {
	f := newFixture(t)
	f.write(t, "mod.py", fooBar)
	f.run(t, Options{})

	forced := f.run(t, Options{Force: true})
	assert.Equal(t, 1, forced.FilesProcessed)
	assert.Zero(t, forced.ChunksEmbedded)
	assert.Equal(t, 2, forced.CacheHits)

	// A different strategy changes the fingerprint, so the file is redone
	// and the old function chunks are pruned.
	whole := f.run(t, Options{Strategy: types.StrategyFile})
	assert.Equal(t, 1, whole.FilesProcessed)
	assert.Equal(t, 1, whole.ChunksCreated)

	col, err := f.idx.GetCollection(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, col.Chunks)
}

func TestIndex_RemovesDeletedFiles(t *testing.T) {
	f := newFixture(t)
	f.write(t, "keep.py", "def keep():\n    return 1\n")
	f.write(t, "gone.py", "def gone():\n    return 2\n")
	f.run(t, Options{})

	require.NoError(t, os.Remove(filepath.Join(f.root, "gone.py")))
	sum := f.run(t, Options{})
	assert.Equal(t, 1, sum.FilesRemoved)

	files, err := f.idx.ListFiles(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.py"}, files)

	col, err := f.idx.GetCollection(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, col.Chunks)
}

func TestIndex_WarningsAreIsolatedAndLogged(t *testing.T) {
	f := newFixture(t)
	f.write(t, "ok.py", fooBar)
	f.write(t, "broken.py", "def broken(:\n    return\n")
	f.write(t, "boom.py", "def boom():\n    return 'EXPLODE'\n")
	f.write(t, "blob.py", "abc\x00def")

	sum := f.run(t, Options{})
	assert.Equal(t, 3, sum.FilesDiscovered)
	assert.Equal(t, 2, sum.FilesProcessed)
	assert.Equal(t, 1, sum.FilesFailed)

	kinds := make(map[string]types.WarningKind)
	for _, w := range sum.Warnings {
		kinds[w.Path] = w.Kind
	}
	assert.Equal(t, types.WarnSkippedFile, kinds["blob.py"])
	assert.Equal(t, types.WarnParseDegraded, kinds["broken.py"])
	assert.Equal(t, types.WarnEmbeddingFailed, kinds["boom.py"])

	warned := f.logs.FilterLevelExact(zapcore.WarnLevel).FilterField(zap.String("path", "boom.py"))
	assert.Equal(t, 1, warned.Len())
	assert.Equal(t, string(types.WarnEmbeddingFailed), warned.All()[0].ContextMap()["reason"])

	// The degraded file is still searchable as a whole-file chunk.
	got, err := f.idx.Search(context.Background(), "proj", []float32{1, 1, 1, 1}, 10, types.Filter{FilePath: "broken.py"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.ChunkFile, got[0].Chunk.Kind)
}

func TestIndex_ModelMismatchAborts(t *testing.T) {
	f := newFixture(t)
	f.write(t, "mod.py", fooBar)
	f.run(t, Options{})

	other := New(f.idx, embedder.New(&hashBackend{model: "other-model"}, nil, embedder.Options{}), nil, nil)
	_, err := other.Index(context.Background(), f.root, Options{Collection: "proj"})
	assert.ErrorIs(t, err, types.ErrModelMismatch)
	assert.True(t, types.IsConfigError(err))
}

func TestIndex_Progress(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.py", "def a():\n    return 1\n")
	f.write(t, "b.py", "def b():\n    return 2\n")
	f.write(t, "c.py", "def c():\n    return 3\n")

	var mu sync.Mutex
	var calls []int
	f.run(t, Options{Workers: 2, Progress: func(_ string, current, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 3, total)
		calls = append(calls, current)
	}})
	assert.Equal(t, []int{1, 2, 3}, calls)
}

func TestIndex_Errors(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.py", "def a():\n    return 1\n")

	_, err := f.indexer.Index(context.Background(), f.root, Options{})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = f.indexer.Index(context.Background(), f.root, Options{Collection: "proj", MaxTokens: 10, Overlap: 10})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = f.indexer.Index(context.Background(), filepath.Join(f.root, "missing"), Options{Collection: "proj"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.indexer.Index(ctx, f.root, Options{Collection: "proj"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndex_CancelMidRunKeepsFinishedFiles(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.py", "def a():\n    return 1\n")
	f.write(t, "b.py", "def b():\n    return 2\n")
	f.write(t, "c.py", "def c():\n    return 3\n")

	reg, err := languages.NewRegistry()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := &cancellingBackend{hashBackend: &hashBackend{model: "test-embed"}, cancel: cancel}
	emb := embedder.New(backend, cache.NewMemoryStore(), embedder.Options{
		Retry: embedder.RetryConfig{MaxAttempts: 1},
	})

	_, err = New(f.idx, emb, reg, zap.NewNop()).Index(ctx, f.root, Options{Collection: "proj", Workers: 1})
	require.ErrorIs(t, err, context.Canceled)

	files, err := f.idx.ListFiles(context.Background(), "proj")
	require.NoError(t, err)
	assert.Contains(t, files, "a.py")
	col, err := f.idx.GetCollection(context.Background(), "proj")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, col.Chunks, 1)

	sum := f.run(t, Options{Workers: 1})
	assert.GreaterOrEqual(t, sum.FilesUnchanged, 1)
	assert.Equal(t, 3, sum.FilesUnchanged+sum.FilesProcessed)
	assert.Zero(t, sum.FilesRemoved)

	col, err = f.idx.GetCollection(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, 3, col.Files)
}
