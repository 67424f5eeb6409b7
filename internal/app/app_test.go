package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coderag/internal/cache"
	"coderag/internal/config"
	"coderag/internal/embedder"
	"coderag/internal/llm"
	"coderag/internal/types"
)

// fakeOllama serves /api/embed with letter-frequency vectors and /api/chat
// with a fixed streamed answer.
func fakeOllama(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var embedCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		embedCalls.Add(1)
		var req struct {
			Input []string `json:"input"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		out := make([][]float32, len(req.Input))
		for i, text := range req.Input {
			v := make([]float32, 26)
			for _, c := range strings.ToLower(text) {
				if c >= 'a' && c <= 'z' {
					v[c-'a']++
				}
			}
			v[0] += 0.5
			out[i] = v
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		for _, part := range []string{"foo ", "returns ", "1."} {
			json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"role": "assistant", "content": part}, "done": false})
		}
		json.NewEncoder(w).Encode(map[string]any{"done": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &embedCalls
}

func testConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Embedding.BaseURL = url
	cfg.Embedding.MaxRetries = 0
	cfg.LLM.BaseURL = url
	cfg.Cache.Backend = "memory"
	cfg.Query.MinSimilarity = -1
	cfg.Index.Workers = 2
	require.NoError(t, cfg.Validate())
	return cfg
}

func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	src := "def foo():\n    return 1\n\n\ndef bar():\n    return 2\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte(src), 0o644))
	return root
}

func TestOpen_IndexQueryAsk(t *testing.T) {
	srv, embedCalls := fakeOllama(t)
	cfg := testConfig(t, srv.URL)
	ctx := context.Background()

	a, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Embedder.Ping(ctx))

	sum, err := a.Indexer.Index(ctx, writeTree(t), a.IndexOptions("demo"))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FilesProcessed)
	assert.Equal(t, 2, sum.ChunksCreated)
	assert.FileExists(t, cfg.IndexPath())

	col, err := a.Index.GetCollection(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", col.Model)
	assert.Equal(t, 26, col.Dimension)

	matches, err := a.Engine.Retrieve(ctx, "demo", "def foo", 1, types.Filter{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "main.py", matches[0].Chunk.FilePath)

	ans, err := a.Engine.Ask(ctx, "demo", "what does foo return?", a.AskOptions(0, types.Filter{}, nil))
	require.NoError(t, err)
	assert.Len(t, ans.Matches, 2, "top_k defaults to the configured 10")
	req := a.Request(ans)
	assert.InDelta(t, cfg.LLM.Temperature, req.Temperature, 1e-6)
	assert.Equal(t, cfg.LLM.MaxTokens, req.MaxTokens)

	text, err := llm.Collect(a.Generator.Stream(ctx, req))
	require.NoError(t, err)
	assert.Equal(t, "foo returns 1.", text)

	before := embedCalls.Load()
	_, err = a.Indexer.Index(ctx, writeTree(t), a.IndexOptions("demo2"))
	require.NoError(t, err)
	assert.Equal(t, before, embedCalls.Load(), "identical chunks are served from the cache")
}

func TestOpen_UnknownStore(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Store.Backend = "milvus"
	_, err := Open(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestOpenCache(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	cfg.Cache.Backend = "none"
	s, err := OpenCache(ctx, cfg)
	require.NoError(t, err)
	assert.Nil(t, s)

	cfg.Cache.Backend = "memory"
	s, err = OpenCache(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &cache.MemoryStore{}, s)

	cfg.Cache.Backend = "sqlite"
	s, err = OpenCache(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &cache.LRU{}, s)
	require.NoError(t, s.Close())
	assert.FileExists(t, cfg.CachePath())

	cfg.Cache.LRUSize = 0
	s, err = OpenCache(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &cache.SQLiteStore{}, s)
	require.NoError(t, s.Close())

	mr := miniredis.RunT(t)
	cfg.Cache.Backend = "redis"
	cfg.Cache.Redis.Addr = mr.Addr()
	s, err = OpenCache(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, s.PutMany(ctx, map[string][]float32{"m:h": {1, 2}}))
	got, err := s.GetMany(ctx, []string{"m:h"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, got["m:h"])
	require.NoError(t, s.Close())

	cfg.Cache.Backend = "disk"
	_, err = OpenCache(ctx, cfg)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestBackendsFollowProvider(t *testing.T) {
	cfg := config.Default()
	assert.IsType(t, &embedder.OllamaBackend{}, NewEmbeddingBackend(cfg))
	assert.IsType(t, &llm.OllamaChat{}, NewGenerator(cfg))

	cfg.Embedding.Provider = "openai"
	cfg.Embedding.Model = "text-embedding-3-small"
	cfg.LLM.Provider = "openai"
	cfg.LLM.Model = "gpt-4o-mini"
	emb := NewEmbeddingBackend(cfg)
	gen := NewGenerator(cfg)
	assert.IsType(t, &embedder.OpenAIBackend{}, emb)
	assert.IsType(t, &llm.OpenAIChat{}, gen)
	assert.Equal(t, "text-embedding-3-small", emb.Model())
	assert.Equal(t, "gpt-4o-mini", gen.Model())
}

func TestIndexOptions(t *testing.T) {
	srv, _ := fakeOllama(t)
	cfg := testConfig(t, srv.URL)
	cfg.Index.Strategy = "class"
	cfg.Index.Extensions = []string{".py"}
	cfg.Index.Ignore = []string{"vendor/"}

	a, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	opts := a.IndexOptions("c")
	assert.Equal(t, "c", opts.Collection)
	assert.Equal(t, types.StrategyClass, opts.Strategy)
	assert.Equal(t, map[string]bool{"py": true}, opts.Extensions)
	assert.Equal(t, []string{"vendor/"}, opts.ExtraIgnores)
	assert.Equal(t, cfg.Index.MaxTokens, opts.MaxTokens)

	cfg.Index.Extensions = nil
	assert.Nil(t, a.IndexOptions("c").Extensions)
}
