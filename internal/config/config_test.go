package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coderag/internal/types"
)

// isolated loads with no search paths and no dotenv files.
func isolated(opts Options) Options {
	if opts.SearchPaths == nil {
		opts.SearchPaths = []string{}
	}
	if opts.EnvFiles == nil {
		opts.EnvFiles = []string{}
	}
	return opts
}

func writeTOML(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_Validates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, used, err := Load(isolated(Options{}))
	require.NoError(t, err)
	assert.Empty(t, used)

	def := Default()
	assert.Equal(t, def.DataDir, cfg.DataDir)
	assert.Equal(t, def.Index.Strategy, cfg.Index.Strategy)
	assert.Equal(t, def.Index.MaxTokens, cfg.Index.MaxTokens)
	assert.Equal(t, def.Embedding.Model, cfg.Embedding.Model)
	assert.Equal(t, def.Query.TopK, cfg.Query.TopK)
	assert.InDelta(t, def.Query.MinSimilarity, cfg.Query.MinSimilarity, 1e-9)
	assert.Equal(t, def.LLM.HistoryMessages, cfg.LLM.HistoryMessages)
	assert.Equal(t, def.Cache.Redis.Prefix, cfg.Cache.Redis.Prefix)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeTOML(t, dir, `
data_dir = "/tmp/rag"

[index]
strategy = "class"
max_tokens = 600

[query]
top_k = 5
`)
	t.Setenv("CODERAG_INDEX_STRATEGY", "file")
	t.Setenv("CODERAG_QUERY_MAX_CONTEXT_TOKENS", "1234")

	cfg, used, err := Load(isolated(Options{File: path}))
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "/tmp/rag", cfg.DataDir)
	assert.Equal(t, 600, cfg.Index.MaxTokens)
	assert.Equal(t, 5, cfg.Query.TopK)
	assert.Equal(t, "file", cfg.Index.Strategy, "env beats file")
	assert.Equal(t, 1234, cfg.Query.MaxContextTokens)
	assert.Equal(t, filepath.Join("/tmp/rag", "index.db"), cfg.IndexPath())
	assert.Equal(t, filepath.Join("/tmp/rag", "embeddings.db"), cfg.CachePath())
}

func TestLoad_ChangedFlagsWin(t *testing.T) {
	dir := t.TempDir()
	path := writeTOML(t, dir, `
[index]
strategy = "class"

[query]
top_k = 5
`)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("top-k", 10, "")
	fs.String("strategy", "function", "")
	require.NoError(t, fs.Parse([]string{"--top-k", "3"}))

	cfg, _, err := Load(isolated(Options{
		File:     path,
		Flags:    fs,
		FlagKeys: map[string]string{"query.top_k": "top-k", "index.strategy": "strategy", "query.unknown": "missing"},
	}))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Query.TopK)
	assert.Equal(t, "class", cfg.Index.Strategy, "an unchanged flag does not override the file")
}

func TestLoad_SearchPathOrder(t *testing.T) {
	dir := t.TempDir()
	second := writeTOML(t, dir, "[query]\ntop_k = 7\n")

	cfg, used, err := Load(isolated(Options{
		SearchPaths: []string{filepath.Join(dir, "missing.toml"), dir, second},
	}))
	require.NoError(t, err)
	assert.Equal(t, second, used, "directories are skipped")
	assert.Equal(t, 7, cfg.Query.TopK)
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	_, _, err := Load(isolated(Options{File: filepath.Join(t.TempDir(), "nope.toml")}))
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestLoad_DotEnv(t *testing.T) {
	const key = "CODERAG_LLM_MODEL"
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() { os.Unsetenv(key) })

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(key+"=qwen2.5-coder\n"), 0o644))

	cfg, _, err := Load(Options{SearchPaths: []string{}, EnvFiles: []string{envFile, "/does/not/exist.env"}})
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-coder", cfg.LLM.Model)
}

func TestLoad_OpenAIKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CODERAG_EMBEDDING_PROVIDER", "openai")
	t.Setenv("CODERAG_EMBEDDING_MODEL", "text-embedding-3-small")

	cfg, _, err := Load(isolated(Options{}))
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.Empty(t, cfg.LLM.APIKey, "llm provider is still ollama")
}

func TestLoad_InvalidFileValueFails(t *testing.T) {
	path := writeTOML(t, t.TempDir(), "[store]\nbackend = \"milvus\"\n")
	_, used, err := Load(isolated(Options{File: path}))
	require.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Equal(t, path, used)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"strategy", func(c *Config) { c.Index.Strategy = "lines" }, "index.strategy"},
		{"max tokens", func(c *Config) { c.Index.MaxTokens = 0 }, "index.max_tokens"},
		{"overlap", func(c *Config) { c.Index.Overlap = c.Index.MaxTokens }, "index.overlap"},
		{"workers", func(c *Config) { c.Index.Workers = -1 }, "index.workers"},
		{"embedding provider", func(c *Config) { c.Embedding.Provider = "cohere" }, "embedding.provider"},
		{"openai key", func(c *Config) {
			c.Embedding.Provider = "openai"
			c.Embedding.BaseURL = ""
		}, "embedding.api_key"},
		{"batch size", func(c *Config) { c.Embedding.BatchSize = 0 }, "embedding.batch_size"},
		{"cache backend", func(c *Config) { c.Cache.Backend = "disk" }, "cache.backend"},
		{"redis addr", func(c *Config) {
			c.Cache.Backend = "redis"
			c.Cache.Redis.Addr = ""
		}, "cache.redis.addr"},
		{"qdrant addr", func(c *Config) {
			c.Store.Backend = "qdrant"
			c.Store.QdrantAddr = ""
		}, "store.qdrant_addr"},
		{"top k", func(c *Config) { c.Query.TopK = 0 }, "query.top_k"},
		{"similarity", func(c *Config) { c.Query.MinSimilarity = 1.5 }, "query.min_similarity"},
		{"llm provider", func(c *Config) { c.LLM.Provider = "" }, "llm.provider"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, types.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Query.TopK = 0
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query.top_k")
	assert.Contains(t, err.Error(), "log.format")
}

func TestValidate_NegativeSimilarityDisablesThreshold(t *testing.T) {
	cfg := Default()
	cfg.Query.MinSimilarity = -1
	assert.NoError(t, cfg.Validate())
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	cfg := Default()
	cfg.Query.TopK = 12
	cfg.Index.Extensions = []string{".go", ".py"}
	require.NoError(t, WriteFile(path, cfg, false))

	loaded, used, err := Load(isolated(Options{File: path}))
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, 12, loaded.Query.TopK)
	assert.Equal(t, []string{".go", ".py"}, loaded.Index.Extensions)

	err = WriteFile(path, cfg, false)
	assert.ErrorIs(t, err, ErrExists)
	assert.NoError(t, WriteFile(path, cfg, true))
}

func TestPathsHonourOverrides(t *testing.T) {
	cfg := Default()
	cfg.Store.Path = "/data/vec.db"
	cfg.Cache.Path = "/data/cache.db"
	cfg.Index.CloneDir = "/src"
	assert.Equal(t, "/data/vec.db", cfg.IndexPath())
	assert.Equal(t, "/data/cache.db", cfg.CachePath())
	assert.Equal(t, "/src", cfg.CloneDir())
	assert.Equal(t, filepath.Join(DefaultDataDir, "repos"), Default().CloneDir())
}

func TestEndpoint(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultOllamaURL, cfg.Embedding.Endpoint())
	assert.Equal(t, DefaultOllamaURL, cfg.LLM.Endpoint())

	cfg.LLM.Provider = "openai"
	assert.Empty(t, cfg.LLM.Endpoint(), "openai client picks its own default")

	cfg.Embedding.BaseURL = "http://gpu-box:11434"
	assert.Equal(t, "http://gpu-box:11434", cfg.Embedding.Endpoint())
}
