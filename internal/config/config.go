// Package config loads coderag settings from coderag.toml, CODERAG_*
// environment variables and command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"coderag/internal/types"
)

const (
	// FileName is the config file looked up in the search path.
	FileName = "coderag.toml"
	// EnvPrefix prefixes every environment override, as in CODERAG_QUERY_TOP_K.
	EnvPrefix = "CODERAG"
	// DefaultDataDir holds the index and the embedding cache.
	DefaultDataDir = ".coderag"
	// DefaultOllamaURL is used when an ollama provider has no base_url.
	DefaultOllamaURL = "http://localhost:11434"
)

// Config is the full set of settings.
type Config struct {
	DataDir   string          `mapstructure:"data_dir" toml:"data_dir"`
	Index     IndexConfig     `mapstructure:"index" toml:"index"`
	Embedding EmbeddingConfig `mapstructure:"embedding" toml:"embedding"`
	Cache     CacheConfig     `mapstructure:"cache" toml:"cache"`
	Store     StoreConfig     `mapstructure:"store" toml:"store"`
	Query     QueryConfig     `mapstructure:"query" toml:"query"`
	LLM       LLMConfig       `mapstructure:"llm" toml:"llm"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
}

type IndexConfig struct {
	Strategy  string `mapstructure:"strategy" toml:"strategy"`
	MaxTokens int    `mapstructure:"max_tokens" toml:"max_tokens"`
	// Overlap between sliding windows in tokens; 0 picks 10% of max_tokens.
	Overlap         int      `mapstructure:"overlap" toml:"overlap"`
	Workers         int      `mapstructure:"workers" toml:"workers"`
	MaxFileSize     int64    `mapstructure:"max_file_size" toml:"max_file_size"`
	Extensions      []string `mapstructure:"extensions" toml:"extensions"`
	Ignore          []string `mapstructure:"ignore" toml:"ignore"`
	WriteIgnoreFile bool     `mapstructure:"write_ignore_file" toml:"write_ignore_file"`
	CloneDir        string   `mapstructure:"clone_dir" toml:"clone_dir"`
	CloneDepth      int      `mapstructure:"clone_depth" toml:"clone_depth"`
}

type EmbeddingConfig struct {
	Provider string `mapstructure:"provider" toml:"provider"`
	Model    string `mapstructure:"model" toml:"model"`
	// BaseURL empty selects the provider's default endpoint.
	BaseURL           string  `mapstructure:"base_url" toml:"base_url"`
	APIKey            string  `mapstructure:"api_key" toml:"api_key"`
	BatchSize         int     `mapstructure:"batch_size" toml:"batch_size"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries" toml:"max_retries"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" toml:"requests_per_second"`
}

// Endpoint returns BaseURL or the provider default.
func (e EmbeddingConfig) Endpoint() string {
	return endpoint(e.Provider, e.BaseURL)
}

// Timeout is the per-request HTTP timeout.
func (e EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

type CacheConfig struct {
	// Backend is one of sqlite, redis, memory or none.
	Backend string      `mapstructure:"backend" toml:"backend"`
	Path    string      `mapstructure:"path" toml:"path"`
	LRUSize int         `mapstructure:"lru_size" toml:"lru_size"`
	Redis   RedisConfig `mapstructure:"redis" toml:"redis"`
}

type RedisConfig struct {
	Addr       string `mapstructure:"addr" toml:"addr"`
	Password   string `mapstructure:"password" toml:"password"`
	DB         int    `mapstructure:"db" toml:"db"`
	Prefix     string `mapstructure:"prefix" toml:"prefix"`
	TTLSeconds int    `mapstructure:"ttl_seconds" toml:"ttl_seconds"`
}

type StoreConfig struct {
	// Backend is sqlite or qdrant.
	Backend    string `mapstructure:"backend" toml:"backend"`
	Path       string `mapstructure:"path" toml:"path"`
	QdrantAddr string `mapstructure:"qdrant_addr" toml:"qdrant_addr"`
}

type QueryConfig struct {
	TopK int `mapstructure:"top_k" toml:"top_k"`
	// MinSimilarity drops matches below it; negative disables the threshold.
	MinSimilarity    float64 `mapstructure:"min_similarity" toml:"min_similarity"`
	MaxContextTokens int     `mapstructure:"max_context_tokens" toml:"max_context_tokens"`
}

type LLMConfig struct {
	Provider       string  `mapstructure:"provider" toml:"provider"`
	Model          string  `mapstructure:"model" toml:"model"`
	BaseURL        string  `mapstructure:"base_url" toml:"base_url"`
	APIKey         string  `mapstructure:"api_key" toml:"api_key"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	Temperature    float32 `mapstructure:"temperature" toml:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens" toml:"max_tokens"`
	// HistoryMessages caps the chat history carried into each prompt.
	HistoryMessages int `mapstructure:"history_messages" toml:"history_messages"`
}

func (l LLMConfig) Endpoint() string {
	return endpoint(l.Provider, l.BaseURL)
}

func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

func endpoint(provider, baseURL string) string {
	if baseURL == "" && provider == "ollama" {
		return DefaultOllamaURL
	}
	return baseURL
}

type LogConfig struct {
	Level  string `mapstructure:"level" toml:"level"`
	Format string `mapstructure:"format" toml:"format"`
	Output string `mapstructure:"output" toml:"output"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir,
		Index: IndexConfig{
			Strategy:    string(types.StrategyFunction),
			MaxTokens:   1000,
			Workers:     4,
			MaxFileSize: 1 << 20,
			Extensions:  []string{},
			Ignore:      []string{},
			CloneDepth:  1,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			Model:          "nomic-embed-text",
			BatchSize:      32,
			TimeoutSeconds: 120,
			MaxRetries:     3,
		},
		Cache: CacheConfig{
			Backend: "sqlite",
			LRUSize: 4096,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "coderag:emb:",
			},
		},
		Store: StoreConfig{
			Backend:    "sqlite",
			QdrantAddr: "localhost:6334",
		},
		Query: QueryConfig{
			TopK:             10,
			MinSimilarity:    0.3,
			MaxContextTokens: 4000,
		},
		LLM: LLMConfig{
			Provider:        "ollama",
			Model:           "llama3.2",
			TimeoutSeconds:  300,
			Temperature:     0.2,
			MaxTokens:       1024,
			HistoryMessages: 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// IndexPath is the vector index database file.
func (c *Config) IndexPath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, "index.db")
}

// CachePath is the embedding cache database file.
func (c *Config) CachePath() string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	return filepath.Join(c.DataDir, "embeddings.db")
}

// CloneDir is where repositories given by URL are checked out.
func (c *Config) CloneDir() string {
	if c.Index.CloneDir != "" {
		return c.Index.CloneDir
	}
	return filepath.Join(c.DataDir, "repos")
}

// Options controls where Load looks.
type Options struct {
	// File is an explicit config file; it must exist when set.
	File string
	// SearchPaths are tried in order when File is empty. Nil uses
	// DefaultSearchPaths.
	SearchPaths []string
	// EnvFiles are dotenv files loaded into the environment first. Missing
	// files are ignored. Nil loads ".env".
	EnvFiles []string
	Flags    *pflag.FlagSet
	// FlagKeys maps config keys such as "query.top_k" to flag names.
	FlagKeys map[string]string
}

// DefaultSearchPaths returns ./.coderag/coderag.toml followed by
// $HOME/.config/coderag/coderag.toml.
func DefaultSearchPaths() []string {
	paths := []string{filepath.Join(DefaultDataDir, FileName)}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "coderag", FileName))
	}
	return paths
}

// Load layers defaults, the first config file found, environment variables
// and changed flags, then validates the result. It also returns the config
// file used, or "" when none was found.
func Load(opts Options) (*Config, string, error) {
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables already set.
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.SetConfigType("toml")
	defaults, err := toml.Marshal(Default())
	if err != nil {
		return nil, "", fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, "", fmt.Errorf("load defaults: %w", err)
	}

	used, err := findFile(opts)
	if err != nil {
		return nil, "", err
	}
	if used != "" {
		v.SetConfigFile(used)
		if err := v.MergeInConfig(); err != nil {
			return nil, "", fmt.Errorf("read config %s: %w", used, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for key, name := range opts.FlagKeys {
			f := opts.Flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, "", fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, "", fmt.Errorf("decode config: %w", err)
	}
	cfg.applyKeyFallbacks()
	if err := cfg.Validate(); err != nil {
		return nil, used, err
	}
	return cfg, used, nil
}

func findFile(opts Options) (string, error) {
	if opts.File != "" {
		if _, err := os.Stat(opts.File); err != nil {
			return "", fmt.Errorf("%w: config file %s: %v", types.ErrInvalidInput, opts.File, err)
		}
		return opts.File, nil
	}
	paths := opts.SearchPaths
	if paths == nil {
		paths = DefaultSearchPaths()
	}
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}
	return "", nil
}

// applyKeyFallbacks reads the conventional OPENAI_API_KEY when no key is
// configured for an openai provider.
func (c *Config) applyKeyFallbacks() {
	key := os.Getenv("OPENAI_API_KEY")
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = key
	}
	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.DataDir == "" {
		add("data_dir is empty")
	}
	if _, err := types.ParseStrategy(c.Index.Strategy); err != nil {
		add("index.strategy %q is not one of function, class, file", c.Index.Strategy)
	}
	if c.Index.MaxTokens <= 0 {
		add("index.max_tokens must be positive")
	} else if c.Index.Overlap >= c.Index.MaxTokens {
		add("index.overlap must be smaller than index.max_tokens")
	}
	if c.Index.Workers < 0 {
		add("index.workers must not be negative")
	}
	if c.Index.MaxFileSize < 0 {
		add("index.max_file_size must not be negative")
	}
	if c.Index.CloneDepth < 0 {
		add("index.clone_depth must not be negative")
	}

	switch c.Embedding.Provider {
	case "ollama":
	case "openai":
		if c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
			add("embedding.api_key is required for openai")
		}
	default:
		add("embedding.provider %q is not one of ollama, openai", c.Embedding.Provider)
	}
	if c.Embedding.Model == "" {
		add("embedding.model is empty")
	}
	if c.Embedding.BatchSize <= 0 {
		add("embedding.batch_size must be positive")
	}
	if c.Embedding.MaxRetries < 0 {
		add("embedding.max_retries must not be negative")
	}

	switch c.Cache.Backend {
	case "sqlite", "memory", "none":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			add("cache.redis.addr is required for the redis backend")
		}
	default:
		add("cache.backend %q is not one of sqlite, redis, memory, none", c.Cache.Backend)
	}

	switch c.Store.Backend {
	case "sqlite":
	case "qdrant":
		if c.Store.QdrantAddr == "" {
			add("store.qdrant_addr is required for the qdrant backend")
		}
	default:
		add("store.backend %q is not one of sqlite, qdrant", c.Store.Backend)
	}

	if c.Query.TopK <= 0 {
		add("query.top_k must be positive")
	}
	if c.Query.MinSimilarity > 1 {
		add("query.min_similarity must be at most 1")
	}
	if c.Query.MaxContextTokens <= 0 {
		add("query.max_context_tokens must be positive")
	}

	switch c.LLM.Provider {
	case "ollama", "openai":
	default:
		add("llm.provider %q is not one of ollama, openai", c.LLM.Provider)
	}
	if c.LLM.HistoryMessages < 0 {
		add("llm.history_messages must not be negative")
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add("log.level %q is invalid", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		add("log.format %q is not one of console, json", c.Log.Format)
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", types.ErrInvalidInput, strings.Join(problems, "; "))
}

// ErrExists is returned by WriteFile when the target exists and overwrite
// is false.
var ErrExists = errors.New("config file already exists")

// WriteFile writes cfg as TOML to path.
func WriteFile(path string, cfg *Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	header := []byte("# coderag configuration. Environment variables CODERAG_<SECTION>_<KEY> override these values.\n\n")
	return os.WriteFile(path, append(header, data...), 0o644)
}
