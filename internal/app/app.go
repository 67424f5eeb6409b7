// Package app assembles the index, cache, embedder, pipeline and query
// engine described by a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"coderag/internal/cache"
	"coderag/internal/config"
	"coderag/internal/embedder"
	"coderag/internal/extractor"
	"coderag/internal/extractor/languages"
	"coderag/internal/index"
	"coderag/internal/llm"
	"coderag/internal/query"
	"coderag/internal/store"
	"coderag/internal/types"
	"coderag/internal/walker"
)

// App holds the components of one coderag process.
type App struct {
	Config    *config.Config
	Index     store.Index
	Cache     cache.Store
	Embedder  *embedder.Embedder
	Registry  *extractor.Registry
	Indexer   *index.Indexer
	Engine    *query.Engine
	Generator llm.Generator

	log *zap.Logger
}

// Open builds every component from cfg. The embedding and generation
// backends are not contacted until first use.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}

	idx, err := OpenIndex(cfg, log)
	if err != nil {
		return nil, err
	}
	c, err := OpenCache(ctx, cfg)
	if err != nil {
		idx.Close()
		return nil, err
	}
	reg, err := languages.NewRegistry()
	if err != nil {
		idx.Close()
		closeCache(c)
		return nil, fmt.Errorf("load grammars: %w", err)
	}

	retry := embedder.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Embedding.MaxRetries + 1
	emb := embedder.New(NewEmbeddingBackend(cfg), c, embedder.Options{
		BatchSize:         cfg.Embedding.BatchSize,
		Retry:             retry,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Logger:            log,
	})

	return &App{
		Config:   cfg,
		Index:    idx,
		Cache:    c,
		Embedder: emb,
		Registry: reg,
		Indexer:  index.New(idx, emb, reg, log),
		Engine: query.New(emb, idx, query.Options{
			MinSimilarity: cfg.Query.MinSimilarity,
			Logger:        log,
		}),
		Generator: NewGenerator(cfg),
		log:       log,
	}, nil
}

// OpenIndex opens the configured vector index.
func OpenIndex(cfg *config.Config, log *zap.Logger) (store.Index, error) {
	switch cfg.Store.Backend {
	case "qdrant":
		return store.OpenQdrant(cfg.Store.QdrantAddr, log)
	case "sqlite", "":
		idx, err := store.OpenSQLite(cfg.IndexPath())
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", types.ErrInvalidInput, cfg.Store.Backend)
	}
}

// OpenCache opens the configured embedding cache, with an in-process LRU in
// front of persistent backends. The none backend returns a nil Store.
func OpenCache(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	var backing cache.Store
	switch cfg.Cache.Backend {
	case "none":
		return nil, nil
	case "memory":
		return cache.NewMemoryStore(), nil
	case "sqlite", "":
		s, err := cache.OpenSQLite(cfg.CachePath())
		if err != nil {
			return nil, err
		}
		backing = s
	case "redis":
		r := cfg.Cache.Redis
		s, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
			TTL:      time.Duration(r.TTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		backing = s
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", types.ErrInvalidInput, cfg.Cache.Backend)
	}
	if cfg.Cache.LRUSize <= 0 {
		return backing, nil
	}
	front, err := cache.NewLRU(backing, cfg.Cache.LRUSize)
	if err != nil {
		backing.Close()
		return nil, err
	}
	return front, nil
}

// NewEmbeddingBackend returns the configured embedding backend.
func NewEmbeddingBackend(cfg *config.Config) embedder.Backend {
	e := cfg.Embedding
	if e.Provider == "openai" {
		return embedder.NewOpenAI(e.APIKey, e.Endpoint(), e.Model)
	}
	return embedder.NewOllama(e.Endpoint(), e.Model, e.Timeout())
}

// NewGenerator returns the configured generation backend.
func NewGenerator(cfg *config.Config) llm.Generator {
	l := cfg.LLM
	if l.Provider == "openai" {
		return llm.NewOpenAIChat(l.APIKey, l.Endpoint(), l.Model)
	}
	return llm.NewOllamaChat(l.Endpoint(), l.Model, l.Timeout())
}

// IndexOptions returns pipeline options for collection from the index
// section of the config.
func (a *App) IndexOptions(collection string) index.Options {
	ic := a.Config.Index
	opts := index.Options{
		Collection:      collection,
		Strategy:        types.Strategy(ic.Strategy),
		MaxTokens:       ic.MaxTokens,
		Overlap:         ic.Overlap,
		Workers:         ic.Workers,
		MaxFileSize:     ic.MaxFileSize,
		ExtraIgnores:    ic.Ignore,
		WriteIgnoreFile: ic.WriteIgnoreFile,
	}
	if len(ic.Extensions) > 0 {
		opts.Extensions = walker.ExtensionSet(ic.Extensions)
	}
	return opts
}

// AskOptions returns query options from the query section of the config.
func (a *App) AskOptions(topK int, filter types.Filter, history []llm.Message) query.AskOptions {
	if topK <= 0 {
		topK = a.Config.Query.TopK
	}
	return query.AskOptions{
		TopK:             topK,
		Filter:           filter,
		MaxContextTokens: a.Config.Query.MaxContextTokens,
		History:          history,
	}
}

// Request fills generation settings into an Answer's request.
func (a *App) Request(ans *query.Answer) llm.Request {
	req := ans.Request
	req.Temperature = a.Config.LLM.Temperature
	req.MaxTokens = a.Config.LLM.MaxTokens
	return req
}

// Close releases the index and the cache.
func (a *App) Close() error {
	return errors.Join(a.Index.Close(), closeCache(a.Cache))
}

func closeCache(s cache.Store) error {
	if s == nil {
		return nil
	}
	return s.Close()
}
