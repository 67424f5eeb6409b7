package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"coderag/internal/cache"
	"coderag/internal/types"
)

// DefaultBatchSize is the number of texts sent per backend call.
const DefaultBatchSize = 32

// Options configures an Embedder.
type Options struct {
	BatchSize int
	Retry     RetryConfig
	// RequestsPerSecond limits backend calls; zero disables limiting.
	RequestsPerSecond float64
	Logger            *zap.Logger
}

// Embedder batches texts through a Backend, serving repeats from a cache.
// It is safe for concurrent use.
type Embedder struct {
	backend   Backend
	cache     cache.Store
	batchSize int
	retry     RetryConfig
	limiter   *rate.Limiter
	log       *zap.Logger
	dim       atomic.Int64
}

// Result is the outcome of an Embed call.
type Result struct {
	Vectors   [][]float32
	CacheHits int
	// Embedded counts texts actually sent to the backend.
	Embedded int
}

// New creates an Embedder. A nil store disables caching.
func New(backend Backend, store cache.Store, opts Options) *Embedder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	e := &Embedder{
		backend:   backend,
		cache:     store,
		batchSize: opts.BatchSize,
		retry:     opts.Retry,
		log:       opts.Logger.Named("embedder"),
	}
	if opts.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return e
}

// Model returns the backend's model name.
func (e *Embedder) Model() string { return e.backend.Model() }

// Dimension returns the vector dimension seen so far, or 0.
func (e *Embedder) Dimension() int { return int(e.dim.Load()) }

// Ping embeds a probe text to check the backend is reachable and the model
// is available.
func (e *Embedder) Ping(ctx context.Context) error {
	vecs, err := e.call(ctx, []string{"ping"})
	if err != nil {
		return err
	}
	return e.checkDims(vecs)
}

// EmbedQuery embeds a single query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return res.Vectors[0], nil
}

// Embed returns one vector per text in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) (*Result, error) {
	hashes := make([]string, len(texts))
	for i, t := range texts {
		hashes[i] = ContentHash(t)
	}
	return e.embed(ctx, texts, hashes)
}

// EmbedChunks embeds chunk contents, keyed by their content hashes.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []types.Chunk) (*Result, error) {
	texts := make([]string, len(chunks))
	hashes := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
		hashes[i] = c.ContentHash
		if hashes[i] == "" {
			hashes[i] = ContentHash(c.Content)
		}
	}
	return e.embed(ctx, texts, hashes)
}

func (e *Embedder) embed(ctx context.Context, texts, hashes []string) (*Result, error) {
	res := &Result{Vectors: make([][]float32, len(texts))}
	if len(texts) == 0 {
		return res, nil
	}

	model := e.backend.Model()
	keys := make([]string, len(texts))
	for i, h := range hashes {
		keys[i] = cache.Key(model, h)
	}

	cached := e.lookup(ctx, keys)

	// Deduplicate misses so each distinct text is embedded once.
	var missKeys []string
	var missTexts []string
	seen := make(map[string]bool)
	for i, k := range keys {
		if _, ok := cached[k]; ok {
			res.CacheHits++
			continue
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		missKeys = append(missKeys, k)
		missTexts = append(missTexts, texts[i])
	}

	fresh := make(map[string][]float32, len(missKeys))
	for start := 0; start < len(missTexts); start += e.batchSize {
		end := min(start+e.batchSize, len(missTexts))
		vecs, err := e.call(ctx, missTexts[start:end])
		if err != nil {
			return nil, err
		}
		if err := e.checkDims(vecs); err != nil {
			return nil, err
		}
		batch := make(map[string][]float32, len(vecs))
		for i, v := range vecs {
			batch[missKeys[start+i]] = v
			fresh[missKeys[start+i]] = v
		}
		res.Embedded += len(vecs)
		e.store(ctx, batch)
	}

	for i, k := range keys {
		if v, ok := cached[k]; ok {
			res.Vectors[i] = v
			continue
		}
		res.Vectors[i] = fresh[k]
	}
	return res, nil
}

// call sends one batch to the backend with rate limiting and retries.
func (e *Embedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := retryWithBackoff(ctx, e.retry, func() ([][]float32, error) {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		vecs, err := e.backend.Embed(ctx, texts)
		if err != nil {
			e.log.Debug("embedding attempt failed", zap.Int("batch", len(texts)), zap.Error(err))
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("backend returned %d vectors for %d texts", len(vecs), len(texts))
		}
		return vecs, nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingBackend, err)
	}
	return vecs, nil
}

// checkDims requires every vector to match the first dimension observed.
func (e *Embedder) checkDims(vecs [][]float32) error {
	for _, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty vector", types.ErrDimensionMismatch)
		}
		want := e.dim.Load()
		if want == 0 && e.dim.CompareAndSwap(0, int64(len(v))) {
			continue
		}
		if want = e.dim.Load(); int64(len(v)) != want {
			return fmt.Errorf("%w: got %d, want %d", types.ErrDimensionMismatch, len(v), want)
		}
	}
	return nil
}

func (e *Embedder) lookup(ctx context.Context, keys []string) map[string][]float32 {
	if e.cache == nil {
		return nil
	}
	found, err := e.cache.GetMany(ctx, keys)
	if err != nil {
		e.log.Warn("embedding cache lookup failed", zap.Error(err))
		return nil
	}
	return found
}

func (e *Embedder) store(ctx context.Context, entries map[string][]float32) {
	if e.cache == nil || len(entries) == 0 {
		return
	}
	if err := e.cache.PutMany(ctx, entries); err != nil {
		e.log.Warn("embedding cache write failed", zap.Error(err))
	}
}

// ContentHash returns the SHA-256 hex digest used as a cache key.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
