// Package query retrieves ranked chunks for a natural-language question and
// assembles them into a token-budgeted context for generation.
package query

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"coderag/internal/llm"
	"coderag/internal/store"
	"coderag/internal/types"
)

// DefaultMinSimilarity drops weak matches from retrieval results.
const DefaultMinSimilarity = 0.3

// candidateFactor widens the index search before thresholding.
const candidateFactor = 2

// Embedder turns a query into a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Options configures an Engine.
type Options struct {
	// MinSimilarity is the lowest score kept. Zero means DefaultMinSimilarity,
	// a negative value keeps everything.
	MinSimilarity float64
	Logger        *zap.Logger
}

// Engine answers retrieval queries against an index. It never generates
// text itself.
type Engine struct {
	emb    Embedder
	idx    store.Index
	minSim float64
	log    *zap.Logger
}

// New creates an Engine.
func New(emb Embedder, idx store.Index, opts Options) *Engine {
	if opts.MinSimilarity == 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}
	if opts.MinSimilarity < 0 {
		opts.MinSimilarity = 0
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{emb: emb, idx: idx, minSim: opts.MinSimilarity, log: opts.Logger.Named("query")}
}

// Retrieve returns up to topK chunks of collection most similar to text, in
// descending score order.
func (e *Engine) Retrieve(ctx context.Context, collection, text string, topK int, filter types.Filter) (types.QueryResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty query", types.ErrInvalidInput)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", types.ErrInvalidInput, topK)
	}

	col, err := e.idx.GetCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if col.Dimension == 0 {
		return types.QueryResult{}, nil
	}

	vec, err := e.emb.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := e.idx.Search(ctx, collection, vec, topK*candidateFactor, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	out := make(types.QueryResult, 0, topK)
	for _, m := range matches {
		if m.Score < e.minSim {
			continue
		}
		out = append(out, m)
		if len(out) == topK {
			break
		}
	}
	e.log.Debug("retrieved",
		zap.String("collection", collection),
		zap.Int("candidates", len(matches)),
		zap.Int("kept", len(out)))
	return out, nil
}

// AskOptions configures Ask.
type AskOptions struct {
	TopK             int
	Filter           types.Filter
	MaxContextTokens int
	History          []llm.Message
}

// Answer is a prepared generation request with the matches behind it.
type Answer struct {
	Request llm.Request
	Matches types.QueryResult
	Context string
}

// Ask retrieves context for question and builds the request to hand to a
// generator.
func (e *Engine) Ask(ctx context.Context, collection, question string, opts AskOptions) (*Answer, error) {
	matches, err := e.Retrieve(ctx, collection, question, opts.TopK, opts.Filter)
	if err != nil {
		return nil, err
	}
	block := BuildContext(matches, opts.MaxContextTokens)
	return &Answer{
		Request: llm.Request{Messages: BuildMessages(block, opts.History, question)},
		Matches: matches,
		Context: block,
	}, nil
}
