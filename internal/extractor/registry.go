// Package extractor finds the structural units (functions, classes,
// methods and imports) of a source file.
package extractor

import (
	"context"
	"sort"
	"sync"

	"coderag/internal/types"
)

// Extractor produces the structural view of one file's source.
type Extractor interface {
	Extract(ctx context.Context, src []byte) (*types.Extraction, error)
}

// Noop is used for languages with no registered extractor.
type Noop struct{}

// Extract returns an empty extraction.
func (Noop) Extract(context.Context, []byte) (*types.Extraction, error) {
	return &types.Extraction{}, nil
}

// Registry maps language tags to extractors.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register adds an extractor under the given language tag.
func (r *Registry) Register(lang string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[lang] = e
}

// Lookup returns the extractor for lang, or Noop when none is registered.
func (r *Registry) Lookup(lang string) Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.extractors[lang]; ok {
		return e
	}
	return Noop{}
}

// Supports reports whether lang has a structural extractor.
func (r *Registry) Supports(lang string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.extractors[lang]
	return ok
}

// Languages returns the registered language tags, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]string, 0, len(r.extractors))
	for l := range r.extractors {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Extract dispatches src to the extractor registered for lang.
func (r *Registry) Extract(ctx context.Context, lang string, src []byte) (*types.Extraction, error) {
	return r.Lookup(lang).Extract(ctx, src)
}
