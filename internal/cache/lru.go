package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLRUSize is the number of vectors held in process by default.
const DefaultLRUSize = 10000

// LRU keeps recently used vectors in memory in front of another Store.
type LRU struct {
	cache *lru.Cache[string, []float32]
	next  Store
}

// NewLRU layers an in-process cache of size entries over next.
func NewLRU(next Store, size int) (*LRU, error) {
	if size <= 0 {
		size = DefaultLRUSize
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &LRU{cache: c, next: next}, nil
}

func (l *LRU) GetMany(ctx context.Context, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))
	var misses []string
	for _, k := range keys {
		if v, ok := l.cache.Get(k); ok {
			out[k] = cloneVector(v)
			continue
		}
		misses = append(misses, k)
	}
	if len(misses) == 0 || l.next == nil {
		return out, nil
	}

	found, err := l.next.GetMany(ctx, misses)
	if err != nil {
		return nil, err
	}
	for k, v := range found {
		l.cache.Add(k, cloneVector(v))
		out[k] = v
	}
	return out, nil
}

func (l *LRU) PutMany(ctx context.Context, entries map[string][]float32) error {
	if l.next != nil {
		if err := l.next.PutMany(ctx, entries); err != nil {
			return err
		}
	}
	for k, v := range entries {
		l.cache.Add(k, cloneVector(v))
	}
	return nil
}

// Len returns the number of vectors held in memory.
func (l *LRU) Len() int { return l.cache.Len() }

func (l *LRU) Close() error {
	l.cache.Purge()
	if l.next != nil {
		return l.next.Close()
	}
	return nil
}
