// Package cache persists embedding vectors keyed by model and content hash.
package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// Store maps cache keys to vectors. Writes are idempotent per key and the
// last writer wins.
type Store interface {
	// GetMany returns the vectors found for keys; missing keys are absent
	// from the result.
	GetMany(ctx context.Context, keys []string) (map[string][]float32, error)
	PutMany(ctx context.Context, entries map[string][]float32) error
	Close() error
}

// Key scopes a content hash to the embedding model that produced it.
func Key(model, contentHash string) string {
	return model + ":" + contentHash
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector: %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
