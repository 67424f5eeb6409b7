// Package embedder converts chunk text into vectors through a pluggable
// backend, consulting a cache first.
package embedder

import "context"

// Backend produces one vector per input text, in input order.
type Backend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}
