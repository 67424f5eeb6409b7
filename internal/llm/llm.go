// Package llm talks to chat-completion backends for answer generation.
package llm

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync/atomic"
)

// Message represents a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one generation call.
type Request struct {
	Messages []Message
	// Temperature is passed through when non-zero.
	Temperature float32
	// MaxTokens bounds the answer length when positive.
	MaxTokens int
}

// ErrStreamConsumed is yielded when a stream is ranged over a second time.
var ErrStreamConsumed = errors.New("stream already consumed")

// Generator produces assistant replies.
type Generator interface {
	Model() string
	Generate(ctx context.Context, req Request) (string, error)
	// Stream yields reply fragments as they arrive. The sequence is lazy and
	// can be iterated once; breaking out of the loop ends the request.
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Collect drains a stream into one string.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for part, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(part)
	}
	return b.String(), nil
}

// once wraps a stream body so a second iteration yields ErrStreamConsumed.
func once(body func(yield func(string, error) bool)) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", ErrStreamConsumed)
			return
		}
		body(yield)
	}
}
