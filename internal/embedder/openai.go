package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend calls an OpenAI-compatible embeddings endpoint.
type OpenAIBackend struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAI creates a backend. An empty baseURL uses the OpenAI API.
func NewOpenAI(apiKey, baseURL, model string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.EmbeddingModel(model),
	}
}

func (o *OpenAIBackend) Model() string { return string(o.model) }

func (o *OpenAIBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: o.model,
	})
	if err != nil {
		err = fmt.Errorf("openai embeddings: %w", err)
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 &&
			apiErr.HTTPStatusCode != http.StatusTooManyRequests {
			return nil, Permanent(err)
		}
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
