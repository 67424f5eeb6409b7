package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIChat calls an OpenAI-compatible chat completions endpoint.
type OpenAIChat struct {
	client *openai.Client
	model  string
}

var _ Generator = (*OpenAIChat)(nil)

// NewOpenAIChat creates a client. An empty baseURL uses the OpenAI API.
func NewOpenAIChat(apiKey, baseURL, model string) *OpenAIChat {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIChat{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAIChat) Model() string { return o.model }

func (o *OpenAIChat) request(req Request, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

func (o *OpenAIChat) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.request(req, false))
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIChat) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return once(func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client.CreateChatCompletionStream(ctx, o.request(req, true))
		if err != nil {
			yield("", fmt.Errorf("openai chat stream: %w", err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("openai chat stream: %w", err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" && !yield(delta, nil) {
				return
			}
		}
	})
}
