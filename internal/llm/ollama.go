package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"
)

// OllamaChat calls the Ollama /api/chat endpoint for generative responses.
type OllamaChat struct {
	baseURL string
	model   string
	client  *http.Client
}

var _ Generator = (*OllamaChat)(nil)

// NewOllamaChat creates a chat client targeting the given Ollama instance and model.
func NewOllamaChat(baseURL, model string, timeout time.Duration) *OllamaChat {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &OllamaChat{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *OllamaChat) Model() string { return c.model }

type chatOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string       `json:"model"`
	Messages []Message    `json:"messages"`
	Stream   bool         `json:"stream"`
	Options  *chatOptions `json:"options,omitempty"`
}

type chatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

func (c *OllamaChat) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	cr := chatRequest{
		Model:    c.model,
		Messages: req.Messages,
		Stream:   stream,
	}
	if req.Temperature != 0 || req.MaxTokens > 0 {
		cr.Options = &chatOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}
	body, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama chat returned %d: %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}

// Generate sends a conversation to Ollama and returns the assistant's response.
func (c *OllamaChat) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("ollama chat: %s", result.Error)
	}
	return result.Message.Content, nil
}

// Stream reads Ollama's newline-delimited JSON stream.
func (c *OllamaChat) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return once(func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		resp, err := c.post(ctx, req, true)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var part chatResponse
			if err := json.Unmarshal(line, &part); err != nil {
				yield("", fmt.Errorf("decode chat stream: %w", err))
				return
			}
			if part.Error != "" {
				yield("", fmt.Errorf("ollama chat: %s", part.Error))
				return
			}
			if part.Message.Content != "" && !yield(part.Message.Content, nil) {
				return
			}
			if part.Done {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield("", fmt.Errorf("read chat stream: %w", err))
		}
	})
}
