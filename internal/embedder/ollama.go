package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaBackend embeds through a local Ollama server's /api/embed endpoint.
type OllamaBackend struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllama returns a backend for model on the server at baseURL. A
// non-positive timeout falls back to two minutes, enough for a cold model load.
func NewOllama(baseURL, model string, timeout time.Duration) *OllamaBackend {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaBackend{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/embed",
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

func (o *OllamaBackend) Model() string { return o.model }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
	// Truncate lets the server clip inputs longer than the model context
	// instead of failing the whole batch.
	Truncate bool `json:"truncate"`
}

type embedResponse struct {
	Model      string      `json:"model,omitempty"`
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed returns one vector per text, in input order. Client errors (an
// unknown model, a malformed request) are permanent; server errors and
// transport failures may be retried.
func (o *OllamaBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(embedRequest{Model: o.model, Input: texts, Truncate: true})
	if err != nil {
		return nil, Permanent(fmt.Errorf("encode ollama embed request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("ollama embed %s: status %d: %s", o.model, resp.StatusCode, ollamaError(resp.Body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, Permanent(err)
		}
		return nil, err
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ollama embed response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama embed %s: %s", o.model, out.Error)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed %s: %d embeddings for %d inputs", o.model, len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}

// ollamaError extracts the message from an Ollama error body, which is
// either {"error": "..."} or plain text.
func ollamaError(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(raw))
}
