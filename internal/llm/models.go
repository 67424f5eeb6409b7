package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// LocalModel is a model installed on an Ollama server.
type LocalModel struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Details    struct {
		Family            string `json:"family"`
		ParameterSize     string `json:"parameter_size"`
		QuantizationLevel string `json:"quantization_level"`
	} `json:"details"`
}

var tagsClient = &http.Client{Timeout: 10 * time.Second}

// ListLocalModels returns the models installed on the Ollama server at
// baseURL, sorted by name.
func ListLocalModels(ctx context.Context, baseURL string) ([]LocalModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := tagsClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to ollama at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama /api/tags returned %d", resp.StatusCode)
	}

	var tags struct {
		Models []LocalModel `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}
	sort.Slice(tags.Models, func(i, j int) bool { return tags.Models[i].Name < tags.Models[j].Name })
	return tags.Models, nil
}
