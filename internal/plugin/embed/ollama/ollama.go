package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/entrained/engram-service/internal/config"
	"github.com/entrained/engram-service/internal/metrics"
	registryembed "github.com/entrained/engram-service/internal/registry/embed"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name:   "ollama",
		Loader: load,
	})
}

func load(ctx context.Context) (registryembed.Embedder, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.OllamaBaseURL == "" {
		return nil, fmt.Errorf("ollama embedder: ENGRAM_OLLAMA_BASE_URL is required")
	}
	return &OllamaEmbedder{
		baseURL:   strings.TrimRight(cfg.OllamaBaseURL, "/"),
		model:     cfg.OllamaModelName,
		dimension: cfg.VectorDimensions,
		client:    &http.Client{Timeout: cfg.EmbedTimeout},
	}, nil
}

type OllamaEmbedder struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

func (e *OllamaEmbedder) ModelName() string { return e.model }
func (e *OllamaEmbedder) Dimension() int    { return e.dimension }

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error"`
}

// EmbedTexts embeds each text with a separate request. The Ollama embeddings
// endpoint accepts a single prompt per call.
func (e *OllamaEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vector
	}
	return embeddings, nil
}

func (e *OllamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	if metrics.EmbedLatency != nil {
		defer func(start time.Time) {
			metrics.EmbedLatency.Observe(time.Since(start).Seconds())
		}(time.Now())
	}

	reqBody, err := json.Marshal(embedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &registrystore.UpstreamError{Service: "ollama", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: read response: %w", err)
	}

	var result embedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("ollama embed: parse response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama embed error: %s", result.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: unexpected status %d", resp.StatusCode)
	}
	if e.dimension > 0 && len(result.Embedding) != e.dimension {
		return nil, fmt.Errorf("ollama embed: expected %d dimensions, got %d", e.dimension, len(result.Embedding))
	}
	return result.Embedding, nil
}

var _ registryembed.Embedder = (*OllamaEmbedder)(nil)
