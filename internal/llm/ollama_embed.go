package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultOllamaEmbedURL   = "http://localhost:11434/api/embed"
	defaultOllamaEmbedModel = "nomic-embed-text-v2-moe"
	embedConcurrency        = 10
	embedTimeout            = 10 * time.Second
)

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaEmbeddingClient implements llm.EmbeddingClient against a local
// Ollama /api/embed endpoint, batching a text slice into bounded-parallel
// single-text requests (the endpoint's batch mode varies across model
// backends, so one request per text is the portable path).
type OllamaEmbeddingClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	dimensions int
}

// NewOllamaEmbeddingClient reads OLLAMA_EMBED_URL/OLLAMA_EMBED_MODEL from
// the environment, defaulting to a local Ollama instance and
// nomic-embed-text-v2-moe. dimensions must match the configured model's
// output width; it sizes the hybrid index's vector columns.
func NewOllamaEmbeddingClient(dimensions int) *OllamaEmbeddingClient {
	base := os.Getenv("OLLAMA_EMBED_URL")
	if base == "" {
		base = defaultOllamaEmbedURL
	}
	model := os.Getenv("OLLAMA_EMBED_MODEL")
	if model == "" {
		model = defaultOllamaEmbedModel
	}
	return &OllamaEmbeddingClient{
		httpClient: &http.Client{Timeout: embedTimeout},
		baseURL:    base,
		model:      model,
		dimensions: dimensions,
	}
}

func (c *OllamaEmbeddingClient) ModelID() string  { return c.model }
func (c *OllamaEmbeddingClient) Dimensions() int  { return c.dimensions }

// Embed fetches one vector per text, bounded to embedConcurrency
// in-flight requests via errgroup so a large chunk batch doesn't open an
// unbounded number of sockets.
func (c *OllamaEmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := c.embedOne(gctx, text)
			if err != nil {
				return fmt.Errorf("ollama embed: text %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OllamaEmbeddingClient) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("ollama embed: decode response: %w", err)
	}
	if len(parsed.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama embed: empty response")
	}
	return parsed.Embeddings[0], nil
}
