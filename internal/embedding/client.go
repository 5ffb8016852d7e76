// ABOUTME: OpenAI-compatible embeddings client for knowledge point vectorization
// ABOUTME: Requests configurable dimensions and clamps stored vectors to 1536

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	// StorageDim is the stored vector length. Providers may return wider
	// vectors; only the first StorageDim components are kept.
	StorageDim = 1536

	defaultModel = "text-embedding-3-small"
)

// Config holds embedding provider settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Dim is the dimension requested from the provider. Zero means let the
	// provider pick its default.
	Dim int
}

// Client generates embedding vectors via an OpenAI-compatible endpoint.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates an embeddings client. An empty model falls back to
// text-embedding-3-small.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type embedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type embedError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Embed returns the embedding for the given text, truncated to StorageDim.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	body, err := json.Marshal(embedRequest{
		Input:      []string{text},
		Model:      c.cfg.Model,
		Dimensions: c.cfg.Dim,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr embedError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("embedding provider: %s", apiErr.Error.Message)
		}
		return nil, fmt.Errorf("embedding provider returned status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, errors.New("embedding provider returned no data")
	}

	vec := parsed.Data[0].Embedding
	if len(vec) > StorageDim {
		vec = vec[:StorageDim]
	}
	return vec, nil
}

// EmbedKnowledgePoint embeds a question/answer pair. Combining both sides
// gives the vector more context than either alone.
func (c *Client) EmbedKnowledgePoint(ctx context.Context, question, answer string) ([]float32, error) {
	return c.Embed(ctx, fmt.Sprintf("Question: %s\n\nAnswer: %s", question, answer))
}

// EmbedQuery embeds a user search query or chat message.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return c.Embed(ctx, query)
}

// CosineSimilarity returns the cosine similarity of two vectors, comparing
// only the shared prefix when lengths differ (stored vectors are clamped to
// StorageDim while fresh query vectors may be wider).
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
