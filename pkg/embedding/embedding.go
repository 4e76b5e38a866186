// Package embedding turns text into fixed-dimension vectors via an
// OpenAI-compatible embeddings endpoint and provides the vector math shared
// with the store's similarity search.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Dim is the implementation-wide embedding dimension. The store's vector
// columns and the similarity search both assume it.
const Dim = 1536

var errNoEmbedding = errors.New("no embedding returned")

// Service produces a fixed-dimension vector for arbitrary UTF-8 text.
// Implementations must return a recoverable error on transport failure and
// never a silent zero vector.
type Service interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// Client implements Service against the OpenAI embeddings API format, the
// de facto standard also served by Ollama, vLLM, Azure OpenAI, and LiteLLM.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Config holds the embedding client configuration.
type Config struct {
	// BaseURL, e.g. "https://api.openai.com/v1".
	BaseURL string
	APIKey  string
	// Model, e.g. "text-embedding-3-small".
	Model string
	// HTTPClient overrides the transport; nil uses http.DefaultClient.
	HTTPClient *http.Client
}

// NewClient creates an embedding client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: httpClient,
	}
}

// Dim returns the fixed embedding dimension.
func (c *Client) Dim() int { return Dim }

// Embed generates an L2-normalized embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]any{
		"model": c.model,
		"input": text,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}

	var result embeddingResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, errNoEmbedding
	}

	vec := result.Data[0].Embedding
	if len(vec) != Dim {
		return nil, fmt.Errorf("embedding API returned dimension %d, want %d", len(vec), Dim)
	}

	Normalize(vec)
	return vec, nil
}

// embeddingResponse is the OpenAI embeddings API response shape.
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

var _ Service = (*Client)(nil)
