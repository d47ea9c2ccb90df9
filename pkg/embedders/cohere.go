package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/fault"
)

// CohereEmbedder implements Embedder for the Cohere embed API.
type CohereEmbedder struct {
	config    *config.EmbedderProviderConfig
	client    *http.Client
	apiKey    string
	baseURL   string
	model     string
	dimension int
}

type cohereEmbedRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type cohereEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Message    string      `json:"message,omitempty"`
}

// NewCohereEmbedder creates a Cohere-backed embedder.
func NewCohereEmbedder(cfg *config.EmbedderProviderConfig) (*CohereEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Cohere embedder")
	}

	model := cfg.Model
	if model == "" {
		model = "embed-english-v3.0"
	}

	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.cohere.ai/v1"
	}

	return &CohereEmbedder{
		config:    cfg,
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		model:     model,
		dimension: cfg.Dimension,
	}, nil
}

// Embed embeds a single text.
func (e *CohereEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts preserving input order.
func (e *CohereEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedders.cohere"
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(cohereEmbedRequest{
		Model:     e.model,
		Texts:     texts,
		InputType: "search_document",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fault.Wrapf(fault.KindTransient, op, err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrapf(fault.KindTransient, op, err, "read response")
	}

	var response cohereEmbedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fault.New(fault.KindTransient, op, "API returned status %d: %s",
			resp.StatusCode, response.Message)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fault.New(fault.KindTransient, op,
			"expected %d embeddings, got %d", len(texts), len(response.Embeddings))
	}

	for i, v := range response.Embeddings {
		if err := CheckVector(op, v, e.dimension); err != nil {
			return nil, err
		}
		response.Embeddings[i] = Normalize(v)
	}
	return response.Embeddings, nil
}

// Dimension returns the vector dimension.
func (e *CohereEmbedder) Dimension() int {
	return e.dimension
}

// ModelName returns the model identifier.
func (e *CohereEmbedder) ModelName() string {
	return e.model
}

// Close releases resources.
func (e *CohereEmbedder) Close() error {
	return nil
}

var _ Embedder = (*CohereEmbedder)(nil)
