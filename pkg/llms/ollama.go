package llms

import (
	"bufio"
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

// OllamaProvider implements Generator for a local Ollama server.
type OllamaProvider struct {
	config  *config.LLMConfig
	client  *http.Client
	baseURL string
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewOllamaProvider creates an Ollama-backed generator.
func NewOllamaProvider(cfg *config.LLMConfig) (*OllamaProvider, error) {
	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &OllamaProvider{
		config:  cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		baseURL: baseURL,
	}, nil
}

func (p *OllamaProvider) buildRequest(req Request, stream bool) ollamaGenerateRequest {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.config.MaxTokens
	}
	temperature := req.Temperature
	if temperature < 0 {
		temperature = p.config.Temperature
	}

	return ollamaGenerateRequest{
		Model:  model,
		System: req.System,
		Prompt: req.Prompt,
		Stream: stream,
		Options: map[string]any{
			"num_predict": maxTokens,
			"temperature": temperature,
		},
	}
}

// Generate produces a completion.
func (p *OllamaProvider) Generate(ctx context.Context, req Request) (string, error) {
	const op = "llms.ollama"

	reqBody, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fault.Wrapf(fault.KindTransient, op, err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.Wrapf(fault.KindTransient, op, err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", fault.New(fault.KindTransient, op, "server returned status %d: %s",
			resp.StatusCode, string(body))
	}

	var response ollamaGenerateResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Error != "" {
		return "", fault.New(fault.KindTransient, op, "server error: %s", response.Error)
	}
	return response.Response, nil
}

// GenerateStreaming produces a channel of text chunks.
func (p *OllamaProvider) GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	const op = "llms.ollama"

	reqBody, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fault.Wrapf(fault.KindTransient, op, err, "request failed")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fault.New(fault.KindTransient, op, "server returned status %d: %s",
			resp.StatusCode, string(body))
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			var chunk ollamaGenerateResponse
			if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
				continue
			}
			if chunk.Error != "" {
				out <- StreamChunk{Type: "error", Err: fmt.Errorf("%s", chunk.Error)}
				return
			}
			if chunk.Response != "" {
				select {
				case out <- StreamChunk{Type: "text", Text: chunk.Response}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				out <- StreamChunk{Type: "done"}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Type: "error", Err: err}
			return
		}
		out <- StreamChunk{Type: "done"}
	}()
	return out, nil
}

// ModelName returns the configured primary model.
func (p *OllamaProvider) ModelName() string {
	return p.config.Model
}

// SmallModelName returns the fallback model.
func (p *OllamaProvider) SmallModelName() string {
	if p.config.SmallModel != "" {
		return p.config.SmallModel
	}
	return p.config.Model
}

// Close releases resources.
func (p *OllamaProvider) Close() error {
	return nil
}

var _ Generator = (*OllamaProvider)(nil)
