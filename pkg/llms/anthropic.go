package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/fault"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider implements Generator for the Anthropic messages API.
type AnthropicProvider struct {
	config  *config.LLMConfig
	client  *http.Client
	apiKey  string
	baseURL string
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

// NewAnthropicProvider creates an Anthropic-backed generator.
func NewAnthropicProvider(cfg *config.LLMConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic provider")
	}

	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}

	return &AnthropicProvider{
		config:  cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
	}, nil
}

func (p *AnthropicProvider) buildRequest(req Request, stream bool) anthropicRequest {
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

	return anthropicRequest{
		Model:       model,
		System:      req.System,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      stream,
	}
}

func (p *AnthropicProvider) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	return httpReq, nil
}

// Generate produces a completion.
func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (string, error) {
	const op = "llms.anthropic"

	reqBody, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var body []byte
	var status int
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		httpReq, err := p.newHTTPRequest(ctx, reqBody)
		if err != nil {
			return "", err
		}
		resp, err := p.client.Do(httpReq)
		if err != nil {
			if attempt == p.config.MaxRetries-1 {
				return "", fault.Wrapf(fault.KindTransient, op, err, "request failed")
			}
			continue
		}
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", fault.Wrapf(fault.KindTransient, op, err, "read response")
		}
		status = resp.StatusCode
		if status == http.StatusOK || (status < 500 && status != http.StatusTooManyRequests) {
			break
		}
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if status != http.StatusOK {
		if response.Error != nil {
			return "", fault.New(fault.KindTransient, op, "API error: %s (type: %s)",
				response.Error.Message, response.Error.Type)
		}
		return "", fault.New(fault.KindTransient, op, "API returned status %d", status)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// GenerateStreaming produces a channel of text chunks.
func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	const op = "llms.anthropic"

	reqBody, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := p.newHTTPRequest(ctx, reqBody)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fault.Wrapf(fault.KindTransient, op, err, "request failed")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fault.New(fault.KindTransient, op, "API returned status %d: %s",
			resp.StatusCode, string(body))
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}
			switch event.Type {
			case "content_block_delta":
				if event.Delta.Text != "" {
					select {
					case out <- StreamChunk{Type: "text", Text: event.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case "message_stop":
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
func (p *AnthropicProvider) ModelName() string {
	return p.config.Model
}

// SmallModelName returns the fallback model.
func (p *AnthropicProvider) SmallModelName() string {
	if p.config.SmallModel != "" {
		return p.config.SmallModel
	}
	return p.config.Model
}

// Close releases resources.
func (p *AnthropicProvider) Close() error {
	return nil
}

var _ Generator = (*AnthropicProvider)(nil)
