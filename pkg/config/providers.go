// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "fmt"

// EmbedderProviderConfig configures one embedding provider.
type EmbedderProviderConfig struct {
	// Provider: openai, ollama, cohere.
	Provider string `yaml:"provider"`

	// Host overrides the provider base URL.
	Host string `yaml:"host"`

	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`

	// Dimension is the expected vector dimension; every embedding is checked
	// against it.
	Dimension int `yaml:"dimension"`

	BatchSize      int `yaml:"batch_size"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxRetries     int `yaml:"max_retries"`
}

// SetDefaults applies default values for a text embedder.
func (c *EmbedderProviderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "ollama"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Validate checks the configuration.
func (c *EmbedderProviderConfig) Validate() error {
	switch c.Provider {
	case "openai", "ollama", "cohere":
	default:
		return fmt.Errorf("unknown embedder provider: %q", c.Provider)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension is required")
	}
	return nil
}

// EmbeddersConfig holds the text and image embedding providers.
type EmbeddersConfig struct {
	Text  EmbedderProviderConfig `yaml:"text"`
	Image EmbedderProviderConfig `yaml:"image"`
}

// SetDefaults applies default values.
func (c *EmbeddersConfig) SetDefaults() {
	c.Text.SetDefaults()
	if c.Text.Dimension == 0 {
		c.Text.Dimension = 384
	}
	c.Image.SetDefaults()
	if c.Image.Dimension == 0 {
		c.Image.Dimension = 768
	}
}

// Validate checks the configuration.
func (c *EmbeddersConfig) Validate() error {
	if err := c.Text.Validate(); err != nil {
		return fmt.Errorf("text: %w", err)
	}
	if err := c.Image.Validate(); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	return nil
}

// LLMConfig configures the generator.
type LLMConfig struct {
	// Provider: openai, anthropic, ollama.
	Provider string `yaml:"provider"`

	// Host overrides the provider base URL.
	Host string `yaml:"host"`

	APIKey string `yaml:"api_key"`

	// Model is the primary generation model.
	Model string `yaml:"model"`

	// SmallModel is the fallback for captioning and short structured calls.
	SmallModel string `yaml:"small_model"`

	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "ollama"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2048
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 60
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
}

// Validate checks the configuration.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("unknown llm provider: %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// WebConfig configures the web search provider.
type WebConfig struct {
	// Provider: serpapi, bing, ddg, none.
	Provider string `yaml:"provider"`

	APIKey string `yaml:"api_key"`

	// TopK is loaded but not read; the research agent requests
	// research.top_k_web results per search.
	TopK int `yaml:"top_k"`

	// FetchTopN is loaded but not read; the research agent fetches page text
	// for the first two results of each search.
	FetchTopN int `yaml:"fetch_top_n"`

	// FetchTimeoutSeconds bounds one page fetch.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds"`

	UserAgent string `yaml:"user_agent"`
}

// SetDefaults applies default values.
func (c *WebConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "none"
	}
	if c.TopK <= 0 {
		c.TopK = 6
	}
	if c.FetchTopN <= 0 {
		c.FetchTopN = 2
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = 10
	}
	if c.UserAgent == "" {
		c.UserAgent = "sage/1.0"
	}
}

// Validate checks the configuration.
func (c *WebConfig) Validate() error {
	switch c.Provider {
	case "serpapi", "bing", "ddg", "none":
		return nil
	default:
		return fmt.Errorf("unknown web search provider: %q", c.Provider)
	}
}
