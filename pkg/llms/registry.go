package llms

import (
	"fmt"

	"github.com/kadirpekel/sage/pkg/config"
)

// New creates a generator from provider configuration.
func New(cfg *config.LLMConfig) (Generator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is required")
	}
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "ollama":
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
	}
}
