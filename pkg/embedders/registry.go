package embedders

import (
	"fmt"

	"github.com/kadirpekel/sage/pkg/config"
)

// New creates an embedder from provider configuration.
func New(cfg *config.EmbedderProviderConfig) (Embedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder config is required")
	}
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbedder(cfg)
	case "ollama":
		return NewOllamaEmbedder(cfg)
	case "cohere":
		return NewCohereEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedder provider: %q", cfg.Provider)
	}
}
