// Package llms provides the chat-style generation capability behind a
// provider-agnostic interface.
package llms

import "context"

// Request is a single generation request.
type Request struct {
	// System is the system prompt; may be empty.
	System string

	// Prompt is the user prompt.
	Prompt string

	// Model overrides the provider's configured model when set. Used for
	// small-model fallbacks.
	Model string

	// MaxTokens bounds the completion; 0 uses the provider default.
	MaxTokens int

	// Temperature; negative uses the provider default.
	Temperature float64
}

// StreamChunk is one piece of a streaming response.
type StreamChunk struct {
	// Type: "text", "done", "error".
	Type string

	// Text carries content for text chunks.
	Text string

	// Err carries the error for error chunks.
	Err error
}

// Generator is a chat-style LLM.
type Generator interface {
	// Generate produces a completion for the request.
	Generate(ctx context.Context, req Request) (string, error)

	// GenerateStreaming produces a channel of chunks, closed after a
	// terminal "done" or "error" chunk.
	GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error)

	// ModelName returns the configured primary model.
	ModelName() string

	// SmallModelName returns the configured fallback model, or the primary
	// when none is configured.
	SmallModelName() string

	// Close releases provider resources.
	Close() error
}
