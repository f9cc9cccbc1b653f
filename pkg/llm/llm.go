// Package llm contains the streaming clients for the model runtime. The
// default provider speaks the Ollama HTTP dialect; a Gemini provider covers
// hosted deployments behind the same interface.
package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/model"
)

// StreamChunk is one unit of a streaming chat response. Thinking and Content
// are deltas; ToolCalls arrives fully parsed on the chunk that carries Done.
// A chunk with Err set terminates the stream.
type StreamChunk struct {
	Thinking  string
	Content   string
	ToolCalls []model.ToolCall
	Done      bool
	Err       error
}

// ChatOptions adjusts one chat request.
type ChatOptions struct {
	// Model overrides the configured chat model.
	Model string

	// Tools advertised to the model for this turn.
	Tools []model.ToolDefinition

	// Think requests model-side reasoning (low, medium, high). Empty
	// leaves the configured default.
	Think string

	// Temperature overrides the configured sampling temperature.
	Temperature *float64
}

// Provider is a streaming chat and embedding client for one model runtime.
type Provider interface {
	// ChatStream starts a streaming chat completion. The returned channel
	// is closed by the producer after the Done chunk or an error chunk.
	ChatStream(ctx context.Context, messages []model.ChatMessage, opts ChatOptions) (<-chan StreamChunk, error)

	// Embed returns the embedding vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ChatModel returns the configured chat model name.
	ChatModel() string

	Close() error
}

// New builds the provider selected by the configuration.
func New(cfg config.LLMConfig, log *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case config.LLMProviderOllama, "":
		return NewOllamaProvider(cfg, log), nil
	case config.LLMProviderGemini:
		return NewGeminiProvider(cfg, log)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
