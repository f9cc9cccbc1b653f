// Package tokens provides token counting for conversation budgeting.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/helicon-ai/helicon/pkg/model"
)

// Counter counts tokens for one model's encoding.
type Counter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

var (
	// Encodings are expensive to build; share them per model.
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewCounter creates a counter for the given model, falling back to
// cl100k_base for models tiktoken does not know (local Ollama models).
func NewCounter(modelName string) (*Counter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[modelName]
	cacheMu.RUnlock()

	if exists {
		return &Counter{encoding: cached, model: modelName}, nil
	}

	encoding, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[modelName] = encoding
	cacheMu.Unlock()

	return &Counter{encoding: encoding, model: modelName}, nil
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.encoding.Encode(text, nil, nil))
}

// CountMessages counts tokens across a conversation including per-message
// role overhead and the assistant reply priming.
func (c *Counter) CountMessages(messages []model.ChatMessage) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	const tokensPerMessage = 3

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += len(c.encoding.Encode(string(msg.Role), nil, nil))
		total += len(c.encoding.Encode(msg.Content, nil, nil))
	}
	total += 3

	return total
}

// Model returns the model name this counter was built for.
func (c *Counter) Model() string {
	return c.model
}

// Estimate is the cheap fallback when no counter is available.
func Estimate(text string) int {
	return len(text) / 4
}
