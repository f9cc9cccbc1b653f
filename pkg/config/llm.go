package config

import (
	"fmt"
	"os"
	"time"
)

// LLMProvider identifies the model runtime dialect.
type LLMProvider string

const (
	LLMProviderOllama LLMProvider = "ollama"
	LLMProviderGemini LLMProvider = "gemini"
)

// LLMConfig configures the model runtime client.
type LLMConfig struct {
	// Provider type (ollama, gemini).
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=Model runtime dialect,enum=ollama,enum=gemini,default=ollama"`

	// BaseURL of the model runtime.
	// Default: http://localhost:11434
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Model runtime endpoint,default=http://localhost:11434"`

	// ChatModel is the model used for conversation turns.
	ChatModel string `yaml:"chat_model,omitempty" json:"chat_model,omitempty" jsonschema:"title=Chat Model,description=Model used for chat turns,default=qwen3:8b"`

	// EmbedModel is the model used for embeddings.
	EmbedModel string `yaml:"embed_model,omitempty" json:"embed_model,omitempty" jsonschema:"title=Embedding Model,description=Model used for embeddings,default=nomic-embed-text"`

	// NumCtx is the context window passed to the runtime, and the budget
	// used for history trimming.
	NumCtx int `yaml:"num_ctx,omitempty" json:"num_ctx,omitempty" jsonschema:"title=Context Length,description=Context window in tokens,minimum=256,default=8192"`

	// Temperature for generation.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,description=Sampling temperature,minimum=0,maximum=2,default=0.7"`

	// ThinkLevel requests model-side reasoning (low, medium, high).
	// Empty leaves the runtime default. Reasoning is consumed internally
	// and never reaches clients.
	ThinkLevel string `yaml:"think_level,omitempty" json:"think_level,omitempty" jsonschema:"title=Think Level,enum=,enum=low,enum=medium,enum=high"`

	// AutoPull pulls a missing model before first use instead of failing.
	// Default: true
	AutoPull *bool `yaml:"auto_pull,omitempty" json:"auto_pull,omitempty" jsonschema:"title=Auto Pull,description=Pull missing models on demand,default=true"`

	// KeepAlive is forwarded to the runtime to keep the model loaded.
	KeepAlive string `yaml:"keep_alive,omitempty" json:"keep_alive,omitempty"`

	// APIKey authenticates to hosted providers. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key for hosted providers (use ${ENV_VAR})"`

	// Timeout bounds a single non-streaming request. Streaming requests
	// are bounded by the caller's context.
	// Default: 2m
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = LLMProviderOllama
	}

	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}

	if c.ChatModel == "" {
		switch c.Provider {
		case LLMProviderGemini:
			c.ChatModel = "gemini-2.0-flash"
		default:
			c.ChatModel = "qwen3:8b"
		}
	}

	if c.EmbedModel == "" {
		c.EmbedModel = "nomic-embed-text"
	}

	if c.NumCtx == 0 {
		c.NumCtx = 8192
	}

	if c.Temperature == nil {
		temp := 0.7
		c.Temperature = &temp
	}

	if c.AutoPull == nil {
		c.AutoPull = BoolPtr(true)
	}

	if c.APIKey == "" && c.Provider == LLMProviderGemini {
		c.APIKey = geminiAPIKeyFromEnv()
	}

	if c.Timeout == 0 {
		c.Timeout = 2 * time.Minute
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMProviderOllama, LLMProviderGemini:
	default:
		return fmt.Errorf("invalid provider %q (valid: ollama, gemini)", c.Provider)
	}

	if c.Provider == LLMProviderGemini && c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider %q", c.Provider)
	}

	if c.NumCtx < 256 {
		return fmt.Errorf("num_ctx must be at least 256, got %d", c.NumCtx)
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	switch c.ThinkLevel {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("invalid think_level %q (valid: low, medium, high)", c.ThinkLevel)
	}

	return nil
}

func geminiAPIKeyFromEnv() string {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("GOOGLE_API_KEY")
}
