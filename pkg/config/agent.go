package config

import "fmt"

// AgentConfig configures the tool loop.
type AgentConfig struct {
	// MaxIterations bounds LLM rounds within one turn. When the budget is
	// exhausted the turn ends with status max_iterations.
	// Default: 10
	MaxIterations int `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty" jsonschema:"title=Max Iterations,description=Maximum LLM rounds per turn,minimum=1,default=10"`

	// SystemPrompt replaces the built-in system prompt when set.
	SystemPrompt string `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty" jsonschema:"title=System Prompt,description=Overrides the built-in system prompt"`

	// ResultPreviewChars caps the tool result preview attached to tool.end
	// events.
	// Default: 200
	ResultPreviewChars int `yaml:"result_preview_chars,omitempty" json:"result_preview_chars,omitempty"`
}

// SetDefaults applies default values.
func (c *AgentConfig) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	if c.ResultPreviewChars == 0 {
		c.ResultPreviewChars = 200
	}
}

// Validate checks the agent configuration.
func (c *AgentConfig) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.ResultPreviewChars < 1 {
		return fmt.Errorf("result_preview_chars must be positive, got %d", c.ResultPreviewChars)
	}
	return nil
}
