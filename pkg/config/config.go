// Package config defines the typed configuration document for the helicon
// runtime and a multi-source loader for it.
//
// Every section carries SetDefaults and Validate; the loader runs the full
// pipeline (env expansion, overrides, defaults, validation) so that by the
// time a Config reaches a component it is complete and internally consistent.
package config

import (
	"fmt"

	"github.com/helicon-ai/helicon/pkg/observability"
)

// Config is the root configuration document.
type Config struct {
	// Name labels this deployment in logs and traces.
	Name string `yaml:"name,omitempty" json:"name,omitempty" jsonschema:"title=Name,description=Deployment name used in logs and traces"`

	// Logger configures log level, destination and format.
	Logger LoggerConfig `yaml:"logger,omitempty" json:"logger,omitempty"`

	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server,omitempty" json:"server,omitempty"`

	// LLM configures the model runtime client.
	LLM LLMConfig `yaml:"llm,omitempty" json:"llm,omitempty"`

	// Agent configures the tool loop.
	Agent AgentConfig `yaml:"agent,omitempty" json:"agent,omitempty"`

	// MCP configures tool servers and catalog refresh.
	MCP MCPConfig `yaml:"mcp,omitempty" json:"mcp,omitempty"`

	// Vector configures the vector store.
	Vector VectorStoreConfig `yaml:"vector,omitempty" json:"vector,omitempty"`

	// Ingest configures document ingestion.
	Ingest IngestConfig `yaml:"ingest,omitempty" json:"ingest,omitempty"`

	// Store configures SQL persistence. Empty driver disables persistence.
	Store StoreConfig `yaml:"store,omitempty" json:"store,omitempty"`

	// Auth configures JWT validation for the HTTP surface.
	Auth AuthConfig `yaml:"auth,omitempty" json:"auth,omitempty"`

	// Observability configures tracing and metrics.
	Observability observability.Config `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// ProcessConfigPipeline applies environment overrides, fills defaults and
// validates. Loaders call this after unmarshaling; callers constructing a
// Config by hand should call it themselves.
func ProcessConfigPipeline(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: config cannot be nil")
	}

	cfg.ApplyEnvOverrides()

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns a fully processed configuration built from defaults and
// environment overrides alone, for running without a config file.
func Default() (*Config, error) {
	return ProcessConfigPipeline(&Config{})
}

// SetDefaults applies default values to every section.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "helicon"
	}
	c.Logger.SetDefaults()
	c.Server.SetDefaults()
	c.LLM.SetDefaults()
	c.Agent.SetDefaults()
	c.MCP.SetDefaults()
	c.Vector.SetDefaults()
	c.Ingest.SetDefaults()
	c.Store.SetDefaults()
	c.Auth.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks every section and a handful of cross-section invariants.
func (c *Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if err := c.MCP.Validate(); err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}

	return nil
}
