package config

import (
	"fmt"
	"time"
)

// VectorProvider identifies the vector store backend.
type VectorProvider string

const (
	VectorProviderQdrant   VectorProvider = "qdrant"
	VectorProviderChromem  VectorProvider = "chromem"
	VectorProviderPinecone VectorProvider = "pinecone"
)

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Provider type (qdrant, chromem, pinecone).
	Provider VectorProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=Vector store backend,enum=qdrant,enum=chromem,enum=pinecone,default=qdrant"`

	// URL of the vector store (qdrant gRPC endpoint).
	// Default: localhost:6334
	URL string `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"title=URL,description=Vector store endpoint,default=localhost:6334"`

	// APIKey authenticates to hosted backends (pinecone, secured qdrant).
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key (use ${ENV_VAR})"`

	// Collection is the default collection name.
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty" jsonschema:"title=Collection,description=Default collection,default=documents"`

	// Dimension of stored vectors. Must match the embedding model.
	Dimension int `yaml:"dimension,omitempty" json:"dimension,omitempty" jsonschema:"title=Dimension,description=Vector dimension; must match the embedding model,minimum=1,default=768"`

	// Path persists the embedded store to disk (chromem only).
	// Empty keeps it in memory.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Timeout bounds a single store operation.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *VectorStoreConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = VectorProviderQdrant
	}
	if c.URL == "" && c.Provider == VectorProviderQdrant {
		c.URL = "localhost:6334"
	}
	if c.Collection == "" {
		c.Collection = "documents"
	}
	if c.Dimension == 0 {
		c.Dimension = 768
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks the vector store configuration.
func (c *VectorStoreConfig) Validate() error {
	switch c.Provider {
	case VectorProviderQdrant, VectorProviderChromem, VectorProviderPinecone:
	default:
		return fmt.Errorf("invalid provider %q (valid: qdrant, chromem, pinecone)", c.Provider)
	}

	if c.Provider == VectorProviderQdrant && c.URL == "" {
		return fmt.Errorf("url is required for provider %q", c.Provider)
	}

	if c.Provider == VectorProviderPinecone && c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider %q", c.Provider)
	}

	if c.Dimension < 1 {
		return fmt.Errorf("dimension must be positive, got %d", c.Dimension)
	}

	if c.Collection == "" {
		return fmt.Errorf("collection is required")
	}

	return nil
}
