package config

import (
	"fmt"
	"time"
)

const (
	// DefaultMaxFileSize caps a single ingested file at 50 MB.
	DefaultMaxFileSize = 50 * 1024 * 1024
)

// WhisperConfig configures the transcription engine endpoint.
type WhisperConfig struct {
	// URL of the transcription service. Empty disables audio/video ingestion.
	URL string `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"title=URL,description=Transcription service endpoint"`

	// Model name loaded by the service.
	// Default: base
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,default=base"`

	// ComputeType selects the inference precision (int8, float16, float32).
	// Default: int8
	ComputeType string `yaml:"compute_type,omitempty" json:"compute_type,omitempty" jsonschema:"title=Compute Type,default=int8"`

	// Device runs inference on cpu or cuda.
	// Default: cpu
	Device string `yaml:"device,omitempty" json:"device,omitempty" jsonschema:"title=Device,default=cpu"`

	// Language hints transcription; empty auto-detects.
	Language string `yaml:"language,omitempty" json:"language,omitempty"`
}

// SetDefaults applies default values.
func (c *WhisperConfig) SetDefaults() {
	if c.Model == "" {
		c.Model = "base"
	}
	if c.ComputeType == "" {
		c.ComputeType = "int8"
	}
	if c.Device == "" {
		c.Device = "cpu"
	}
}

// OCRConfig configures the OCR engine endpoint.
type OCRConfig struct {
	// URL of the OCR service. Empty disables image OCR.
	URL string `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"title=URL,description=OCR service endpoint"`

	// Languages passed to the engine.
	// Default: ["eng"]
	Languages []string `yaml:"languages,omitempty" json:"languages,omitempty"`
}

// SetDefaults applies default values.
func (c *OCRConfig) SetDefaults() {
	if len(c.Languages) == 0 {
		c.Languages = []string{"eng"}
	}
}

// DocModelConfig configures the structured document extraction endpoint.
type DocModelConfig struct {
	// URL of the document model service. Empty falls back to the native
	// extractors for every format.
	URL string `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"title=URL,description=Document model service endpoint"`

	// Timeout bounds one document conversion.
	// Default: 5m
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *DocModelConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Minute
	}
}

// IngestConfig configures document ingestion.
type IngestConfig struct {
	// MaxConcurrency bounds parallel item processing. The effective value
	// is min(MaxConcurrency, NumCPU, 18).
	// Default: 8
	MaxConcurrency int `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty" jsonschema:"title=Max Concurrency,minimum=1,default=8"`

	// ChunkSize is the chunk length in tokens.
	// Default: 512
	ChunkSize int `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty" jsonschema:"title=Chunk Size,description=Chunk length in tokens,minimum=1,default=512"`

	// ChunkOverlap is the token overlap between consecutive chunks.
	// Default: 64
	ChunkOverlap int `yaml:"chunk_overlap,omitempty" json:"chunk_overlap,omitempty" jsonschema:"title=Chunk Overlap,description=Token overlap between chunks,minimum=0,default=64"`

	// UploadRoot is where uploaded and fetched files are staged.
	// Default: data/uploads
	UploadRoot string `yaml:"upload_root,omitempty" json:"upload_root,omitempty" jsonschema:"title=Upload Root,default=data/uploads"`

	// MaxFileSize caps a single file in bytes.
	// Default: 50 MB
	MaxFileSize int64 `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty"`

	// Whisper configures transcription.
	Whisper WhisperConfig `yaml:"whisper,omitempty" json:"whisper,omitempty"`

	// OCR configures image text extraction.
	OCR OCRConfig `yaml:"ocr,omitempty" json:"ocr,omitempty"`

	// DocModel configures the structured document extractor.
	DocModel DocModelConfig `yaml:"doc_model,omitempty" json:"doc_model,omitempty"`

	// Watch lists directories whose changes trigger re-ingestion.
	Watch []string `yaml:"watch,omitempty" json:"watch,omitempty"`

	// WatchDebounce coalesces rapid filesystem events.
	// Default: 2s
	WatchDebounce time.Duration `yaml:"watch_debounce,omitempty" json:"watch_debounce,omitempty"`
}

// SetDefaults applies default values.
func (c *IngestConfig) SetDefaults() {
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 8
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 512
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 64
	}
	if c.UploadRoot == "" {
		c.UploadRoot = "data/uploads"
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.WatchDebounce == 0 {
		c.WatchDebounce = 2 * time.Second
	}
	c.Whisper.SetDefaults()
	c.OCR.SetDefaults()
	c.DocModel.SetDefaults()
}

// Validate checks the ingestion configuration.
func (c *IngestConfig) Validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", c.MaxConcurrency)
	}

	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}

	if c.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_overlap must be non-negative, got %d", c.ChunkOverlap)
	}

	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.ChunkOverlap, c.ChunkSize)
	}

	if c.MaxFileSize < 0 {
		return fmt.Errorf("max_file_size must be non-negative")
	}

	return nil
}
