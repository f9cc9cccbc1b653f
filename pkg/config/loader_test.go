package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "helicon.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoader_LoadFile(t *testing.T) {
	path := writeConfigFile(t, `
name: test-deploy
llm:
  chat_model: llama3.2
  num_ctx: 4096
mcp:
  refresh_seconds: 30
  servers:
    - url: http://localhost:8765
    - name: files
      command: /usr/bin/mcp-files
ingest:
  chunk_size: 256
  chunk_overlap: 32
`)

	cfg, err := LoadConfig(LoaderOptions{Path: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Name != "test-deploy" {
		t.Errorf("Name = %v, want test-deploy", cfg.Name)
	}
	if cfg.LLM.ChatModel != "llama3.2" {
		t.Errorf("ChatModel = %v, want llama3.2", cfg.LLM.ChatModel)
	}
	if cfg.LLM.NumCtx != 4096 {
		t.Errorf("NumCtx = %v, want 4096", cfg.LLM.NumCtx)
	}
	if cfg.MCP.RefreshSeconds == nil || *cfg.MCP.RefreshSeconds != 30 {
		t.Errorf("RefreshSeconds = %v, want 30", cfg.MCP.RefreshSeconds)
	}
	if len(cfg.MCP.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(cfg.MCP.Servers))
	}
	if cfg.MCP.Servers[0].Name != "localhost_8765" {
		t.Errorf("derived server name = %v, want localhost_8765", cfg.MCP.Servers[0].Name)
	}
	if cfg.MCP.Servers[1].Transport != MCPTransportStdio {
		t.Errorf("command server transport = %v, want stdio", cfg.MCP.Servers[1].Transport)
	}
	if cfg.Ingest.ChunkSize != 256 || cfg.Ingest.ChunkOverlap != 32 {
		t.Errorf("chunking = %d/%d, want 256/32", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}

	// Untouched sections still receive defaults.
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %v, want 8080", cfg.Server.Port)
	}
}

func TestLoader_ExpandsEnvInFile(t *testing.T) {
	t.Setenv("HELICON_TEST_MODEL", "qwen3:4b")

	path := writeConfigFile(t, `
llm:
  chat_model: ${HELICON_TEST_MODEL}
  base_url: ${HELICON_TEST_URL:-http://fallback:11434}
`)

	cfg, err := LoadConfig(LoaderOptions{Path: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.ChatModel != "qwen3:4b" {
		t.Errorf("ChatModel = %v, want qwen3:4b", cfg.LLM.ChatModel)
	}
	if cfg.LLM.BaseURL != "http://fallback:11434" {
		t.Errorf("BaseURL = %v, want the declared fallback", cfg.LLM.BaseURL)
	}
}

func TestLoader_RejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, `
lllm:
  chat_model: typo
`)

	_, err := LoadConfig(LoaderOptions{Path: path})
	if err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
	if !strings.Contains(err.Error(), "structural errors") {
		t.Errorf("error = %v, want structural errors mention", err)
	}
}

func TestLoader_RejectsInvalidValues(t *testing.T) {
	path := writeConfigFile(t, `
ingest:
  chunk_size: 100
  chunk_overlap: 100
`)

	_, err := LoadConfig(LoaderOptions{Path: path})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "chunk_overlap") {
		t.Errorf("error = %v, want chunk_overlap mention", err)
	}
}

func TestNewLoader_RequiresPath(t *testing.T) {
	if _, err := NewLoader(LoaderOptions{}); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestParseSourceType(t *testing.T) {
	tests := []struct {
		input   string
		want    SourceType
		wantErr bool
	}{
		{"file", SourceFile, false},
		{"consul", SourceConsul, false},
		{"ETCD", SourceEtcd, false},
		{"zk", SourceZookeeper, false},
		{"zookeeper", SourceZookeeper, false},
		{"redis", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSourceType(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseSourceType(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
