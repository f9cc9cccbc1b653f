package mcp

import (
	"encoding/json"
	"strings"
	"time"
)

// ToolDescriptor describes one remote tool as discovered from its server.
// Descriptors are immutable within a discovery cycle; a refresh replaces the
// whole catalog atomically.
type ToolDescriptor struct {
	// ServerID is the configured name of the owning server.
	ServerID string `json:"server_id"`

	// QualifiedName namespaces the tool under its server: "<server>.<local>".
	QualifiedName string `json:"qualified_name"`

	// ExposedName is the sanitized name surfaced to the model, unique
	// across the registry.
	ExposedName string `json:"exposed_name"`

	Description string `json:"description"`

	// InputSchema is the tool's JSON-Schema, kept opaque and forwarded to
	// the model unchanged.
	InputSchema json.RawMessage `json:"input_schema"`
}

// LocalName strips the server namespace prefix, yielding the name the server
// itself registered the tool under.
func (d ToolDescriptor) LocalName() string {
	return strings.TrimPrefix(d.QualifiedName, d.ServerID+".")
}

// ServerHandle is the registry's view of one configured server. Handles are
// rebuilt on refresh; Healthy reflects the last transport outcome.
type ServerHandle struct {
	ServerID  string    `json:"server_id"`
	URL       string    `json:"url"`
	Healthy   bool      `json:"healthy"`
	LastSeen  time.Time `json:"last_seen"`
	ToolCount int       `json:"tool_count"`
}
