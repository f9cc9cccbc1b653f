package model

import "encoding/json"

// ToolDefinition is the model-facing description of one callable tool. The
// parameters schema stays opaque JSON and is forwarded to the model runtime
// exactly as the owning tool server declared it.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
